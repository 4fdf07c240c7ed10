package macro

import (
	"fmt"
	"sort"

	"github.com/conneroisu/weft/internal/errors"
)

// Table holds the macros visible to one document. It is not safe for
// concurrent use; every render owns its own table.
type Table struct {
	macros map[string]*Macro
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{macros: make(map[string]*Macro)}
}

// Define adds m. Defining a name twice is an error.
func (t *Table) Define(m *Macro) error {
	if prev, ok := t.macros[m.Name]; ok {
		err := errors.NewMacroError(errors.ErrCodeDuplicateMacro,
			fmt.Sprintf("macro %s is already defined", m.Name)).
			WithContext("macro", m.Name)
		if prev.Source != "" {
			err = err.WithContext("previous", prev.Source)
		}

		return err
	}
	t.macros[m.Name] = m

	return nil
}

// Get returns the macro named exactly name.
func (t *Table) Get(name string) (*Macro, bool) {
	m, ok := t.macros[name]

	return m, ok
}

// Names returns the defined macro names, sorted.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.macros))
	for name := range t.macros {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Len returns the number of defined macros.
func (t *Table) Len() int { return len(t.macros) }
