package component

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/conneroisu/weft/internal/errors"
)

// Registry maps tag names to kinds. It is safe for concurrent use.
type Registry struct {
	kinds    map[string]Kind
	mutex    sync.RWMutex
	watchers []chan Event
}

// Event reports a change in the registry.
type Event struct {
	Type      EventType
	Tag       string
	Kind      Kind
	Timestamp time.Time
}

// EventType represents the type of registry event.
type EventType int

const (
	EventTypeAdded EventType = iota
	EventTypeUpdated
	EventTypeRemoved
)

func (t EventType) String() string {
	switch t {
	case EventTypeAdded:
		return "added"
	case EventTypeUpdated:
		return "updated"
	case EventTypeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		kinds:    make(map[string]Kind),
		watchers: make([]chan Event, 0),
	}
}

// DefaultRegistry returns a registry holding the built-in control tags.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("Block", Block)
	r.Register("If", If)
	r.Register("Each", Each)
	r.Register("Fragment", Fragment)

	return r
}

// Register adds or replaces the kind of tag.
func (r *Registry) Register(tag string, kind Kind) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	eventType := EventTypeAdded
	if _, exists := r.kinds[tag]; exists {
		eventType = EventTypeUpdated
	}
	r.kinds[tag] = kind

	r.notify(Event{Type: eventType, Tag: tag, Kind: kind, Timestamp: time.Now()})
}

// Get returns the kind registered for tag.
func (r *Registry) Get(tag string) (Kind, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	kind, exists := r.kinds[tag]

	return kind, exists
}

// Remove unregisters tag.
func (r *Registry) Remove(tag string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	kind, exists := r.kinds[tag]
	if !exists {
		return
	}
	delete(r.kinds, tag)

	r.notify(Event{Type: EventTypeRemoved, Tag: tag, Kind: kind, Timestamp: time.Now()})
}

// Tags returns the registered tag names sorted.
func (r *Registry) Tags() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	tags := make([]string, 0, len(r.kinds))
	for tag := range r.kinds {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	return tags
}

// Count returns the number of registered tags.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.kinds)
}

// Watch returns a channel that receives registry events.
func (r *Registry) Watch() <-chan Event {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ch := make(chan Event, 100)
	r.watchers = append(r.watchers, ch)

	return ch
}

// UnWatch removes a watcher channel and closes it.
func (r *Registry) UnWatch(ch <-chan Event) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i, watcher := range r.watchers {
		if watcher == ch {
			close(watcher)
			r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)

			break
		}
	}
}

// notify must be called with the lock held.
func (r *Registry) notify(event Event) {
	for _, watcher := range r.watchers {
		select {
		case watcher <- event:
		default:
			// Skip if channel is full
		}
	}
}

// TagSpec is one entry of a registry file. A plain string is shorthand for
// a spec with only Kind set.
type TagSpec struct {
	Kind    string     `yaml:"kind"`
	Element string     `yaml:"element"`
	AutoID  string     `yaml:"auto_id"`
	Props   []PropSpec `yaml:"props"`
}

// PropSpec declares one property of a registry file entry.
type PropSpec struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Default any    `yaml:"default"`
}

// UnmarshalYAML accepts both "Tag: if" and "Tag: {kind: element, ...}".
func (s *TagSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		s.Kind = value.Value

		return nil
	}
	type plain TagSpec

	return value.Decode((*plain)(s))
}

// RegistryFile is the layout of a tag registry file.
type RegistryFile struct {
	Tags map[string]TagSpec `yaml:"tags"`
}

// LoadFile registers the tags declared in a YAML registry file and returns
// their names sorted. Entry errors carry the line of the entry.
func (r *Registry) LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO(err, errors.ErrCodeFileNotFound,
			fmt.Sprintf("reading registry file %s", path))
	}
	tags, err := r.load(data, path)
	if err != nil {
		return nil, errors.WithFile(err, path)
	}

	return tags, nil
}

// Load registers the tags declared in YAML registry data and returns their
// names sorted. Nothing is registered when any entry is invalid.
func (r *Registry) Load(data []byte) ([]string, error) {
	return r.load(data, "")
}

func (r *Registry) load(data []byte, path string) ([]string, error) {
	var doc yaml.Node
	var file RegistryFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, errors.ErrCodeConfigInvalid, "invalid registry file")
	}
	if err := decodeDocument(&doc, &file); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, errors.ErrCodeConfigInvalid, "invalid registry file")
	}
	entries := entryNodes(&doc)

	tags := make([]string, 0, len(file.Tags))
	for tag := range file.Tags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	kinds := make(map[string]Kind, len(tags))
	for _, tag := range tags {
		kind, err := file.Tags[tag].build(tag)
		if err != nil {
			if n, ok := entries[tag]; ok && path != "" {
				err.WithLocation(path, n.Line, n.Column)
			}

			return nil, err
		}
		kinds[tag] = kind
	}
	for _, tag := range tags {
		r.Register(tag, kinds[tag])
	}

	return tags, nil
}

func decodeDocument(doc *yaml.Node, file *RegistryFile) error {
	if doc.Kind == 0 {
		return nil
	}

	return doc.Decode(file)
}

// entryNodes maps the tag names under "tags" to their key nodes.
func entryNodes(doc *yaml.Node) map[string]*yaml.Node {
	entries := make(map[string]*yaml.Node)
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return entries
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return entries
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "tags" || root.Content[i+1].Kind != yaml.MappingNode {
			continue
		}
		tags := root.Content[i+1]
		for j := 0; j+1 < len(tags.Content); j += 2 {
			entries[tags.Content[j].Value] = tags.Content[j]
		}
	}

	return entries
}

func (s TagSpec) build(tag string) (Kind, *errors.WeftError) {
	invalid := func(msg string) *errors.WeftError {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("registry entry %q: %s", tag, msg)).WithComponent(tag)
	}

	switch s.Kind {
	case "block":
		return Block, nil
	case "if":
		return If, nil
	case "each":
		return Each, nil
	case "fragment":
		return Fragment, nil
	case "element", "component":
	default:
		return nil, invalid(fmt.Sprintf("unknown kind %q (want block, if, each, fragment or element)", s.Kind))
	}

	element := s.Element
	if element == "" {
		element = "div"
	}
	defs := make([]PropDef, 0, len(s.Props))
	for _, p := range s.Props {
		if p.Name == "" {
			return nil, invalid("property without a name")
		}
		kind := KindScalar
		if p.Type != "" {
			k, ok := ParsePropKind(p.Type)
			if !ok {
				return nil, invalid(fmt.Sprintf("property %q has unknown type %q", p.Name, p.Type))
			}
			kind = k
		}
		defs = append(defs, PropDef{Name: p.Name, Kind: kind, Default: p.Default, HasDefault: p.Default != nil})
	}

	return NewComponentKind(tag, element, s.AutoID, defs...), nil
}
