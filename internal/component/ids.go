package component

import (
	"strconv"
	"sync"
)

// IDGenerator hands out per-category sequential identifiers such as
// "panel1", "panel2". It is safe for concurrent use.
type IDGenerator struct {
	mutex    sync.Mutex
	counters map[string]int
}

// NewIDGenerator creates a generator with all counters at zero.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{counters: make(map[string]int)}
}

// Next returns the next identifier of category.
func (g *IDGenerator) Next(category string) string {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.counters[category]++

	return category + strconv.Itoa(g.counters[category])
}

// Reset sets every counter back to zero.
func (g *IDGenerator) Reset() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.counters = make(map[string]int)
}
