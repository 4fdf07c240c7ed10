//go:build property

package watcher

import (
	"fmt"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDebouncerProperties checks the batches produced by flush.
func TestDebouncerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9876)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("one sorted event per path, the last one wins", prop.ForAll(
		func(ids []int) bool {
			if len(ids) == 0 {
				return true
			}
			d := NewDebouncer(0)
			last := make(map[string]int64)
			for i, id := range ids {
				path := fmt.Sprintf("file%d.weft", id%5)
				d.pending = append(d.pending, ChangeEvent{Path: path, Size: int64(i)})
				last[path] = int64(i)
			}
			d.flush()

			batch := <-d.output
			if len(batch) != len(last) || len(d.pending) != 0 {
				return false
			}
			if !sort.SliceIsSorted(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path }) {
				return false
			}
			for _, e := range batch {
				if last[e.Path] != e.Size {
					return false
				}
			}

			return true
		},
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}
