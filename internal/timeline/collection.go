// Package timeline holds the ordered entry collection and the pure rules around it:
// window construction, page merging and position lookup.
package timeline

import (
	"slices"
	"sync"

	"timeline_sync/internal/domain"
)

// NotFound is returned by FindIndexByID when the id is absent.
const NotFound = -1

// Collection is an ordered list of entries, unique by id, in display order (newest first).
// The backing slice is never modified in place: every mutation swaps in a new slice, so a
// reader always sees either the state before or after a mutation.
type Collection struct {
	mu      sync.RWMutex
	entries []domain.Entry
	index   map[int64]int
}

func NewCollection(entries []domain.Entry) *Collection {
	c := &Collection{}
	c.Replace(entries)
	return c
}

// Replace swaps the backing sequence. Duplicate ids collapse to the first position with
// the value of the last occurrence.
func (c *Collection) Replace(entries []domain.Entry) {
	deduped, index := dedupe(entries)

	c.mu.Lock()
	c.entries = deduped
	c.index = index
	c.mu.Unlock()
}

// RemoveMatching removes every entry whose id or origin id equals target and returns
// how many were removed.
func (c *Collection) RemoveMatching(target int64) int {
	if target <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := make([]domain.Entry, 0, len(c.entries))
	for _, e := range c.entries {
		if !e.Matches(target) {
			kept = append(kept, e)
		}
	}

	removed := len(c.entries) - len(kept)
	if removed == 0 {
		return 0
	}

	c.entries = kept
	c.index = buildIndex(kept)
	return removed
}

func (c *Collection) Newest() (domain.Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.entries) == 0 {
		return domain.Entry{}, false
	}
	return c.entries[0], true
}

func (c *Collection) Oldest() (domain.Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.entries) == 0 {
		return domain.Entry{}, false
	}
	return c.entries[len(c.entries)-1], true
}

func (c *Collection) NewestID() (int64, bool) {
	e, ok := c.Newest()
	return e.ID, ok
}

func (c *Collection) OldestID() (int64, bool) {
	e, ok := c.Oldest()
	return e.ID, ok
}

// FindIndexByID returns the row of id, or NotFound.
func (c *Collection) FindIndexByID(id int64) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i, ok := c.index[id]; ok {
		return i
	}
	return NotFound
}

func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns a copy of the current entries.
func (c *Collection) Snapshot() []domain.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.entries)
}

func dedupe(entries []domain.Entry) ([]domain.Entry, map[int64]int) {
	out := make([]domain.Entry, 0, len(entries))
	index := make(map[int64]int, len(entries))
	for _, e := range entries {
		if i, ok := index[e.ID]; ok {
			out[i] = e
			continue
		}
		index[e.ID] = len(out)
		out = append(out, e)
	}
	return out, index
}

func buildIndex(entries []domain.Entry) map[int64]int {
	index := make(map[int64]int, len(entries))
	for i, e := range entries {
		index[e.ID] = i
	}
	return index
}
