package timeline

import "timeline_sync/internal/domain"

// PositionTracker maps a remembered entry id back to a row after a reload.
type PositionTracker struct {
	Remember bool
}

// Restore returns the row to scroll to. ErrPositionNotFound covers every case where no
// scroll should happen, including the entry having left the loaded window.
func (p PositionTracker) Restore(c *Collection, lastViewedID *int64) (int, error) {
	if !p.Remember || lastViewedID == nil {
		return NotFound, domain.ErrPositionNotFound
	}

	row := c.FindIndexByID(*lastViewedID)
	if row < 0 || row >= c.Len() {
		return NotFound, domain.ErrPositionNotFound
	}
	return row, nil
}
