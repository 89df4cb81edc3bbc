package main

import (
	"log/slog"

	"timeline_sync/internal/timeline"
)

// logView stands in for a rendering surface: it logs what a screen would redraw.
type logView struct {
	logger  *slog.Logger
	entries *timeline.Collection
}

func (v *logView) SetBusy(busy bool) {
	v.logger.Debug("busy indicator", "busy", busy)
}

func (v *logView) CollectionChanged() {
	newest, _ := v.entries.NewestID()
	oldest, _ := v.entries.OldestID()
	v.logger.Info("timeline changed",
		"entries", v.entries.Len(),
		"newest_id", newest,
		"oldest_id", oldest,
	)
}

func (v *logView) ScrollTo(row int) {
	v.logger.Info("restored position", "row", row)
}

func (v *logView) RefreshComplete() {
	v.logger.Debug("refresh complete")
}
