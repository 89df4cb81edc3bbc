package timeline

import "timeline_sync/internal/domain"

// Merge combines a freshly loaded page with the current entries. On an id collision the
// page wins, keeping whichever position comes first.
func Merge(current, page []domain.Entry, mode domain.MergeMode) []domain.Entry {
	var combined []domain.Entry
	switch mode {
	case domain.MergePrepend:
		combined = make([]domain.Entry, 0, len(page)+len(current))
		combined = append(combined, page...)
		combined = append(combined, withoutIDs(current, page)...)
	case domain.MergeAppend:
		combined = make([]domain.Entry, 0, len(current)+len(page))
		combined = append(combined, current...)
		combined = append(combined, page...)
	default:
		combined = page
	}

	out, _ := dedupe(combined)
	return out
}

// Dedupe drops repeated ids, keeping the first position and the last value.
func Dedupe(entries []domain.Entry) []domain.Entry {
	out, _ := dedupe(entries)
	return out
}

func withoutIDs(entries, drop []domain.Entry) []domain.Entry {
	ids := make(map[int64]struct{}, len(drop))
	for _, e := range drop {
		ids[e.ID] = struct{}{}
	}
	kept := make([]domain.Entry, 0, len(entries))
	for _, e := range entries {
		if _, ok := ids[e.ID]; !ok {
			kept = append(kept, e)
		}
	}
	return kept
}
