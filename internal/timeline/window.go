package timeline

import "timeline_sync/internal/domain"

// NewWindowRequest builds a request from per-owner bounds. A bound is only used when
// exactly one value is given; several owners cannot share one scalar bound, so anything
// else is left unbounded and becomes a full fetch.
func NewWindowRequest(ownerIDs, maxIDs, sinceIDs []int64) domain.WindowRequest {
	return domain.WindowRequest{
		OwnerIDs: ownerIDs,
		SinceID:  single(sinceIDs),
		MaxID:    single(maxIDs),
	}
}

// NewerWindow asks for entries above the newest one. With an empty collection it
// degrades to an unbounded load of owners.
func NewerWindow(c *Collection, owners []int64) domain.WindowRequest {
	newest, ok := c.Newest()
	if !ok || !newest.Valid() {
		return NewWindowRequest(owners, nil, nil)
	}
	return NewWindowRequest([]int64{newest.OwnerID}, nil, []int64{newest.ID})
}

// OlderWindow asks for entries below the oldest one.
func OlderWindow(c *Collection, owners []int64) domain.WindowRequest {
	oldest, ok := c.Oldest()
	if !ok || !oldest.Valid() {
		return NewWindowRequest(owners, nil, nil)
	}
	return NewWindowRequest([]int64{oldest.OwnerID}, []int64{oldest.ID}, nil)
}

func single(ids []int64) *int64 {
	if len(ids) != 1 {
		return nil
	}
	id := ids[0]
	return &id
}
