package domain

// MergeMode says how a loaded page is combined with the current collection.
type MergeMode int

const (
	MergeReplace MergeMode = iota
	MergePrepend
	MergeAppend
)

func (m MergeMode) String() string {
	switch m {
	case MergePrepend:
		return "prepend"
	case MergeAppend:
		return "append"
	default:
		return "replace"
	}
}

// WindowRequest describes one page to fetch. A nil bound is unbounded.
type WindowRequest struct {
	OwnerIDs []int64
	SinceID  *int64 // newer than
	MaxID    *int64 // older than
}

// Unbounded reports whether the request is a full, unfiltered load.
func (r WindowRequest) Unbounded() bool {
	return r.SinceID == nil && r.MaxID == nil
}

// Mode returns the merge mode implied by the bounds.
func (r WindowRequest) Mode() MergeMode {
	switch {
	case r.SinceID != nil:
		return MergePrepend
	case r.MaxID != nil:
		return MergeAppend
	default:
		return MergeReplace
	}
}
