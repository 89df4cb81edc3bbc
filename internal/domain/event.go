package domain

import "time"

type EventKind string

const (
	EventEntryRemoved        EventKind = "entry_removed"
	EventRelationshipRevoked EventKind = "relationship_revoked"
)

// RemovalEvent asks for local removal of an entry and everything re-sharing it.
// For EventEntryRemoved Flag is the success flag; for EventRelationshipRevoked it is
// whether the relationship still holds.
type RemovalEvent struct {
	Kind     EventKind `json:"kind"`
	TargetID int64     `json:"target_id"`
	Flag     bool      `json:"flag"`
}

// Validate returns ErrInvalidRemovalTarget unless the event authorizes a removal.
func (e RemovalEvent) Validate() error {
	if e.TargetID <= 0 {
		return ErrInvalidRemovalTarget
	}
	switch e.Kind {
	case EventEntryRemoved:
		if e.Flag {
			return nil
		}
	case EventRelationshipRevoked:
		if !e.Flag {
			return nil
		}
	}
	return ErrInvalidRemovalTarget
}

// EventMessage is the wire form of a RemovalEvent on the message bus.
type EventMessage struct {
	Action    EventKind `json:"action"`
	TargetID  int64     `json:"target_id"`
	Flag      bool      `json:"flag"`
	Timestamp time.Time `json:"timestamp"`
}

func (m EventMessage) Event() RemovalEvent {
	return RemovalEvent{Kind: m.Action, TargetID: m.TargetID, Flag: m.Flag}
}
