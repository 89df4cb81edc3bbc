package domain

import "time"

// Entry is a single timeline item. OriginID is set when the entry re-shares another one.
type Entry struct {
	ID        int64     `db:"id" json:"id"`
	OriginID  *int64    `db:"origin_id" json:"origin_id,omitempty"`
	OwnerID   int64     `db:"owner_id" json:"owner_id"`
	Author    string    `db:"author" json:"author"`
	Text      string    `db:"text" json:"text"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Valid reports whether the entry is addressable.
func (e Entry) Valid() bool {
	return e.ID > 0
}

// Matches reports whether the entry is the target itself or a re-share of it.
func (e Entry) Matches(target int64) bool {
	if e.ID == target {
		return true
	}
	return e.OriginID != nil && *e.OriginID == target
}

// Position is the persisted last viewed entry for a feed.
type Position struct {
	ID           int64     `db:"id"`
	FeedKey      string    `db:"feed_key"`
	LastViewedID int64     `db:"last_viewed_id"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// LoadResult is what a load session yields on success.
type LoadResult struct {
	Entries      []Entry
	LastViewedID *int64
}
