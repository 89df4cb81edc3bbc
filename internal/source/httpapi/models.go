package httpapi

// APIResponse is the timeline endpoint's response body.
type APIResponse struct {
	Entries []APIEntry `json:"entries"`
}

type APIEntry struct {
	ID        int64  `json:"id"`
	OriginID  *int64 `json:"origin_id"`
	OwnerID   int64  `json:"owner_id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}
