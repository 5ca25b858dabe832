package messages

import "time"

// ShipChanged публикуется на каждый новый или изменённый документ.
type ShipChanged struct {
	RunID      string `json:"run_id"`
	ShipID     string `json:"ship_id"`
	ExternalID string `json:"external_id"`
	Slug       string `json:"slug"`
	// PreviousSlug is set when an update renamed the slug.
	PreviousSlug string    `json:"previous_slug,omitempty"`
	Kind         string    `json:"kind"` // new | updated
	ContentHash  string    `json:"content_hash"`
	SyncVersion  int64     `json:"sync_version"`
	ChangedAt    time.Time `json:"changed_at"`
}
