package messages

import "time"

// CatalogSynced публикуется после success/partial прогона, когда снапшот
// статуса обновлён.
type CatalogSynced struct {
	RunID          string    `json:"run_id"`
	Trigger        string    `json:"trigger"`
	Status         string    `json:"status"`
	ShipCount      int       `json:"ship_count"`
	SyncVersion    int64     `json:"sync_version"`
	NewShips       int       `json:"new_ships"`
	UpdatedShips   int       `json:"updated_ships"`
	UnchangedShips int       `json:"unchanged_ships"`
	SkippedShips   int       `json:"skipped_ships"`
	FinishedAt     time.Time `json:"finished_at"`
}
