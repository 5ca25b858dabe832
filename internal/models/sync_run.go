package models

import "time"

type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

func (t Trigger) Valid() bool {
	return t == TriggerScheduled || t == TriggerManual
}

type RunStatus string

const (
	RunStatusRunning        RunStatus = "running"
	RunStatusSuccess        RunStatus = "success"
	RunStatusPartial        RunStatus = "partial"
	RunStatusFailed         RunStatus = "failed"
	RunStatusAlreadyRunning RunStatus = "already_running"
)

// Publishable reports whether a run in this status may overwrite the snapshot.
func (s RunStatus) Publishable() bool {
	return s == RunStatusSuccess || s == RunStatusPartial
}

type RunCounts struct {
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
}

func (c *RunCounts) Add(o RunCounts) {
	c.New += o.New
	c.Updated += o.Updated
	c.Unchanged += o.Unchanged
	c.Skipped += o.Skipped
}

type RunError struct {
	Page    int    `json:"page"`
	Message string `json:"message"`
}

type SyncRun struct {
	ID             string     `json:"id"`
	Trigger        Trigger    `json:"trigger"`
	StartedAt      time.Time  `json:"startedAt"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
	Status         RunStatus  `json:"status"`
	PagesProcessed int        `json:"pagesProcessed"`
	PagesFailed    int        `json:"pagesFailed"`
	Counts         RunCounts  `json:"counts"`
	Errors         []RunError `json:"errors"`
	ErrorCount     int        `json:"errorCount"`
	DurationMs     int64      `json:"durationMs"`
}

// RunSummary is the payload returned to whoever triggered a run.
type RunSummary struct {
	RunID          string     `json:"runId,omitempty"`
	Trigger        Trigger    `json:"trigger"`
	Status         RunStatus  `json:"status"`
	Message        string     `json:"message,omitempty"`
	ShipCount      int        `json:"shipCount"`
	NewShips       int        `json:"newShips"`
	UpdatedShips   int        `json:"updatedShips"`
	UnchangedShips int        `json:"unchangedShips"`
	SkippedShips   int        `json:"skippedShips"`
	DurationMs     int64      `json:"durationMs"`
	PagesProcessed int        `json:"pagesProcessed"`
	PagesFailed    int        `json:"pagesFailed"`
	ErrorCount     int        `json:"errorCount"`
	HasErrors      bool       `json:"hasErrors"`
	Errors         []RunError `json:"errors,omitempty"`
	SyncVersion    int64      `json:"syncVersion,omitempty"`
}

type SyncStatusSnapshot struct {
	LastSyncAt  time.Time `json:"lastSyncAt"`
	ShipCount   int       `json:"shipCount"`
	Status      RunStatus `json:"status"`
	SyncVersion int64     `json:"syncVersion"`
}
