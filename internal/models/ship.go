package models

import (
	"encoding/json"
	"strings"
	"time"
)

type Manufacturer struct {
	Name string `json:"name"`
	Code string `json:"code"`
	Slug string `json:"slug"`
}

// CatalogRecord: запись каталога в том виде, в каком её отдаёт апстрим.
// Живёт только пока обрабатывается страница.
type CatalogRecord struct {
	ExternalID     string
	Slug           string
	Name           string
	Manufacturer   Manufacturer
	Classification string
	Size           string
	Images         map[string]string

	// Raw is the untouched upstream item; it is persisted as passthrough data
	// and never participates in change detection.
	Raw json.RawMessage
}

type Ship struct {
	ID             string            `json:"id"`
	ExternalID     string            `json:"externalId"`
	ContentHash    string            `json:"contentHash"`
	Slug           string            `json:"slug"`
	Name           string            `json:"name"`
	Manufacturer   Manufacturer      `json:"manufacturer"`
	Classification string            `json:"classification"`
	Size           string            `json:"size"`
	Images         map[string]string `json:"images,omitempty"`
	Raw            json.RawMessage   `json:"raw,omitempty"`
	SyncVersion    int64             `json:"syncVersion"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

type ManufacturerCount struct {
	Manufacturer
	ShipCount int `json:"shipCount"`
}

// UpsertOutcome is what the store actually did with a document.
type UpsertOutcome string

const (
	UpsertCreated   UpsertOutcome = "created"
	UpsertUpdated   UpsertOutcome = "updated"
	UpsertUnchanged UpsertOutcome = "unchanged"
)

// ValidationError marks an upstream record that cannot be reconciled.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid catalog record: " + e.Field + " " + e.Reason
}

// Validate checks the minimal set of fields a record needs to be stored.
func (r *CatalogRecord) Validate() error {
	if r == nil {
		return &ValidationError{Field: "record", Reason: "is empty"}
	}
	if strings.TrimSpace(r.ExternalID) == "" {
		return &ValidationError{Field: "externalId", Reason: "is required"}
	}
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	return nil
}
