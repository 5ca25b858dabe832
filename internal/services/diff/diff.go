// Package diff classifies incoming catalog records against what is stored.
package diff

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/BearBump/FleetSync/internal/models"
)

type Kind string

const (
	KindNew       Kind = "new"
	KindUpdated   Kind = "updated"
	KindUnchanged Kind = "unchanged"
	KindSkipped   Kind = "skipped"
)

// Result: Doc is set only for New and Updated, Err only for Skipped.
type Result struct {
	Kind Kind
	Doc  *models.Ship
	Err  error
}

// projection is the set of fields that count as a content change.
// Raw passthrough data is deliberately absent.
type projection struct {
	ExternalID     string              `json:"externalId"`
	Slug           string              `json:"slug"`
	Name           string              `json:"name"`
	Manufacturer   models.Manufacturer `json:"manufacturer"`
	Classification string              `json:"classification"`
	Size           string              `json:"size"`
	Images         map[string]string   `json:"images"`
}

func normalize(rec *models.CatalogRecord) projection {
	p := projection{
		ExternalID: strings.TrimSpace(rec.ExternalID),
		Slug:       strings.TrimSpace(rec.Slug),
		Name:       strings.TrimSpace(rec.Name),
		Manufacturer: models.Manufacturer{
			Name: strings.TrimSpace(rec.Manufacturer.Name),
			Code: strings.TrimSpace(rec.Manufacturer.Code),
			Slug: strings.TrimSpace(rec.Manufacturer.Slug),
		},
		Classification: strings.TrimSpace(rec.Classification),
		Size:           strings.TrimSpace(rec.Size),
		Images:         map[string]string{},
	}
	for k, v := range rec.Images {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		p.Images[k] = v
	}
	return p
}

// Hash is a SHA-256 over canonical JSON of the normalized projection.
// encoding/json writes map keys sorted, so image order does not matter.
func Hash(rec *models.CatalogRecord) (string, error) {
	b, err := json.Marshal(normalize(rec))
	if err != nil {
		return "", errors.Wrap(err, "marshal projection")
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Classify decides what to do with rec given the stored document
// (nil when the externalId has never been seen).
func Classify(existing *models.Ship, rec *models.CatalogRecord) Result {
	if err := rec.Validate(); err != nil {
		return Result{Kind: KindSkipped, Err: err}
	}
	hash, err := Hash(rec)
	if err != nil {
		return Result{Kind: KindSkipped, Err: err}
	}
	if existing != nil && existing.ContentHash == hash {
		return Result{Kind: KindUnchanged}
	}

	p := normalize(rec)
	doc := &models.Ship{
		ExternalID:     p.ExternalID,
		ContentHash:    hash,
		Slug:           p.Slug,
		Name:           p.Name,
		Manufacturer:   p.Manufacturer,
		Classification: p.Classification,
		Size:           p.Size,
		Raw:            rec.Raw,
	}
	if len(p.Images) > 0 {
		doc.Images = p.Images
	}

	if existing == nil {
		doc.ID = uuid.NewString()
		doc.SyncVersion = 1
		return Result{Kind: KindNew, Doc: doc}
	}

	doc.ID = existing.ID
	doc.CreatedAt = existing.CreatedAt
	doc.SyncVersion = existing.SyncVersion + 1
	return Result{Kind: KindUpdated, Doc: doc}
}
