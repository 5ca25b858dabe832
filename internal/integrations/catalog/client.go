package catalog

import (
	"context"

	"github.com/BearBump/FleetSync/internal/models"
)

// RecordResult is either a decoded record or the reason it was rejected.
type RecordResult struct {
	Record *models.CatalogRecord
	Err    error
}

type Page struct {
	Number  int
	Records []RecordResult
	HasMore bool
}

// Client fetches one page of the upstream ship catalog. Implementations
// retry transient failures themselves and return a *PageError once they
// give up.
type Client interface {
	FetchPage(ctx context.Context, page, pageSize int) (*Page, error)
}

// Limiter bounds outbound requests. One instance is shared by every run in
// the process.
type Limiter interface {
	Wait(ctx context.Context) error
}

type noopLimiter struct{}

func (noopLimiter) Wait(ctx context.Context) error { return ctx.Err() }

// NoLimit returns a Limiter that never throttles.
func NoLimit() Limiter { return noopLimiter{} }
