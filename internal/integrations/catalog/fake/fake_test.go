package fake

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/FleetSync/internal/integrations/catalog"
	"github.com/BearBump/FleetSync/internal/models"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Deterministic(t *testing.T) {
	a := Generate(25)
	b := Generate(25)
	require.Len(t, a, 25)
	require.Equal(t, a, b)

	seen := map[string]struct{}{}
	for _, r := range a {
		require.NoError(t, r.Validate())
		seen[r.ExternalID] = struct{}{}
	}
	require.Len(t, seen, 25)
}

func TestCatalog_Pages(t *testing.T) {
	c := New(Generate(25)...)

	p1, err := c.FetchPage(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, p1.Records, 10)
	require.True(t, p1.HasMore)

	p3, err := c.FetchPage(context.Background(), 3, 10)
	require.NoError(t, err)
	require.Len(t, p3.Records, 5)
	require.False(t, p3.HasMore)

	p9, err := c.FetchPage(context.Background(), 9, 10)
	require.NoError(t, err)
	require.Empty(t, p9.Records)
	require.False(t, p9.HasMore)
}

func TestCatalog_InvalidRecordIsReported(t *testing.T) {
	c := New(models.CatalogRecord{Name: "No id"}, models.CatalogRecord{ExternalID: "x", Name: "Ok"})
	p, err := c.FetchPage(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Error(t, p.Records[0].Err)
	require.NoError(t, p.Records[1].Err)
}

func TestCatalog_ScriptedFailures(t *testing.T) {
	c := New(Generate(3)...).WithRetry(catalog.RetryPolicy{MaxAttempts: 3, Backoff: []time.Duration{time.Millisecond}})
	c.FailPage(1, catalog.ErrUpstreamStatus{StatusCode: 500}, catalog.ErrTimeout{Err: context.DeadlineExceeded})

	p, err := c.FetchPage(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, p.Records, 3)
	require.Equal(t, 3, c.Attempts(1))

	c.FailPage(1, catalog.ErrUnauthorized{StatusCode: 401})
	_, err = c.FetchPage(context.Background(), 1, 10)
	var pe *catalog.PageError
	require.ErrorAs(t, err, &pe)
	require.True(t, pe.Fatal())
	require.Equal(t, 4, c.Attempts(1))
}
