package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/FleetSync/config"
	"github.com/BearBump/FleetSync/internal/integrations/catalog"
	"github.com/BearBump/FleetSync/internal/integrations/catalog/fake"
	"github.com/BearBump/FleetSync/internal/models"
)

func doRequest(t *testing.T, method, url, token string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestHTTP_TriggerThenStatus(t *testing.T) {
	cfg := &config.Config{Sync: config.SyncConfig{StatusMaxAgeSeconds: 20, StatusSWRSeconds: 40}}
	_, srv := newTestApp(t, cfg, fake.New(fake.Generate(12)...))

	resp, _ := doRequest(t, http.MethodGet, srv.URL+"/status", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/trigger", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sum models.RunSummary
	require.NoError(t, json.Unmarshal(body, &sum))
	require.Equal(t, models.RunStatusSuccess, sum.Status)
	require.Equal(t, models.TriggerManual, sum.Trigger)
	require.Equal(t, 12, sum.NewShips)
	require.Equal(t, 12, sum.ShipCount)

	resp, body = doRequest(t, http.MethodGet, srv.URL+"/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "public, max-age=20, stale-while-revalidate=40", resp.Header.Get("Cache-Control"))
	var snap models.SyncStatusSnapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	require.EqualValues(t, 1, snap.SyncVersion)
	require.Equal(t, 12, snap.ShipCount)

	resp, body = doRequest(t, http.MethodGet, srv.URL+"/runs?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var runs struct {
		Runs []models.SyncRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(body, &runs))
	require.Len(t, runs.Runs, 1)
	require.Equal(t, sum.RunID, runs.Runs[0].ID)
}

func TestHTTP_TriggerSecret(t *testing.T) {
	cfg := &config.Config{Sync: config.SyncConfig{TriggerSecret: "s3cret"}}
	app, srv := newTestApp(t, cfg, fake.New(fake.Generate(2)...))

	resp, _ := doRequest(t, http.MethodPost, srv.URL+"/trigger", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = doRequest(t, http.MethodPost, srv.URL+"/trigger", "wrong")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// секрет без схемы Bearer не принимается
	for _, h := range []string{"s3cret", "Basic s3cret", "bearer s3cret"} {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/trigger", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", h)
		raw, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		raw.Body.Close()
		require.Equal(t, http.StatusUnauthorized, raw.StatusCode, h)
	}
	require.Zero(t, app.orch.Stats().TotalRuns)

	resp, _ = doRequest(t, http.MethodPost, srv.URL+"/trigger", "s3cret")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, app.orch.Stats().TotalRuns)
}

func TestHTTP_TriggerValidationAndAsync(t *testing.T) {
	app, srv := newTestApp(t, &config.Config{}, fake.New())

	resp, _ := doRequest(t, http.MethodPost, srv.URL+"/trigger?trigger=cron", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// планировщик не запущен, поэтому триггер просто ставится в очередь
	resp, body := doRequest(t, http.MethodPost, srv.URL+"/trigger?async=true", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.JSONEq(t, `{"queued":true}`, string(body))
	require.Zero(t, app.orch.Stats().TotalRuns)
	require.NotNil(t, app.sched.Stats().LastTriggerAt)
}

type gateClient struct {
	inner   catalog.Client
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gateClient) FetchPage(ctx context.Context, page, size int) (*catalog.Page, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.inner.FetchPage(ctx, page, size)
}

func TestHTTP_TriggerWhileRunning(t *testing.T) {
	gate := &gateClient{inner: fake.New(fake.Generate(1)...), entered: make(chan struct{}), release: make(chan struct{})}
	_, srv := newTestApp(t, &config.Config{}, gate)

	first := make(chan int, 1)
	go func() {
		resp, _ := doRequest(t, http.MethodPost, srv.URL+"/trigger", "")
		first <- resp.StatusCode
	}()
	<-gate.entered

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/trigger?trigger=scheduled", "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Contains(t, string(body), "already_running")

	resp, body = doRequest(t, http.MethodGet, srv.URL+"/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"running":true`)
	require.Contains(t, string(body), `"lock"`)

	close(gate.release)
	require.Equal(t, http.StatusOK, <-first)
}

func TestHTTP_FailedRunIs500(t *testing.T) {
	cat := fake.New(fake.Generate(1)...)
	cat.FailPage(1, catalog.ErrUnauthorized{StatusCode: 403})
	_, srv := newTestApp(t, &config.Config{}, cat)

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/trigger", "")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Contains(t, string(body), `"hasErrors":true`)
}

func TestHTTP_OperationalEndpoints(t *testing.T) {
	cfg := &config.Config{Sync: config.SyncConfig{TriggerSecret: "hidden"}}
	_, srv := newTestApp(t, cfg, fake.New(fake.Generate(1)...))

	resp, _ := doRequest(t, http.MethodGet, srv.URL+"/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/readyz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/config", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotContains(t, string(body), "hidden")
	require.Contains(t, string(body), `"triggerSecretSet":true`)

	doRequest(t, http.MethodPost, srv.URL+"/trigger", "hidden")
	resp, body = doRequest(t, http.MethodGet, srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.Contains(string(body), `fleetsync_runs_total{status="success",trigger="manual"} 1`))

	resp, body = doRequest(t, http.MethodGet, srv.URL+"/swagger.json", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	require.Contains(t, string(body), "swagger")
}
