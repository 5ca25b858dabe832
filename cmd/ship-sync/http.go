package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/BearBump/FleetSync/internal/api/shipsapi"
	"github.com/BearBump/FleetSync/internal/models"
)

type syncHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	app *syncApp
}

func runSyncHTTPServer(ctx context.Context, opts syncHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: newSyncRouter(opts.app, opts.swaggerPath)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}

func newSyncRouter(a *syncApp, swaggerPath string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{
			"sync":      a.orch.Stats(),
			"scheduler": a.sched.Stats(),
		}
		if h, err := a.lock.Holder(r.Context()); err != nil {
			out["lock"] = map[string]string{"error": err.Error()}
		} else if h != nil {
			out["lock"] = map[string]any{
				"owner":      h.Owner,
				"acquiredAt": h.AcquiredAt,
				"ageSeconds": int(time.Since(h.AcquiredAt).Seconds()),
			}
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		// Avoid dumping secrets; show only operational sync settings.
		s := a.orch.Settings()
		writeJSON(w, http.StatusOK, map[string]any{
			"intervalSeconds":        int(a.sched.Interval().Seconds()),
			"runOnStart":             a.cfg.Sync.RunOnStart,
			"pageSize":               s.PageSize,
			"maxPages":               s.MaxPages,
			"maxConsecutiveFailures": s.MaxConsecutiveFailures,
			"maxErrors":              s.MaxErrors,
			"runTimeoutSeconds":      int(s.RunTimeout.Seconds()),
			"upsertConcurrency":      s.UpsertConcurrency,
			"storageDriver":          a.cfg.Storage.Driver,
			"lockBackend":            a.cfg.Sync.LockBackend,
			"rateLimitBackend":       a.cfg.Catalog.RateLimitBackend,
			"rateLimitPerMinute":     a.cfg.Catalog.RateLimitPerMinute,
			"pagination":             a.cfg.Catalog.Pagination,
			"triggerSecretSet":       a.cfg.Sync.TriggerSecret != "",
		})
	})

	r.Post("/trigger", a.handleTrigger)

	maxAge := time.Duration(a.cfg.Sync.StatusMaxAgeSeconds) * time.Second
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	swr := time.Duration(a.cfg.Sync.StatusSWRSeconds) * time.Second
	if swr <= 0 {
		swr = 2 * maxAge
	}
	r.Get("/status", shipsapi.StatusHandler(a.status, shipsapi.CacheControl(maxAge, swr)))

	r.Get("/runs", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit > 200 {
			limit = 200
		}
		runs, err := a.store.ListRuns(r.Context(), limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if runs == nil {
			runs = []*models.SyncRun{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
	})

	r.Handle("/metrics", promhttp.HandlerFor(a.metrics.Registry, promhttp.HandlerOpts{}))

	// Serve swagger with no-cache + cachebuster, same as ship-api.
	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, swaggerPath)
	})
	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	return r
}

// handleTrigger runs a sync synchronously and returns its summary.
// ?async=true only queues a manual run on the scheduler.
func (a *syncApp) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if secret := a.cfg.Sync.TriggerSecret; secret != "" {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
	}

	trigger := models.TriggerManual
	if v := r.URL.Query().Get("trigger"); v != "" {
		trigger = models.Trigger(v)
		if !trigger.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "trigger must be scheduled or manual"})
			return
		}
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		queued := a.sched.Trigger()
		writeJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
		return
	}

	// клиент может отвалиться, прогон должен доехать до конца
	sum := a.orch.Run(context.WithoutCancel(r.Context()), trigger)
	writeJSON(w, triggerStatusCode(sum.Status), sum)
}

func triggerStatusCode(s models.RunStatus) int {
	switch s {
	case models.RunStatusAlreadyRunning:
		return http.StatusConflict
	case models.RunStatusFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
