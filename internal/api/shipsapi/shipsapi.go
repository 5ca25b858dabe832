package shipsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	"github.com/BearBump/FleetSync/internal/models"
	"github.com/BearBump/FleetSync/internal/services/ships"
)

type ShipReader interface {
	GetShip(ctx context.Context, key string) (*models.Ship, error)
	GetShips(ctx context.Context, ids []string) ([]*models.Ship, error)
	ListManufacturers(ctx context.Context) ([]models.ManufacturerCount, error)
}

type StatusReader interface {
	GetLatest(ctx context.Context) (*models.SyncStatusSnapshot, error)
}

type ShipsAPI struct {
	ships        ShipReader
	status       StatusReader
	cacheControl string
}

func New(sr ShipReader, st StatusReader) *ShipsAPI {
	return &ShipsAPI{ships: sr, status: st, cacheControl: CacheControl(30*time.Second, 60*time.Second)}
}

func (a *ShipsAPI) WithStatusCacheControl(maxAge, swr time.Duration) *ShipsAPI {
	a.cacheControl = CacheControl(maxAge, swr)
	return a
}

// Register wires REST routes onto the gateway mux.
func (a *ShipsAPI) Register(mux *runtime.ServeMux) error {
	routes := []struct {
		method, path string
		h            runtime.HandlerFunc
	}{
		{http.MethodGet, "/v1/ships/{key}", a.getShip},
		{http.MethodGet, "/v1/ships", a.getShips},
		{http.MethodPost, "/v1/ships/batch", a.batchShips},
		{http.MethodGet, "/v1/manufacturers", a.listManufacturers},
		{http.MethodGet, "/v1/sync/status", a.syncStatus},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.path, rt.h); err != nil {
			return fmt.Errorf("register %s %s: %w", rt.method, rt.path, err)
		}
	}
	return nil
}

func (a *ShipsAPI) getShip(w http.ResponseWriter, r *http.Request, params map[string]string) {
	sh, err := a.ships.GetShip(r.Context(), params["key"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

// getShips: ?ids=a,b или ?ids=a&ids=b
func (a *ShipsAPI) getShips(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var ids []string
	for _, v := range r.URL.Query()["ids"] {
		ids = append(ids, strings.Split(v, ",")...)
	}
	a.respondBatch(w, r, ids)
}

type batchRequest struct {
	IDs []string `json:"ids"`
}

func (a *ShipsAPI) batchShips(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req batchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	a.respondBatch(w, r, req.IDs)
}

func (a *ShipsAPI) respondBatch(w http.ResponseWriter, r *http.Request, ids []string) {
	out, err := a.ships.GetShips(r.Context(), ids)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ships": out})
}

func (a *ShipsAPI) listManufacturers(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	out, err := a.ships.ListManufacturers(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"manufacturers": out})
}

func (a *ShipsAPI) syncStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	StatusHandler(a.status, a.cacheControl)(w, r)
}

// CacheControl renders the public caching policy of the status endpoint.
func CacheControl(maxAge, swr time.Duration) string {
	return fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d", int(maxAge.Seconds()), int(swr.Seconds()))
}

// StatusHandler serves the latest published snapshot. Before the first
// successful run it answers 404 and nothing is cached downstream.
func StatusHandler(st StatusReader, cacheControl string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := st.GetLatest(r.Context())
		if err != nil {
			slog.Error("read sync status", "err", err)
			writeError(w, http.StatusServiceUnavailable, "sync status unavailable")
			return
		}
		if snap == nil {
			w.Header().Set("Cache-Control", "no-store")
			writeError(w, http.StatusNotFound, "no sync has been published yet")
			return
		}
		if cacheControl != "" {
			w.Header().Set("Cache-Control", cacheControl)
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ships.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ships.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("ships api", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
