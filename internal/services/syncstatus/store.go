// Package syncstatus serves the published sync snapshot. Reads come from a
// short-lived in-process cache so the public status endpoint can be polled
// hard without touching the database or waiting on a running sync.
package syncstatus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/BearBump/FleetSync/internal/models"
)

const latestKey = "latest"

type Persisted interface {
	GetLatest(ctx context.Context) (*models.SyncStatusSnapshot, error)
	Publish(ctx context.Context, snap models.SyncStatusSnapshot) (bool, error)
}

type Store struct {
	p     Persisted
	cache *expirable.LRU[string, *models.SyncStatusSnapshot]

	// Publish is rare; serializing it keeps the version check and the cache
	// refresh consistent.
	publishMu sync.Mutex
}

func New(p Persisted, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Store{
		p:     p,
		cache: expirable.NewLRU[string, *models.SyncStatusSnapshot](1, nil, ttl),
	}
}

// GetLatest returns nil when nothing has been published yet.
func (s *Store) GetLatest(ctx context.Context) (*models.SyncStatusSnapshot, error) {
	if snap, ok := s.cache.Get(latestKey); ok {
		return clone(snap), nil
	}

	snap, err := s.p.GetLatest(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Add(latestKey, snap)
	return clone(snap), nil
}

// NextVersion reads the persisted snapshot directly: another replica may
// have published since the cache was filled.
func (s *Store) NextVersion(ctx context.Context) (int64, error) {
	snap, err := s.p.GetLatest(ctx)
	if err != nil {
		return 0, err
	}
	if snap == nil {
		return 1, nil
	}
	return snap.SyncVersion + 1, nil
}

// Publish overwrites the snapshot when snap.SyncVersion is newer than the
// stored one. It reports whether the snapshot was written.
func (s *Store) Publish(ctx context.Context, snap models.SyncStatusSnapshot) (bool, error) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	ok, err := s.p.Publish(ctx, snap)
	if err != nil {
		s.cache.Remove(latestKey)
		return false, err
	}
	if !ok {
		slog.Warn("sync status not published: version is not newer", "sync_version", snap.SyncVersion)
		s.cache.Remove(latestKey)
		return false, nil
	}
	s.cache.Add(latestKey, clone(&snap))
	return true, nil
}

// Invalidate drops the cached snapshot.
func (s *Store) Invalidate() {
	s.cache.Remove(latestKey)
}

func clone(snap *models.SyncStatusSnapshot) *models.SyncStatusSnapshot {
	if snap == nil {
		return nil
	}
	c := *snap
	return &c
}
