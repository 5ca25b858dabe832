package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/FleetSync/internal/models"
)

type memStore struct {
	mu      sync.Mutex
	docs    map[string]*models.Ship
	writes  atomic.Int64
	failFor map[string]bool
	getErr  error
}

func newMemStore() *memStore {
	return &memStore{docs: map[string]*models.Ship{}, failFor: map[string]bool{}}
}

func (m *memStore) GetByExternalIDs(_ context.Context, ids []string) (map[string]*models.Ship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	out := map[string]*models.Ship{}
	for _, id := range ids {
		if d, ok := m.docs[id]; ok {
			c := *d
			out[id] = &c
		}
	}
	return out, nil
}

func (m *memStore) UpsertShip(_ context.Context, doc *models.Ship) (models.UpsertOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[doc.ExternalID] {
		return "", errors.New("write conflict")
	}
	cur, ok := m.docs[doc.ExternalID]
	if ok && cur.ContentHash == doc.ContentHash {
		return models.UpsertUnchanged, nil
	}
	m.writes.Add(1)
	c := *doc
	if !ok {
		c.SyncVersion = 1
		m.docs[doc.ExternalID] = &c
		doc.SyncVersion = 1
		return models.UpsertCreated, nil
	}
	c.ID = cur.ID
	c.SyncVersion = cur.SyncVersion + 1
	m.docs[doc.ExternalID] = &c
	doc.SyncVersion = c.SyncVersion
	return models.UpsertUpdated, nil
}

func (m *memStore) CountShips(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs), nil
}

func (m *memStore) put(doc *models.Ship) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *doc
	m.docs[doc.ExternalID] = &c
}

func (m *memStore) versions() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int64{}
	for k, d := range m.docs {
		out[k] = d.SyncVersion
	}
	return out
}

type memStatus struct {
	mu        sync.Mutex
	snap      *models.SyncStatusSnapshot
	published int
}

func (s *memStatus) NextVersion(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return 1, nil
	}
	return s.snap.SyncVersion + 1, nil
}

func (s *memStatus) Publish(_ context.Context, snap models.SyncStatusSnapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap != nil && s.snap.SyncVersion >= snap.SyncVersion {
		return false, nil
	}
	s.snap = &snap
	s.published++
	return true, nil
}

func (s *memStatus) latest() *models.SyncStatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return nil
	}
	c := *s.snap
	return &c
}

type memArchive struct {
	mu   sync.Mutex
	runs []models.SyncRun
}

func (a *memArchive) SaveRun(_ context.Context, run *models.SyncRun) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs = append(a.runs, *run)
	return nil
}

type recordedMsg struct {
	topic string
	key   string
	value []byte
}

type memProducer struct {
	mu   sync.Mutex
	msgs []recordedMsg
	err  error
}

func (p *memProducer) Publish(_ context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, recordedMsg{topic: topic, key: string(key), value: value})
	return nil
}

func (p *memProducer) byTopic(topic string) []recordedMsg {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []recordedMsg
	for _, m := range p.msgs {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func fastSettings() Settings {
	return Settings{
		PageSize:               10,
		MaxPages:               100,
		MaxConsecutiveFailures: 3,
		MaxErrors:              50,
		RunTimeout:             time.Minute,
		UpsertConcurrency:      4,
	}
}
