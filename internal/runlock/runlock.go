// Package runlock is the single-flight guard around a sync run.
//
// TryAcquire never waits: a second caller gets acquired=false right away.
// Every successful acquisition returns a release func that is safe to call
// more than once and only ever frees the acquisition it belongs to, so a
// run that lost its lock to the staleness threshold cannot free its
// successor's lock.
package runlock

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Holder struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

type Lock interface {
	TryAcquire(ctx context.Context, owner string) (release func(), acquired bool, err error)
	// Holder returns nil when the lock is free.
	Holder(ctx context.Context) (*Holder, error)
}

// Local is an in-process lock with stale force-release.
type Local struct {
	mu    sync.Mutex
	stale time.Duration
	now   func() time.Time

	held   bool
	holder Holder
	gen    uint64
}

// NewLocal; stale <= 0 means the lock is never force-released.
func NewLocal(stale time.Duration) *Local {
	return &Local{stale: stale, now: time.Now}
}

func (l *Local) TryAcquire(_ context.Context, owner string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.held {
		if l.stale <= 0 || now.Sub(l.holder.AcquiredAt) < l.stale {
			return nil, false, nil
		}
		slog.Warn("run lock is stale, force releasing",
			"owner", l.holder.Owner, "acquired_at", l.holder.AcquiredAt, "stale_after", l.stale)
	}

	l.gen++
	gen := l.gen
	l.held = true
	l.holder = Holder{Owner: owner, AcquiredAt: now}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held && l.gen == gen {
				l.held = false
				l.holder = Holder{}
			}
		})
	}
	return release, true, nil
}

func (l *Local) Holder(context.Context) (*Holder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil, nil
	}
	h := l.holder
	return &h, nil
}
