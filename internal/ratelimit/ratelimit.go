// Package ratelimit provides the process-wide outbound ceiling for the
// catalog client.
package ratelimit

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Local is a token bucket shared by every run inside one process.
type Local struct {
	l *rate.Limiter
}

// NewLocal allows perMinute requests per minute with a burst of one.
// perMinute <= 0 disables the ceiling.
func NewLocal(perMinute int) *Local {
	if perMinute <= 0 {
		return &Local{l: rate.NewLimiter(rate.Inf, 0)}
	}
	return &Local{l: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)}
}

func (l *Local) Wait(ctx context.Context) error {
	if err := l.l.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limit wait")
	}
	return nil
}

// WindowAllower is the Redis fixed-window counter.
type WindowAllower interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
	NextWindow(window time.Duration) time.Duration
}

// Window shares the ceiling between processes through a Redis counter.
// A request that does not fit sleeps until the next window opens.
type Window struct {
	a      WindowAllower
	key    string
	limit  int64
	window time.Duration
}

func NewWindow(a WindowAllower, key string, perMinute int) *Window {
	return &Window{a: a, key: key, limit: int64(perMinute), window: time.Minute}
}

func (w *Window) Wait(ctx context.Context) error {
	if w.limit <= 0 {
		return ctx.Err()
	}
	for {
		ok, _, err := w.a.Allow(ctx, w.key, w.limit, w.window)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		t := time.NewTimer(w.a.NextWindow(w.window))
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Wrap(ctx.Err(), "rate limit wait")
		case <-t.C:
		}
	}
}
