package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/FleetSync/internal/cache/rediscache"
)

func TestLocal_Unlimited(t *testing.T) {
	l := NewLocal(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
}

func TestLocal_BlocksAfterBurst(t *testing.T) {
	l := NewLocal(1) // один запрос в минуту
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx))
}

func TestLocal_SharedAcrossCallers(t *testing.T) {
	l := NewLocal(60 * 100) // 100/s
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

type stubAllower struct {
	answers []bool
	calls   int
	next    time.Duration
}

func (s *stubAllower) Allow(context.Context, string, int64, time.Duration) (bool, int64, error) {
	ok := s.answers[s.calls]
	s.calls++
	return ok, int64(s.calls), nil
}

func (s *stubAllower) NextWindow(time.Duration) time.Duration { return s.next }

func TestWindow_WaitsForNextWindow(t *testing.T) {
	a := &stubAllower{answers: []bool{false, false, true}, next: time.Millisecond}
	w := NewWindow(a, "rl:catalog", 10)
	require.NoError(t, w.Wait(context.Background()))
	require.Equal(t, 3, a.calls)
}

func TestWindow_ContextCancelled(t *testing.T) {
	a := &stubAllower{answers: []bool{false}, next: time.Hour}
	w := NewWindow(a, "rl:catalog", 10)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, w.Wait(ctx))
}

func TestWindow_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := rediscache.NewRateLimiter(mr.Addr()).WithClock(func() time.Time { return fixed })
	w := NewWindow(rl, "rl:catalog", 3)

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Wait(context.Background()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, w.Wait(ctx))
}
