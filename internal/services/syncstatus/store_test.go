package syncstatus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/FleetSync/internal/models"
)

type persistedMock struct {
	mock.Mock
}

func (m *persistedMock) GetLatest(ctx context.Context) (*models.SyncStatusSnapshot, error) {
	args := m.Called(ctx)
	var snap *models.SyncStatusSnapshot
	if v := args.Get(0); v != nil {
		snap = v.(*models.SyncStatusSnapshot)
	}
	return snap, args.Error(1)
}

func (m *persistedMock) Publish(ctx context.Context, snap models.SyncStatusSnapshot) (bool, error) {
	args := m.Called(ctx, snap)
	return args.Bool(0), args.Error(1)
}

func TestStore_GetLatest_Cached(t *testing.T) {
	pm := &persistedMock{}
	snap := &models.SyncStatusSnapshot{ShipCount: 3, Status: models.RunStatusSuccess, SyncVersion: 7}
	pm.On("GetLatest", mock.Anything).Return(snap, nil).Once()

	s := New(pm, time.Minute)
	for i := 0; i < 5; i++ {
		got, err := s.GetLatest(context.Background())
		require.NoError(t, err)
		require.EqualValues(t, 7, got.SyncVersion)
	}
	pm.AssertExpectations(t)

	// вызывающий не может испортить кэш
	got, _ := s.GetLatest(context.Background())
	got.ShipCount = 999
	again, _ := s.GetLatest(context.Background())
	require.Equal(t, 3, again.ShipCount)
}

func TestStore_GetLatest_EmptyAndError(t *testing.T) {
	pm := &persistedMock{}
	pm.On("GetLatest", mock.Anything).Return(nil, nil).Once()
	s := New(pm, time.Minute)

	got, err := s.GetLatest(context.Background())
	require.NoError(t, err)
	require.Nil(t, got)
	got, err = s.GetLatest(context.Background())
	require.NoError(t, err)
	require.Nil(t, got)
	pm.AssertExpectations(t)

	pm2 := &persistedMock{}
	pm2.On("GetLatest", mock.Anything).Return(nil, errors.New("db down"))
	_, err = New(pm2, time.Minute).GetLatest(context.Background())
	require.Error(t, err)
}

func TestStore_GetLatest_TTL(t *testing.T) {
	pm := &persistedMock{}
	pm.On("GetLatest", mock.Anything).Return(&models.SyncStatusSnapshot{SyncVersion: 1}, nil).Twice()
	s := New(pm, 20*time.Millisecond)

	_, _ = s.GetLatest(context.Background())
	time.Sleep(60 * time.Millisecond)
	_, _ = s.GetLatest(context.Background())
	pm.AssertExpectations(t)
}

func TestStore_PublishRefreshesCache(t *testing.T) {
	pm := &persistedMock{}
	next := models.SyncStatusSnapshot{ShipCount: 10, Status: models.RunStatusPartial, SyncVersion: 2}
	pm.On("Publish", mock.Anything, next).Return(true, nil).Once()

	s := New(pm, time.Minute)
	ok, err := s.Publish(context.Background(), next)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetLatest(context.Background())
	require.NoError(t, err)
	require.Equal(t, next, *got)
	pm.AssertExpectations(t)
}

func TestStore_PublishRejectedDropsCache(t *testing.T) {
	pm := &persistedMock{}
	stale := models.SyncStatusSnapshot{SyncVersion: 1}
	current := &models.SyncStatusSnapshot{SyncVersion: 5}
	pm.On("Publish", mock.Anything, stale).Return(false, nil).Once()
	pm.On("GetLatest", mock.Anything).Return(current, nil).Once()

	s := New(pm, time.Minute)
	ok, err := s.Publish(context.Background(), stale)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := s.GetLatest(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 5, got.SyncVersion)
	pm.AssertExpectations(t)
}

func TestStore_NextVersion(t *testing.T) {
	pm := &persistedMock{}
	pm.On("GetLatest", mock.Anything).Return(nil, nil).Once()
	pm.On("GetLatest", mock.Anything).Return(&models.SyncStatusSnapshot{SyncVersion: 41}, nil).Once()
	s := New(pm, time.Minute)

	v, err := s.NextVersion(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, v)

	v, err = s.NextVersion(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 42, v)
}

func TestStore_ConcurrentReadsDuringPublish(t *testing.T) {
	pm := &persistedMock{}
	pm.On("GetLatest", mock.Anything).Return(&models.SyncStatusSnapshot{SyncVersion: 1}, nil).Maybe()
	pm.On("Publish", mock.Anything, mock.Anything).Return(true, nil)
	s := New(pm, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.GetLatest(context.Background())
			require.NoError(t, err)
		}()
		go func(v int64) {
			defer wg.Done()
			_, err := s.Publish(context.Background(), models.SyncStatusSnapshot{SyncVersion: v})
			require.NoError(t, err)
		}(int64(i + 2))
	}
	wg.Wait()
}
