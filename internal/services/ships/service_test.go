package ships

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/FleetSync/internal/broker/messages"
	"github.com/BearBump/FleetSync/internal/cache/rediscache"
	"github.com/BearBump/FleetSync/internal/models"
)

type countingRepo struct {
	ships map[string]*models.Ship
	calls int
}

func (r *countingRepo) GetByIDOrSlug(_ context.Context, key string) (*models.Ship, error) {
	r.calls++
	for _, sh := range r.ships {
		if sh.ID == key || sh.ExternalID == key || sh.Slug == key {
			c := *sh
			return &c, nil
		}
	}
	return nil, nil
}

func (r *countingRepo) GetByIDs(_ context.Context, ids []string) ([]*models.Ship, error) {
	r.calls++
	var out []*models.Ship
	for _, id := range ids {
		if sh, ok := r.ships[id]; ok {
			out = append(out, sh)
		}
	}
	return out, nil
}

func (r *countingRepo) ListManufacturers(context.Context) ([]models.ManufacturerCount, error) {
	r.calls++
	return nil, nil
}

func TestService_RedisCacheInvalidation(t *testing.T) {
	mr := miniredis.RunT(t)
	c := rediscache.New(mr.Addr())
	defer c.Close()

	repo := &countingRepo{ships: map[string]*models.Ship{
		"id-1": {ID: "id-1", ExternalID: "ext-1", Slug: "drake-cutter", Name: "Cutter"},
	}}
	svc := New(repo, c, time.Minute)
	ctx := context.Background()

	sh, err := svc.GetShip(ctx, "drake-cutter")
	require.NoError(t, err)
	require.Equal(t, "Cutter", sh.Name)
	_, err = svc.GetShip(ctx, "drake-cutter")
	require.NoError(t, err)
	require.Equal(t, 1, repo.calls)
	require.True(t, mr.Exists("ship:drake-cutter"))

	repo.ships["id-1"].Name = "Cutter Rambler"
	require.NoError(t, svc.ApplyShipChanged(ctx, messages.ShipChanged{ShipID: "id-1", ExternalID: "ext-1", Slug: "drake-cutter"}))
	require.False(t, mr.Exists("ship:drake-cutter"))

	sh, err = svc.GetShip(ctx, "drake-cutter")
	require.NoError(t, err)
	require.Equal(t, "Cutter Rambler", sh.Name)

	// пустой список производителей тоже кэшируется
	out, err := svc.ListManufacturers(ctx)
	require.NoError(t, err)
	require.NotNil(t, out)
	require.True(t, mr.Exists("ships:manufacturers"))
	require.NoError(t, svc.ApplyCatalogSynced(ctx, messages.CatalogSynced{RunID: "r"}))
	require.False(t, mr.Exists("ships:manufacturers"))
}

func TestService_SlugRenameDropsPreviousKey(t *testing.T) {
	mr := miniredis.RunT(t)
	c := rediscache.New(mr.Addr())
	defer c.Close()

	repo := &countingRepo{ships: map[string]*models.Ship{
		"id-1": {ID: "id-1", ExternalID: "ext-1", Slug: "drake-cutter", Name: "Cutter"},
	}}
	svc := New(repo, c, time.Minute)
	ctx := context.Background()

	_, err := svc.GetShip(ctx, "drake-cutter")
	require.NoError(t, err)
	require.True(t, mr.Exists("ship:drake-cutter"))

	repo.ships["id-1"].Slug = "drake-cutter-rambler"
	require.NoError(t, svc.ApplyShipChanged(ctx, messages.ShipChanged{
		ShipID: "id-1", ExternalID: "ext-1", Slug: "drake-cutter-rambler", PreviousSlug: "drake-cutter",
	}))
	require.False(t, mr.Exists("ship:drake-cutter"))

	_, err = svc.GetShip(ctx, "drake-cutter")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_GetShipsUsesMGet(t *testing.T) {
	mr := miniredis.RunT(t)
	c := rediscache.New(mr.Addr()).WithPrefix("fleetsync:")
	defer c.Close()

	repo := &countingRepo{ships: map[string]*models.Ship{
		"id-1": {ID: "id-1", ExternalID: "ext-1", Name: "Cutter"},
		"id-2": {ID: "id-2", ExternalID: "ext-2", Name: "Arrow"},
	}}
	svc := New(repo, c, time.Minute)
	ctx := context.Background()

	out, err := svc.GetShips(ctx, []string{"id-2", "id-1", "id-9"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "Arrow", out[0].Name)
	require.Equal(t, 1, repo.calls)
	require.True(t, mr.Exists("fleetsync:ship:id-1"))

	// второй раз всё из кэша, в репозиторий идёт только промах
	out, err = svc.GetShips(ctx, []string{"id-1", "id-2", "id-9"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "Cutter", out[0].Name)
	require.Equal(t, 2, repo.calls)

	// Redis лёг: читаем из базы
	mr.Close()
	out, err = svc.GetShips(ctx, []string{"id-1"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, 3, repo.calls)
}
