package trips

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-dispatch/internal/drivers"
	"fleet-dispatch/internal/events"
	"fleet-dispatch/internal/geo"
	"fleet-dispatch/internal/users"
	"fleet-dispatch/pkg/apperr"
	"fleet-dispatch/pkg/db"
	"fleet-dispatch/pkg/jwt"
	"fleet-dispatch/pkg/logger"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc     *Service
	drivers *drivers.Service
	clock   *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	require.NoError(t, jwt.Init("trips-test", time.Hour))
	tx := db.NewMemTx()
	accounts := users.NewService(users.NewMemoryRepository(), logger.NopLogger{})
	ds := drivers.NewService(drivers.NewMemoryRepository(), accounts, tx, drivers.NewMemoryIndex(), 20, logger.NopLogger{})
	svc := NewService(NewMemoryRepository(), ds, tx, NewMemoryCache(), events.Nop{}, logger.NopLogger{})
	c := &clock{t: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	svc.now = c.Now
	return &fixture{svc: svc, drivers: ds, clock: c}
}

func (f *fixture) driver(t *testing.T, email string) *drivers.Driver {
	t.Helper()
	resp, err := f.drivers.Register(context.Background(), drivers.RegisterRequest{
		Name: "Driver", Email: email, Password: "secret1",
	})
	require.NoError(t, err)
	return resp.Driver
}

func TestStartTripTwiceConflictsAndLeavesProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.driver(t, "a@fleet.io")

	first, err := f.svc.StartTrip(ctx, StartRequest{DriverID: d.ID, Type: TypePickup})
	require.NoError(t, err)

	_, err = f.svc.StartTrip(ctx, StartRequest{DriverID: d.ID, Type: TypeOther})
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))

	got, err := f.drivers.Get(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentTripID)
	assert.Equal(t, first.ID, *got.CurrentTripID)

	inProgress, err := f.svc.History(ctx, Filter{DriverID: d.ID, Status: StatusInProgress})
	require.NoError(t, err)
	assert.Len(t, inProgress, 1)
}

func TestStartTripValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.driver(t, "a@fleet.io")

	_, err := f.svc.StartTrip(ctx, StartRequest{DriverID: d.ID, Type: "teleport"})
	assert.Equal(t, apperr.BadRequest, apperr.KindOf(err))

	_, err = f.svc.StartTrip(ctx, StartRequest{DriverID: "missing", Type: TypePickup})
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestRecordPositionWithoutTripIsNoop(t *testing.T) {
	f := newFixture(t)
	d := f.driver(t, "a@fleet.io")

	tr, err := f.svc.RecordPosition(context.Background(), d.ID, geo.Sample{Lat: 1, Lng: 1})
	require.NoError(t, err)
	assert.Nil(t, tr)

	list, err := f.svc.History(context.Background(), Filter{DriverID: d.ID})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTripLifecycleMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.driver(t, "a@fleet.io")

	started, err := f.svc.StartTrip(ctx, StartRequest{DriverID: d.ID, Type: TypeDropoff})
	require.NoError(t, err)

	base := f.clock.Now()
	samples := []geo.Sample{
		{Lat: 0, Lng: 0, Speed: 20, RecordedAt: base.Add(time.Minute)},
		{Lat: 0, Lng: 0.05, Speed: 48, RecordedAt: base.Add(10 * time.Minute)},
		{Lat: 0, Lng: 0.1, Speed: 35, RecordedAt: base.Add(20 * time.Minute)},
	}
	for _, s := range samples {
		_, err := f.svc.RecordPosition(ctx, d.ID, s)
		require.NoError(t, err)
	}
	// Re-sending the last fix is harmless.
	again, err := f.svc.RecordPosition(ctx, d.ID, samples[2])
	require.NoError(t, err)
	assert.Equal(t, 3, again.PositionCount)

	live, err := f.svc.Live(ctx, started.ID)
	require.NoError(t, err)
	assert.InDelta(t, geo.DistanceKm(0, 0, 0, 0.1), live.Metrics.DistanceKm, 1e-3)
	assert.Equal(t, 48.0, live.Metrics.MaxSpeedKmh)

	f.clock.Advance(30 * time.Minute)
	ended, err := f.svc.EndTrip(ctx, d.ID, "delivered")
	require.NoError(t, err)
	require.NotNil(t, ended)
	require.NotNil(t, ended.FinishedAt)

	assert.Equal(t, StatusCompleted, ended.Status)
	assert.Equal(t, ended.FinishedAt.Sub(ended.StartedAt).Seconds(), ended.Metrics.DurationSec)
	assert.InDelta(t, ended.Metrics.DistanceKm/(ended.Metrics.DurationSec/3600), ended.Metrics.AvgSpeedKmh, 1e-9)

	prof, err := f.drivers.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Nil(t, prof.CurrentTripID)
	assert.Equal(t, 1, prof.Stats.TotalTrips)
	assert.InDelta(t, ended.Metrics.DistanceKm, prof.Stats.TotalDistanceKm, 1e-9)
	assert.Equal(t, ended.Metrics.DurationSec, prof.Stats.TotalDurationSec)
	require.NotNil(t, prof.Stats.LastTripEndedAt)

	stored, err := f.svc.Get(ctx, started.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Positions, 3)

	// Ending again is a no-op.
	none, err := f.svc.EndTrip(ctx, d.ID, "")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestCancelTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.driver(t, "a@fleet.io")
	require.NoError(t, f.drivers.SetStatus(ctx, d.ID, drivers.StatusOnlineBusy))

	tr, err := f.svc.StartTrip(ctx, StartRequest{DriverID: d.ID, Type: TypeBreak})
	require.NoError(t, err)

	canceled, err := f.svc.CancelTrip(ctx, tr.ID, "driver went home")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, canceled.Status)
	assert.Equal(t, "driver went home", canceled.Notes)

	prof, err := f.drivers.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Nil(t, prof.CurrentTripID)
	assert.Equal(t, drivers.StatusOnlineFree, prof.Status)
	assert.Zero(t, prof.Stats.TotalTrips)

	_, err = f.svc.CancelTrip(ctx, tr.ID, "again")
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
	_, err = f.svc.CancelTrip(ctx, "missing", "")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestConcurrentStartTripAllowsOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.driver(t, "a@fleet.io")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.StartTrip(ctx, StartRequest{DriverID: d.ID, Type: TypeOther})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
	}
	assert.Equal(t, 1, ok)
}

func TestStatsByType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.driver(t, "a@fleet.io")
	b := f.driver(t, "b@fleet.io")

	for _, id := range []string{a.ID, b.ID} {
		_, err := f.svc.StartTrip(ctx, StartRequest{DriverID: id, Type: TypePickup})
		require.NoError(t, err)
		f.clock.Advance(time.Hour)
		_, err = f.svc.EndTrip(ctx, id, "")
		require.NoError(t, err)
	}

	from := f.clock.Now().Add(-24 * time.Hour)
	stats, err := f.svc.Stats(ctx, from, f.clock.Now())
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, TypePickup, stats[0].Type)
	assert.Equal(t, 2, stats[0].Count)
	assert.Equal(t, 7200.0, stats[0].TotalDurationSec)

	_, err = f.svc.Stats(ctx, f.clock.Now(), from)
	assert.Equal(t, apperr.BadRequest, apperr.KindOf(err))
}

func TestDeleteFinishedBefore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.driver(t, "a@fleet.io")

	_, err := f.svc.StartTrip(ctx, StartRequest{DriverID: d.ID, Type: TypeOther})
	require.NoError(t, err)
	_, err = f.svc.EndTrip(ctx, d.ID, "")
	require.NoError(t, err)
	_, err = f.svc.StartTrip(ctx, StartRequest{DriverID: d.ID, Type: TypeOther})
	require.NoError(t, err)

	n, err := f.svc.DeleteFinishedBefore(ctx, f.clock.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = f.svc.DeleteFinishedBefore(ctx, f.clock.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)
}
