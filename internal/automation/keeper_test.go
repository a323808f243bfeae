package automation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/raffle/internal/events"
	"github.com/R3E-Network/raffle/internal/raffle"
)

type fakeUpkeep struct {
	needed    atomic.Bool
	performs  atomic.Int32
	performFn func() error
}

func (f *fakeUpkeep) CheckUpkeep(ctx context.Context, checkData []byte) (bool, []byte) {
	return f.needed.Load(), nil
}

func (f *fakeUpkeep) PerformUpkeep(ctx context.Context, performData []byte) error {
	f.performs.Add(1)
	if f.performFn != nil {
		return f.performFn()
	}
	return nil
}

func TestNewKeeperValidates(t *testing.T) {
	_, err := NewKeeper(nil, Config{CheckInterval: time.Second}, nil, nil)
	assert.Error(t, err)
	_, err = NewKeeper(&fakeUpkeep{}, Config{}, nil, nil)
	assert.Error(t, err)

	k, err := NewKeeper(&fakeUpkeep{}, Config{CheckInterval: 30 * time.Second}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "@every 30s", k.Schedule())
}

func TestRunOnceNotNeeded(t *testing.T) {
	up := &fakeUpkeep{}
	k, err := NewKeeper(up, Config{CheckInterval: time.Second}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, ResultNotNeeded, k.RunOnce(context.Background()))
	assert.Equal(t, int32(0), up.performs.Load())
	assert.Equal(t, uint64(1), k.Stats().Checks)
}

func TestRunOnceLostRaceIsSkip(t *testing.T) {
	up := &fakeUpkeep{performFn: func() error {
		return &raffle.UpkeepNotNeededError{State: raffle.StateDrawing}
	}}
	up.needed.Store(true)
	log := events.NewLog(10)
	k, err := NewKeeper(up, Config{CheckInterval: time.Second}, log, nil)
	require.NoError(t, err)

	assert.Equal(t, ResultSkipped, k.RunOnce(context.Background()))
	stats := k.Stats()
	assert.Equal(t, uint64(1), stats.Skips)
	assert.Zero(t, stats.Failures)
	assert.Zero(t, log.Count())
}

func TestRunOnceFailure(t *testing.T) {
	up := &fakeUpkeep{performFn: func() error { return errors.New("provider down") }}
	up.needed.Store(true)
	log := events.NewLog(10)
	k, err := NewKeeper(up, Config{CheckInterval: time.Second}, log, nil)
	require.NoError(t, err)

	assert.Equal(t, ResultFailed, k.RunOnce(context.Background()))
	assert.Equal(t, "provider down", k.Stats().LastError)
	failed := log.RecentByType(events.EventUpkeepFailed, 1)
	require.Len(t, failed, 1)
	assert.Equal(t, "provider down", failed[0].Error)
}

func TestKeeperDrivesRaffle(t *testing.T) {
	ctx := context.Background()
	coord := raffle.NewStubCoordinator()
	r, err := raffle.New(raffle.Config{EntranceFee: 10, Interval: time.Minute}, coord, raffle.NewMemoryTreasury(), nil)
	require.NoError(t, err)
	clock := raffle.NewFakeClock(time.Now())
	r.WithClock(clock)

	log := events.NewLog(10)
	k, err := NewKeeper(r, Config{CheckInterval: time.Second}, log, nil)
	require.NoError(t, err)

	require.NoError(t, r.Enter(ctx, "alice", 10))
	assert.Equal(t, ResultNotNeeded, k.RunOnce(ctx))

	clock.Advance(time.Minute)
	assert.Equal(t, ResultPerformed, k.RunOnce(ctx))
	assert.Equal(t, raffle.StateDrawing, r.State())
	assert.Len(t, log.RecentByType(events.EventUpkeepPerformed, 10), 1)

	assert.Equal(t, ResultNotNeeded, k.RunOnce(ctx))
	stats := k.Stats()
	assert.Equal(t, uint64(3), stats.Checks)
	assert.Equal(t, uint64(1), stats.Performs)
}

func TestKeeperSchedule(t *testing.T) {
	up := &fakeUpkeep{}
	up.needed.Store(true)
	k, err := NewKeeper(up, Config{CheckInterval: time.Second}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, k.Start(context.Background()))
	assert.Error(t, k.Start(context.Background()))

	require.Eventually(t, func() bool {
		return up.performs.Load() >= 1
	}, 3*time.Second, 50*time.Millisecond)

	k.Stop()
	k.Stop()
	performed := up.performs.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, performed, up.performs.Load())
}
