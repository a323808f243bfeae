package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/raffle/internal/events"
)

func TestRecorderPersistsRaffleEvents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	log := events.NewLog(50)
	rec := NewRecorder(store, 16, nil)
	rec.Start(ctx, log)

	log.Log(events.Event{Type: events.EventRaffleEnter, RaffleID: "r", Round: 1, Participant: "alice", Amount: 10})
	log.Log(events.Event{Type: events.EventRaffleEnter, RaffleID: "r", Round: 1, Participant: "bob", Amount: 10})
	log.Log(events.Event{Type: events.EventRaffleWinnerRequested, RaffleID: "r", Round: 1, RequestID: 3})
	log.Log(events.Event{Type: events.EventRaffleWinnerPicked, RaffleID: "r", Round: 1, RequestID: 3, Winner: "bob", Amount: 20})
	log.Log(events.Event{Type: events.EventVRFWordsRequested, RequestID: 3})

	rec.Stop()

	entries, err := store.ListEntries(ctx, "r", 1)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	draws, err := store.ListDraws(ctx, "r", 10)
	require.NoError(t, err)
	require.Len(t, draws, 1)
	assert.Equal(t, DrawStatusCompleted, draws[0].Status)
	assert.Equal(t, "bob", draws[0].Winner)
	assert.Equal(t, int64(20), draws[0].Prize)
}

func TestRecorderStopUnsubscribes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	log := events.NewLog(10)
	rec := NewRecorder(store, 4, nil)
	rec.Start(ctx, log)
	rec.Stop()
	rec.Stop()

	log.Log(events.Event{Type: events.EventRaffleEnter, RaffleID: "r", Round: 1, Participant: "late", Amount: 1, Timestamp: time.Now()})
	entries, _ := store.ListEntries(ctx, "r", 0)
	assert.Empty(t, entries)
}

func TestRecorderToleratesCompletionBeforeRequest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := NewRecorder(store, 4, nil)
	requested := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rec.Record(ctx, events.Event{Type: events.EventRaffleWinnerPicked, RaffleID: "r", Round: 1, RequestID: 5, Winner: "carol", Amount: 30, Timestamp: requested.Add(time.Second)})
	rec.Record(ctx, events.Event{Type: events.EventRaffleWinnerRequested, RaffleID: "r", Round: 1, RequestID: 5, Timestamp: requested})

	draws, err := store.ListDraws(ctx, "r", 10)
	require.NoError(t, err)
	require.Len(t, draws, 1)
	assert.Equal(t, DrawStatusCompleted, draws[0].Status)
	assert.Equal(t, "carol", draws[0].Winner)
	assert.Equal(t, requested, draws[0].RequestedAt)
}
