package events

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/raffle/pkg/logger"
)

func TestRedisPublisherRequiresAddress(t *testing.T) {
	_, err := NewRedisPublisher(context.Background(), "", "", nil)
	assert.Error(t, err)
}

func TestRedisPublisherHandleDoesNotWaitOnRedis(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var (
		mu        sync.Mutex
		published []EventType
	)
	publish := func(ctx context.Context, payload []byte) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		var e Event
		if err := json.Unmarshal(payload, &e); err != nil {
			return err
		}
		mu.Lock()
		published = append(published, e.Type)
		mu.Unlock()
		return nil
	}

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	pub := newRedisPublisher(client, "", 2, logger.New("redis-test", logger.Config{Output: io.Discard}), publish)

	pub.Handle(Event{Type: EventRaffleEnter})
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the first event")
	}

	handled := make(chan struct{})
	go func() {
		pub.Handle(Event{Type: EventRaffleWinnerRequested})
		pub.Handle(Event{Type: EventRaffleWinnerPicked})
		pub.Handle(Event{Type: EventRaffleEnter})
		close(handled)
	}()
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("Handle blocked while redis was stalled")
	}
	assert.Equal(t, uint64(1), pub.Dropped())

	close(release)
	require.NoError(t, pub.Close())

	mu.Lock()
	assert.Equal(t, []EventType{EventRaffleEnter, EventRaffleWinnerRequested, EventRaffleWinnerPicked}, published)
	mu.Unlock()

	pub.Handle(Event{Type: EventRaffleEnter})
	assert.Equal(t, uint64(2), pub.Dropped())
	assert.NoError(t, pub.Close())
}

func TestRedisPublisherIntegration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pub, err := NewRedisPublisher(ctx, addr, "raffle:test-events", nil)
	require.NoError(t, err)
	defer pub.Close()

	sub := pub.Client().Subscribe(ctx, pub.Channel())
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	l := NewLog(10)
	l.Subscribe(pub.Handle)
	l.Log(Event{Type: EventRaffleWinnerPicked, Winner: "carol", Amount: 40})

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, EventRaffleWinnerPicked, got.Type)
	assert.Equal(t, "carol", got.Winner)
	assert.Equal(t, int64(40), got.Amount)
}
