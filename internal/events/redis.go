package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/raffle/pkg/logger"
)

const (
	// DefaultRedisChannel is used when no channel is configured.
	DefaultRedisChannel = "raffle:events"

	defaultRedisQueueSize = 256
	redisPublishTimeout   = 2 * time.Second
)

// RedisPublisher forwards events to a Redis pub/sub channel so listeners
// outside the process can follow the raffle. Handle only queues; a worker
// does the network round trip.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	timeout time.Duration
	log     *logger.Logger
	publish func(ctx context.Context, payload []byte) error

	queue   chan Event
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

// NewRedisPublisher connects to addr, verifies the connection and starts the
// publishing worker.
func NewRedisPublisher(ctx context.Context, addr, channel string, log *logger.Logger) (*RedisPublisher, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisPublisher(client, channel, defaultRedisQueueSize, log, nil), nil
}

// newRedisPublisher starts the worker. A nil publish sends through client.
func newRedisPublisher(client *redis.Client, channel string, queueSize int, log *logger.Logger,
	publish func(ctx context.Context, payload []byte) error) *RedisPublisher {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if queueSize <= 0 {
		queueSize = defaultRedisQueueSize
	}
	if log == nil {
		log = logger.NewDefault("events-redis")
	}

	p := &RedisPublisher{
		client:  client,
		channel: channel,
		timeout: redisPublishTimeout,
		log:     log,
		queue:   make(chan Event, queueSize),
		stop:    make(chan struct{}),
		publish: publish,
	}
	if p.publish == nil {
		p.publish = func(ctx context.Context, payload []byte) error {
			return p.client.Publish(ctx, p.channel, payload).Err()
		}
	}

	p.wg.Add(1)
	go p.run()
	return p
}

// Channel returns the channel events are published to.
func (p *RedisPublisher) Channel() string { return p.channel }

// Client exposes the underlying client, mainly for subscribers in tests.
func (p *RedisPublisher) Client() *redis.Client { return p.client }

// Dropped reports how many events were discarded because the queue was full.
func (p *RedisPublisher) Dropped() uint64 { return p.dropped.Load() }

// Handle queues an event for publishing without blocking the caller. It is
// meant to be passed to Log.Subscribe.
func (p *RedisPublisher) Handle(event Event) {
	select {
	case <-p.stop:
		p.dropped.Add(1)
		return
	default:
	}
	select {
	case p.queue <- event:
	default:
		p.dropped.Add(1)
		p.log.WithField("event_type", event.Type).Warn("redis publish queue full; dropping event")
	}
}

func (p *RedisPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case e := <-p.queue:
			p.send(e)
		case <-p.stop:
			for {
				select {
				case e := <-p.queue:
					p.send(e)
				default:
					return
				}
			}
		}
	}
}

func (p *RedisPublisher) send(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.WithError(err).Warn("marshal event for redis")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.publish(ctx, payload); err != nil {
		p.log.WithError(err).
			WithField("event_type", event.Type).
			Warn("publish event to redis")
	}
}

// Close publishes whatever is still queued, then releases the Redis
// connection. Events handled after Close are dropped.
func (p *RedisPublisher) Close() error {
	var err error
	p.once.Do(func() {
		close(p.stop)
		p.wg.Wait()
		err = p.client.Close()
	})
	return err
}
