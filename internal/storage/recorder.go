package storage

import (
	"context"
	"sync"

	"github.com/R3E-Network/raffle/internal/events"
	"github.com/R3E-Network/raffle/pkg/logger"
)

// Recorder persists raffle events to a Store from a background worker so
// slow storage never holds up the raffle.
type Recorder struct {
	store Store
	log   *logger.Logger

	queue chan events.Event
	mu    sync.Mutex
	stop  chan struct{}
	wg    sync.WaitGroup
	unsub func()
}

// NewRecorder creates a recorder with room for queueSize pending events.
func NewRecorder(store Store, queueSize int, log *logger.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = logger.NewDefault("history-recorder")
	}
	return &Recorder{
		store: store,
		log:   log,
		queue: make(chan events.Event, queueSize),
	}
}

// Start subscribes to the log and starts the worker.
func (r *Recorder) Start(ctx context.Context, log *events.Log) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		return
	}
	r.stop = make(chan struct{})
	r.unsub = log.SubscribeFiltered(
		events.TypeFilter(events.EventRaffleEnter, events.EventRaffleWinnerRequested, events.EventRaffleWinnerPicked),
		r.enqueue,
	)

	r.wg.Add(1)
	go r.run(ctx, r.stop)
}

// Stop unsubscribes, drains queued events and stops the worker.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.stop == nil {
		r.mu.Unlock()
		return
	}
	r.unsub()
	close(r.stop)
	r.stop = nil
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Recorder) enqueue(e events.Event) {
	select {
	case r.queue <- e:
	default:
		r.log.WithField("event_type", e.Type).Warn("history queue full; dropping event")
	}
}

func (r *Recorder) run(ctx context.Context, stop <-chan struct{}) {
	defer r.wg.Done()
	for {
		select {
		case e := <-r.queue:
			r.Record(ctx, e)
		case <-stop:
			for {
				select {
				case e := <-r.queue:
					r.Record(ctx, e)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Record persists a single event.
func (r *Recorder) Record(ctx context.Context, e events.Event) {
	var err error
	switch e.Type {
	case events.EventRaffleEnter:
		_, err = r.store.SaveEntry(ctx, Entry{
			RaffleID:    e.RaffleID,
			Round:       int64(e.Round),
			Participant: e.Participant,
			Amount:      e.Amount,
			EnteredAt:   e.Timestamp,
		})
	case events.EventRaffleWinnerRequested:
		_, err = r.store.SaveDraw(ctx, Draw{
			RaffleID:    e.RaffleID,
			Round:       int64(e.Round),
			RequestID:   int64(e.RequestID),
			Status:      DrawStatusRequested,
			RequestedAt: e.Timestamp,
		})
	case events.EventRaffleWinnerPicked:
		completed := e.Timestamp
		_, err = r.store.CompleteDraw(ctx, Draw{
			RaffleID:    e.RaffleID,
			Round:       int64(e.Round),
			RequestID:   int64(e.RequestID),
			Winner:      e.Winner,
			Prize:       e.Amount,
			CompletedAt: &completed,
		})
	default:
		return
	}
	if err != nil {
		r.log.WithError(err).WithField("event_type", e.Type).Warn("record history")
	}
}
