// Package automation runs upkeep checks on a schedule and performs the
// upkeep when the check says it is needed.
package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/raffle/internal/app/metrics"
	"github.com/R3E-Network/raffle/internal/events"
	"github.com/R3E-Network/raffle/internal/raffle"
	"github.com/R3E-Network/raffle/pkg/logger"
)

// Upkeep is anything that can be checked and performed.
type Upkeep interface {
	CheckUpkeep(ctx context.Context, checkData []byte) (bool, []byte)
	PerformUpkeep(ctx context.Context, performData []byte) error
}

// Result is the outcome of a single run.
type Result string

const (
	ResultNotNeeded Result = "not_needed"
	ResultPerformed Result = "performed"
	ResultSkipped   Result = "skipped"
	ResultFailed    Result = "failed"
)

// Config controls a Keeper.
type Config struct {
	Name          string
	CheckInterval time.Duration
	CheckData     []byte
}

// Stats counts keeper activity.
type Stats struct {
	Checks      uint64    `json:"checks"`
	Performs    uint64    `json:"performs"`
	Skips       uint64    `json:"skips"`
	Failures    uint64    `json:"failures"`
	LastCheck   time.Time `json:"last_check"`
	LastPerform time.Time `json:"last_perform"`
	LastError   string    `json:"last_error,omitempty"`
}

// Keeper drives an Upkeep on a cron schedule.
type Keeper struct {
	mu      sync.Mutex
	upkeep  Upkeep
	cfg     Config
	cron    *cron.Cron
	running bool
	stats   Stats

	events events.Publisher
	log    *logger.Logger
}

// NewKeeper creates a keeper for upkeep.
func NewKeeper(upkeep Upkeep, cfg Config, pub events.Publisher, log *logger.Logger) (*Keeper, error) {
	if upkeep == nil {
		return nil, fmt.Errorf("upkeep required")
	}
	if cfg.CheckInterval <= 0 {
		return nil, fmt.Errorf("check interval must be positive")
	}
	if cfg.Name == "" {
		cfg.Name = "raffle"
	}
	if pub == nil {
		pub = events.Discard{}
	}
	if log == nil {
		log = logger.NewDefault("keeper")
	}
	return &Keeper{
		upkeep: upkeep,
		cfg:    cfg,
		events: pub,
		log:    log.With("upkeep", cfg.Name),
	}, nil
}

// Schedule returns the cron spec the keeper runs on.
func (k *Keeper) Schedule() string {
	return "@every " + k.cfg.CheckInterval.String()
}

// Start schedules the checks. Overlapping runs are skipped.
func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return fmt.Errorf("keeper already running")
	}

	cronLog := cronLogger{log: k.log}
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := c.AddFunc(k.Schedule(), func() { k.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule upkeep: %w", err)
	}
	c.Start()

	k.cron = c
	k.running = true
	k.log.WithField("schedule", k.Schedule()).Info("keeper started")
	return nil
}

// Stop halts scheduling and waits for a run in progress.
func (k *Keeper) Stop() {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return
	}
	c := k.cron
	k.running = false
	k.cron = nil
	k.mu.Unlock()

	<-c.Stop().Done()
	k.log.Info("keeper stopped")
}

// RunOnce checks the upkeep and performs it when needed.
func (k *Keeper) RunOnce(ctx context.Context) Result {
	needed, performData := k.upkeep.CheckUpkeep(ctx, k.cfg.CheckData)
	metrics.RecordUpkeepCheck(needed)

	k.mu.Lock()
	k.stats.Checks++
	k.stats.LastCheck = time.Now().UTC()
	k.mu.Unlock()

	if !needed {
		return ResultNotNeeded
	}

	start := time.Now()
	err := k.upkeep.PerformUpkeep(ctx, performData)
	metrics.RecordUpkeepPerform(time.Since(start), err == nil)

	var result Result
	k.mu.Lock()
	switch {
	case err == nil:
		k.stats.Performs++
		k.stats.LastPerform = time.Now().UTC()
		k.stats.LastError = ""
		result = ResultPerformed
	case errors.Is(err, raffle.ErrUpkeepNotNeeded):
		// someone else performed it between check and perform
		k.stats.Skips++
		result = ResultSkipped
	default:
		k.stats.Failures++
		k.stats.LastError = err.Error()
		result = ResultFailed
	}
	k.mu.Unlock()

	switch result {
	case ResultPerformed:
		k.log.Debug("upkeep performed")
		k.events.Log(events.Event{
			Type:     events.EventUpkeepPerformed,
			Source:   "keeper",
			Metadata: map[string]string{"upkeep": k.cfg.Name},
		})
	case ResultSkipped:
		k.log.WithError(err).Debug("upkeep no longer needed")
	case ResultFailed:
		k.log.WithError(err).Warn("upkeep failed")
		k.events.Log(events.Event{
			Type:     events.EventUpkeepFailed,
			Source:   "keeper",
			Error:    err.Error(),
			Metadata: map[string]string{"upkeep": k.cfg.Name},
		})
	}
	return result
}

// Stats returns a copy of the counters.
func (k *Keeper) Stats() Stats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.stats
}

// cronLogger adapts the service logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.withKV(keysAndValues).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.withKV(keysAndValues).WithError(err).Error(msg)
}

func (l cronLogger) withKV(kv []interface{}) *logger.Logger {
	out := l.log
	for i := 0; i+1 < len(kv); i += 2 {
		out = out.With(fmt.Sprint(kv[i]), kv[i+1])
	}
	return out
}
