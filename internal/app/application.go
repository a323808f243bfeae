package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/raffle/internal/app/metrics"
	"github.com/R3E-Network/raffle/internal/automation"
	"github.com/R3E-Network/raffle/internal/config"
	"github.com/R3E-Network/raffle/internal/deploy"
	"github.com/R3E-Network/raffle/internal/events"
	"github.com/R3E-Network/raffle/internal/ledger"
	"github.com/R3E-Network/raffle/internal/platform/migrations"
	"github.com/R3E-Network/raffle/internal/raffle"
	"github.com/R3E-Network/raffle/internal/storage"
	"github.com/R3E-Network/raffle/pkg/logger"
)

// ErrNotDevelopment is returned by operations that only exist against the
// mock coordinator.
var ErrNotDevelopment = errors.New("operation only available on a development chain")

// Options overrides collaborators New would otherwise build from config.
type Options struct {
	Clock  raffle.Clock
	Store  storage.Store
	Logger *logger.Logger
}

// Application ties the raffle and its supporting services together and
// manages their lifecycle.
type Application struct {
	manager *manager
	log     *logger.Logger

	Config     *config.Config
	Events     *events.Log
	Ledger     *ledger.Manager
	Deployment *deploy.Deployment
	Raffle     *raffle.Raffle
	Keeper     *automation.Keeper
	Store      storage.Store
	Recorder   *storage.Recorder
	Redis      *events.RedisPublisher

	db *sqlx.DB
}

// New deploys the raffle for cfg's active network and wires everything
// around it. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("app")
	}

	application := &Application{
		manager: newManager(log),
		log:     log,
		Config:  cfg,
		Events:  events.NewLog(cfg.EventBuffer),
		Ledger:  ledger.NewManager(),
	}

	if err := application.openStore(ctx, opts.Store); err != nil {
		return nil, err
	}

	deployment, err := deploy.Deploy(ctx, deploy.Options{
		Config: cfg,
		Ledger: application.Ledger,
		Events: application.Events,
		Clock:  opts.Clock,
		Logger: log.Named("deploy"),
	})
	if err != nil {
		application.closeStore()
		return nil, err
	}
	application.Deployment = deployment
	application.Raffle = deployment.Raffle
	metrics.SetPot(deployment.Raffle.ID(), 0)

	application.Recorder = storage.NewRecorder(application.Store, 0, log.Named("history-recorder"))

	if cfg.Keeper.Enabled {
		keeper, err := automation.NewKeeper(deployment.Raffle, automation.Config{
			Name:          deployment.Raffle.ID(),
			CheckInterval: cfg.Keeper.CheckInterval,
		}, application.Events, log.Named("keeper"))
		if err != nil {
			application.closeStore()
			return nil, fmt.Errorf("create keeper: %w", err)
		}
		application.Keeper = keeper
	}

	if err := application.registerServices(ctx); err != nil {
		application.closeStore()
		return nil, err
	}
	return application, nil
}

func (a *Application) openStore(ctx context.Context, store storage.Store) error {
	switch {
	case store != nil:
		a.Store = store
	case a.Config.Database.DSN != "":
		db, err := storage.Open(ctx, a.Config.Database.DSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		if err := migrations.Apply(ctx, db.DB); err != nil {
			_ = db.Close()
			return fmt.Errorf("apply migrations: %w", err)
		}
		a.db = db
		a.Store = storage.NewPostgresStore(db)
		a.log.Info("raffle history stored in postgres")
	default:
		a.Store = storage.NewMemoryStore()
	}
	return nil
}

func (a *Application) closeStore() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("close database")
		}
		a.db = nil
	}
}

func (a *Application) registerServices(ctx context.Context) error {
	var stopMetrics func()
	services := []Service{
		serviceFuncs{
			name: "metrics",
			start: func(context.Context) error {
				stopMetrics = metrics.ObserveEvents(a.Events)
				return nil
			},
			stop: func(context.Context) error {
				if stopMetrics != nil {
					stopMetrics()
				}
				return nil
			},
		},
		serviceFuncs{
			name: "history",
			start: func(ctx context.Context) error {
				a.Recorder.Start(ctx, a.Events)
				return nil
			},
			stop: func(context.Context) error {
				a.Recorder.Stop()
				a.closeStore()
				return nil
			},
		},
	}

	if addr := a.Config.Redis.Addr; addr != "" {
		var unsubscribe func()
		services = append(services, serviceFuncs{
			name: "redis-events",
			start: func(ctx context.Context) error {
				pub, err := events.NewRedisPublisher(ctx, addr, a.Config.Redis.Channel, a.log.Named("redis-events"))
				if err != nil {
					return err
				}
				a.Redis = pub
				unsubscribe = a.Events.Subscribe(pub.Handle)
				return nil
			},
			stop: func(context.Context) error {
				if unsubscribe != nil {
					unsubscribe()
				}
				if a.Redis == nil {
					return nil
				}
				return a.Redis.Close()
			},
		})
	}

	if oracle := a.Deployment.Oracle; oracle != nil {
		services = append(services, serviceFuncs{
			name:  "vrf-oracle",
			start: oracle.Start,
			stop: func(context.Context) error {
				oracle.Stop()
				return nil
			},
		})
	}

	if a.Keeper != nil {
		services = append(services, serviceFuncs{
			name:  "keeper",
			start: a.Keeper.Start,
			stop: func(context.Context) error {
				a.Keeper.Stop()
				return nil
			},
		})
	}

	for _, svc := range services {
		if err := a.manager.Register(svc); err != nil {
			return err
		}
	}
	return nil
}

// Start begins background processing. ctx bounds the lifetime of the
// workers, so pass one that outlives the call.
func (a *Application) Start(ctx context.Context) error {
	if err := a.manager.Start(ctx); err != nil {
		return err
	}
	a.log.WithField("raffle_id", a.Raffle.ID()).Info("raffle service started")
	return nil
}

// Stop halts background processing in reverse start order.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	a.log.Info("raffle service stopped")
	return err
}

// Deposit credits a participant's ledger account.
func (a *Application) Deposit(ctx context.Context, account string, amount int64) error {
	return a.Ledger.Deposit(ctx, account, amount, "")
}

// Enter moves amount from the participant's ledger account into the raffle
// escrow and records the entry. The transfer is refunded if the raffle
// refuses the entry.
func (a *Application) Enter(ctx context.Context, participant string, amount int64) error {
	if amount < a.Raffle.EntranceFee() {
		metrics.RecordRejectedEntry("insufficient_payment")
		return raffle.ErrInsufficientPayment
	}

	escrow := a.Deployment.Escrow.Account()
	ref := a.Raffle.ID()
	if err := a.Ledger.Transfer(ctx, participant, escrow, amount, ledger.TxTypeEntry, ref); err != nil {
		reason := "insufficient_funds"
		if errors.Is(err, ledger.ErrBalanceOverflow) {
			reason = "overflow"
		}
		metrics.RecordRejectedEntry(reason)
		return fmt.Errorf("collect entrance fee: %w", err)
	}

	if err := a.Raffle.Enter(ctx, participant, amount); err != nil {
		if refundErr := a.Ledger.Transfer(ctx, escrow, participant, amount, ledger.TxTypeRefund, ref); refundErr != nil {
			a.log.WithError(refundErr).
				WithField("participant", participant).
				Error("refund rejected entry")
		}
		metrics.RecordRejectedEntry(rejectReason(err))
		return err
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, raffle.ErrNotOpen):
		return "not_open"
	case errors.Is(err, raffle.ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, raffle.ErrBalanceOverflow):
		return "overflow"
	default:
		return "unknown"
	}
}

// FulfillRequest delivers randomness for a pending request through the mock
// coordinator. Only development chains have one.
func (a *Application) FulfillRequest(ctx context.Context, requestID uint64) error {
	if a.Deployment.Mock == nil {
		return ErrNotDevelopment
	}
	return a.Deployment.Mock.FulfillRandomWords(ctx, requestID, nil)
}

// KeeperStats reports keeper activity, or false when the keeper is disabled.
func (a *Application) KeeperStats() (automation.Stats, bool) {
	if a.Keeper == nil {
		return automation.Stats{}, false
	}
	return a.Keeper.Stats(), true
}
