// Package deploy stands up a raffle for the configured network. On a
// development chain it deploys the mock coordinator and a funded
// subscription first; elsewhere it uses the keyed oracle.
package deploy

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/R3E-Network/raffle/internal/config"
	"github.com/R3E-Network/raffle/internal/events"
	"github.com/R3E-Network/raffle/internal/ledger"
	"github.com/R3E-Network/raffle/internal/raffle"
	"github.com/R3E-Network/raffle/internal/vrf"
	"github.com/R3E-Network/raffle/pkg/logger"
)

// Deployer owns the mock subscription on development chains.
const Deployer = "deployer"

// Options are the collaborators a deployment needs.
type Options struct {
	Config *config.Config
	Ledger *ledger.Manager
	Events events.Publisher
	Clock  raffle.Clock
	Logger *logger.Logger
}

// Deployment is everything Deploy created.
type Deployment struct {
	ChainID        int64
	Network        config.NetworkConfig
	Development    bool
	SubscriptionID uint64
	Raffle         *raffle.Raffle
	Escrow         *ledger.Escrow

	// Exactly one of Mock and Oracle is set.
	Mock   *vrf.MockCoordinator
	Oracle *vrf.Oracle
}

// Coordinator returns whichever provider the raffle requests from.
func (d *Deployment) Coordinator() raffle.Coordinator {
	if d.Mock != nil {
		return d.Mock
	}
	return d.Oracle
}

// Deploy creates the randomness provider and the raffle.
func Deploy(ctx context.Context, opts Options) (*Deployment, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if opts.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewDefault("deploy")
	}
	log := opts.Logger
	cfg := opts.Config

	network, err := cfg.Active()
	if err != nil {
		return nil, err
	}

	d := &Deployment{
		ChainID:     cfg.ChainID,
		Network:     network,
		Development: cfg.ChainID == config.DevChainID,
	}

	var coordinator raffle.Coordinator
	if d.Development {
		log.Info("Deploying mocks for local network...")
		d.Mock = vrf.NewMockCoordinator(cfg.VRF.BaseFee, cfg.VRF.GasPriceLink, opts.Events, log.Named("vrf-mock"))

		subID, err := d.Mock.CreateSubscription(ctx, Deployer)
		if err != nil {
			return nil, fmt.Errorf("create subscription: %w", err)
		}
		if err := d.Mock.FundSubscription(ctx, subID, cfg.VRF.SubFundAmount); err != nil {
			return nil, fmt.Errorf("fund subscription: %w", err)
		}
		d.SubscriptionID = subID
		coordinator = d.Mock
		log.WithField("subscription_id", subID).Info("Mock VRF coordinator deployed")
	} else {
		oracle, err := vrf.NewOracle(vrf.OracleConfig{
			MasterSecret: []byte(cfg.VRF.MasterSecret),
			MaxAttempts:  cfg.VRF.MaxAttempts,
			RetryDelay:   cfg.VRF.RetryDelay,
			Events:       opts.Events,
			Logger:       log.Named("vrf-oracle"),
		})
		if err != nil {
			return nil, fmt.Errorf("create oracle: %w", err)
		}
		d.Oracle = oracle
		d.SubscriptionID = network.SubscriptionID
		coordinator = oracle
	}

	id := uuid.NewString()
	escrow := opts.Ledger.Escrow("raffle:" + id)
	r, err := raffle.New(raffle.Config{
		ID:               id,
		EntranceFee:      network.EntranceFee,
		Interval:         network.Interval(),
		KeyHash:          network.GasLane,
		SubscriptionID:   d.SubscriptionID,
		CallbackGasLimit: network.CallbackGasLimit,
	}, coordinator, escrow, log.Named("raffle"))
	if err != nil {
		return nil, fmt.Errorf("create raffle: %w", err)
	}
	if opts.Clock != nil {
		r.WithClock(opts.Clock)
	}
	r.WithEvents(opts.Events)
	d.Raffle = r
	d.Escrow = escrow

	if d.Mock != nil {
		if err := d.Mock.AddConsumer(ctx, d.SubscriptionID, r.Address()); err != nil {
			return nil, fmt.Errorf("add consumer: %w", err)
		}
	}

	log.WithField("raffle_id", id).
		WithField("network", network.Name).
		WithField("entrance_fee", network.EntranceFee).
		WithField("interval", network.Interval().String()).
		Info("raffle deployed")
	return d, nil
}
