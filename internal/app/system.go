package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/R3E-Network/raffle/pkg/logger"
)

// Service represents a lifecycle-managed component. The manager starts
// services in registration order and stops them in reverse.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// serviceFuncs adapts plain start/stop functions to Service.
type serviceFuncs struct {
	name  string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

func (s serviceFuncs) Name() string { return s.name }

func (s serviceFuncs) Start(ctx context.Context) error {
	if s.start == nil {
		return nil
	}
	return s.start(ctx)
}

func (s serviceFuncs) Stop(ctx context.Context) error {
	if s.stop == nil {
		return nil
	}
	return s.stop(ctx)
}

type manager struct {
	mu       sync.Mutex
	services []Service
	started  int
	log      *logger.Logger
}

func newManager(log *logger.Logger) *manager {
	return &manager{log: log}
}

func (m *manager) Register(svc Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started > 0 {
		return fmt.Errorf("register %s: manager already started", svc.Name())
	}
	for _, existing := range m.services {
		if existing.Name() == svc.Name() {
			return fmt.Errorf("register %s: duplicate service", svc.Name())
		}
	}
	m.services = append(m.services, svc)
	return nil
}

// Start starts every service. On failure the ones already started are
// stopped again.
func (m *manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := m.started; i < len(m.services); i++ {
		svc := m.services[i]
		if err := svc.Start(ctx); err != nil {
			m.stopLocked(ctx)
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		m.started = i + 1
		m.log.WithField("service", svc.Name()).Debug("service started")
	}
	return nil
}

// Stop stops started services in reverse order.
func (m *manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx)
}

func (m *manager) stopLocked(ctx context.Context) error {
	var mErr *multierror.Error
	for i := m.started - 1; i >= 0; i-- {
		svc := m.services[i]
		if err := svc.Stop(ctx); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("stop %s: %w", svc.Name(), err))
		}
		m.log.WithField("service", svc.Name()).Debug("service stopped")
	}
	m.started = 0
	return mErr.ErrorOrNil()
}
