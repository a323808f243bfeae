package vrf

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/R3E-Network/raffle/internal/events"
	"github.com/R3E-Network/raffle/pkg/logger"
)

const (
	// DefaultBaseFee is the flat fee charged per fulfilment (0.25 LINK).
	DefaultBaseFee int64 = 250000000000000000
	// DefaultGasPriceLink is the LINK price of one unit of callback gas.
	DefaultGasPriceLink int64 = 1000000000
)

// Subscription is a funded account that pays for fulfilments.
type Subscription struct {
	ID        uint64   `json:"id"`
	Owner     string   `json:"owner"`
	Balance   int64    `json:"balance"`
	Consumers []string `json:"consumers"`
}

func (s *Subscription) hasConsumer(address string) bool {
	for _, c := range s.Consumers {
		if c == address {
			return true
		}
	}
	return false
}

type mockRequest struct {
	id  uint64
	req Request
}

// MockCoordinator is an in-process stand-in for the VRF coordinator on
// development chains. Requests are only fulfilled when FulfillRandomWords is
// called, which lets tests and operators drive the draw step by step.
type MockCoordinator struct {
	mu            sync.Mutex
	baseFee       int64
	gasPriceLink  int64
	nextSubID     uint64
	nextRequestID uint64
	subs          map[uint64]*Subscription
	requests      map[uint64]*mockRequest

	events events.Publisher
	log    *logger.Logger
}

// NewMockCoordinator creates a mock charging baseFee plus gasPriceLink per
// unit of callback gas on every fulfilment.
func NewMockCoordinator(baseFee, gasPriceLink int64, pub events.Publisher, log *logger.Logger) *MockCoordinator {
	if pub == nil {
		pub = events.Discard{}
	}
	if log == nil {
		log = logger.NewDefault("vrf-mock")
	}
	return &MockCoordinator{
		baseFee:      baseFee,
		gasPriceLink: gasPriceLink,
		subs:         make(map[uint64]*Subscription),
		requests:     make(map[uint64]*mockRequest),
		events:       pub,
		log:          log,
	}
}

// BaseFee returns the flat fulfilment fee.
func (m *MockCoordinator) BaseFee() int64 { return m.baseFee }

// GasPriceLink returns the per-gas fee.
func (m *MockCoordinator) GasPriceLink() int64 { return m.gasPriceLink }

// CreateSubscription opens an empty subscription owned by owner.
func (m *MockCoordinator) CreateSubscription(ctx context.Context, owner string) (uint64, error) {
	m.mu.Lock()
	m.nextSubID++
	id := m.nextSubID
	m.subs[id] = &Subscription{ID: id, Owner: owner}
	m.mu.Unlock()

	m.log.WithField("subscription_id", id).Info("subscription created")
	m.events.Log(events.Event{
		Type:     events.EventVRFSubscriptionCreated,
		Source:   "vrf-mock",
		Metadata: map[string]string{"subscription_id": fmt.Sprint(id), "owner": owner},
	})
	return id, nil
}

// FundSubscription adds amount to the subscription balance.
func (m *MockCoordinator) FundSubscription(ctx context.Context, subID uint64, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("fund subscription %d: amount must be positive", subID)
	}

	m.mu.Lock()
	sub, ok := m.subs[subID]
	if !ok {
		m.mu.Unlock()
		return ErrInvalidSubscription
	}
	sub.Balance += amount
	m.mu.Unlock()

	m.events.Log(events.Event{
		Type:     events.EventVRFSubscriptionFunded,
		Source:   "vrf-mock",
		Amount:   amount,
		Metadata: map[string]string{"subscription_id": fmt.Sprint(subID)},
	})
	return nil
}

// AddConsumer authorizes address to request against the subscription.
func (m *MockCoordinator) AddConsumer(ctx context.Context, subID uint64, address string) error {
	m.mu.Lock()
	sub, ok := m.subs[subID]
	if !ok {
		m.mu.Unlock()
		return ErrInvalidSubscription
	}
	if sub.hasConsumer(address) {
		m.mu.Unlock()
		return nil
	}
	sub.Consumers = append(sub.Consumers, address)
	m.mu.Unlock()

	m.events.Log(events.Event{
		Type:     events.EventVRFConsumerAdded,
		Source:   "vrf-mock",
		Metadata: map[string]string{"subscription_id": fmt.Sprint(subID), "consumer": address},
	})
	return nil
}

// RemoveConsumer revokes address from the subscription.
func (m *MockCoordinator) RemoveConsumer(ctx context.Context, subID uint64, address string) error {
	m.mu.Lock()
	sub, ok := m.subs[subID]
	if !ok {
		m.mu.Unlock()
		return ErrInvalidSubscription
	}
	idx := -1
	for i, c := range sub.Consumers {
		if c == address {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return ErrInvalidConsumer
	}
	sub.Consumers = append(sub.Consumers[:idx], sub.Consumers[idx+1:]...)
	m.mu.Unlock()

	m.events.Log(events.Event{
		Type:     events.EventVRFConsumerRemoved,
		Source:   "vrf-mock",
		Metadata: map[string]string{"subscription_id": fmt.Sprint(subID), "consumer": address},
	})
	return nil
}

// GetSubscription returns a copy of the subscription.
func (m *MockCoordinator) GetSubscription(ctx context.Context, subID uint64) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[subID]
	if !ok {
		return Subscription{}, ErrInvalidSubscription
	}
	out := *sub
	out.Consumers = append([]string(nil), sub.Consumers...)
	return out, nil
}

// RequestRandomWords records the request and returns its id. Ids start at 1.
func (m *MockCoordinator) RequestRandomWords(ctx context.Context, req Request) (uint64, error) {
	if err := req.validate(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	sub, ok := m.subs[req.SubscriptionID]
	if !ok {
		m.mu.Unlock()
		return 0, ErrInvalidSubscription
	}
	if !sub.hasConsumer(req.Consumer.Address()) {
		m.mu.Unlock()
		return 0, ErrInvalidConsumer
	}
	m.nextRequestID++
	id := m.nextRequestID
	m.requests[id] = &mockRequest{id: id, req: req}
	m.mu.Unlock()

	m.log.WithField("request_id", id).
		WithField("consumer", req.Consumer.Address()).
		Debug("random words requested")
	m.events.Log(events.Event{
		Type:      events.EventVRFWordsRequested,
		Source:    "vrf-mock",
		RequestID: id,
		Metadata:  map[string]string{"consumer": req.Consumer.Address()},
	})
	return id, nil
}

// Pending lists request ids that have not been fulfilled yet.
func (m *MockCoordinator) Pending() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint64, 0, len(m.requests))
	for id := range m.requests {
		ids = append(ids, id)
	}
	return ids
}

// FulfillRandomWords delivers keccak256(requestID, i) words to consumer. A nil
// consumer means the one that made the request.
func (m *MockCoordinator) FulfillRandomWords(ctx context.Context, requestID uint64, consumer Consumer) error {
	return m.FulfillRandomWordsWithOverride(ctx, requestID, consumer, nil)
}

// FulfillRandomWordsWithOverride is FulfillRandomWords with caller-chosen
// words. An empty override falls back to the derived words.
func (m *MockCoordinator) FulfillRandomWordsWithOverride(ctx context.Context, requestID uint64, consumer Consumer, words []*big.Int) error {
	m.mu.Lock()
	pending, ok := m.requests[requestID]
	if !ok {
		m.mu.Unlock()
		return ErrNonexistentRequest
	}
	payment := m.baseFee + m.gasPriceLink*int64(pending.req.CallbackGasLimit)
	sub, ok := m.subs[pending.req.SubscriptionID]
	if !ok {
		m.mu.Unlock()
		return ErrInvalidSubscription
	}
	if sub.Balance < payment {
		m.mu.Unlock()
		return ErrInsufficientBalance
	}
	req := pending.req
	m.mu.Unlock()

	if consumer == nil {
		consumer = req.Consumer
	}
	if len(words) == 0 {
		words = DeriveWords(uint256(requestID), req.NumWords)
	}

	if err := consumer.FulfillRandomWords(ctx, requestID, words); err != nil {
		m.log.WithError(err).WithField("request_id", requestID).Warn("consumer rejected random words")
		m.events.Log(events.Event{
			Type:      events.EventVRFFulfillmentFailed,
			Source:    "vrf-mock",
			RequestID: requestID,
			Error:     err.Error(),
		})
		return fmt.Errorf("fulfill request %d: %w", requestID, err)
	}

	m.mu.Lock()
	if _, still := m.requests[requestID]; still {
		delete(m.requests, requestID)
		if sub, ok := m.subs[req.SubscriptionID]; ok {
			sub.Balance -= payment
		}
	}
	m.mu.Unlock()

	m.events.Log(events.Event{
		Type:      events.EventVRFWordsFulfilled,
		Source:    "vrf-mock",
		RequestID: requestID,
		Amount:    payment,
		Metadata:  map[string]string{"consumer": consumer.Address()},
	})
	return nil
}
