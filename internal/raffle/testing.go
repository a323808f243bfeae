package raffle

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/R3E-Network/raffle/internal/vrf"
)

// FakeClock is a manually advanced clock for tests and local tooling.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock starts the clock at now.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// MemoryTreasury credits payouts to in-memory balances.
type MemoryTreasury struct {
	mu       sync.Mutex
	balances map[string]int64
	failWith error
}

// NewMemoryTreasury creates an empty treasury.
func NewMemoryTreasury() *MemoryTreasury {
	return &MemoryTreasury{balances: make(map[string]int64)}
}

func (t *MemoryTreasury) Payout(ctx context.Context, to string, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failWith != nil {
		return t.failWith
	}
	t.balances[to] += amount
	return nil
}

// FailWith makes every payout return err until called with nil.
func (t *MemoryTreasury) FailWith(err error) {
	t.mu.Lock()
	t.failWith = err
	t.mu.Unlock()
}

// BalanceOf returns what has been paid to account.
func (t *MemoryTreasury) BalanceOf(account string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[account]
}

// StubCoordinator records requests and lets the caller fulfil them.
type StubCoordinator struct {
	mu       sync.Mutex
	nextID   uint64
	requests map[uint64]vrf.Request
	failWith error
}

// NewStubCoordinator creates a coordinator issuing ids from 1.
func NewStubCoordinator() *StubCoordinator {
	return &StubCoordinator{requests: make(map[uint64]vrf.Request)}
}

func (c *StubCoordinator) RequestRandomWords(ctx context.Context, req vrf.Request) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return 0, c.failWith
	}
	c.nextID++
	c.requests[c.nextID] = req
	return c.nextID, nil
}

// FailWith makes every request return err until called with nil.
func (c *StubCoordinator) FailWith(err error) {
	c.mu.Lock()
	c.failWith = err
	c.mu.Unlock()
}

// Request returns a recorded request.
func (c *StubCoordinator) Request(id uint64) (vrf.Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.requests[id]
	return req, ok
}

// Fulfill delivers word to the consumer that made request id.
func (c *StubCoordinator) Fulfill(ctx context.Context, id uint64, word int64) error {
	c.mu.Lock()
	req, ok := c.requests[id]
	c.mu.Unlock()
	if !ok {
		return vrf.ErrNonexistentRequest
	}
	return req.Consumer.FulfillRandomWords(ctx, id, []*big.Int{big.NewInt(word)})
}
