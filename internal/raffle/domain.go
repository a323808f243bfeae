// Package raffle implements the raffle state machine: paid entries, a
// time-gated draw trigger, and a payout driven by an asynchronous randomness
// callback.
package raffle

import (
	"context"
	"time"

	"github.com/R3E-Network/raffle/internal/vrf"
)

// State is the lifecycle state of a raffle.
type State int

const (
	StateOpen    State = 0
	StateDrawing State = 1
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateDrawing:
		return "drawing"
	default:
		return "unknown"
	}
}

// Default request parameters.
const (
	DefaultRequestConfirmations uint16 = 3
	DefaultNumWords             uint32 = 1
	DefaultCallbackGasLimit     uint32 = 500000
)

// Config holds the values fixed at construction.
type Config struct {
	ID                   string        `json:"id"`
	EntranceFee          int64         `json:"entrance_fee"`
	Interval             time.Duration `json:"interval"`
	KeyHash              string        `json:"key_hash"`
	SubscriptionID       uint64        `json:"subscription_id"`
	CallbackGasLimit     uint32        `json:"callback_gas_limit"`
	RequestConfirmations uint16        `json:"request_confirmations"`
	NumWords             uint32        `json:"num_words"`
}

// Snapshot is a consistent copy of every raffle field.
type Snapshot struct {
	ID               string        `json:"id"`
	State            State         `json:"state"`
	EntranceFee      int64         `json:"entrance_fee"`
	Interval         time.Duration `json:"interval"`
	Participants     []string      `json:"participants"`
	LastTimestamp    time.Time     `json:"last_timestamp"`
	RecentWinner     string        `json:"recent_winner"`
	Balance          int64         `json:"balance"`
	PendingRequestID uint64        `json:"pending_request_id"`
	Round            uint64        `json:"round"`
}

// Coordinator issues randomness requests. The answer must arrive later
// through FulfillRandomWords, never from inside RequestRandomWords.
type Coordinator interface {
	RequestRandomWords(ctx context.Context, req vrf.Request) (uint64, error)
}

// Treasury moves the pot to the winner.
type Treasury interface {
	Payout(ctx context.Context, to string, amount int64) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
