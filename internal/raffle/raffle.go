package raffle

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/raffle/internal/events"
	"github.com/R3E-Network/raffle/internal/vrf"
	"github.com/R3E-Network/raffle/pkg/logger"
)

// Raffle is a single raffle instance. All operations are serialized by mu.
// Notifications are published after mu is released, under pubMu, which is
// taken before mu is dropped so they leave in transition order.
type Raffle struct {
	mu    sync.Mutex
	pubMu sync.Mutex

	cfg         Config
	coordinator Coordinator
	treasury    Treasury
	clock       Clock
	events      events.Publisher
	log         *logger.Logger

	state            State
	participants     []string
	lastTimestamp    time.Time
	recentWinner     string
	pendingRequestID uint64
	balance          int64
	round            uint64
}

// New constructs an open raffle.
func New(cfg Config, coordinator Coordinator, treasury Treasury, log *logger.Logger) (*Raffle, error) {
	if cfg.EntranceFee <= 0 {
		return nil, fmt.Errorf("%w: entrance fee must be positive", ErrInvalidConfig)
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("%w: interval must not be negative", ErrInvalidConfig)
	}
	if coordinator == nil {
		return nil, fmt.Errorf("%w: coordinator required", ErrInvalidConfig)
	}
	if treasury == nil {
		return nil, fmt.Errorf("%w: treasury required", ErrInvalidConfig)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.RequestConfirmations == 0 {
		cfg.RequestConfirmations = DefaultRequestConfirmations
	}
	if cfg.NumWords == 0 {
		cfg.NumWords = DefaultNumWords
	}
	if cfg.CallbackGasLimit == 0 {
		cfg.CallbackGasLimit = DefaultCallbackGasLimit
	}
	if log == nil {
		log = logger.NewDefault("raffle")
	}

	r := &Raffle{
		cfg:         cfg,
		coordinator: coordinator,
		treasury:    treasury,
		clock:       systemClock{},
		events:      events.Discard{},
		log:         log.With("raffle_id", cfg.ID),
		state:       StateOpen,
	}
	r.lastTimestamp = r.clock.Now()
	return r, nil
}

// WithClock replaces the time source and restarts the interval from its
// current time. Call before the raffle is used.
func (r *Raffle) WithClock(clock Clock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = clock
	r.lastTimestamp = clock.Now()
}

// WithEvents sets the notification sink.
func (r *Raffle) WithEvents(pub events.Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = pub
}

// ID returns the raffle id.
func (r *Raffle) ID() string { return r.cfg.ID }

// Address identifies the raffle to randomness providers.
func (r *Raffle) Address() string { return "raffle:" + r.cfg.ID }

// Config returns the construction parameters.
func (r *Raffle) Config() Config { return r.cfg }

// Enter records one paid slot for participant.
func (r *Raffle) Enter(ctx context.Context, participant string, amount int64) error {
	r.mu.Lock()
	if amount < r.cfg.EntranceFee {
		r.mu.Unlock()
		return ErrInsufficientPayment
	}
	if r.state != StateOpen {
		r.mu.Unlock()
		return ErrNotOpen
	}
	if amount > math.MaxInt64-r.balance {
		r.mu.Unlock()
		return ErrBalanceOverflow
	}
	r.participants = append(r.participants, participant)
	r.balance += amount
	round := r.round + 1

	r.unlockAndPublish(events.Event{
		Type:        events.EventRaffleEnter,
		Source:      "raffle",
		RaffleID:    r.cfg.ID,
		Round:       round,
		Participant: participant,
		Amount:      amount,
	})
	r.log.WithField("participant", participant).WithField("amount", amount).Debug("raffle entered")
	return nil
}

// CheckUpkeep reports whether a draw may begin. It never mutates the raffle.
func (r *Raffle) CheckUpkeep(ctx context.Context, checkData []byte) (bool, []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upkeepNeeded(), []byte{}
}

func (r *Raffle) upkeepNeeded() bool {
	isOpen := r.state == StateOpen
	timePassed := r.clock.Now().Sub(r.lastTimestamp) >= r.cfg.Interval
	hasPlayers := len(r.participants) > 0
	hasBalance := r.balance > 0
	return isOpen && timePassed && hasPlayers && hasBalance
}

// PerformUpkeep begins a draw by requesting randomness. It returns once the
// request id is recorded; the draw completes in FulfillRandomWords.
func (r *Raffle) PerformUpkeep(ctx context.Context, performData []byte) error {
	r.mu.Lock()
	if !r.upkeepNeeded() {
		err := &UpkeepNotNeededError{
			Balance:         r.balance,
			NumParticipants: len(r.participants),
			State:           r.state,
		}
		r.mu.Unlock()
		return err
	}

	requestID, err := r.coordinator.RequestRandomWords(ctx, vrf.Request{
		KeyHash:                     r.cfg.KeyHash,
		SubscriptionID:              r.cfg.SubscriptionID,
		MinimumRequestConfirmations: r.cfg.RequestConfirmations,
		CallbackGasLimit:            r.cfg.CallbackGasLimit,
		NumWords:                    r.cfg.NumWords,
		Consumer:                    r,
	})
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("request random words: %w", err)
	}
	if requestID == 0 {
		r.mu.Unlock()
		return fmt.Errorf("request random words: provider returned zero request id")
	}

	r.state = StateDrawing
	r.pendingRequestID = requestID
	round := r.round + 1

	r.unlockAndPublish(events.Event{
		Type:      events.EventRaffleWinnerRequested,
		Source:    "raffle",
		RaffleID:  r.cfg.ID,
		Round:     round,
		RequestID: requestID,
	})
	r.log.WithField("request_id", requestID).Info("winner requested")
	return nil
}

// FulfillRandomWords completes the pending draw. words[0] picks the winning
// slot and the whole balance is paid to it. If the payout fails nothing
// changes and the same call may be retried.
func (r *Raffle) FulfillRandomWords(ctx context.Context, requestID uint64, words []*big.Int) error {
	r.mu.Lock()
	if r.pendingRequestID == 0 || requestID != r.pendingRequestID {
		r.mu.Unlock()
		return ErrUnknownRequest
	}
	if len(words) == 0 || words[0] == nil {
		r.mu.Unlock()
		return ErrNoRandomWords
	}

	n := big.NewInt(int64(len(r.participants)))
	index := new(big.Int).Mod(words[0], n).Int64()
	winner := r.participants[index]
	prize := r.balance
	round := r.round + 1

	if err := r.treasury.Payout(ctx, winner, prize); err != nil {
		r.unlockAndPublish(events.Event{
			Type:      events.EventRafflePayoutFailed,
			Source:    "raffle",
			RaffleID:  r.cfg.ID,
			Round:     round,
			RequestID: requestID,
			Winner:    winner,
			Amount:    prize,
			Error:     err.Error(),
		})
		r.log.WithError(err).WithField("winner", winner).Warn("payout failed")
		return fmt.Errorf("%w: %w", ErrPayoutFailed, err)
	}

	r.recentWinner = winner
	r.participants = nil
	r.balance = 0
	r.state = StateOpen
	r.pendingRequestID = 0
	r.lastTimestamp = r.clock.Now()
	r.round++

	r.unlockAndPublish(events.Event{
		Type:      events.EventRaffleWinnerPicked,
		Source:    "raffle",
		RaffleID:  r.cfg.ID,
		Round:     round,
		RequestID: requestID,
		Winner:    winner,
		Amount:    prize,
	})
	r.log.WithField("winner", winner).WithField("prize", prize).Infof("round %d winner picked", round)
	return nil
}

// unlockAndPublish releases mu and publishes e. Must be called with mu held.
func (r *Raffle) unlockAndPublish(e events.Event) {
	pub := r.events
	r.pubMu.Lock()
	r.mu.Unlock()
	defer r.pubMu.Unlock()
	pub.Log(e)
}

// State returns the current state.
func (r *Raffle) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// EntranceFee returns the minimum payment per entry.
func (r *Raffle) EntranceFee() int64 { return r.cfg.EntranceFee }

// Interval returns the minimum time between draws.
func (r *Raffle) Interval() time.Duration { return r.cfg.Interval }

// Participant returns the participant in slot i.
func (r *Raffle) Participant(i int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.participants) {
		return "", ErrIndexOutOfRange
	}
	return r.participants[i], nil
}

// NumParticipants returns the number of slots in the current round.
func (r *Raffle) NumParticipants() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// LastTimestamp returns when the last draw completed.
func (r *Raffle) LastTimestamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTimestamp
}

// RecentWinner returns the last paid winner.
func (r *Raffle) RecentWinner() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recentWinner
}

// Balance returns the pot.
func (r *Raffle) Balance() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balance
}

// PendingRequestID returns the in-flight request id, zero when open.
func (r *Raffle) PendingRequestID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingRequestID
}

// Round returns the number of completed draws.
func (r *Raffle) Round() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.round
}

// Snapshot returns every field at once.
func (r *Raffle) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		ID:               r.cfg.ID,
		State:            r.state,
		EntranceFee:      r.cfg.EntranceFee,
		Interval:         r.cfg.Interval,
		Participants:     append([]string{}, r.participants...),
		LastTimestamp:    r.lastTimestamp,
		RecentWinner:     r.recentWinner,
		Balance:          r.balance,
		PendingRequestID: r.pendingRequestID,
		Round:            r.round,
	}
}
