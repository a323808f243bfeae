package raffle

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientPayment = errors.New("raffle: insufficient payment")
	ErrNotOpen             = errors.New("raffle: not open")
	ErrUpkeepNotNeeded     = errors.New("raffle: upkeep not needed")
	ErrUnknownRequest      = errors.New("raffle: unknown request")
	ErrPayoutFailed        = errors.New("raffle: payout failed")
	ErrIndexOutOfRange     = errors.New("raffle: participant index out of range")
	ErrInvalidConfig       = errors.New("raffle: invalid config")
	ErrNoRandomWords       = errors.New("raffle: no random words")
	ErrBalanceOverflow     = errors.New("raffle: entry would overflow the balance")
)

// UpkeepNotNeededError reports why a draw could not begin.
type UpkeepNotNeededError struct {
	Balance         int64
	NumParticipants int
	State           State
}

func (e *UpkeepNotNeededError) Error() string {
	return fmt.Sprintf("%s (balance=%d participants=%d state=%d)",
		ErrUpkeepNotNeeded.Error(), e.Balance, e.NumParticipants, e.State)
}

// Is lets errors.Is match ErrUpkeepNotNeeded.
func (e *UpkeepNotNeededError) Is(target error) bool {
	return target == ErrUpkeepNotNeeded
}
