// Package storage keeps the raffle history: every entry, every draw request
// and its outcome.
package storage

import (
	"context"
	"time"
)

// DrawStatus is the lifecycle state of a recorded draw.
type DrawStatus string

const (
	DrawStatusRequested DrawStatus = "requested"
	DrawStatusCompleted DrawStatus = "completed"
)

// Entry is one paid slot.
type Entry struct {
	ID          string    `json:"id" db:"id"`
	RaffleID    string    `json:"raffle_id" db:"raffle_id"`
	Round       int64     `json:"round" db:"round"`
	Participant string    `json:"participant" db:"participant"`
	Amount      int64     `json:"amount" db:"amount"`
	EnteredAt   time.Time `json:"entered_at" db:"entered_at"`
}

// Draw is one randomness request and, once completed, its winner.
type Draw struct {
	ID          string     `json:"id" db:"id"`
	RaffleID    string     `json:"raffle_id" db:"raffle_id"`
	Round       int64      `json:"round" db:"round"`
	RequestID   int64      `json:"request_id" db:"request_id"`
	Status      DrawStatus `json:"status" db:"status"`
	Winner      string     `json:"winner,omitempty" db:"winner"`
	Prize       int64      `json:"prize,omitempty" db:"prize"`
	RequestedAt time.Time  `json:"requested_at" db:"requested_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Store persists raffle history. Draws are keyed by raffle and request id,
// and the two draw writes may arrive in either order: SaveDraw never
// overwrites a recorded outcome and CompleteDraw inserts a draw it has not
// seen yet.
type Store interface {
	SaveEntry(ctx context.Context, entry Entry) (Entry, error)
	SaveDraw(ctx context.Context, draw Draw) (Draw, error)
	CompleteDraw(ctx context.Context, draw Draw) (Draw, error)
	ListDraws(ctx context.Context, raffleID string, limit int) ([]Draw, error)
	ListEntries(ctx context.Context, raffleID string, round int64) ([]Entry, error)
}
