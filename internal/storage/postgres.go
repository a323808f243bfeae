package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

// Open connects to PostgreSQL.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// NewPostgresStore creates a new PostgreSQL-backed history store.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const drawColumns = `id, raffle_id, round, request_id, status, winner, prize, requested_at, completed_at`

func (s *PostgresStore) SaveEntry(ctx context.Context, entry Entry) (Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.EnteredAt.IsZero() {
		entry.EnteredAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO raffle_entries (id, raffle_id, round, participant, amount, entered_at)
		VALUES (:id, :raffle_id, :round, :participant, :amount, :entered_at)
	`, entry)
	if err != nil {
		return Entry{}, fmt.Errorf("insert entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) SaveDraw(ctx context.Context, draw Draw) (Draw, error) {
	if draw.ID == "" {
		draw.ID = uuid.NewString()
	}
	if draw.Status == "" {
		draw.Status = DrawStatusRequested
	}
	if draw.RequestedAt.IsZero() {
		draw.RequestedAt = time.Now().UTC()
	}

	var saved Draw
	err := s.db.GetContext(ctx, &saved, `
		INSERT INTO raffle_draws (id, raffle_id, round, request_id, status, winner, prize, requested_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (raffle_id, request_id) DO UPDATE
		SET requested_at = EXCLUDED.requested_at
		RETURNING `+drawColumns,
		draw.ID, draw.RaffleID, draw.Round, draw.RequestID, draw.Status,
		draw.Winner, draw.Prize, draw.RequestedAt, draw.CompletedAt)
	if err != nil {
		return Draw{}, fmt.Errorf("save draw: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) CompleteDraw(ctx context.Context, draw Draw) (Draw, error) {
	completed := time.Now().UTC()
	if draw.CompletedAt != nil {
		completed = draw.CompletedAt.UTC()
	}
	if draw.ID == "" {
		draw.ID = uuid.NewString()
	}
	if draw.RequestedAt.IsZero() {
		draw.RequestedAt = completed
	}

	var saved Draw
	err := s.db.GetContext(ctx, &saved, `
		INSERT INTO raffle_draws (id, raffle_id, round, request_id, status, winner, prize, requested_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (raffle_id, request_id) DO UPDATE
		SET status = EXCLUDED.status, winner = EXCLUDED.winner,
		    prize = EXCLUDED.prize, completed_at = EXCLUDED.completed_at
		RETURNING `+drawColumns,
		draw.ID, draw.RaffleID, draw.Round, draw.RequestID, DrawStatusCompleted,
		draw.Winner, draw.Prize, draw.RequestedAt, completed)
	if err != nil {
		return Draw{}, fmt.Errorf("complete draw: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) ListDraws(ctx context.Context, raffleID string, limit int) ([]Draw, error) {
	if limit <= 0 {
		limit = 100
	}
	var draws []Draw
	err := s.db.SelectContext(ctx, &draws, `
		SELECT `+drawColumns+`
		FROM raffle_draws
		WHERE ($1 = '' OR raffle_id = $1)
		ORDER BY round DESC, request_id DESC
		LIMIT $2
	`, raffleID, limit)
	if err != nil {
		return nil, fmt.Errorf("list draws: %w", err)
	}
	return draws, nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, raffleID string, round int64) ([]Entry, error) {
	var entries []Entry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT id, raffle_id, round, participant, amount, entered_at
		FROM raffle_entries
		WHERE raffle_id = $1 AND ($2 = 0 OR round = $2)
		ORDER BY entered_at, id
	`, raffleID, round)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return entries, nil
}
