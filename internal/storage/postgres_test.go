package storage

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(sqlx.NewDb(db, "postgres")), mock
}

func TestPostgresSaveEntry(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO raffle_entries")).
		WithArgs(sqlmock.AnyArg(), "r", int64(1), "alice", int64(10), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry, err := s.SaveEntry(context.Background(), Entry{RaffleID: "r", Round: 1, Participant: "alice", Amount: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var drawRowColumns = []string{"id", "raffle_id", "round", "request_id", "status", "winner", "prize", "requested_at", "completed_at"}

func TestPostgresSaveDraw(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(drawRowColumns).
		AddRow("d1", "r", int64(1), int64(7), "requested", "", int64(0), at, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SET requested_at = EXCLUDED.requested_at")).
		WillReturnRows(rows)

	draw, err := s.SaveDraw(context.Background(), Draw{RaffleID: "r", Round: 1, RequestID: 7, RequestedAt: at})
	require.NoError(t, err)
	assert.Equal(t, "d1", draw.ID)
	assert.Equal(t, DrawStatusRequested, draw.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveDrawKeepsOutcome(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(drawRowColumns).
		AddRow("d1", "r", int64(1), int64(7), "completed", "alice", int64(40), at, at.Add(time.Second))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO raffle_draws")).
		WillReturnRows(rows)

	draw, err := s.SaveDraw(context.Background(), Draw{RaffleID: "r", Round: 1, RequestID: 7, RequestedAt: at})
	require.NoError(t, err)
	assert.Equal(t, DrawStatusCompleted, draw.Status)
	assert.Equal(t, "alice", draw.Winner)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCompleteDraw(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(drawRowColumns).
		AddRow("d1", "r", int64(1), int64(7), "completed", "alice", int64(40), at.Add(-time.Minute), at)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO raffle_draws")).
		WithArgs(sqlmock.AnyArg(), "r", int64(1), int64(7), "completed", "alice", int64(40), at, at).
		WillReturnRows(rows)

	draw, err := s.CompleteDraw(context.Background(), Draw{RaffleID: "r", Round: 1, RequestID: 7, Winner: "alice", Prize: 40, CompletedAt: &at})
	require.NoError(t, err)
	assert.Equal(t, DrawStatusCompleted, draw.Status)
	assert.Equal(t, "alice", draw.Winner)
	require.NotNil(t, draw.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCompleteDrawError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO raffle_draws")).
		WillReturnError(assert.AnError)

	_, err := s.CompleteDraw(context.Background(), Draw{RaffleID: "r", RequestID: 99, Winner: "bob", Prize: 1})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestPostgresListDraws(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "raffle_id", "round", "request_id", "status", "winner", "prize", "requested_at", "completed_at"}).
		AddRow("d2", "r", int64(2), int64(2), "requested", "", int64(0), now, nil).
		AddRow("d1", "r", int64(1), int64(1), "completed", "alice", int64(40), now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM raffle_draws")).
		WithArgs("r", int64(10)).
		WillReturnRows(rows)

	draws, err := s.ListDraws(context.Background(), "r", 10)
	require.NoError(t, err)
	require.Len(t, draws, 2)
	assert.Nil(t, draws[0].CompletedAt)
	assert.Equal(t, DrawStatus("completed"), draws[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListEntries(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "raffle_id", "round", "participant", "amount", "entered_at"}).
		AddRow("e1", "r", int64(1), "alice", int64(10), now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM raffle_entries")).
		WithArgs("r", int64(1)).
		WillReturnRows(rows)

	entries, err := s.ListEntries(context.Background(), "r", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Participant)
	assert.NoError(t, mock.ExpectationsWereMet())
}
