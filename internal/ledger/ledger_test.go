package ledger

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositAndWithdraw(t *testing.T) {
	ctx := context.Background()
	m := NewManager()

	require.NoError(t, m.Deposit(ctx, "alice", 100, "tx-1"))
	require.NoError(t, m.Withdraw(ctx, "alice", 40, "addr"))

	bal, err := m.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(60), bal)

	err = m.Withdraw(ctx, "alice", 61, "addr")
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.ErrorIs(t, m.Withdraw(ctx, "bob", 1, ""), ErrAccountNotFound)
	assert.ErrorIs(t, m.Deposit(ctx, "alice", 0, ""), ErrInvalidAmount)

	txs, err := m.Transactions(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, TxTypeWithdraw, txs[0].Type)
	assert.Equal(t, int64(-40), txs[0].Amount)
	assert.Equal(t, int64(60), txs[0].BalanceAfter)
	assert.NotEmpty(t, txs[0].ID)
}

func TestTransferIsAtomic(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	require.NoError(t, m.Deposit(ctx, "alice", 50, ""))

	require.NoError(t, m.Transfer(ctx, "alice", "escrow", 30, TxTypeEntry, "raffle-1"))
	assert.ErrorIs(t, m.Transfer(ctx, "alice", "escrow", 30, TxTypeEntry, ""), ErrInsufficientBalance)

	alice, _ := m.Balance(ctx, "alice")
	escrow, _ := m.Balance(ctx, "escrow")
	assert.Equal(t, int64(20), alice)
	assert.Equal(t, int64(30), escrow)

	txs, _ := m.Transactions(ctx, "escrow", 0)
	require.Len(t, txs, 1)
	assert.Equal(t, "alice", txs[0].Counterparty)
	assert.Equal(t, TxTypeEntry, txs[0].Type)
}

func TestBlockedAccountRefusesFunds(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	require.NoError(t, m.Deposit(ctx, "escrow", 100, ""))
	m.Block(ctx, "winner")

	escrow := m.Escrow("escrow")
	err := escrow.Payout(ctx, "winner", 100)
	assert.ErrorIs(t, err, ErrAccountBlocked)
	assert.ErrorIs(t, m.Deposit(ctx, "winner", 1, ""), ErrAccountBlocked)

	bal, _ := m.Balance(ctx, "escrow")
	assert.Equal(t, int64(100), bal)

	m.Unblock(ctx, "winner")
	require.NoError(t, escrow.Payout(ctx, "winner", 100))
	won, _ := m.Balance(ctx, "winner")
	assert.Equal(t, int64(100), won)

	acct, err := m.Account(ctx, "winner")
	require.NoError(t, err)
	assert.False(t, acct.Blocked)
}

func TestTransactionsLimit(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Deposit(ctx, "a", int64(i+1), ""))
	}
	txs, err := m.Transactions(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(5), txs[0].Amount)

	none, err := m.Transactions(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDepositRejectsOverflow(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	require.NoError(t, m.Deposit(ctx, "alice", math.MaxInt64-5, ""))

	err := m.Deposit(ctx, "alice", 6, "")
	assert.ErrorIs(t, err, ErrBalanceOverflow)

	bal, _ := m.Balance(ctx, "alice")
	assert.Equal(t, int64(math.MaxInt64-5), bal)
	txs, err := m.Transactions(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	require.NoError(t, m.Deposit(ctx, "alice", 5, ""))
	bal, _ = m.Balance(ctx, "alice")
	assert.Equal(t, int64(math.MaxInt64), bal)
}

func TestTransferRejectsDestinationOverflow(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	require.NoError(t, m.Deposit(ctx, "escrow", math.MaxInt64, ""))
	require.NoError(t, m.Deposit(ctx, "bob", 10, ""))

	err := m.Transfer(ctx, "bob", "escrow", 10, TxTypeEntry, "r")
	assert.ErrorIs(t, err, ErrBalanceOverflow)

	bob, _ := m.Balance(ctx, "bob")
	escrow, _ := m.Balance(ctx, "escrow")
	assert.Equal(t, int64(10), bob)
	assert.Equal(t, int64(math.MaxInt64), escrow)

	txs, err := m.Transactions(ctx, "bob", 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	require.NoError(t, m.Transfer(ctx, "escrow", "escrow", math.MaxInt64, "", ""))
	escrow, _ = m.Balance(ctx, "escrow")
	assert.Equal(t, int64(math.MaxInt64), escrow)
}
