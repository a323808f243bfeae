// Package ledger keeps participant and escrow balances for the raffle.
//
// Funds flow:
// 1. A participant deposits into their account
// 2. Entering moves the entrance fee to the raffle escrow account
// 3. A rejected entry is refunded from escrow
// 4. The winner is paid the whole escrow through Escrow.Payout
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TxType classifies a ledger movement.
type TxType string

const (
	TxTypeDeposit  TxType = "deposit"
	TxTypeWithdraw TxType = "withdraw"
	TxTypeTransfer TxType = "transfer"
	TxTypeEntry    TxType = "raffle_entry"
	TxTypeRefund   TxType = "refund"
	TxTypePayout   TxType = "prize_payout"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountBlocked      = errors.New("account blocked")
	ErrBalanceOverflow     = errors.New("balance overflow")
)

// Account is a balance holder.
type Account struct {
	ID        string    `json:"id"`
	Balance   int64     `json:"balance"`
	Blocked   bool      `json:"blocked"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction records one side of a balance change.
type Transaction struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"account_id"`
	Type         TxType    `json:"type"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Counterparty string    `json:"counterparty,omitempty"`
	ReferenceID  string    `json:"reference_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Manager handles all balance operations.
type Manager struct {
	mu           sync.RWMutex
	accounts     map[string]*Account
	transactions map[string][]Transaction
}

// NewManager creates an empty ledger.
func NewManager() *Manager {
	return &Manager{
		accounts:     make(map[string]*Account),
		transactions: make(map[string][]Transaction),
	}
}

func (m *Manager) account(id string) *Account {
	acct, ok := m.accounts[id]
	if !ok {
		now := time.Now().UTC()
		acct = &Account{ID: id, CreatedAt: now, UpdatedAt: now}
		m.accounts[id] = acct
	}
	return acct
}

func (m *Manager) record(acct *Account, txType TxType, amount int64, counterparty, ref string) {
	acct.UpdatedAt = time.Now().UTC()
	m.transactions[acct.ID] = append(m.transactions[acct.ID], Transaction{
		ID:           uuid.New().String(),
		AccountID:    acct.ID,
		Type:         txType,
		Amount:       amount,
		BalanceAfter: acct.Balance,
		Counterparty: counterparty,
		ReferenceID:  ref,
		CreatedAt:    acct.UpdatedAt,
	})
}

// Deposit credits amount to accountID, opening the account if needed.
func (m *Manager) Deposit(ctx context.Context, accountID string, amount int64, ref string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	acct := m.account(accountID)
	if acct.Blocked {
		return fmt.Errorf("deposit to %s: %w", accountID, ErrAccountBlocked)
	}
	if amount > math.MaxInt64-acct.Balance {
		return fmt.Errorf("deposit to %s: %w", accountID, ErrBalanceOverflow)
	}
	acct.Balance += amount
	m.record(acct, TxTypeDeposit, amount, "", ref)
	return nil
}

// Withdraw debits amount from accountID.
func (m *Manager) Withdraw(ctx context.Context, accountID string, amount int64, ref string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[accountID]
	if !ok {
		return fmt.Errorf("withdraw from %s: %w", accountID, ErrAccountNotFound)
	}
	if amount > acct.Balance {
		return fmt.Errorf("withdraw from %s: %w: available %d, requested %d",
			accountID, ErrInsufficientBalance, acct.Balance, amount)
	}
	acct.Balance -= amount
	m.record(acct, TxTypeWithdraw, -amount, "", ref)
	return nil
}

// Transfer moves amount between accounts atomically. The destination is
// opened if needed and must not be blocked.
func (m *Manager) Transfer(ctx context.Context, from, to string, amount int64, txType TxType, ref string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if txType == "" {
		txType = TxTypeTransfer
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.accounts[from]
	if !ok {
		return fmt.Errorf("transfer from %s: %w", from, ErrAccountNotFound)
	}
	if amount > src.Balance {
		return fmt.Errorf("transfer from %s: %w: available %d, requested %d",
			from, ErrInsufficientBalance, src.Balance, amount)
	}
	if dst, ok := m.accounts[to]; ok && to != from {
		if dst.Blocked {
			return fmt.Errorf("transfer to %s: %w", to, ErrAccountBlocked)
		}
		if amount > math.MaxInt64-dst.Balance {
			return fmt.Errorf("transfer to %s: %w", to, ErrBalanceOverflow)
		}
	}

	dst := m.account(to)
	src.Balance -= amount
	dst.Balance += amount
	m.record(src, txType, -amount, to, ref)
	m.record(dst, txType, amount, from, ref)
	return nil
}

// Balance returns the balance of accountID.
func (m *Manager) Balance(ctx context.Context, accountID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[accountID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	return acct.Balance, nil
}

// Account returns a copy of the account.
func (m *Manager) Account(ctx context.Context, accountID string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *acct, nil
}

// Transactions returns up to limit transactions for accountID, newest first.
func (m *Manager) Transactions(ctx context.Context, accountID string, limit int) ([]Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txs := m.transactions[accountID]
	if limit <= 0 || limit > len(txs) {
		limit = len(txs)
	}
	out := make([]Transaction, 0, limit)
	for i := len(txs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, txs[i])
	}
	return out, nil
}

// Block makes accountID refuse incoming funds.
func (m *Manager) Block(ctx context.Context, accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account(accountID).Blocked = true
}

// Unblock reverses Block.
func (m *Manager) Unblock(ctx context.Context, accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acct, ok := m.accounts[accountID]; ok {
		acct.Blocked = false
	}
}

// Escrow pays prizes out of a single holding account.
type Escrow struct {
	manager *Manager
	account string
}

// Escrow returns the payout side of the given holding account.
func (m *Manager) Escrow(account string) *Escrow {
	return &Escrow{manager: m, account: account}
}

// Account returns the holding account id.
func (e *Escrow) Account() string { return e.account }

// Payout transfers amount from escrow to the winner.
func (e *Escrow) Payout(ctx context.Context, to string, amount int64) error {
	return e.manager.Transfer(ctx, e.account, to, amount, TxTypePayout, "")
}
