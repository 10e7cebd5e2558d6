package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type memAccount struct {
	balance decimal.Decimal
	active  bool
}

// InMemory implements Accounts, History and Credits in process. Balance
// operations are idempotent per account and operation id.
type InMemory struct {
	mu           sync.RWMutex
	accounts     map[string]*memAccount
	applied      map[string]BalanceResult
	transactions []Transaction
	overdue      map[string]OverdueStatus
	payments     map[string][]CreditPayment
	commission   decimal.Decimal
	now          func() time.Time
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests
// and local development.
func NewInMemory() *InMemory {
	return &InMemory{
		accounts: make(map[string]*memAccount),
		applied:  make(map[string]BalanceResult),
		overdue:  make(map[string]OverdueStatus),
		payments: make(map[string][]CreditPayment),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetCommission sets a flat commission reported on every withdrawal.
func (l *InMemory) SetCommission(c decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commission = c
}

// SetOverdue records the overdue status returned for customerID.
func (l *InMemory) SetOverdue(customerID string, status OverdueStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overdue[customerID] = status
}

func (l *InMemory) GetAccount(_ context.Context, id string) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc, ok := l.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	active := acc.active
	return Account{
		ID:      id,
		Balance: decimal.NullDecimal{Decimal: acc.balance, Valid: true},
		Active:  &active,
	}, nil
}

func (l *InMemory) ApplyBalanceOperation(_ context.Context, accountID string, op BalanceOperation) (BalanceResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := accountID + "|" + op.OperationID
	if res, ok := l.applied[key]; ok {
		return res, nil
	}

	acc, ok := l.accounts[accountID]
	if !ok {
		return BalanceResult{}, ErrAccountNotFound
	}

	commission := decimal.Zero
	switch op.Type {
	case OpWithdrawal:
		commission = l.commission
		if acc.balance.LessThan(op.Amount.Add(commission)) {
			return BalanceResult{}, ErrInsufficientFunds
		}
		acc.balance = acc.balance.Sub(op.Amount).Sub(commission)
	default:
		acc.balance = acc.balance.Add(op.Amount)
	}

	res := BalanceResult{
		Applied:           true,
		NewBalance:        decimal.NullDecimal{Decimal: acc.balance, Valid: true},
		CommissionApplied: decimal.NullDecimal{Decimal: commission, Valid: true},
		Message:           "OK",
	}
	l.applied[key] = res
	return res, nil
}

func (l *InMemory) Create(_ context.Context, tx Transaction) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedDate == nil {
		now := l.now()
		tx.CreatedDate = &now
	}
	l.transactions = append(l.transactions, tx)
	return tx, nil
}

func (l *InMemory) FindByProduct(_ context.Context, productID string) ([]Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Transaction
	for _, tx := range l.transactions {
		if (tx.Sender != nil && tx.Sender.ID == productID) || (tx.Receiver != nil && tx.Receiver.ID == productID) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (l *InMemory) OverdueStatus(_ context.Context, customerID string) (OverdueStatus, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	status, ok := l.overdue[customerID]
	if !ok {
		return OverdueStatus{}, ErrCustomerNotFound
	}
	return status, nil
}

func (l *InMemory) ApplyPayment(_ context.Context, creditID string, payment CreditPayment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.payments[creditID] = append(l.payments[creditID], payment)
	return nil
}

// Transactions returns a copy of every recorded transaction in insertion order.
func (l *InMemory) Transactions() []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Transaction(nil), l.transactions...)
}

// Payments returns the payments applied to creditID.
func (l *InMemory) Payments(creditID string) []CreditPayment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]CreditPayment(nil), l.payments[creditID]...)
}
