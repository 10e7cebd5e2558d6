// Package ledgertest provides testify mocks of the ledger client contracts.
package ledgertest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/congo-pay/cards/internal/ledger"
)

// Accounts is a mock of ledger.Accounts.
type Accounts struct {
	mock.Mock
}

func (m *Accounts) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(ledger.Account), args.Error(1)
}

func (m *Accounts) ApplyBalanceOperation(ctx context.Context, accountID string, op ledger.BalanceOperation) (ledger.BalanceResult, error) {
	args := m.Called(ctx, accountID, op)
	return args.Get(0).(ledger.BalanceResult), args.Error(1)
}

// History is a mock of ledger.History.
type History struct {
	mock.Mock
}

func (m *History) Create(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	args := m.Called(ctx, tx)
	return args.Get(0).(ledger.Transaction), args.Error(1)
}

func (m *History) FindByProduct(ctx context.Context, productID string) ([]ledger.Transaction, error) {
	args := m.Called(ctx, productID)
	txs, _ := args.Get(0).([]ledger.Transaction)
	return txs, args.Error(1)
}

// Credits is a mock of ledger.Credits.
type Credits struct {
	mock.Mock
}

func (m *Credits) OverdueStatus(ctx context.Context, customerID string) (ledger.OverdueStatus, error) {
	args := m.Called(ctx, customerID)
	return args.Get(0).(ledger.OverdueStatus), args.Error(1)
}

func (m *Credits) ApplyPayment(ctx context.Context, creditID string, payment ledger.CreditPayment) error {
	args := m.Called(ctx, creditID, payment)
	return args.Error(0)
}

// Active returns a pointer to b for Account.Active.
func Active(b bool) *bool { return &b }
