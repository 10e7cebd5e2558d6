package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/cards/internal/apperr"
)

var (
	// ErrAccountNotFound is returned when the balance service has no such account.
	ErrAccountNotFound = apperr.New(apperr.ErrNotFound, "account not found")

	// ErrCustomerNotFound is returned by the credit service for unknown customers.
	ErrCustomerNotFound = apperr.New(apperr.ErrNotFound, "customer not found")

	// ErrInsufficientFunds is returned when a withdrawal exceeds the account balance.
	ErrInsufficientFunds = apperr.New(apperr.ErrInsufficientFunds, "insufficient funds")
)

// Balance operation types understood by the balance service.
const (
	OpDeposit    = "deposit"
	OpWithdrawal = "withdrawal"
	OpTransferIn = "transfer_in"
)

// Transaction types recorded in the history service.
const (
	TxPurchase   = "purchase"
	TxWithdrawal = "withdrawal"
	TxPayment    = "payment"
	TxReversal   = "reversal"
)

// Product types used as transaction counterparties.
const (
	ProductSavingsAccount = "savings_account"
	ProductPersonalCredit = "personal_credit"
)

// Account is the balance service view of a funding account.
type Account struct {
	ID      string              `json:"id"`
	Balance decimal.NullDecimal `json:"balance"`
	Active  *bool               `json:"active,omitempty"`
}

// IsActive treats an unknown active flag as active.
func (a Account) IsActive() bool {
	return a.Active == nil || *a.Active
}

// BalanceOperation is a single balance mutation keyed by OperationID.
type BalanceOperation struct {
	OperationID string            `json:"operationId"`
	Type        string            `json:"type"`
	Amount      decimal.Decimal   `json:"amount"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// BalanceResult is the balance service response to a BalanceOperation.
type BalanceResult struct {
	Applied           bool                `json:"applied"`
	NewBalance        decimal.NullDecimal `json:"newBalance"`
	CommissionApplied decimal.NullDecimal `json:"commissionApplied"`
	Message           string              `json:"message,omitempty"`
}

// Commission returns the applied commission, zero when absent.
func (r BalanceResult) Commission() decimal.Decimal {
	if !r.CommissionApplied.Valid {
		return decimal.Zero
	}
	return r.CommissionApplied.Decimal
}

// Product identifies one side of a recorded transaction.
type Product struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Transaction is an entry in the history service.
type Transaction struct {
	ID          string            `json:"id,omitempty"`
	Type        string            `json:"type"`
	Amount      decimal.Decimal   `json:"amount"`
	Sender      *Product          `json:"sender,omitempty"`
	Receiver    *Product          `json:"receiver,omitempty"`
	CreatedDate *time.Time        `json:"createdDate,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// OverdueStatus summarizes a customer's overdue debt.
type OverdueStatus struct {
	HasOverdue         bool                `json:"hasOverdue"`
	TotalOverdueAmount decimal.NullDecimal `json:"totalOverdueAmount"`
}

// CreditPayment is a payment applied to a credit product.
type CreditPayment struct {
	Amount          decimal.Decimal `json:"amount"`
	PayerCustomerID string          `json:"payerCustomerId,omitempty"`
	Channel         string          `json:"channel,omitempty"`
	Note            string          `json:"note,omitempty"`
}

// Accounts is the client contract of the remote balance service.
type Accounts interface {
	GetAccount(ctx context.Context, id string) (Account, error)
	ApplyBalanceOperation(ctx context.Context, accountID string, op BalanceOperation) (BalanceResult, error)
}

// History is the client contract of the transaction-recording service.
type History interface {
	Create(ctx context.Context, tx Transaction) (Transaction, error)
	FindByProduct(ctx context.Context, productID string) ([]Transaction, error)
}

// Credits is the client contract of the credit-servicing system.
type Credits interface {
	OverdueStatus(ctx context.Context, customerID string) (OverdueStatus, error)
	ApplyPayment(ctx context.Context, creditID string, payment CreditPayment) error
}
