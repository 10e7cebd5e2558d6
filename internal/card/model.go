package card

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/cards/internal/apperr"
)

// Kind is the card product type.
type Kind string

const (
	KindDebit  Kind = "DEBIT"
	KindCredit Kind = "CREDIT"
)

// Status is the card lifecycle status.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusBlocked   Status = "BLOCKED"
	StatusInactive  Status = "INACTIVE"
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusBlocked, StatusInactive, StatusCancelled:
		return true
	}
	return false
}

// Operation kinds recorded in the card ledger.
const (
	OpDebitPayment          = "DEBIT_PAYMENT"
	OpDebitWithdrawal       = "DEBIT_WITHDRAWAL"
	OpPayCredit             = "PAY_CREDIT"
	OpP2PDebit              = "P2P_DEBIT"
	OpPayCreditPending      = "PAY_CREDIT_PENDING"
	OpPayCreditCompensating = "PAY_CREDIT_COMPENSATING"
	OpPayCreditSettled      = "PAY_CREDIT_SETTLED"
	OpPayCreditCompensated  = "PAY_CREDIT_COMPENSATED"
)

// DefaultOperationsKeepLast bounds the operation ledger of a card.
const DefaultOperationsKeepLast = 200

var (
	ErrCardNotFound        = apperr.New(apperr.ErrNotFound, "card not found")
	ErrVersionConflict     = apperr.New(apperr.ErrConflict, "card was modified concurrently")
	ErrNotDebitCard        = apperr.New(apperr.ErrInvalidState, "card is not a DEBIT card")
	ErrCardNotActive       = apperr.New(apperr.ErrInvalidState, "card is not ACTIVE")
	ErrNoPrimaryAccount    = apperr.New(apperr.ErrInvalidState, "card has no primary account")
	ErrPrimaryNotIncluded  = apperr.New(apperr.ErrInvalidState, "primary account must be included")
	ErrCannotRemovePrimary = apperr.New(apperr.ErrInvalidState, "cannot remove primary account")
	ErrAccountNotLinked    = apperr.New(apperr.ErrInvalidState, "account is not associated to the card")
	ErrAccountInactive     = apperr.New(apperr.ErrInvalidState, "account is not active")
	ErrOverdueDebt         = apperr.New(apperr.ErrInvalidState, "customer has overdue debt")
	ErrAccountsRequired    = apperr.New(apperr.ErrInvalidArgument, "accounts are required")
	ErrInvalidKind         = apperr.New(apperr.ErrInvalidArgument, "cardType must be DEBIT or CREDIT")
	ErrInvalidStatus       = apperr.New(apperr.ErrInvalidArgument, "unknown card status")
	ErrCustomerRequired    = apperr.New(apperr.ErrInvalidArgument, "customerId is required")
	ErrPrimaryRequired     = apperr.New(apperr.ErrInvalidArgument, "primaryAccountId is required for DEBIT cards")
	ErrCreditIDRequired    = apperr.New(apperr.ErrInvalidArgument, "creditId is required for CREDIT cards")
)

// Limits are per-card spending limits. A null limit is not enforced.
type Limits struct {
	WithdrawalLimit decimal.NullDecimal `json:"atmWithdrawalLimit" bson:"atmWithdrawalLimit"`
}

// Slice is the portion of an operation drawn from one account.
type Slice struct {
	AccountID         string          `json:"accountId" bson:"accountId"`
	Amount            decimal.Decimal `json:"amount" bson:"amount"`
	CommissionApplied decimal.Decimal `json:"commissionApplied" bson:"commissionApplied"`
}

// OperationResult is the outcome returned to callers and replayed verbatim.
type OperationResult struct {
	Applied         bool            `json:"applied" bson:"applied"`
	TotalAmount     decimal.Decimal `json:"totalAmount" bson:"totalAmount"`
	CommissionTotal decimal.Decimal `json:"commissionTotal" bson:"commissionTotal"`
	Slices          []Slice         `json:"slices" bson:"slices"`
	Message         string          `json:"message" bson:"message"`
}

// StoredOperation is an entry in the card's operation ledger.
type StoredOperation struct {
	ID        string          `json:"id" bson:"id"`
	Kind      string          `json:"type" bson:"type"`
	CreatedAt time.Time       `json:"createdAt" bson:"createdAt"`
	Result    OperationResult `json:"result" bson:"result"`
}

// Card is the card aggregate.
type Card struct {
	ID                 string            `json:"id" bson:"_id"`
	CardNumber         string            `json:"cardNumber" bson:"cardNumber"`
	Kind               Kind              `json:"cardType" bson:"cardType"`
	Brand              string            `json:"brand,omitempty" bson:"brand,omitempty"`
	CustomerID         string            `json:"customerId" bson:"customerId"`
	PrimaryAccountID   string            `json:"primaryAccountId,omitempty" bson:"primaryAccountId,omitempty"`
	Accounts           []string          `json:"accounts,omitempty" bson:"accounts,omitempty"`
	CreditID           string            `json:"creditId,omitempty" bson:"creditId,omitempty"`
	Status             Status            `json:"status" bson:"status"`
	IssueDate          time.Time         `json:"issueDate" bson:"issueDate"`
	ExpirationDate     time.Time         `json:"expirationDate" bson:"expirationDate"`
	Virtual            bool              `json:"isVirtual" bson:"isVirtual"`
	PinEnabled         bool              `json:"pinEnabled" bson:"pinEnabled"`
	ContactlessEnabled bool              `json:"contactlessEnabled" bson:"contactlessEnabled"`
	Limits             Limits            `json:"limits" bson:"limits"`
	Metadata           map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"creationDate" bson:"creationDate"`
	UpdatedAt          time.Time         `json:"updatedDate" bson:"updatedDate"`
	Operations         []StoredOperation `json:"operations,omitempty" bson:"operations,omitempty"`
	Version            int64             `json:"version" bson:"version"`
}

// Clone returns a deep copy of c.
func (c Card) Clone() Card {
	out := c
	out.Accounts = append([]string(nil), c.Accounts...)
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	if c.Operations != nil {
		out.Operations = make([]StoredOperation, len(c.Operations))
		for i, op := range c.Operations {
			op.Result.Slices = append([]Slice(nil), op.Result.Slices...)
			out.Operations[i] = op
		}
	}
	return out
}

// FundingAccounts returns the normalized account list used to fund debits.
func (c Card) FundingAccounts() []string {
	return NormalizeAccounts(c.PrimaryAccountID, c.Accounts)
}

// PrimaryBalance is the balance of a card's primary account.
type PrimaryBalance struct {
	CardID    string          `json:"cardId"`
	AccountID string          `json:"accountId"`
	Balance   decimal.Decimal `json:"balance"`
}
