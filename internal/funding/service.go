package funding

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/cards/internal/apperr"
	"github.com/congo-pay/cards/internal/card"
	"github.com/congo-pay/cards/internal/ledger"
)

const (
	defaultChannel     = "INCOME"
	defaultDescription = "CARD_INCOME"
)

var (
	// ErrOperationIDRequired is returned when a funding request has no operation id.
	ErrOperationIDRequired = apperr.New(apperr.ErrInvalidArgument, "operationId is required")
	// ErrNotApplied is returned when the balance service accepts a credit
	// without moving money.
	ErrNotApplied = apperr.New(apperr.ErrInvalidState, "balance operation was not applied")
)

// Invalidator drops cached read models of a card after its balance moves.
type Invalidator interface {
	Invalidate(ctx context.Context, cardID string)
}

// Service credits money into the primary account of a debit card.
type Service struct {
	cards       card.Repository
	accounts    ledger.Accounts
	invalidator Invalidator
	logger      *slog.Logger
}

// NewService prepares a funding service. invalidator may be nil.
func NewService(cards card.Repository, accounts ledger.Accounts, invalidator Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cards: cards, accounts: accounts, invalidator: invalidator, logger: logger}
}

// DepositInput captures a deposit onto a card.
type DepositInput struct {
	CardID      string
	OperationID string
	Amount      decimal.Decimal
	Channel     string
	Description string
}

// Deposit credits the card's primary account. The balance service applies
// each operation id once, so retries are safe.
func (s *Service) Deposit(ctx context.Context, in DepositInput) (card.OperationResult, error) {
	if in.Channel == "" {
		in.Channel = defaultChannel
	}
	if in.Description == "" {
		in.Description = defaultDescription
	}
	primary, res, err := s.credit(ctx, in.CardID, in.OperationID, in.Amount, ledger.OpDeposit, map[string]string{
		"channel":     in.Channel,
		"description": in.Description,
	})
	if err != nil {
		return card.OperationResult{}, err
	}
	commission := res.Commission()
	return card.OperationResult{
		Applied:         res.Applied,
		TotalAmount:     in.Amount,
		CommissionTotal: commission,
		Slices:          []card.Slice{{AccountID: primary, Amount: in.Amount, CommissionApplied: commission}},
		Message:         "Deposit OK",
	}, nil
}

// TransferIn credits an incoming transfer to the card's primary account.
func (s *Service) TransferIn(ctx context.Context, cardID, operationID string, amount decimal.Decimal, metadata map[string]string) (ledger.BalanceResult, error) {
	_, res, err := s.credit(ctx, cardID, operationID, amount, ledger.OpTransferIn, metadata)
	return res, err
}

func (s *Service) credit(ctx context.Context, cardID, operationID string, amount decimal.Decimal, opType string, metadata map[string]string) (string, ledger.BalanceResult, error) {
	if operationID == "" {
		return "", ledger.BalanceResult{}, ErrOperationIDRequired
	}
	if !amount.IsPositive() {
		return "", ledger.BalanceResult{}, ErrInvalidAmount
	}
	c, err := s.cards.Get(ctx, cardID)
	if err != nil {
		return "", ledger.BalanceResult{}, err
	}
	if c.Kind != card.KindDebit {
		return "", ledger.BalanceResult{}, card.ErrNotDebitCard
	}
	if c.Status != card.StatusActive {
		return "", ledger.BalanceResult{}, card.ErrCardNotActive
	}
	if c.PrimaryAccountID == "" {
		return "", ledger.BalanceResult{}, card.ErrNoPrimaryAccount
	}

	res, err := s.accounts.ApplyBalanceOperation(ctx, c.PrimaryAccountID, ledger.BalanceOperation{
		OperationID: operationID,
		Type:        opType,
		Amount:      amount,
		Metadata:    metadata,
	})
	if err != nil {
		s.logger.Warn("funding operation failed",
			slog.String("card_id", cardID),
			slog.String("operation_id", operationID),
			slog.String("type", opType),
			slog.Any("error", err))
		return "", ledger.BalanceResult{}, err
	}
	if !res.Applied {
		s.logger.Warn("funding operation not applied",
			slog.String("card_id", cardID),
			slog.String("operation_id", operationID),
			slog.String("type", opType),
			slog.String("message", res.Message))
		return "", ledger.BalanceResult{}, ErrNotApplied
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, cardID)
	}
	s.logger.Info("funding operation applied",
		slog.String("card_id", cardID),
		slog.String("operation_id", operationID),
		slog.String("type", opType),
		slog.String("amount", amount.String()))
	return c.PrimaryAccountID, res, nil
}
