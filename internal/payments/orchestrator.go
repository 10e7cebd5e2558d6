package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/cards/internal/card"
	"github.com/congo-pay/cards/internal/funding"
	"github.com/congo-pay/cards/internal/ledger"
)

const (
	maxPersistAttempts = 3
	compensationReason = "credits_failed"
)

// Invalidator drops cached read models of a card.
type Invalidator interface {
	Invalidate(ctx context.Context, cardID string)
}

// Orchestrator debits card funding accounts and reverses those debits.
type Orchestrator struct {
	cards       card.Repository
	accounts    ledger.Accounts
	history     ledger.History
	keepLast    int
	invalidator Invalidator
	logger      *slog.Logger
	now         func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithKeepLast bounds the per-card operation ledger.
func WithKeepLast(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.keepLast = n
		}
	}
}

// WithInvalidator sets the cache invalidation hook called after a card changes.
func WithInvalidator(i Invalidator) Option {
	return func(o *Orchestrator) { o.invalidator = i }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator constructs a debit orchestrator.
func NewOrchestrator(cards card.Repository, accounts ledger.Accounts, history ledger.History, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cards:    cards,
		accounts: accounts,
		history:  history,
		keepLast: card.DefaultOperationsKeepLast,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DebitInput describes a debit against a card's funding accounts.
type DebitInput struct {
	CardID      string
	OperationID string
	Amount      decimal.Decimal
	Kind        string
	Metadata    map[string]string
	TxType      string
}

// Debit executes a debit at most once per operation id. A repeated operation
// id returns the stored result without any external call. On failure after
// slices were applied the error is a *PartialDebitError.
func (o *Orchestrator) Debit(ctx context.Context, in DebitInput) (card.StoredOperation, error) {
	if in.OperationID == "" {
		return card.StoredOperation{}, ErrOperationIDRequired
	}
	log := o.logger.With(slog.String("card_id", in.CardID), slog.String("operation_id", in.OperationID))

	c, err := o.cards.Get(ctx, in.CardID)
	if err != nil {
		return card.StoredOperation{}, err
	}
	if op, ok := c.FindOperation(in.OperationID); ok {
		log.Info("debit replayed from operation ledger")
		return op, nil
	}

	if err := validateDebit(c, in); err != nil {
		return card.StoredOperation{}, err
	}

	balances, err := o.balances(ctx, c.FundingAccounts())
	if err != nil {
		return card.StoredOperation{}, err
	}
	draws, err := funding.Plan(in.Amount, balances)
	if err != nil {
		return card.StoredOperation{}, err
	}

	// Once money starts moving the run must finish regardless of the caller.
	run := context.WithoutCancel(ctx)

	slices, err := o.applyDraws(run, in, draws, log)
	if err != nil {
		return card.StoredOperation{}, o.partial(in.OperationID, slices, err)
	}
	if err := o.recordDebits(run, in, slices); err != nil {
		return card.StoredOperation{}, o.partial(in.OperationID, slices, err)
	}

	stored, err := o.persist(run, c, card.StoredOperation{
		ID:        in.OperationID,
		Kind:      in.Kind,
		CreatedAt: o.now(),
		Result:    buildResult(in.Amount, slices),
	})
	if err != nil {
		log.Error("debit applied but not recorded on card", slog.Any("error", err))
		return card.StoredOperation{}, o.partial(in.OperationID, slices, err)
	}
	o.invalidate(run, c.ID)

	log.Info("debit applied",
		slog.String("kind", in.Kind),
		slog.String("amount", in.Amount.String()),
		slog.Int("slices", len(slices)))
	return stored, nil
}

func validateDebit(c card.Card, in DebitInput) error {
	if !in.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if c.Kind != card.KindDebit {
		return card.ErrNotDebitCard
	}
	if c.Status != card.StatusActive {
		return card.ErrCardNotActive
	}
	limit := c.Limits.WithdrawalLimit
	if strings.EqualFold(in.TxType, ledger.TxWithdrawal) && limit.Valid && in.Amount.GreaterThan(limit.Decimal) {
		return ErrLimitExceeded
	}
	return nil
}

// balances fetches balances concurrently, keeping the funding order.
func (o *Orchestrator) balances(ctx context.Context, accountIDs []string) ([]funding.Balance, error) {
	out := make([]funding.Balance, len(accountIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range accountIDs {
		i, id := i, id
		g.Go(func() error {
			acc, err := o.accounts.GetAccount(gctx, id)
			if err != nil {
				return fmt.Errorf("balance of %s: %w", id, err)
			}
			out[i] = funding.Balance{AccountID: id, Available: acc.Balance}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// applyDraws applies each draw in order and returns the slices applied so far.
func (o *Orchestrator) applyDraws(ctx context.Context, in DebitInput, draws []funding.Draw, log *slog.Logger) ([]card.Slice, error) {
	slices := make([]card.Slice, 0, len(draws))
	for i, d := range draws {
		res, err := o.accounts.ApplyBalanceOperation(ctx, d.AccountID, ledger.BalanceOperation{
			OperationID: fmt.Sprintf("%s#%d", in.OperationID, i),
			Type:        ledger.OpWithdrawal,
			Amount:      d.Amount,
			Metadata:    in.Metadata,
		})
		if err == nil && !res.Applied {
			err = ErrBalanceNotApplied
		}
		if err != nil {
			log.Warn("debit slice failed", slog.Int("slice", i), slog.String("account_id", d.AccountID), slog.Any("error", err))
			return slices, fmt.Errorf("slice %d on account %s: %w", i, d.AccountID, err)
		}
		log.Debug("debit slice applied", slog.Int("slice", i), slog.String("account_id", d.AccountID), slog.String("amount", d.Amount.String()))
		slices = append(slices, card.Slice{
			AccountID:         d.AccountID,
			Amount:            d.Amount,
			CommissionApplied: res.Commission(),
		})
	}
	return slices, nil
}

func (o *Orchestrator) recordDebits(ctx context.Context, in DebitInput, slices []card.Slice) error {
	for i, s := range slices {
		_, err := o.history.Create(ctx, ledger.Transaction{
			Type:     in.TxType,
			Amount:   s.Amount,
			Sender:   &ledger.Product{ID: s.AccountID, Type: ledger.ProductSavingsAccount},
			Metadata: map[string]string{"operationId": in.OperationID, "cardId": in.CardID},
		})
		if err != nil {
			return fmt.Errorf("record slice %d: %w", i, err)
		}
	}
	return nil
}

func buildResult(amount decimal.Decimal, slices []card.Slice) card.OperationResult {
	commission := decimal.Zero
	for _, s := range slices {
		commission = commission.Add(s.CommissionApplied)
	}
	return card.OperationResult{
		Applied:         true,
		TotalAmount:     amount,
		CommissionTotal: commission,
		Slices:          slices,
		Message:         "OK",
	}
}

func (o *Orchestrator) partial(opID string, slices []card.Slice, err error) error {
	if len(slices) == 0 {
		return err
	}
	return &PartialDebitError{OperationID: opID, Applied: slices, Err: err}
}

// persist records op on the card, reloading and retrying on version conflicts.
// When a concurrent writer committed the same id first, its entry is kept
// and returned instead of op.
func (o *Orchestrator) persist(ctx context.Context, c card.Card, op card.StoredOperation) (card.StoredOperation, error) {
	for attempt := 1; ; attempt++ {
		if !c.RecordOperation(op, o.keepLast) {
			existing, _ := c.FindOperation(op.ID)
			o.logger.Warn("operation already recorded by a concurrent run",
				slog.String("card_id", c.ID),
				slog.String("operation_id", op.ID),
				slog.String("kind", existing.Kind))
			return existing, nil
		}
		c.UpdatedAt = o.now()
		_, err := o.cards.Save(ctx, c)
		if err == nil {
			return op, nil
		}
		if !errors.Is(err, card.ErrVersionConflict) || attempt >= maxPersistAttempts {
			return card.StoredOperation{}, err
		}
		c, err = o.cards.Get(ctx, c.ID)
		if err != nil {
			return card.StoredOperation{}, err
		}
	}
}

func (o *Orchestrator) invalidate(ctx context.Context, cardID string) {
	if o.invalidator != nil {
		o.invalidator.Invalidate(ctx, cardID)
	}
}

// Compensate returns each slice to its account in order and records a
// reversal for it. It stops at the first failure with a *CompensationError.
// The original stored operation is left untouched.
func (o *Orchestrator) Compensate(ctx context.Context, cardID, operationID string, slices []card.Slice, reason string) error {
	return o.compensate(ctx, cardID, operationID, slices, reason, false)
}

// compensate backs Compensate. Deposits are keyed by compensation id so a
// resumed run never returns a slice twice; with resume set, reversals
// already present in the history service are not written again.
func (o *Orchestrator) compensate(ctx context.Context, cardID, operationID string, slices []card.Slice, reason string, resume bool) error {
	run := context.WithoutCancel(ctx)
	log := o.logger.With(slog.String("card_id", cardID), slog.String("operation_id", operationID))

	for i, s := range slices {
		compID := fmt.Sprintf("%s#comp#%d", operationID, i)
		res, err := o.accounts.ApplyBalanceOperation(run, s.AccountID, ledger.BalanceOperation{
			OperationID: compID,
			Type:        ledger.OpDeposit,
			Amount:      s.Amount,
			Metadata:    map[string]string{"compensationOf": operationID, "reason": reason},
		})
		if err == nil && !res.Applied {
			err = ErrBalanceNotApplied
		}
		if err != nil {
			log.Error("compensation deposit failed", slog.Int("slice", i), slog.String("account_id", s.AccountID), slog.Any("error", err))
			return &CompensationError{OperationID: operationID, Returned: i, Total: len(slices), Cause: err}
		}

		if resume {
			done, err := o.reversed(run, s.AccountID, compID)
			if err != nil {
				log.Error("compensation reversal lookup failed", slog.Int("slice", i), slog.Any("error", err))
				return &CompensationError{OperationID: operationID, Returned: i + 1, Total: len(slices), Cause: err}
			}
			if done {
				continue
			}
		}

		_, err = o.history.Create(run, ledger.Transaction{
			Type:     ledger.TxReversal,
			Amount:   s.Amount,
			Receiver: &ledger.Product{ID: s.AccountID, Type: ledger.ProductSavingsAccount},
			Metadata: map[string]string{"compensationOf": operationID, "compensationId": compID, "reason": reason},
		})
		if err != nil {
			log.Error("compensation reversal not recorded", slog.Int("slice", i), slog.Any("error", err))
			return &CompensationError{OperationID: operationID, Returned: i + 1, Total: len(slices), Cause: err}
		}
	}

	o.invalidate(run, cardID)
	log.Info("debit compensated", slog.Int("slices", len(slices)), slog.String("reason", reason), slog.Bool("resumed", resume))
	return nil
}

// reversed reports whether a reversal for compID is already recorded on accountID.
func (o *Orchestrator) reversed(ctx context.Context, accountID, compID string) (bool, error) {
	txs, err := o.history.FindByProduct(ctx, accountID)
	if err != nil {
		return false, err
	}
	for _, tx := range txs {
		if tx.Type == ledger.TxReversal && tx.Metadata["compensationId"] == compID {
			return true, nil
		}
	}
	return false, nil
}

// recordOutcome stores a marker operation on the card and returns the entry
// that ends up recorded under its id.
func (o *Orchestrator) recordOutcome(ctx context.Context, cardID string, op card.StoredOperation) (card.StoredOperation, error) {
	c, err := o.cards.Get(ctx, cardID)
	if err != nil {
		return card.StoredOperation{}, err
	}
	recorded, err := o.persist(ctx, c, op)
	if err != nil {
		return card.StoredOperation{}, err
	}
	o.invalidate(ctx, cardID)
	return recorded, nil
}

// Purchase debits a card for a merchant payment.
func (o *Orchestrator) Purchase(ctx context.Context, cardID, operationID string, amount decimal.Decimal, channel, merchant string) (card.OperationResult, error) {
	op, err := o.Debit(ctx, DebitInput{
		CardID:      cardID,
		OperationID: operationID,
		Amount:      amount,
		Kind:        card.OpDebitPayment,
		Metadata:    map[string]string{"channel": channel, "merchant": merchant},
		TxType:      ledger.TxPurchase,
	})
	return op.Result, err
}

// Withdraw debits a card for a cash withdrawal, subject to the withdrawal limit.
func (o *Orchestrator) Withdraw(ctx context.Context, cardID, operationID string, amount decimal.Decimal, channel, atmID string) (card.OperationResult, error) {
	op, err := o.Debit(ctx, DebitInput{
		CardID:      cardID,
		OperationID: operationID,
		Amount:      amount,
		Kind:        card.OpDebitWithdrawal,
		Metadata:    map[string]string{"channel": channel, "atmId": atmID},
		TxType:      ledger.TxWithdrawal,
	})
	return op.Result, err
}
