package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/cards/internal/apperr"
	"github.com/congo-pay/cards/internal/card"
	"github.com/congo-pay/cards/internal/ledger"
	"github.com/congo-pay/cards/internal/ledger/ledgertest"
)

func TestPayCreditSettles(t *testing.T) {
	ctx := context.Background()
	led := ledger.NewInMemory()
	ledger.SeedAccount(led, "A1", dec("100"), true)
	repo := card.NewMemoryRepository()
	saveCard(t, repo, card.Card{CustomerID: "cust-9", PrimaryAccountID: "A1", Accounts: []string{"A1"}})
	saga := NewCreditSaga(newOrchestrator(repo, led, led), led)

	in := PayCreditInput{CardID: "card-1", OperationID: "pc-1", CreditID: "cr-1", Amount: dec("50"), Note: "march"}
	op, err := saga.PayCredit(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, card.OpPayCredit, op.Kind)
	assert.True(t, op.Result.Applied)

	payments := led.Payments("cr-1")
	require.Len(t, payments, 1)
	assert.True(t, payments[0].Amount.Equal(dec("50")))
	assert.Equal(t, "cust-9", payments[0].PayerCustomerID)
	assert.Equal(t, "CARD", payments[0].Channel)
	assert.Equal(t, "march", payments[0].Note)

	txs := led.Transactions()
	require.Len(t, txs, 2)
	assert.Equal(t, ledger.TxPayment, txs[0].Type)
	assert.Equal(t, "A1", txs[0].Sender.ID)
	assert.Equal(t, ledger.TxPayment, txs[1].Type)
	assert.Equal(t, "cr-1", txs[1].Receiver.ID)
	assert.Equal(t, ledger.ProductPersonalCredit, txs[1].Receiver.Type)

	stored, err := repo.Get(ctx, "card-1")
	require.NoError(t, err)
	marker, ok := stored.FindOperation("pc-1#saga")
	require.True(t, ok)
	assert.Equal(t, card.OpPayCreditSettled, marker.Kind)
	pending, ok := stored.FindOperation("pc-1#saga#pending")
	require.True(t, ok, "the payment is announced before it is sent")
	assert.Equal(t, card.OpPayCreditPending, pending.Kind)

	// Replay returns the original debit and pays nothing twice.
	again, err := saga.PayCredit(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, op.ID, again.ID)
	assert.Len(t, led.Payments("cr-1"), 1)
	assert.True(t, ledger.BalanceOf(led, "A1").Equal(dec("50")))
}

func TestPayCreditCompensatesWhenCreditsFail(t *testing.T) {
	ctx := context.Background()
	led := ledger.NewInMemory()
	ledger.SeedAccount(led, "A1", dec("100"), true)
	repo := card.NewMemoryRepository()
	saveCard(t, repo, card.Card{PrimaryAccountID: "A1", Accounts: []string{"A1"}})
	credits := &ledgertest.Credits{}
	credits.On("ApplyPayment", mock.Anything, "cr-1", mock.Anything).
		Return(apperr.New(apperr.ErrDownstreamUnavailable, "credits unavailable"))
	saga := NewCreditSaga(newOrchestrator(repo, led, led), credits)

	in := PayCreditInput{CardID: "card-1", OperationID: "pc-1", CreditID: "cr-1", Amount: dec("50")}
	_, err := saga.PayCredit(ctx, in)

	var compensated *CompensatedError
	require.True(t, errors.As(err, &compensated))
	assert.ErrorIs(t, err, apperr.ErrCompensated)
	assert.True(t, ledger.BalanceOf(led, "A1").Equal(dec("100")))

	txs := led.Transactions()
	require.Len(t, txs, 2)
	assert.Equal(t, ledger.TxPayment, txs[0].Type)
	assert.Equal(t, ledger.TxReversal, txs[1].Type)
	assert.Equal(t, "A1", txs[1].Receiver.ID)
	assert.True(t, txs[1].Amount.Equal(dec("50")))
	assert.Equal(t, "credits_failed", txs[1].Metadata["reason"])

	stored, err := repo.Get(ctx, "card-1")
	require.NoError(t, err)
	debit, ok := stored.FindOperation("pc-1")
	require.True(t, ok, "the debit stays recorded")
	assert.True(t, debit.Result.Applied)
	marker, ok := stored.FindOperation("pc-1#saga")
	require.True(t, ok)
	assert.Equal(t, card.OpPayCreditCompensated, marker.Kind)

	// Replay is a terminal failure and does not call credits again.
	_, err = saga.PayCredit(ctx, in)
	assert.ErrorIs(t, err, apperr.ErrCompensated)
	credits.AssertNumberOfCalls(t, "ApplyPayment", 1)
	assert.Len(t, led.Transactions(), 2)
}

func TestPayCreditCompensationFailure(t *testing.T) {
	repo := card.NewMemoryRepository()
	saveCard(t, repo, card.Card{PrimaryAccountID: "A1", Accounts: []string{"A1"}})
	accounts := &ledgertest.Accounts{}
	history := &ledgertest.History{}
	credits := &ledgertest.Credits{}
	accounts.On("GetAccount", mock.Anything, "A1").Return(ledger.Account{ID: "A1", Balance: decimal.NewNullDecimal(dec("100"))}, nil)
	accounts.On("ApplyBalanceOperation", mock.Anything, "A1", mock.MatchedBy(func(op ledger.BalanceOperation) bool {
		return op.Type == ledger.OpWithdrawal
	})).Return(ledger.BalanceResult{Applied: true}, nil)
	accounts.On("ApplyBalanceOperation", mock.Anything, "A1", mock.MatchedBy(func(op ledger.BalanceOperation) bool {
		return op.Type == ledger.OpDeposit
	})).Return(ledger.BalanceResult{}, errors.New("accounts down"))
	history.On("Create", mock.Anything, mock.Anything).Return(ledger.Transaction{}, nil)
	credits.On("ApplyPayment", mock.Anything, "cr-1", mock.Anything).Return(errors.New("rejected"))
	saga := NewCreditSaga(newOrchestrator(repo, accounts, history), credits)

	_, err := saga.PayCredit(context.Background(), PayCreditInput{CardID: "card-1", OperationID: "pc-1", CreditID: "cr-1", Amount: dec("50")})

	var compErr *CompensationError
	require.True(t, errors.As(err, &compErr))
	assert.ErrorIs(t, err, apperr.ErrCompensationFailed)
	assert.Equal(t, 0, compErr.Returned)

	stored, err := repo.Get(context.Background(), "card-1")
	require.NoError(t, err)
	_, ok := stored.FindOperation("pc-1#saga")
	assert.False(t, ok)
	marker, ok := stored.FindOperation("pc-1#saga#compensating")
	require.True(t, ok)
	assert.Equal(t, card.OpPayCreditCompensating, marker.Kind)

	// A retry only resumes the compensation.
	_, err = saga.PayCredit(context.Background(), PayCreditInput{CardID: "card-1", OperationID: "pc-1", CreditID: "cr-1", Amount: dec("50")})
	assert.ErrorIs(t, err, apperr.ErrCompensationFailed)
	credits.AssertNumberOfCalls(t, "ApplyPayment", 1)
}

func TestPayCreditRequiresCreditID(t *testing.T) {
	repo := card.NewMemoryRepository()
	saveCard(t, repo, card.Card{PrimaryAccountID: "A1"})
	credits := &ledgertest.Credits{}
	saga := NewCreditSaga(newOrchestrator(repo, &ledgertest.Accounts{}, &ledgertest.History{}), credits)

	_, err := saga.PayCredit(context.Background(), PayCreditInput{CardID: "card-1", OperationID: "pc-1", Amount: dec("10")})
	assert.ErrorIs(t, err, ErrCreditIDRequired)
	credits.AssertNotCalled(t, "ApplyPayment", mock.Anything, mock.Anything, mock.Anything)
}

// failingReversals fails the next remaining reversal writes.
type failingReversals struct {
	*ledger.InMemory
	remaining int
}

func (h *failingReversals) Create(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if tx.Type == ledger.TxReversal && h.remaining > 0 {
		h.remaining--
		return ledger.Transaction{}, errors.New("history unavailable")
	}
	return h.InMemory.Create(ctx, tx)
}

func reversals(led *ledger.InMemory) []ledger.Transaction {
	var out []ledger.Transaction
	for _, tx := range led.Transactions() {
		if tx.Type == ledger.TxReversal {
			out = append(out, tx)
		}
	}
	return out
}

func addOperation(t *testing.T, repo card.Repository, op card.StoredOperation) {
	t.Helper()
	c, err := repo.Get(context.Background(), "card-1")
	require.NoError(t, err)
	require.True(t, c.RecordOperation(op, 0))
	_, err = repo.Save(context.Background(), c)
	require.NoError(t, err)
}

func TestPayCreditRetryAfterCompensationFailureNeverPays(t *testing.T) {
	ctx := context.Background()
	led := ledger.NewInMemory()
	ledger.SeedAccount(led, "A1", dec("100"), true)
	repo := card.NewMemoryRepository()
	saveCard(t, repo, card.Card{PrimaryAccountID: "A1", Accounts: []string{"A1"}})
	credits := &ledgertest.Credits{}
	credits.On("ApplyPayment", mock.Anything, "cr-1", mock.Anything).Return(errors.New("rejected"))
	saga := NewCreditSaga(newOrchestrator(repo, led, &failingReversals{InMemory: led, remaining: 1}), credits)
	in := PayCreditInput{CardID: "card-1", OperationID: "pc-1", CreditID: "cr-1", Amount: dec("50")}

	_, err := saga.PayCredit(ctx, in)
	var compErr *CompensationError
	require.True(t, errors.As(err, &compErr))
	assert.Equal(t, 1, compErr.Returned)
	assert.True(t, ledger.BalanceOf(led, "A1").Equal(dec("100")))
	assert.Empty(t, reversals(led))

	_, err = saga.PayCredit(ctx, in)
	var compensated *CompensatedError
	require.True(t, errors.As(err, &compensated))
	assert.ErrorIs(t, compensated.Cause, ErrSettlementUnconfirmed)
	credits.AssertNumberOfCalls(t, "ApplyPayment", 1)
	assert.True(t, ledger.BalanceOf(led, "A1").Equal(dec("100")))
	revs := reversals(led)
	require.Len(t, revs, 1)
	assert.Equal(t, "pc-1#comp#0", revs[0].Metadata["compensationId"])

	stored, err := repo.Get(ctx, "card-1")
	require.NoError(t, err)
	marker, ok := stored.FindOperation("pc-1#saga")
	require.True(t, ok)
	assert.Equal(t, card.OpPayCreditCompensated, marker.Kind)

	// Once compensated the outcome is final.
	_, err = saga.PayCredit(ctx, in)
	assert.ErrorIs(t, err, apperr.ErrCompensated)
	credits.AssertNumberOfCalls(t, "ApplyPayment", 1)
	assert.Len(t, reversals(led), 1)
}

func TestPayCreditReplayWhilePaymentPending(t *testing.T) {
	ctx := context.Background()
	led := ledger.NewInMemory()
	ledger.SeedAccount(led, "A1", dec("100"), true)
	repo := card.NewMemoryRepository()
	saveCard(t, repo, card.Card{PrimaryAccountID: "A1", Accounts: []string{"A1"}})
	credits := &ledgertest.Credits{}
	o := newOrchestrator(repo, led, led)
	saga := NewCreditSaga(o, credits)

	_, err := o.Debit(ctx, DebitInput{CardID: "card-1", OperationID: "pc-1", Amount: dec("50"), Kind: card.OpPayCredit, TxType: ledger.TxPayment})
	require.NoError(t, err)
	addOperation(t, repo, card.StoredOperation{ID: "pc-1#saga#pending", Kind: card.OpPayCreditPending, CreatedAt: fixedNow})

	_, err = saga.PayCredit(ctx, PayCreditInput{CardID: "card-1", OperationID: "pc-1", CreditID: "cr-1", Amount: dec("50")})
	assert.ErrorIs(t, err, ErrPaymentInProgress)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	credits.AssertNotCalled(t, "ApplyPayment", mock.Anything, mock.Anything, mock.Anything)
	assert.True(t, ledger.BalanceOf(led, "A1").Equal(dec("50")))
}

func TestPayCreditSettlesFromHistoryWhenMarkerLost(t *testing.T) {
	ctx := context.Background()
	led := ledger.NewInMemory()
	ledger.SeedAccount(led, "A1", dec("100"), true)
	repo := card.NewMemoryRepository()
	saveCard(t, repo, card.Card{PrimaryAccountID: "A1", Accounts: []string{"A1"}})
	now := fixedNow
	saga := NewCreditSaga(newOrchestrator(repo, led, led, WithClock(func() time.Time { return now })), led)
	in := PayCreditInput{CardID: "card-1", OperationID: "pc-1", CreditID: "cr-1", Amount: dec("50")}

	op, err := saga.PayCredit(ctx, in)
	require.NoError(t, err)

	c, err := repo.Get(ctx, "card-1")
	require.NoError(t, err)
	kept := c.Operations[:0]
	for _, stored := range c.Operations {
		if stored.ID != "pc-1#saga" {
			kept = append(kept, stored)
		}
	}
	c.Operations = kept
	_, err = repo.Save(ctx, c)
	require.NoError(t, err)
	now = fixedNow.Add(2 * pendingLease)

	again, err := saga.PayCredit(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, op.ID, again.ID)
	assert.Len(t, led.Payments("cr-1"), 1)
	assert.Empty(t, reversals(led))
	assert.True(t, ledger.BalanceOf(led, "A1").Equal(dec("50")))

	stored, err := repo.Get(ctx, "card-1")
	require.NoError(t, err)
	marker, ok := stored.FindOperation("pc-1#saga")
	require.True(t, ok)
	assert.Equal(t, card.OpPayCreditSettled, marker.Kind)
}

func TestPayCreditUnknownOutcomeIsLeftForReconciliation(t *testing.T) {
	ctx := context.Background()
	led := ledger.NewInMemory()
	ledger.SeedAccount(led, "A1", dec("100"), true)
	repo := card.NewMemoryRepository()
	saveCard(t, repo, card.Card{PrimaryAccountID: "A1", Accounts: []string{"A1"}})
	credits := &ledgertest.Credits{}
	o := newOrchestrator(repo, led, led, WithClock(func() time.Time { return fixedNow.Add(2 * pendingLease) }))
	saga := NewCreditSaga(o, credits)

	_, err := o.Debit(ctx, DebitInput{CardID: "card-1", OperationID: "pc-1", Amount: dec("50"), Kind: card.OpPayCredit, TxType: ledger.TxPayment})
	require.NoError(t, err)
	addOperation(t, repo, card.StoredOperation{ID: "pc-1#saga#pending", Kind: card.OpPayCreditPending, CreatedAt: fixedNow})

	_, err = saga.PayCredit(ctx, PayCreditInput{CardID: "card-1", OperationID: "pc-1", CreditID: "cr-1", Amount: dec("50")})
	assert.ErrorIs(t, err, ErrSettlementUnconfirmed)
	credits.AssertNotCalled(t, "ApplyPayment", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, reversals(led))
	assert.True(t, ledger.BalanceOf(led, "A1").Equal(dec("50")))
}

func TestPayCreditCompensatesPaymentNeverSent(t *testing.T) {
	ctx := context.Background()
	led := ledger.NewInMemory()
	ledger.SeedAccount(led, "A1", dec("100"), true)
	repo := card.NewMemoryRepository()
	saveCard(t, repo, card.Card{PrimaryAccountID: "A1", Accounts: []string{"A1"}})
	credits := &ledgertest.Credits{}
	now := fixedNow
	o := newOrchestrator(repo, led, led, WithClock(func() time.Time { return now }))
	saga := NewCreditSaga(o, credits)
	in := PayCreditInput{CardID: "card-1", OperationID: "pc-1", CreditID: "cr-1", Amount: dec("50")}

	_, err := o.Debit(ctx, DebitInput{CardID: "card-1", OperationID: "pc-1", Amount: dec("50"), Kind: card.OpPayCredit, TxType: ledger.TxPayment})
	require.NoError(t, err)

	// A fresh debit may still belong to a live run.
	_, err = saga.PayCredit(ctx, in)
	assert.ErrorIs(t, err, ErrPaymentInProgress)

	now = fixedNow.Add(2 * pendingLease)
	_, err = saga.PayCredit(ctx, in)
	var compensated *CompensatedError
	require.True(t, errors.As(err, &compensated))
	credits.AssertNotCalled(t, "ApplyPayment", mock.Anything, mock.Anything, mock.Anything)
	assert.True(t, ledger.BalanceOf(led, "A1").Equal(dec("100")))
	revs := reversals(led)
	require.Len(t, revs, 1)
	assert.Equal(t, "settlement_unconfirmed", revs[0].Metadata["reason"])
}

func TestPayCreditRejectsOperationIDOfAnotherKind(t *testing.T) {
	ctx := context.Background()
	led := ledger.NewInMemory()
	ledger.SeedAccount(led, "A1", dec("100"), true)
	repo := card.NewMemoryRepository()
	saveCard(t, repo, card.Card{PrimaryAccountID: "A1", Accounts: []string{"A1"}})
	credits := &ledgertest.Credits{}
	o := newOrchestrator(repo, led, led)
	saga := NewCreditSaga(o, credits)

	_, err := o.Purchase(ctx, "card-1", "op-1", dec("10"), "POS", "shop")
	require.NoError(t, err)

	_, err = saga.PayCredit(ctx, PayCreditInput{CardID: "card-1", OperationID: "op-1", CreditID: "cr-1", Amount: dec("10")})
	assert.ErrorIs(t, err, ErrOperationIDInUse)
	credits.AssertNotCalled(t, "ApplyPayment", mock.Anything, mock.Anything, mock.Anything)
	assert.True(t, ledger.BalanceOf(led, "A1").Equal(dec("90")))
}
