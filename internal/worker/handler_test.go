package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/cards/internal/card"
	"github.com/congo-pay/cards/internal/events"
	"github.com/congo-pay/cards/internal/funding"
	"github.com/congo-pay/cards/internal/ledger"
	"github.com/congo-pay/cards/internal/logging"
	"github.com/congo-pay/cards/internal/payments"
)

type published struct {
	topic string
	key   string
	event any
}

type recorder struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (r *recorder) Publish(_ context.Context, topic, key string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, published{topic: topic, key: key, event: event})
	return nil
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.topic)
	}
	return out
}

type harness struct {
	handler *Handler
	rec     *recorder
	led     *ledger.InMemory
	repo    card.Repository
	card    card.Card
	topics  events.Topics
}

func newHarness(t *testing.T) harness {
	t.Helper()
	ctx := context.Background()
	logger := logging.Discard()

	led := ledger.NewInMemory()
	ledger.SeedAccount(led, "A1", decimal.NewFromInt(100), true)
	ledger.SeedAccount(led, "A2", decimal.NewFromInt(50), true)
	ledger.SeedAccount(led, "closed", decimal.Zero, false)

	repo := card.NewMemoryRepository()
	cards := card.NewService(repo, led, led, led, card.WithLogger(logger))
	c, err := cards.Create(ctx, card.CreateInput{
		Kind:             card.KindDebit,
		CustomerID:       "cust-1",
		PrimaryAccountID: "A1",
		Accounts:         []string{"A1"},
	})
	require.NoError(t, err)

	debits := payments.NewOrchestrator(repo, led, led, payments.WithInvalidator(cards), payments.WithLogger(logger))
	fundingSvc := funding.NewService(repo, led, cards, logger)
	rec := &recorder{}
	topics := events.DefaultTopics()
	h := NewHandler(DefaultQueues(), debits, fundingSvc, cards, rec, topics, logger)
	return harness{handler: h, rec: rec, led: led, repo: repo, card: c, topics: topics}
}

func TestHandleDebitRequested(t *testing.T) {
	hs := newHarness(t)
	body := []byte(`{"operationId":"p2p-1","cardId":"` + hs.card.ID + `","amount":30,"source":"wallet","use":"transfer","noRefund":true}`)

	require.NoError(t, hs.handler.Handle(context.Background(), DefaultQueues().DebitRequested, body))

	assert.Equal(t, []string{hs.topics.OperationApplied, hs.topics.PrimaryBalanceUpdated}, hs.rec.topics())
	applied := hs.rec.msgs[0].event.(events.OperationApplied)
	assert.Equal(t, card.OpP2PDebit, applied.Kind)
	assert.True(t, applied.Amount.Equal(decimal.NewFromInt(30)))
	balance := hs.rec.msgs[1].event.(events.PrimaryBalanceUpdated)
	assert.Equal(t, "A1", balance.AccountID)
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(70)))

	stored, err := hs.repo.Get(context.Background(), hs.card.ID)
	require.NoError(t, err)
	op, ok := stored.FindOperation("p2p-1")
	require.True(t, ok)
	assert.Equal(t, card.OpP2PDebit, op.Kind)

	// Redelivery replays the stored operation.
	require.NoError(t, hs.handler.Handle(context.Background(), DefaultQueues().DebitRequested, body))
	assert.True(t, ledger.BalanceOf(hs.led, "A1").Equal(decimal.NewFromInt(70)))
}

func TestHandleDebitRequestedDenied(t *testing.T) {
	hs := newHarness(t)
	body := []byte(`{"operationId":"p2p-2","cardId":"` + hs.card.ID + `","amount":500}`)

	require.NoError(t, hs.handler.Handle(context.Background(), DefaultQueues().DebitRequested, body))

	require.Equal(t, []string{hs.topics.OperationDenied}, hs.rec.topics())
	denied := hs.rec.msgs[0].event.(events.OperationDenied)
	assert.Equal(t, "INSUFFICIENT_FUNDS", denied.Code)
	assert.Equal(t, "p2p-2", denied.OperationID)
	assert.True(t, ledger.BalanceOf(hs.led, "A1").Equal(decimal.NewFromInt(100)))
}

func TestHandleCreditRequested(t *testing.T) {
	hs := newHarness(t)
	body := []byte(`{"operationId":"in-1","cardId":"` + hs.card.ID + `","amount":"25","source":"p2p"}`)

	require.NoError(t, hs.handler.Handle(context.Background(), DefaultQueues().CreditRequested, body))

	assert.Equal(t, []string{hs.topics.OperationApplied, hs.topics.PrimaryBalanceUpdated}, hs.rec.topics())
	balance := hs.rec.msgs[1].event.(events.PrimaryBalanceUpdated)
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(125)))
}

func TestHandleLinkRequested(t *testing.T) {
	hs := newHarness(t)
	ctx := context.Background()
	queue := DefaultQueues().LinkRequested

	require.NoError(t, hs.handler.Handle(ctx, queue, []byte(`{"requestId":"r1","cardId":"`+hs.card.ID+`","accountId":"A2"}`)))
	require.NoError(t, hs.handler.Handle(ctx, queue, []byte(`{"requestId":"r2","cardId":"`+hs.card.ID+`","accountId":"closed"}`)))

	require.Len(t, hs.rec.msgs, 2)
	ok := hs.rec.msgs[0].event.(events.LinkResult)
	assert.Equal(t, events.LinkOK, ok.Status)
	rejected := hs.rec.msgs[1].event.(events.LinkResult)
	assert.Equal(t, events.LinkRejected, rejected.Status)
	assert.NotEmpty(t, rejected.Reason)

	stored, err := hs.repo.Get(ctx, hs.card.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A2"}, stored.Accounts)
}

func TestHandleMalformedMessage(t *testing.T) {
	hs := newHarness(t)

	err := hs.handler.Handle(context.Background(), DefaultQueues().DebitRequested, []byte(`{not json`))
	assert.True(t, errors.Is(err, ErrMalformedMessage))

	err = hs.handler.Handle(context.Background(), "unknown.queue", []byte(`{}`))
	assert.True(t, errors.Is(err, ErrMalformedMessage))
	assert.Empty(t, hs.rec.topics())
}

type skippingAccounts struct{ ledger.Accounts }

func (skippingAccounts) ApplyBalanceOperation(context.Context, string, ledger.BalanceOperation) (ledger.BalanceResult, error) {
	return ledger.BalanceResult{Applied: false}, nil
}

func TestHandleCreditRequestedNotApplied(t *testing.T) {
	hs := newHarness(t)
	logger := logging.Discard()
	fundingSvc := funding.NewService(hs.repo, skippingAccounts{hs.led}, nil, logger)
	debits := payments.NewOrchestrator(hs.repo, hs.led, hs.led, payments.WithLogger(logger))
	h := NewHandler(DefaultQueues(), debits, fundingSvc, nil, hs.rec, hs.topics, logger)
	body := []byte(`{"operationId":"in-2","cardId":"` + hs.card.ID + `","amount":"25","source":"p2p"}`)

	require.NoError(t, h.Handle(context.Background(), DefaultQueues().CreditRequested, body))

	require.Equal(t, []string{hs.topics.OperationDenied}, hs.rec.topics())
	denied := hs.rec.msgs[0].event.(events.OperationDenied)
	assert.Equal(t, "INVALID_STATE", denied.Code)
	assert.Equal(t, "in-2", denied.OperationID)
	assert.True(t, ledger.BalanceOf(hs.led, "A1").Equal(decimal.NewFromInt(100)))
}
