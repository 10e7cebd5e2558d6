package payments

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/cards/internal/card"
	"github.com/congo-pay/cards/internal/ledger"
)

// SagaState is a step of the credit-payment saga.
type SagaState string

const (
	StateStarted            SagaState = "STARTED"
	StateDebited            SagaState = "DEBITED"
	StatePaymentPending     SagaState = "PAYMENT_PENDING"
	StateCreditApplied      SagaState = "CREDIT_APPLIED"
	StateSettled            SagaState = "SETTLED"
	StateCompensating       SagaState = "COMPENSATING"
	StateCompensated        SagaState = "COMPENSATED"
	StateCompensationFailed SagaState = "COMPENSATION_FAILED"
)

const (
	paymentChannel = "CARD"
	resumeReason   = "settlement_unconfirmed"
	// pendingLease is how long a pending payment is treated as owned by the
	// run that started it.
	pendingLease = time.Minute
)

// CreditSaga pays a customer's credit from a debit card. The debit is
// reversed when the credits service rejects the payment.
type CreditSaga struct {
	orchestrator *Orchestrator
	credits      ledger.Credits
	logger       *slog.Logger
}

// NewCreditSaga wires the saga on top of an orchestrator.
func NewCreditSaga(o *Orchestrator, credits ledger.Credits) *CreditSaga {
	return &CreditSaga{orchestrator: o, credits: credits, logger: o.logger}
}

// PayCreditInput describes a credit payment.
type PayCreditInput struct {
	CardID      string
	OperationID string
	CreditID    string
	Amount      decimal.Decimal
	Note        string
}

type sagaRun struct {
	in       PayCreditInput
	customer string
	state    SagaState
	debit    card.StoredOperation
	cause    error
	resume   bool
	log      *slog.Logger
}

func (r *sagaRun) moveTo(s SagaState) {
	r.log.Debug("credit payment saga transition", slog.String("from", string(r.state)), slog.String("to", string(s)))
	r.state = s
}

// Marker ids. Each marker is written once and never overwritten.
func outcomeID(operationID string) string { return operationID + "#saga" }
func pendingID(operationID string) string { return operationID + "#saga#pending" }
func compensatingID(operationID string) string { return operationID + "#saga#compensating" }

// PayCredit debits the card and applies the amount to the credit. Replaying
// a settled payment returns the stored debit; replaying a compensated one
// returns a *CompensatedError without external calls. A debit left without
// an outcome is never paid again.
func (s *CreditSaga) PayCredit(ctx context.Context, in PayCreditInput) (card.StoredOperation, error) {
	if in.OperationID == "" {
		return card.StoredOperation{}, ErrOperationIDRequired
	}
	if in.CreditID == "" {
		return card.StoredOperation{}, ErrCreditIDRequired
	}

	c, err := s.orchestrator.cards.Get(ctx, in.CardID)
	if err != nil {
		return card.StoredOperation{}, err
	}
	if marker, ok := c.FindOperation(outcomeID(in.OperationID)); ok {
		return replayOutcome(c, in.OperationID, marker)
	}

	run := &sagaRun{
		in:       in,
		customer: c.CustomerID,
		state:    StateStarted,
		log: s.logger.With(
			slog.String("card_id", in.CardID),
			slog.String("operation_id", in.OperationID),
			slog.String("credit_id", in.CreditID)),
	}
	if debit, ok := c.FindOperation(in.OperationID); ok {
		run.debit = debit
		next, err := s.resume(ctx, c, run)
		if err != nil {
			return card.StoredOperation{}, err
		}
		run.moveTo(next)
	}
	// The saga finishes its steps even if the caller goes away.
	bg := context.WithoutCancel(ctx)

	for {
		switch run.state {
		case StateStarted:
			if err := s.debit(ctx, run); err != nil {
				return card.StoredOperation{}, err
			}
		case StateDebited:
			s.begin(bg, run)
		case StatePaymentPending:
			s.applyPayment(bg, run)
		case StateCreditApplied:
			s.recordPayment(bg, run)
		case StateSettled:
			s.mark(bg, run, outcomeID(in.OperationID), card.OpPayCreditSettled, "OK")
			run.log.Info("credit payment settled")
			return run.debit, nil
		case StateCompensating:
			s.compensate(bg, run)
		case StateCompensated:
			s.mark(bg, run, outcomeID(in.OperationID), card.OpPayCreditCompensated, "COMPENSATED")
			run.log.Warn("credit payment compensated", slog.Any("cause", run.cause))
			return card.StoredOperation{}, &CompensatedError{OperationID: in.OperationID, Cause: run.cause}
		case StateCompensationFailed:
			return card.StoredOperation{}, run.cause
		}
	}
}

func replayOutcome(c card.Card, operationID string, marker card.StoredOperation) (card.StoredOperation, error) {
	if marker.Kind == card.OpPayCreditCompensated {
		return card.StoredOperation{}, &CompensatedError{OperationID: operationID}
	}
	if op, ok := c.FindOperation(operationID); ok {
		return op, nil
	}
	// The debit entry was evicted; the settled marker carries its result.
	marker.ID = operationID
	marker.Kind = card.OpPayCredit
	return marker, nil
}

// resume picks the step that finishes a run found with a debit but no
// outcome. The payment is never sent again: an unsent payment is compensated,
// a recorded one is settled, and anything else is left for reconciliation.
func (s *CreditSaga) resume(ctx context.Context, c card.Card, run *sagaRun) (SagaState, error) {
	id := run.in.OperationID
	if run.debit.Kind != card.OpPayCredit {
		return "", ErrOperationIDInUse
	}
	run.resume = true
	run.cause = ErrSettlementUnconfirmed
	if _, ok := c.FindOperation(compensatingID(id)); ok {
		run.log.Warn("resuming credit payment compensation")
		return StateCompensating, nil
	}

	pending, sent := c.FindOperation(pendingID(id))
	started := run.debit.CreatedAt
	if sent {
		started = pending.CreatedAt
	}
	if s.orchestrator.now().Sub(started) < pendingLease {
		return "", ErrPaymentInProgress
	}
	if !sent {
		run.log.Warn("compensating credit payment that was never sent")
		return StateCompensating, nil
	}

	paid, err := s.paymentRecorded(ctx, run)
	if err != nil {
		return "", err
	}
	if paid {
		run.log.Warn("settling credit payment found in history")
		return StateSettled, nil
	}
	run.log.Error("credit payment outcome unknown, reconciliation required")
	return "", ErrSettlementUnconfirmed
}

// paymentRecorded reports whether the history service holds the payment of run.
func (s *CreditSaga) paymentRecorded(ctx context.Context, run *sagaRun) (bool, error) {
	txs, err := s.orchestrator.history.FindByProduct(ctx, run.in.CreditID)
	if err != nil {
		return false, err
	}
	for _, tx := range txs {
		if tx.Type == ledger.TxPayment && tx.Metadata["operationId"] == run.in.OperationID {
			return true, nil
		}
	}
	return false, nil
}

func (s *CreditSaga) debit(ctx context.Context, run *sagaRun) error {
	op, err := s.orchestrator.Debit(ctx, DebitInput{
		CardID:      run.in.CardID,
		OperationID: run.in.OperationID,
		Amount:      run.in.Amount,
		Kind:        card.OpPayCredit,
		Metadata:    map[string]string{"purpose": "pay-credit", "creditId": run.in.CreditID},
		TxType:      ledger.TxPayment,
	})
	if err != nil {
		var partial *PartialDebitError
		if errors.As(err, &partial) {
			// Unwind the slices that did move before surfacing the debit failure.
			if cerr := s.orchestrator.Compensate(context.WithoutCancel(ctx), run.in.CardID, run.in.OperationID, partial.Applied, "debit_failed"); cerr != nil {
				return cerr
			}
		}
		return err
	}
	run.debit = op
	run.moveTo(StateDebited)
	return nil
}

// begin records that the payment is about to be sent. Without that record
// the payment is not attempted.
func (s *CreditSaga) begin(ctx context.Context, run *sagaRun) {
	if _, err := s.mark(ctx, run, pendingID(run.in.OperationID), card.OpPayCreditPending, "PENDING"); err != nil {
		run.cause = err
		run.moveTo(StateCompensating)
		return
	}
	run.moveTo(StatePaymentPending)
}

func (s *CreditSaga) applyPayment(ctx context.Context, run *sagaRun) {
	err := s.credits.ApplyPayment(ctx, run.in.CreditID, ledger.CreditPayment{
		Amount:          run.in.Amount,
		PayerCustomerID: run.customer,
		Channel:         paymentChannel,
		Note:            run.in.Note,
	})
	if err != nil {
		run.log.Warn("credit payment rejected", slog.Any("error", err))
		run.cause = err
		run.moveTo(StateCompensating)
		return
	}
	run.moveTo(StateCreditApplied)
}

func (s *CreditSaga) recordPayment(ctx context.Context, run *sagaRun) {
	_, err := s.orchestrator.history.Create(ctx, ledger.Transaction{
		Type:     ledger.TxPayment,
		Amount:   run.in.Amount,
		Receiver: &ledger.Product{ID: run.in.CreditID, Type: ledger.ProductPersonalCredit},
		Metadata: map[string]string{"operationId": run.in.OperationID, "cardId": run.in.CardID},
	})
	if err != nil {
		// The payment itself is applied; a missing history entry does not undo it.
		run.log.Warn("credit payment history not recorded", slog.Any("error", err))
	}
	run.moveTo(StateSettled)
}

func (s *CreditSaga) compensate(ctx context.Context, run *sagaRun) {
	reason := compensationReason
	if run.resume {
		reason = resumeReason
	} else {
		// A replay resumes the compensation instead of paying again.
		s.mark(ctx, run, compensatingID(run.in.OperationID), card.OpPayCreditCompensating, "COMPENSATING")
	}
	err := s.orchestrator.compensate(ctx, run.in.CardID, run.in.OperationID, run.debit.Result.Slices, reason, run.resume)
	if err != nil {
		run.cause = err
		run.moveTo(StateCompensationFailed)
		return
	}
	run.moveTo(StateCompensated)
}

// mark writes a saga marker and returns the entry recorded under id.
func (s *CreditSaga) mark(ctx context.Context, run *sagaRun, id, kind, message string) (card.StoredOperation, error) {
	result := run.debit.Result
	result.Applied = kind == card.OpPayCreditSettled
	result.Message = message
	recorded, err := s.orchestrator.recordOutcome(ctx, run.in.CardID, card.StoredOperation{
		ID:        id,
		Kind:      kind,
		CreatedAt: s.orchestrator.now(),
		Result:    result,
	})
	if err != nil {
		run.log.Error("credit payment marker not recorded", slog.String("kind", kind), slog.Any("error", err))
	}
	return recorded, err
}
