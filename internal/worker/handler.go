// Package worker turns broker requests into card operations and answers
// with events.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/cards/internal/apperr"
	"github.com/congo-pay/cards/internal/card"
	"github.com/congo-pay/cards/internal/events"
	"github.com/congo-pay/cards/internal/funding"
	"github.com/congo-pay/cards/internal/ledger"
	"github.com/congo-pay/cards/internal/payments"
)

// ErrMalformedMessage marks a message that can never be processed.
var ErrMalformedMessage = errors.New("worker: malformed message")

// Queues names the inbound request queues.
type Queues struct {
	DebitRequested  string
	CreditRequested string
	LinkRequested   string
}

// DefaultQueues returns the default request queue names.
func DefaultQueues() Queues {
	return Queues{
		DebitRequested:  "cards.debit.requested",
		CreditRequested: "cards.credit.requested",
		LinkRequested:   "cards.account-link.requested",
	}
}

// Names lists the queues in a stable order.
func (q Queues) Names() []string {
	return []string{q.DebitRequested, q.CreditRequested, q.LinkRequested}
}

// DebitRequested asks for a peer-to-peer debit of a card.
type DebitRequested struct {
	OperationID string          `json:"operationId"`
	CardID      string          `json:"cardId"`
	Amount      decimal.Decimal `json:"amount"`
	Source      string          `json:"source"`
	Use         string          `json:"use"`
	NoRefund    bool            `json:"noRefund"`
}

// CreditRequested asks for an incoming transfer onto a card.
type CreditRequested struct {
	OperationID string          `json:"operationId"`
	CardID      string          `json:"cardId"`
	Amount      decimal.Decimal `json:"amount"`
	Source      string          `json:"source"`
}

// LinkRequested asks to link an account to a card.
type LinkRequested struct {
	RequestID string `json:"requestId"`
	CardID    string `json:"cardId"`
	AccountID string `json:"accountId"`
}

// Handler processes one request message at a time.
type Handler struct {
	queues    Queues
	debits    *payments.Orchestrator
	funding   *funding.Service
	cards     *card.Service
	publisher events.Publisher
	topics    events.Topics
	logger    *slog.Logger
	now       func() time.Time
}

// NewHandler wires the request handler.
func NewHandler(queues Queues, debits *payments.Orchestrator, fundingSvc *funding.Service, cards *card.Service, publisher events.Publisher, topics events.Topics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		queues:    queues,
		debits:    debits,
		funding:   fundingSvc,
		cards:     cards,
		publisher: publisher,
		topics:    topics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Queues returns the queues this handler consumes.
func (h *Handler) Queues() Queues { return h.queues }

// Handle dispatches body by queue. Domain failures are answered with a
// denial event and are not errors; a returned error means the message
// should be retried, unless it wraps ErrMalformedMessage.
func (h *Handler) Handle(ctx context.Context, queue string, body []byte) error {
	switch queue {
	case h.queues.DebitRequested:
		var msg DebitRequested
		if err := decode(body, &msg); err != nil {
			return err
		}
		return h.handleDebit(ctx, msg)
	case h.queues.CreditRequested:
		var msg CreditRequested
		if err := decode(body, &msg); err != nil {
			return err
		}
		return h.handleCredit(ctx, msg)
	case h.queues.LinkRequested:
		var msg LinkRequested
		if err := decode(body, &msg); err != nil {
			return err
		}
		return h.handleLink(ctx, msg)
	}
	return fmt.Errorf("%w: unknown queue %q", ErrMalformedMessage, queue)
}

func decode(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}

func (h *Handler) handleDebit(ctx context.Context, msg DebitRequested) error {
	op, err := h.debits.Debit(ctx, payments.DebitInput{
		CardID:      msg.CardID,
		OperationID: msg.OperationID,
		Amount:      msg.Amount,
		Kind:        card.OpP2PDebit,
		Metadata: map[string]string{
			"source":   msg.Source,
			"use":      msg.Use,
			"noRefund": fmt.Sprint(msg.NoRefund),
		},
		TxType: ledger.TxPurchase,
	})
	if err != nil {
		var partial *payments.PartialDebitError
		if errors.As(err, &partial) {
			// Nobody waits on this debit, so slices that did move are returned here.
			if cerr := h.debits.Compensate(ctx, msg.CardID, msg.OperationID, partial.Applied, "debit_failed"); cerr != nil {
				h.logger.Error("p2p debit compensation failed",
					slog.String("card_id", msg.CardID),
					slog.String("operation_id", msg.OperationID),
					slog.Any("error", cerr))
				err = cerr
			}
		}
		return h.deny(ctx, msg.CardID, msg.OperationID, card.OpP2PDebit, msg.Amount, err)
	}
	return h.applied(ctx, msg.CardID, op.ID, op.Kind, op.Result)
}

func (h *Handler) handleCredit(ctx context.Context, msg CreditRequested) error {
	res, err := h.funding.TransferIn(ctx, msg.CardID, msg.OperationID, msg.Amount, map[string]string{"source": msg.Source})
	if err != nil {
		return h.deny(ctx, msg.CardID, msg.OperationID, ledger.OpTransferIn, msg.Amount, err)
	}
	return h.applied(ctx, msg.CardID, msg.OperationID, ledger.OpTransferIn, card.OperationResult{
		Applied:         res.Applied,
		TotalAmount:     msg.Amount,
		CommissionTotal: res.Commission(),
		Message:         res.Message,
	})
}

func (h *Handler) handleLink(ctx context.Context, msg LinkRequested) error {
	result := events.LinkResult{
		RequestID:  msg.RequestID,
		CardID:     msg.CardID,
		AccountID:  msg.AccountID,
		Status:     events.LinkOK,
		OccurredAt: h.now(),
	}
	if _, err := h.cards.AddAccount(ctx, msg.CardID, msg.AccountID); err != nil {
		result.Status = events.LinkRejected
		result.Reason = err.Error()
		h.logger.Info("account link rejected",
			slog.String("card_id", msg.CardID),
			slog.String("account_id", msg.AccountID),
			slog.Any("error", err))
	}
	return h.publisher.Publish(ctx, h.topics.LinkResult, msg.CardID, result)
}

func (h *Handler) applied(ctx context.Context, cardID, operationID, kind string, res card.OperationResult) error {
	err := h.publisher.Publish(ctx, h.topics.OperationApplied, cardID, events.OperationApplied{
		CardID:          cardID,
		OperationID:     operationID,
		Kind:            kind,
		Amount:          res.TotalAmount,
		CommissionTotal: res.CommissionTotal,
		Slices:          res.Slices,
		OccurredAt:      h.now(),
	})
	if err != nil {
		return err
	}

	pb, err := h.cards.PrimaryBalance(ctx, cardID)
	if err != nil {
		// The operation is done; a missing balance update is not worth a redelivery.
		h.logger.Warn("primary balance unavailable after operation",
			slog.String("card_id", cardID),
			slog.Any("error", err))
		return nil
	}
	return h.publisher.Publish(ctx, h.topics.PrimaryBalanceUpdated, cardID, events.PrimaryBalanceUpdated{
		CardID:     cardID,
		AccountID:  pb.AccountID,
		Balance:    pb.Balance,
		OccurredAt: h.now(),
	})
}

func (h *Handler) deny(ctx context.Context, cardID, operationID, kind string, amount decimal.Decimal, cause error) error {
	code := apperr.MapErrorToHTTP(cause).Code
	h.logger.Info("operation denied",
		slog.String("card_id", cardID),
		slog.String("operation_id", operationID),
		slog.String("code", code),
		slog.Any("error", cause))
	return h.publisher.Publish(ctx, h.topics.OperationDenied, cardID, events.OperationDenied{
		CardID:      cardID,
		OperationID: operationID,
		Kind:        kind,
		Amount:      amount,
		Code:        code,
		Reason:      cause.Error(),
		OccurredAt:  h.now(),
	})
}
