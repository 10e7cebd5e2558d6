// Package events defines the card events published to the message broker.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/cards/internal/card"
)

// Link request outcomes.
const (
	LinkOK       = "OK"
	LinkRejected = "REJECTED"
)

// Topics names the routing keys events are published under.
type Topics struct {
	OperationApplied      string
	OperationDenied       string
	PrimaryBalanceUpdated string
	LinkResult            string
}

// DefaultTopics returns the default routing keys.
func DefaultTopics() Topics {
	return Topics{
		OperationApplied:      "cards.operation.applied",
		OperationDenied:       "cards.operation.denied",
		PrimaryBalanceUpdated: "cards.primary-balance.updated",
		LinkResult:            "cards.account-link.result",
	}
}

// OperationApplied is emitted after a debit or credit was applied to a card.
type OperationApplied struct {
	CardID          string          `json:"cardId"`
	OperationID     string          `json:"operationId"`
	Kind            string          `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	CommissionTotal decimal.Decimal `json:"commissionTotal"`
	Slices          []card.Slice    `json:"slices,omitempty"`
	OccurredAt      time.Time       `json:"occurredAt"`
}

// OperationDenied is emitted when a requested operation was refused.
type OperationDenied struct {
	CardID      string          `json:"cardId"`
	OperationID string          `json:"operationId"`
	Kind        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Code        string          `json:"code"`
	Reason      string          `json:"reason"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// PrimaryBalanceUpdated carries the balance of a card's primary account.
type PrimaryBalanceUpdated struct {
	CardID     string          `json:"cardId"`
	AccountID  string          `json:"accountId"`
	Balance    decimal.Decimal `json:"balance"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// LinkResult answers an account link request.
type LinkResult struct {
	RequestID  string    `json:"requestId"`
	CardID     string    `json:"cardId"`
	AccountID  string    `json:"accountId"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher delivers an event under a routing key.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

// LogPublisher writes events to the structured logger. It backs local
// development when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher constructs a logging publisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event.
func (p *LogPublisher) Publish(_ context.Context, topic, key string, event any) error {
	if p == nil || p.logger == nil {
		return nil
	}
	p.logger.Info("event", slog.String("topic", topic), slog.String("key", key), slog.Any("payload", event))
	return nil
}
