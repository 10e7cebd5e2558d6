package funding

import "github.com/shopspring/decimal"

// DepositRequest captures a deposit onto a card's primary account.
type DepositRequest struct {
	OperationID string          `json:"operationId"`
	Amount      decimal.Decimal `json:"amount"`
	Channel     string          `json:"channel"`
	Description string          `json:"description"`
}

// TransferInRequest captures an incoming transfer to a card.
type TransferInRequest struct {
	OperationID string            `json:"operationId"`
	Amount      decimal.Decimal   `json:"amount"`
	Metadata    map[string]string `json:"metadata"`
}

// TransferInResponse mirrors the balance service result.
type TransferInResponse struct {
	Applied    bool                `json:"applied"`
	NewBalance decimal.NullDecimal `json:"newBalance"`
	Message    string              `json:"message,omitempty"`
}
