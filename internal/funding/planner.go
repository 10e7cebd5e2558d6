package funding

import (
	"github.com/shopspring/decimal"

	"github.com/congo-pay/cards/internal/apperr"
)

var (
	// ErrInsufficientFunds is returned when the linked accounts cannot cover the amount.
	ErrInsufficientFunds = apperr.New(apperr.ErrInsufficientFunds, "insufficient funds across linked accounts")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = apperr.New(apperr.ErrInvalidArgument, "amount must be positive")
)

// Balance is the available balance of one funding account. A null balance
// is treated as zero.
type Balance struct {
	AccountID string
	Available decimal.NullDecimal
}

// Draw is one step of a funding plan.
type Draw struct {
	AccountID string
	Amount    decimal.Decimal
}

// Plan splits amount across balances in order, drawing min(available, remaining)
// from each account. Accounts with nothing to give are skipped and an account
// id is drawn at most once. Either the whole amount is covered or
// ErrInsufficientFunds is returned with no plan.
func Plan(amount decimal.Decimal, balances []Balance) ([]Draw, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	remaining := amount
	seen := make(map[string]struct{}, len(balances))
	draws := make([]Draw, 0, len(balances))

	for _, b := range balances {
		if !remaining.IsPositive() {
			break
		}
		if _, dup := seen[b.AccountID]; dup {
			continue
		}
		seen[b.AccountID] = struct{}{}

		available := decimal.Zero
		if b.Available.Valid {
			available = b.Available.Decimal
		}
		take := decimal.Min(available, remaining)
		if !take.IsPositive() {
			continue
		}
		draws = append(draws, Draw{AccountID: b.AccountID, Amount: take})
		remaining = remaining.Sub(take)
	}

	if remaining.IsPositive() {
		return nil, ErrInsufficientFunds
	}
	return draws, nil
}
