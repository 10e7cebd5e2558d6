package clients

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/congo-pay/cards/internal/ledger"
)

// Accounts is the HTTP client of the balance service.
type Accounts struct {
	base
}

// NewAccounts creates a balance service client.
func NewAccounts(baseURL string, httpClient *http.Client, guard *Guard) *Accounts {
	return &Accounts{base: newBase(baseURL, httpClient, guard)}
}

var _ ledger.Accounts = (*Accounts)(nil)

func (c *Accounts) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	var acc ledger.Account
	if err := c.call(ctx, http.MethodGet, "/accounts/"+url.PathEscape(id), nil, &acc); err != nil {
		return ledger.Account{}, classify(err, ledger.ErrAccountNotFound)
	}
	if acc.ID == "" {
		acc.ID = id
	}
	return acc, nil
}

func (c *Accounts) ApplyBalanceOperation(ctx context.Context, accountID string, op ledger.BalanceOperation) (ledger.BalanceResult, error) {
	var res ledger.BalanceResult
	err := c.call(ctx, http.MethodPost, "/accounts/"+url.PathEscape(accountID)+"/balance-ops", op, &res)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.Status == http.StatusUnprocessableEntity || se.Status == http.StatusConflict) {
			return ledger.BalanceResult{}, ledger.ErrInsufficientFunds
		}
		return ledger.BalanceResult{}, classify(err, ledger.ErrAccountNotFound)
	}
	return res, nil
}
