package clients

import (
	"context"
	"net/http"
	"net/url"

	"github.com/congo-pay/cards/internal/ledger"
)

// Transactions is the HTTP client of the history service.
type Transactions struct {
	base
}

// NewTransactions creates a history service client.
func NewTransactions(baseURL string, httpClient *http.Client, guard *Guard) *Transactions {
	return &Transactions{base: newBase(baseURL, httpClient, guard)}
}

var _ ledger.History = (*Transactions)(nil)

func (c *Transactions) Create(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	var out ledger.Transaction
	if err := c.call(ctx, http.MethodPost, "/transactions", tx, &out); err != nil {
		return ledger.Transaction{}, classify(err, nil)
	}
	return out, nil
}

// FindByProduct returns no transactions for an unknown product.
func (c *Transactions) FindByProduct(ctx context.Context, productID string) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	if err := c.call(ctx, http.MethodGet, "/transactions/product/"+url.PathEscape(productID), nil, &out); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, classify(err, nil)
	}
	return out, nil
}
