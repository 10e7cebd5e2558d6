package clients

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/congo-pay/cards/internal/apperr"
	"github.com/congo-pay/cards/internal/ledger"
)

// ErrPaymentRejected is returned when the credit service refuses a payment.
var ErrPaymentRejected = apperr.New(apperr.ErrInvalidState, "credit service rejected the payment")

// Credits is the HTTP client of the credit-servicing system.
type Credits struct {
	base
}

// NewCredits creates a credit service client.
func NewCredits(baseURL string, httpClient *http.Client, guard *Guard) *Credits {
	return &Credits{base: newBase(baseURL, httpClient, guard)}
}

var _ ledger.Credits = (*Credits)(nil)

func (c *Credits) OverdueStatus(ctx context.Context, customerID string) (ledger.OverdueStatus, error) {
	var status ledger.OverdueStatus
	if err := c.call(ctx, http.MethodGet, "/credits/"+url.PathEscape(customerID)+"/debt-status", nil, &status); err != nil {
		return ledger.OverdueStatus{}, classify(err, ledger.ErrCustomerNotFound)
	}
	return status, nil
}

func (c *Credits) ApplyPayment(ctx context.Context, creditID string, payment ledger.CreditPayment) error {
	err := c.call(ctx, http.MethodPost, "/credits/"+url.PathEscape(creditID)+"/payments", payment, nil)
	if err == nil {
		return nil
	}
	if isStatus(err, http.StatusUnprocessableEntity) || isStatus(err, http.StatusConflict) {
		return ErrPaymentRejected
	}
	return classify(err, apperr.Newf(apperr.ErrNotFound, "credit %s not found", creditID))
}

func isStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}
