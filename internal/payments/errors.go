package payments

import (
	"fmt"

	"github.com/congo-pay/cards/internal/apperr"
	"github.com/congo-pay/cards/internal/card"
)

var (
	ErrOperationIDRequired = apperr.New(apperr.ErrInvalidArgument, "operationId is required")
	ErrInvalidAmount       = apperr.New(apperr.ErrInvalidArgument, "amount must be positive")
	ErrCreditIDRequired    = apperr.New(apperr.ErrInvalidArgument, "creditId is required")
	ErrLimitExceeded       = apperr.New(apperr.ErrLimitExceeded, "amount exceeds the card withdrawal limit")
	ErrBalanceNotApplied   = apperr.New(apperr.ErrInvalidState, "balance operation was not applied")
	ErrOperationIDInUse    = apperr.New(apperr.ErrConflict, "operationId already used by another operation")
	ErrPaymentInProgress   = apperr.New(apperr.ErrConflict, "credit payment is still in progress")
)

// ErrSettlementUnconfirmed is the cause recorded when a credit payment is
// resumed after its run stopped before settling.
var ErrSettlementUnconfirmed = apperr.New(apperr.ErrInvalidState, "credit payment stopped before settlement")

// PartialDebitError reports a debit that failed after some slices were
// already applied. The caller decides whether to compensate them.
type PartialDebitError struct {
	OperationID string
	Applied     []card.Slice
	Err         error
}

func (e *PartialDebitError) Error() string {
	return fmt.Sprintf("debit %s interrupted after %d applied slice(s): %v", e.OperationID, len(e.Applied), e.Err)
}

func (e *PartialDebitError) Unwrap() error { return e.Err }

// CompensationError reports a compensation that stopped before returning
// every slice. Funds for the remaining slices were not returned.
type CompensationError struct {
	OperationID string
	Returned    int
	Total       int
	Cause       error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation of %s failed after returning %d of %d slice(s): %v", e.OperationID, e.Returned, e.Total, e.Cause)
}

func (e *CompensationError) Unwrap() error { return apperr.ErrCompensationFailed }

// CompensatedError reports a credit payment whose debit was reversed.
type CompensatedError struct {
	OperationID string
	Cause       error
}

func (e *CompensatedError) Error() string {
	msg := fmt.Sprintf("credit payment %s failed; funds were returned to the originating accounts", e.OperationID)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *CompensatedError) Unwrap() error { return apperr.ErrCompensated }
