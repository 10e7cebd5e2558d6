package payments

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handler exposes card debit endpoints.
type Handler struct {
	orchestrator *Orchestrator
	saga         *CreditSaga
}

// NewHandler constructs a payment handler.
func NewHandler(orchestrator *Orchestrator, saga *CreditSaga) *Handler {
	return &Handler{orchestrator: orchestrator, saga: saga}
}

type purchaseRequest struct {
	OperationID string          `json:"operationId"`
	Amount      decimal.Decimal `json:"amount"`
	Channel     string          `json:"channel"`
	Merchant    string          `json:"merchant"`
}

type withdrawalRequest struct {
	OperationID string          `json:"operationId"`
	Amount      decimal.Decimal `json:"amount"`
	Channel     string          `json:"channel"`
	AtmID       string          `json:"atmId"`
}

type payCreditRequest struct {
	OperationID string          `json:"operationId"`
	CreditID    string          `json:"creditId"`
	Amount      decimal.Decimal `json:"amount"`
	Note        string          `json:"note"`
}

// operationID prefers the body value and falls back to the Idempotency-Key header.
func operationID(c *fiber.Ctx, body string) string {
	if body != "" {
		return body
	}
	return c.Get("Idempotency-Key")
}

// Purchase debits the card for a merchant payment.
func (h *Handler) Purchase(c *fiber.Ctx) error {
	var req purchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.orchestrator.Purchase(c.UserContext(), c.Params("id"), operationID(c, req.OperationID), req.Amount, req.Channel, req.Merchant)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(res)
}

// Withdraw debits the card for a cash withdrawal.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req withdrawalRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.orchestrator.Withdraw(c.UserContext(), c.Params("id"), operationID(c, req.OperationID), req.Amount, req.Channel, req.AtmID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(res)
}

// PayCredit pays a credit from the card's funding accounts.
func (h *Handler) PayCredit(c *fiber.Ctx) error {
	var req payCreditRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	op, err := h.saga.PayCredit(c.UserContext(), PayCreditInput{
		CardID:      c.Params("id"),
		OperationID: operationID(c, req.OperationID),
		CreditID:    req.CreditID,
		Amount:      req.Amount,
		Note:        req.Note,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(op.Result)
}
