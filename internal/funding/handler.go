package funding

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes HTTP endpoints for crediting cards.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Deposit credits the card's primary account.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req DepositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.OperationID == "" {
		req.OperationID = c.Get("Idempotency-Key")
	}

	result, err := h.service.Deposit(c.UserContext(), DepositInput{
		CardID:      c.Params("id"),
		OperationID: req.OperationID,
		Amount:      req.Amount,
		Channel:     req.Channel,
		Description: req.Description,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(result)
}

// TransferIn credits an incoming transfer.
func (h *Handler) TransferIn(c *fiber.Ctx) error {
	var req TransferInRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.OperationID == "" {
		req.OperationID = c.Get("Idempotency-Key")
	}

	res, err := h.service.TransferIn(c.UserContext(), c.Params("id"), req.OperationID, req.Amount, req.Metadata)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(TransferInResponse{
		Applied:    res.Applied,
		NewBalance: res.NewBalance,
		Message:    res.Message,
	})
}
