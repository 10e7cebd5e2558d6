package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/cards/internal/funding"
)

// RegisterFundingRoutes wires endpoints that credit a card's primary account.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler, idempotent fiber.Handler) {
	r.Post("/cards/:id/deposit", idempotent, h.Deposit)
	r.Post("/cards/:id/transfer-in", idempotent, h.TransferIn)
}
