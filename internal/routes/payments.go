package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/cards/internal/payments"
)

// RegisterPaymentRoutes wires card debit endpoints.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler, idempotent fiber.Handler) {
	r.Post("/cards/:id/purchase", idempotent, h.Purchase)
	r.Post("/cards/:id/withdrawal", idempotent, h.Withdraw)
	r.Post("/cards/:id/pay-credit", idempotent, h.PayCredit)
}
