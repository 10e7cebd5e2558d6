package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/cards/internal/card"
)

// RegisterCardRoutes wires card lifecycle and account association endpoints.
func RegisterCardRoutes(r fiber.Router, h *card.Handler) {
	cards := r.Group("/cards")
	cards.Post("/", h.Create)
	cards.Get("/", h.List)
	cards.Get("/:id", h.Get)
	cards.Put("/:id", h.Update)
	cards.Delete("/:id", h.Delete)

	cards.Put("/:id/accounts", h.ReplaceAccounts)
	cards.Post("/:id/accounts", h.AddAccount)
	cards.Put("/:id/accounts/order", h.ReorderAccounts)
	cards.Delete("/:id/accounts/:accountId", h.RemoveAccount)
	cards.Put("/:id/primary-account", h.SetPrimaryAccount)
	cards.Put("/:id/limits", h.SetLimits)

	cards.Get("/:id/primary-balance", h.PrimaryBalance)
	cards.Get("/:id/movements", h.Movements)
}
