package card

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/cards/internal/ledger"
)

// Handler exposes card HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a card HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	CardNumber         string            `json:"cardNumber"`
	CardType           string            `json:"cardType"`
	Brand              string            `json:"brand"`
	CustomerID         string            `json:"customerId"`
	PrimaryAccountID   string            `json:"primaryAccountId"`
	Accounts           []string          `json:"accounts"`
	CreditID           string            `json:"creditId"`
	Status             string            `json:"status"`
	ExpirationDate     *time.Time        `json:"expirationDate"`
	IsVirtual          bool              `json:"isVirtual"`
	PinEnabled         bool              `json:"pinEnabled"`
	ContactlessEnabled bool              `json:"contactlessEnabled"`
	Limits             Limits            `json:"limits"`
	Metadata           map[string]string `json:"metadata"`
}

type updateRequest struct {
	Brand              *string           `json:"brand"`
	Status             *Status           `json:"status"`
	PrimaryAccountID   *string           `json:"primaryAccountId"`
	Accounts           []string          `json:"accounts"`
	CreditID           *string           `json:"creditId"`
	ExpirationDate     *time.Time        `json:"expirationDate"`
	IsVirtual          *bool             `json:"isVirtual"`
	PinEnabled         *bool             `json:"pinEnabled"`
	ContactlessEnabled *bool             `json:"contactlessEnabled"`
	Limits             *Limits           `json:"limits"`
	Metadata           map[string]string `json:"metadata"`
}

type replaceAccountsRequest struct {
	PrimaryAccountID string   `json:"primaryAccountId"`
	Accounts         []string `json:"accounts"`
}

type accountRequest struct {
	AccountID string `json:"accountId"`
}

type reorderRequest struct {
	AccountIDs []string `json:"accountIds"`
}

type cardResponse struct {
	ID                 string            `json:"id"`
	CardNumber         string            `json:"cardNumber"`
	CardType           Kind              `json:"cardType"`
	Brand              string            `json:"brand,omitempty"`
	CustomerID         string            `json:"customerId"`
	PrimaryAccountID   string            `json:"primaryAccountId,omitempty"`
	Accounts           []string          `json:"accounts,omitempty"`
	CreditID           string            `json:"creditId,omitempty"`
	Status             Status            `json:"status"`
	IssueDate          time.Time         `json:"issueDate"`
	ExpirationDate     time.Time         `json:"expirationDate"`
	IsVirtual          bool              `json:"isVirtual"`
	PinEnabled         bool              `json:"pinEnabled"`
	ContactlessEnabled bool              `json:"contactlessEnabled"`
	Limits             Limits            `json:"limits"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreationDate       time.Time         `json:"creationDate"`
	UpdatedDate        time.Time         `json:"updatedDate"`
}

func toResponse(c Card) cardResponse {
	return cardResponse{
		ID:                 c.ID,
		CardNumber:         c.CardNumber,
		CardType:           c.Kind,
		Brand:              c.Brand,
		CustomerID:         c.CustomerID,
		PrimaryAccountID:   c.PrimaryAccountID,
		Accounts:           c.Accounts,
		CreditID:           c.CreditID,
		Status:             c.Status,
		IssueDate:          c.IssueDate,
		ExpirationDate:     c.ExpirationDate,
		IsVirtual:          c.Virtual,
		PinEnabled:         c.PinEnabled,
		ContactlessEnabled: c.ContactlessEnabled,
		Limits:             c.Limits,
		Metadata:           c.Metadata,
		CreationDate:       c.CreatedAt,
		UpdatedDate:        c.UpdatedAt,
	}
}

// Create issues a card.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	card, err := h.service.Create(c.UserContext(), CreateInput{
		CardNumber:         req.CardNumber,
		Kind:               Kind(req.CardType),
		Brand:              req.Brand,
		CustomerID:         req.CustomerID,
		PrimaryAccountID:   req.PrimaryAccountID,
		Accounts:           req.Accounts,
		CreditID:           req.CreditID,
		Status:             Status(req.Status),
		ExpirationDate:     req.ExpirationDate,
		Virtual:            req.IsVirtual,
		PinEnabled:         req.PinEnabled,
		ContactlessEnabled: req.ContactlessEnabled,
		Limits:             req.Limits,
		Metadata:           req.Metadata,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(card))
}

// List returns all cards, optionally filtered by customerId.
func (h *Handler) List(c *fiber.Ctx) error {
	var (
		cards []Card
		err   error
	)
	if customerID := c.Query("customerId"); customerID != "" {
		cards, err = h.service.ListByCustomer(c.UserContext(), customerID)
	} else {
		cards, err = h.service.List(c.UserContext())
	}
	if err != nil {
		return err
	}
	out := make([]cardResponse, 0, len(cards))
	for _, card := range cards {
		out = append(out, toResponse(card))
	}
	return c.Status(http.StatusOK).JSON(out)
}

// Get returns a card by id.
func (h *Handler) Get(c *fiber.Ctx) error {
	card, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(card))
}

// Update modifies card attributes.
func (h *Handler) Update(c *fiber.Ctx) error {
	var req updateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	card, err := h.service.Update(c.UserContext(), c.Params("id"), UpdateInput{
		Brand:              req.Brand,
		Status:             req.Status,
		PrimaryAccountID:   req.PrimaryAccountID,
		Accounts:           req.Accounts,
		CreditID:           req.CreditID,
		ExpirationDate:     req.ExpirationDate,
		Virtual:            req.IsVirtual,
		PinEnabled:         req.PinEnabled,
		ContactlessEnabled: req.ContactlessEnabled,
		Limits:             req.Limits,
		Metadata:           req.Metadata,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(card))
}

// Delete removes a card.
func (h *Handler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// ReplaceAccounts sets the primary account and funding list.
func (h *Handler) ReplaceAccounts(c *fiber.Ctx) error {
	var req replaceAccountsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	card, err := h.service.ReplaceAccounts(c.UserContext(), c.Params("id"), req.PrimaryAccountID, req.Accounts)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(card))
}

// AddAccount links an account.
func (h *Handler) AddAccount(c *fiber.Ctx) error {
	var req accountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	card, err := h.service.AddAccount(c.UserContext(), c.Params("id"), req.AccountID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(card))
}

// RemoveAccount unlinks an account.
func (h *Handler) RemoveAccount(c *fiber.Ctx) error {
	card, err := h.service.RemoveAccount(c.UserContext(), c.Params("id"), c.Params("accountId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(card))
}

// ReorderAccounts changes the funding order.
func (h *Handler) ReorderAccounts(c *fiber.Ctx) error {
	var req reorderRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	card, err := h.service.ReorderAccounts(c.UserContext(), c.Params("id"), req.AccountIDs)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(card))
}

// SetPrimaryAccount promotes a linked account.
func (h *Handler) SetPrimaryAccount(c *fiber.Ctx) error {
	var req accountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	card, err := h.service.SetPrimaryAccount(c.UserContext(), c.Params("id"), req.AccountID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(card))
}

// SetLimits replaces the card limits.
func (h *Handler) SetLimits(c *fiber.Ctx) error {
	var req Limits
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	card, err := h.service.SetLimits(c.UserContext(), c.Params("id"), req)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(card))
}

// PrimaryBalance returns the primary account balance.
func (h *Handler) PrimaryBalance(c *fiber.Ctx) error {
	pb, err := h.service.PrimaryBalance(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(pb)
}

// Movements returns recent movements; limit defaults to 10 and is capped at 100.
func (h *Handler) Movements(c *fiber.Ctx) error {
	txs, err := h.service.Movements(c.UserContext(), c.Params("id"), c.QueryInt("limit", 0))
	if err != nil {
		return err
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	return c.Status(http.StatusOK).JSON(txs)
}
