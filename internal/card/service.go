package card

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/cards/internal/apperr"
	"github.com/congo-pay/cards/internal/cache"
	"github.com/congo-pay/cards/internal/ledger"
)

const (
	maxSaveAttempts      = 3
	defaultMovementLimit = 10
	maxMovementLimit     = 100
)

// CacheTTL configures how long read models stay cached.
type CacheTTL struct {
	Card           time.Duration
	PrimaryBalance time.Duration
	Movements      time.Duration
}

// DefaultCacheTTL mirrors the production defaults.
var DefaultCacheTTL = CacheTTL{
	Card:           5 * time.Minute,
	PrimaryBalance: 30 * time.Second,
	Movements:      45 * time.Second,
}

// Service manages the card lifecycle and its funding-account associations.
type Service struct {
	repo     Repository
	accounts ledger.Accounts
	history  ledger.History
	credits  ledger.Credits
	cache    cache.Cache
	ttl      CacheTTL
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithCache enables cache-aside reads.
func WithCache(c cache.Cache, ttl CacheTTL) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
		s.ttl = ttl
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a card service instance.
func NewService(repo Repository, accounts ledger.Accounts, history ledger.History, credits ledger.Credits, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		accounts: accounts,
		history:  history,
		credits:  credits,
		cache:    cache.Noop{},
		ttl:      DefaultCacheTTL,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput captures data required to issue a card.
type CreateInput struct {
	CardNumber         string
	Kind               Kind
	Brand              string
	CustomerID         string
	PrimaryAccountID   string
	Accounts           []string
	CreditID           string
	Status             Status
	ExpirationDate     *time.Time
	Virtual            bool
	PinEnabled         bool
	ContactlessEnabled bool
	Limits             Limits
	Metadata           map[string]string
}

// Create issues a card. Customers with overdue debt are rejected; DEBIT
// cards need an existing active primary account and CREDIT cards a credit id.
func (s *Service) Create(ctx context.Context, in CreateInput) (Card, error) {
	kind := Kind(strings.ToUpper(string(in.Kind)))
	if kind != KindDebit && kind != KindCredit {
		return Card{}, ErrInvalidKind
	}
	if in.CustomerID == "" {
		return Card{}, ErrCustomerRequired
	}
	status := in.Status
	if status == "" {
		status = StatusActive
	}
	if !status.Valid() {
		return Card{}, ErrInvalidStatus
	}
	if in.CardNumber != "" && !ValidNumber(in.CardNumber) {
		return Card{}, apperr.New(apperr.ErrInvalidArgument, "cardNumber is not a valid card number")
	}

	if err := s.checkOverdue(ctx, in.CustomerID); err != nil {
		return Card{}, err
	}

	now := s.now()
	c := Card{
		ID:                 uuid.NewString(),
		CardNumber:         in.CardNumber,
		Kind:               kind,
		Brand:              in.Brand,
		CustomerID:         in.CustomerID,
		Status:             status,
		IssueDate:          now,
		Virtual:            in.Virtual,
		PinEnabled:         in.PinEnabled,
		ContactlessEnabled: in.ContactlessEnabled,
		Limits:             in.Limits,
		Metadata:           in.Metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	switch kind {
	case KindDebit:
		if in.PrimaryAccountID == "" {
			return Card{}, ErrPrimaryRequired
		}
		if err := s.requireActiveAccount(ctx, in.PrimaryAccountID); err != nil {
			return Card{}, err
		}
		c.PrimaryAccountID = in.PrimaryAccountID
		c.Accounts = NormalizeAccounts(in.PrimaryAccountID, in.Accounts)
	case KindCredit:
		if in.CreditID == "" {
			return Card{}, ErrCreditIDRequired
		}
		c.CreditID = in.CreditID
	}

	if c.CardNumber == "" {
		number, err := GenerateNumber(kind)
		if err != nil {
			return Card{}, err
		}
		c.CardNumber = number
	}
	if in.ExpirationDate != nil {
		c.ExpirationDate = in.ExpirationDate.UTC()
	} else {
		c.ExpirationDate = ExpirationFor(kind, now)
	}

	saved, err := s.repo.Save(ctx, c)
	if err != nil {
		return Card{}, err
	}
	s.logger.Info("card issued", slog.String("card_id", saved.ID), slog.String("card_type", string(kind)), slog.String("customer_id", saved.CustomerID))
	return saved, nil
}

func (s *Service) checkOverdue(ctx context.Context, customerID string) error {
	status, err := s.credits.OverdueStatus(ctx, customerID)
	if errors.Is(err, ledger.ErrCustomerNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check overdue debt: %w", err)
	}
	if status.HasOverdue {
		return ErrOverdueDebt
	}
	return nil
}

func (s *Service) requireActiveAccount(ctx context.Context, accountID string) error {
	acc, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if !acc.IsActive() {
		return ErrAccountInactive
	}
	return nil
}

// Get retrieves a card, served from cache when possible.
func (s *Service) Get(ctx context.Context, id string) (Card, error) {
	var c Card
	if s.cache.GetJSON(ctx, cache.CardKey(id), &c) {
		return c, nil
	}
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return Card{}, err
	}
	s.cache.SetJSON(ctx, cache.CardKey(id), c, s.ttl.Card)
	return c, nil
}

// List returns every card.
func (s *Service) List(ctx context.Context) ([]Card, error) {
	return s.repo.List(ctx)
}

// ListByCustomer returns the cards issued to customerID.
func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]Card, error) {
	return s.repo.ListByCustomer(ctx, customerID)
}

// UpdateInput carries the mutable card attributes. Nil fields are left unchanged.
type UpdateInput struct {
	Brand              *string
	Status             *Status
	PrimaryAccountID   *string
	Accounts           []string
	CreditID           *string
	ExpirationDate     *time.Time
	Virtual            *bool
	PinEnabled         *bool
	ContactlessEnabled *bool
	Limits             *Limits
	Metadata           map[string]string
}

// Update modifies card attributes, keeping its operation ledger.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (Card, error) {
	return s.mutate(ctx, id, func(c *Card) error {
		if in.Status != nil {
			if !in.Status.Valid() {
				return ErrInvalidStatus
			}
			c.Status = *in.Status
		}
		if in.Brand != nil {
			c.Brand = *in.Brand
		}
		if in.ExpirationDate != nil {
			c.ExpirationDate = in.ExpirationDate.UTC()
		}
		if in.Virtual != nil {
			c.Virtual = *in.Virtual
		}
		if in.PinEnabled != nil {
			c.PinEnabled = *in.PinEnabled
		}
		if in.ContactlessEnabled != nil {
			c.ContactlessEnabled = *in.ContactlessEnabled
		}
		if in.Limits != nil {
			c.Limits = *in.Limits
		}
		if in.Metadata != nil {
			c.Metadata = in.Metadata
		}

		switch c.Kind {
		case KindDebit:
			primary := c.PrimaryAccountID
			if in.PrimaryAccountID != nil {
				primary = *in.PrimaryAccountID
			}
			if primary == "" {
				return ErrPrimaryRequired
			}
			if primary != c.PrimaryAccountID {
				if err := s.requireActiveAccount(ctx, primary); err != nil {
					return err
				}
			}
			accounts := c.Accounts
			if in.Accounts != nil {
				accounts = in.Accounts
			}
			c.PrimaryAccountID = primary
			c.Accounts = NormalizeAccounts(primary, accounts)
		case KindCredit:
			if in.CreditID != nil {
				if *in.CreditID == "" {
					return ErrCreditIDRequired
				}
				c.CreditID = *in.CreditID
			}
		}
		return nil
	})
}

// SetLimits replaces the card spending limits.
func (s *Service) SetLimits(ctx context.Context, id string, limits Limits) (Card, error) {
	if limits.WithdrawalLimit.Valid && limits.WithdrawalLimit.Decimal.IsNegative() {
		return Card{}, apperr.New(apperr.ErrInvalidArgument, "withdrawal limit must not be negative")
	}
	return s.mutate(ctx, id, func(c *Card) error {
		c.Limits = limits
		return nil
	})
}

// Delete removes a card.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.Invalidate(ctx, id)
	return nil
}

// ReplaceAccounts sets the primary account and the full funding list. Every
// account must exist and the primary must be part of the list.
func (s *Service) ReplaceAccounts(ctx context.Context, id, primary string, accounts []string) (Card, error) {
	if len(accounts) == 0 {
		return Card{}, ErrAccountsRequired
	}
	return s.mutate(ctx, id, func(c *Card) error {
		if c.Kind != KindDebit {
			return ErrNotDebitCard
		}
		if primary == "" || !contains(accounts, primary) {
			return ErrPrimaryNotIncluded
		}
		for _, accID := range NormalizeAccounts(primary, accounts) {
			acc, err := s.accounts.GetAccount(ctx, accID)
			if err != nil {
				return err
			}
			if accID == primary && !acc.IsActive() {
				return ErrAccountInactive
			}
		}
		c.PrimaryAccountID = primary
		c.Accounts = NormalizeAccounts(primary, accounts)
		return nil
	})
}

// AddAccount links an existing active account to the card.
func (s *Service) AddAccount(ctx context.Context, id, accountID string) (Card, error) {
	if accountID == "" {
		return Card{}, apperr.New(apperr.ErrInvalidArgument, "accountId is required")
	}
	return s.mutate(ctx, id, func(c *Card) error {
		if c.Kind != KindDebit {
			return ErrNotDebitCard
		}
		if err := s.requireActiveAccount(ctx, accountID); err != nil {
			return err
		}
		c.Accounts = NormalizeAccounts(c.PrimaryAccountID, append(c.Accounts, accountID))
		return nil
	})
}

// RemoveAccount unlinks a secondary account. The primary cannot be removed.
func (s *Service) RemoveAccount(ctx context.Context, id, accountID string) (Card, error) {
	return s.mutate(ctx, id, func(c *Card) error {
		if c.Kind != KindDebit {
			return ErrNotDebitCard
		}
		if accountID == c.PrimaryAccountID {
			return ErrCannotRemovePrimary
		}
		kept := make([]string, 0, len(c.Accounts))
		for _, a := range c.Accounts {
			if a != accountID {
				kept = append(kept, a)
			}
		}
		c.Accounts = NormalizeAccounts(c.PrimaryAccountID, kept)
		return nil
	})
}

// ReorderAccounts sets the funding order. The primary must be listed and
// always ends up first.
func (s *Service) ReorderAccounts(ctx context.Context, id string, order []string) (Card, error) {
	if len(order) == 0 {
		return Card{}, ErrAccountsRequired
	}
	return s.mutate(ctx, id, func(c *Card) error {
		if c.Kind != KindDebit {
			return ErrNotDebitCard
		}
		if !contains(order, c.PrimaryAccountID) {
			return ErrPrimaryNotIncluded
		}
		c.Accounts = NormalizeAccounts(c.PrimaryAccountID, order)
		return nil
	})
}

// SetPrimaryAccount promotes an already linked, active account to primary.
func (s *Service) SetPrimaryAccount(ctx context.Context, id, accountID string) (Card, error) {
	return s.mutate(ctx, id, func(c *Card) error {
		if c.Kind != KindDebit {
			return ErrNotDebitCard
		}
		if !contains(c.Accounts, accountID) {
			return ErrAccountNotLinked
		}
		if err := s.requireActiveAccount(ctx, accountID); err != nil {
			return err
		}
		c.PrimaryAccountID = accountID
		c.Accounts = NormalizeAccounts(accountID, c.Accounts)
		return nil
	})
}

// mutate loads the card, applies fn and saves it, retrying on concurrent
// modification. fn errors leave the stored card untouched.
func (s *Service) mutate(ctx context.Context, id string, fn func(*Card) error) (Card, error) {
	for attempt := 1; ; attempt++ {
		c, err := s.repo.Get(ctx, id)
		if err != nil {
			return Card{}, err
		}
		if err := fn(&c); err != nil {
			return Card{}, err
		}
		c.UpdatedAt = s.now()

		saved, err := s.repo.Save(ctx, c)
		if errors.Is(err, ErrVersionConflict) && attempt < maxSaveAttempts {
			s.logger.Debug("card version conflict, retrying", slog.String("card_id", id), slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return Card{}, err
		}
		s.Invalidate(ctx, id)
		return saved, nil
	}
}

// Invalidate drops every cached read model of the card.
func (s *Service) Invalidate(ctx context.Context, cardID string) {
	s.cache.Delete(ctx, cache.CardKeys(cardID)...)
}

// PrimaryBalance returns the balance of the card's primary account.
func (s *Service) PrimaryBalance(ctx context.Context, id string) (PrimaryBalance, error) {
	var pb PrimaryBalance
	if s.cache.GetJSON(ctx, cache.PrimaryBalanceKey(id), &pb) {
		return pb, nil
	}

	c, err := s.Get(ctx, id)
	if err != nil {
		return PrimaryBalance{}, err
	}
	if c.PrimaryAccountID == "" {
		return PrimaryBalance{}, ErrNoPrimaryAccount
	}
	acc, err := s.accounts.GetAccount(ctx, c.PrimaryAccountID)
	if err != nil {
		return PrimaryBalance{}, err
	}

	pb = PrimaryBalance{CardID: c.ID, AccountID: acc.ID, Balance: decimal.Zero}
	if pb.AccountID == "" {
		pb.AccountID = c.PrimaryAccountID
	}
	if acc.Balance.Valid {
		pb.Balance = acc.Balance.Decimal
	}
	s.cache.SetJSON(ctx, cache.PrimaryBalanceKey(id), pb, s.ttl.PrimaryBalance)
	return pb, nil
}

// ClampMovementLimit applies the default and the upper bound to limit.
func ClampMovementLimit(limit int) int {
	switch {
	case limit < 1:
		return defaultMovementLimit
	case limit > maxMovementLimit:
		return maxMovementLimit
	default:
		return limit
	}
}

// Movements returns the most recent transactions of the products behind a
// card, newest first. DEBIT cards merge all linked accounts; CREDIT cards
// read the credit product.
func (s *Service) Movements(ctx context.Context, id string, limit int) ([]ledger.Transaction, error) {
	limit = ClampMovementLimit(limit)

	var cached []ledger.Transaction
	if s.cache.GetJSON(ctx, cache.MovementsKey(id), &cached) {
		return head(cached, limit), nil
	}

	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var products []string
	if c.Kind == KindCredit {
		if c.CreditID != "" {
			products = []string{c.CreditID}
		}
	} else {
		products = c.FundingAccounts()
	}

	results := make([][]ledger.Transaction, len(products))
	g, gctx := errgroup.WithContext(ctx)
	for i, product := range products {
		i, product := i, product
		g.Go(func() error {
			txs, err := s.history.FindByProduct(gctx, product)
			if err != nil {
				return fmt.Errorf("movements of %s: %w", product, err)
			}
			results[i] = txs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergeMovements(results)
	s.cache.SetJSON(ctx, cache.MovementsKey(id), merged, s.ttl.Movements)
	return head(merged, limit), nil
}

func mergeMovements(groups [][]ledger.Transaction) []ledger.Transaction {
	seen := make(map[string]struct{})
	var out []ledger.Transaction
	for _, txs := range groups {
		for _, tx := range txs {
			if tx.ID != "" {
				if _, dup := seen[tx.ID]; dup {
					continue
				}
				seen[tx.ID] = struct{}{}
			}
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].CreatedDate, out[j].CreatedDate
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return head(out, maxMovementLimit)
}

func head(txs []ledger.Transaction, n int) []ledger.Transaction {
	if len(txs) > n {
		return txs[:n]
	}
	return txs
}
