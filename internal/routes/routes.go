package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/congo-pay/cards/internal/auth"
	"github.com/congo-pay/cards/internal/cache"
	"github.com/congo-pay/cards/internal/card"
	"github.com/congo-pay/cards/internal/clients"
	"github.com/congo-pay/cards/internal/config"
	"github.com/congo-pay/cards/internal/events"
	"github.com/congo-pay/cards/internal/funding"
	"github.com/congo-pay/cards/internal/ledger"
	"github.com/congo-pay/cards/internal/middleware"
	"github.com/congo-pay/cards/internal/payments"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Mongo  *mongo.Database
	Cache  *redis.Client
	Logger *slog.Logger
}

// Services are the application services shared by the HTTP API and the
// broker worker.
type Services struct {
	Auth    *auth.Service
	Cards   *card.Service
	Debits  *payments.Orchestrator
	Saga    *payments.CreditSaga
	Funding *funding.Service
	// Ledger is set when the downstream services are simulated in memory.
	Ledger *ledger.InMemory
}

// NewServices selects the card store and downstream backends from the
// configuration and builds the services on top of them.
func NewServices(ctx context.Context, d Deps) (*Services, error) {
	repo, err := cardRepository(ctx, d)
	if err != nil {
		return nil, err
	}

	s := &Services{Auth: auth.NewService(d.Cfg)}
	var (
		accounts ledger.Accounts
		history  ledger.History
		credits  ledger.Credits
	)
	if d.Cfg.AccountsURL == "" && d.Cfg.IsDevelopment() {
		s.Ledger = ledger.NewInMemory()
		accounts, history, credits = s.Ledger, s.Ledger, s.Ledger
		d.Logger.Warn("downstream services simulated in memory")
	} else {
		accounts, history, credits = downstreamClients(d)
	}

	var store cache.Cache = cache.Noop{}
	if d.Cache != nil {
		store = cache.NewRedis(d.Cache, d.Logger)
	}

	s.Cards = card.NewService(repo, accounts, history, credits,
		card.WithCache(store, card.CacheTTL{
			Card:           d.Cfg.CardCacheTTL,
			PrimaryBalance: d.Cfg.PrimaryBalanceCacheTTL,
			Movements:      d.Cfg.MovementsCacheTTL,
		}),
		card.WithLogger(d.Logger),
	)
	s.Debits = payments.NewOrchestrator(repo, accounts, history,
		payments.WithKeepLast(d.Cfg.OperationsKeepLast),
		payments.WithInvalidator(s.Cards),
		payments.WithLogger(d.Logger),
	)
	s.Saga = payments.NewCreditSaga(s.Debits, credits)
	s.Funding = funding.NewService(repo, accounts, s.Cards, d.Logger)
	return s, nil
}

func cardRepository(ctx context.Context, d Deps) (card.Repository, error) {
	switch d.Cfg.StoreBackend {
	case config.StorePostgres:
		if d.DB == nil {
			return nil, fmt.Errorf("postgres store selected without a database pool")
		}
		repo := card.NewPostgresRepository(d.DB)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure cards schema: %w", err)
		}
		return repo, nil
	case config.StoreMongo:
		if d.Mongo == nil {
			return nil, fmt.Errorf("mongo store selected without a database")
		}
		repo := card.NewMongoRepository(d.Mongo)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("ensure cards indexes: %w", err)
		}
		return repo, nil
	default:
		return card.NewMemoryRepository(), nil
	}
}

func downstreamClients(d Deps) (*clients.Accounts, *clients.Transactions, *clients.Credits) {
	breaker := clients.BreakerConfig{
		Timeout:             d.Cfg.DownstreamTimeout,
		ConsecutiveFailures: d.Cfg.BreakerConsecutiveFailures,
		OpenTimeout:         d.Cfg.BreakerOpenTimeout,
	}
	httpClient := &http.Client{}
	return clients.NewAccounts(d.Cfg.AccountsURL, httpClient, clients.NewGuard("accounts", breaker, d.Logger)),
		clients.NewTransactions(d.Cfg.TransactionsURL, httpClient, clients.NewGuard("transactions", breaker, d.Logger)),
		clients.NewCredits(d.Cfg.CreditsURL, httpClient, clients.NewGuard("credits", breaker, d.Logger))
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps, s *Services) {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	RegisterAuthRoutes(api, auth.NewHandler(s.Auth), middleware.LoginRateLimit(d.Cache, d.Cfg.LoginMaxPerMin))

	// Protected routes
	protected := api.Group("", middleware.JWTAuth(s.Auth))
	idempotent := middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	RegisterCardRoutes(protected, card.NewHandler(s.Cards))
	RegisterPaymentRoutes(protected, payments.NewHandler(s.Debits, s.Saga), idempotent)
	RegisterFundingRoutes(protected, funding.NewHandler(s.Funding), idempotent)

	if d.Cfg.IsDevelopment() && d.Cfg.AMQPURL == "" {
		RegisterDevQueueRoutes(protected, NewWorkerHandler(d.Cfg, s, events.NewLogPublisher(d.Logger), d.Logger))
	}
}
