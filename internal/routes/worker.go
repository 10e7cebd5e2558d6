package routes

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/cards/internal/config"
	"github.com/congo-pay/cards/internal/events"
	"github.com/congo-pay/cards/internal/worker"
)

// Queues returns the configured request queue names.
func Queues(cfg config.Config) worker.Queues {
	return worker.Queues{
		DebitRequested:  cfg.QueueDebitRequested,
		CreditRequested: cfg.QueueCreditRequested,
		LinkRequested:   cfg.QueueLinkRequested,
	}
}

// Topics returns the configured event topic names.
func Topics(cfg config.Config) events.Topics {
	return events.Topics{
		OperationApplied:      cfg.TopicApplied,
		OperationDenied:       cfg.TopicDenied,
		PrimaryBalanceUpdated: cfg.TopicBalanceUpdated,
		LinkResult:            cfg.TopicLinkResult,
	}
}

// NewWorkerHandler builds the broker message handler on top of s.
func NewWorkerHandler(cfg config.Config, s *Services, publisher events.Publisher, logger *slog.Logger) *worker.Handler {
	return worker.NewHandler(Queues(cfg), s.Debits, s.Funding, s.Cards, publisher, Topics(cfg), logger)
}

// RegisterDevQueueRoutes lets a developer without a broker feed request
// messages straight into the worker handler. Events go to the log.
func RegisterDevQueueRoutes(r fiber.Router, h *worker.Handler) {
	r.Post("/dev/queues/:queue", func(c *fiber.Ctx) error {
		err := h.Handle(c.UserContext(), c.Params("queue"), c.Body())
		if errors.Is(err, worker.ErrMalformedMessage) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if err != nil {
			return err
		}
		return c.SendStatus(http.StatusAccepted)
	})
}
