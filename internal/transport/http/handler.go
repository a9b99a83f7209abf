package http

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/withdrawal-service/internal/domain"
	"github.com/sakashimaa/withdrawal-service/internal/service"
	"github.com/sakashimaa/withdrawal-service/pkg/logging"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type WithdrawalHandler struct {
	service  service.WithdrawalService
	validate *validator.Validate
	logger   *zap.Logger
}

func NewWithdrawalHandler(service service.WithdrawalService, logger *zap.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{
		service:  service,
		validate: validator.New(),
		logger:   logger,
	}
}

type withdrawRequest struct {
	AccountID int64  `query:"accountId" form:"accountId" validate:"required,gt=0"`
	Amount    string `query:"amount" form:"amount" validate:"required"`
}

type withdrawResponse struct {
	Body          string `json:"body"`
	TransactionID int64  `json:"transactionId,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Withdraw parses the request, calls the engine once and maps the outcome
// to a transport status. A publish problem can never surface here: the
// handler's answer depends only on the committed debit decision.
func (h *WithdrawalHandler) Withdraw(c *fiber.Ctx) error {
	var req withdrawRequest

	if err := c.QueryParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(withdrawResponse{Body: "Invalid request", Error: err.Error()})
	}
	if req.AccountID == 0 && req.Amount == "" {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(withdrawResponse{Body: "Invalid request", Error: err.Error()})
		}
	}

	if err := h.validate.Struct(req); err != nil {
		logging.Warn(c.UserContext(), h.logger, "Invalid withdrawal request", zap.Error(err))

		return c.Status(fiber.StatusBadRequest).JSON(withdrawResponse{Body: "Invalid request", Error: err.Error()})
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		logging.Warn(c.UserContext(), h.logger, "Unparseable amount", zap.String("amount", req.Amount))

		return c.Status(fiber.StatusBadRequest).JSON(withdrawResponse{Body: "Invalid amount"})
	}

	outcome, err := h.service.Withdraw(c.UserContext(), domain.WithdrawalRequest{
		AccountID: req.AccountID,
		Amount:    amount,
	})
	if err != nil {
		logging.Error(c.UserContext(), h.logger, "Withdrawal failed", zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(withdrawResponse{Body: "Internal Server Error"})
	}

	switch outcome.Code {
	case domain.OutcomeSuccessful:
		return c.Status(fiber.StatusOK).JSON(withdrawResponse{
			Body:          "Withdrawal successful",
			TransactionID: outcome.TransactionID,
		})
	case domain.OutcomeInsufficientFunds:
		return c.Status(fiber.StatusOK).JSON(withdrawResponse{
			Body:          "Insufficient funds for withdrawal",
			TransactionID: outcome.TransactionID,
		})
	case domain.OutcomeAccountNotFound:
		return c.Status(fiber.StatusNotFound).JSON(withdrawResponse{Body: "Account not found"})
	case domain.OutcomeInvalidAmount:
		return c.Status(fiber.StatusBadRequest).JSON(withdrawResponse{Body: "Invalid amount"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(withdrawResponse{Body: "Internal Server Error"})
	}
}
