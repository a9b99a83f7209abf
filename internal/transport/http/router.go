package http

import "github.com/gofiber/fiber/v2"

func RegisterRoutes(app *fiber.App, h *WithdrawalHandler) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	bank := app.Group("/bank")
	bank.Post("/withdraw", h.Withdraw)
}
