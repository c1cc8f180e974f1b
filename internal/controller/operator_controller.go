package controller

import (
	"crypto/subtle"

	"support-chat-be/internal/bridge"
	"support-chat-be/internal/pkg/logger"
	"support-chat-be/internal/pkg/serverutils"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"
)

type IOperatorController interface {
	RegisterRoutes(r fiber.Router)
	Webhook(ctx *fiber.Ctx) error
}

type operatorController struct {
	bridge        *bridge.Bridge
	secret        string
	requireSecret bool
	logger        logger.ILogger
}

// NewOperatorController serves the operator webhook. With requireSecret set
// and no secret configured the webhook is not registered at all.
func NewOperatorController(b *bridge.Bridge, secret string, requireSecret bool, log logger.ILogger) IOperatorController {
	return &operatorController{bridge: b, secret: secret, requireSecret: requireSecret, logger: log}
}

func (c *operatorController) RegisterRoutes(r fiber.Router) {
	if c.secret == "" {
		if c.requireSecret {
			c.logger.Error("OperatorController", "Webhook disabled, TELEGRAM_WEBHOOK_SECRET is not set", nil)
			return
		}
		c.logger.Warn("OperatorController", "Webhook accepts unsigned updates, set TELEGRAM_WEBHOOK_SECRET", nil)
	}

	h := r.Group("/support/v1/operator")
	h.Post("/webhook", c.Webhook)
}

// Webhook acknowledges every well-formed update, routed or not, so the
// platform does not redeliver it.
func (c *operatorController) Webhook(ctx *fiber.Ctx) error {
	if c.secret != "" && subtle.ConstantTimeCompare([]byte(ctx.Get(bridge.SecretHeader)), []byte(c.secret)) != 1 {
		return ctx.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(fiber.StatusUnauthorized, "Invalid webhook secret"))
	}

	var update tgbotapi.Update
	if err := ctx.BodyParser(&update); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid update")
	}

	if u, ok := bridge.FromTelegram(update); ok {
		c.bridge.HandleUpdate(ctx.UserContext(), u)
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("OK", nil))
}
