package controller

import (
	"support-chat-be/internal/entity"
	"support-chat-be/internal/pkg/serverutils"
	"support-chat-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IAdminController interface {
	RegisterRoutes(r fiber.Router)
	GetQueue(ctx *fiber.Ctx) error
	CloseSession(ctx *fiber.Ctx) error
}

type adminController struct {
	service   service.IChatService
	jwtSecret string
}

func NewAdminController(service service.IChatService, jwtSecret string) IAdminController {
	return &adminController{service: service, jwtSecret: jwtSecret}
}

func (c *adminController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/support/v1/admin")
	h.Use(serverutils.JwtMiddleware(c.jwtSecret), serverutils.RequireRole("admin"))
	h.Get("/queue", c.GetQueue)
	h.Post("/sessions/:id/close", c.CloseSession)
}

func (c *adminController) GetQueue(ctx *fiber.Ctx) error {
	res, err := c.service.QueueSnapshot(ctx.Context())
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get queue", res))
}

func (c *adminController) CloseSession(ctx *fiber.Ctx) error {
	id, err := sessionID(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.CloseSession(ctx.Context(), id, entity.ClosedByAdmin)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success close session", res))
}
