package controller

import (
	"support-chat-be/internal/entity"
	"support-chat-be/internal/pkg/serverutils"
	"support-chat-be/internal/service"
	"support-chat-be/pkg/dto"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type ISupportController interface {
	RegisterRoutes(r fiber.Router)
	CreateSession(ctx *fiber.Ctx) error
	AttachIntake(ctx *fiber.Ctx) error
	SendMessage(ctx *fiber.Ctx) error
	GetMessages(ctx *fiber.Ctx) error
	GetStatus(ctx *fiber.Ctx) error
	CloseSession(ctx *fiber.Ctx) error
}

type supportController struct {
	service service.IChatService
}

func NewSupportController(service service.IChatService) ISupportController {
	return &supportController{service: service}
}

func (c *supportController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/support/v1/sessions")
	h.Post("", c.CreateSession)
	h.Put(":id/intake", c.AttachIntake)
	h.Post(":id/messages", c.SendMessage)
	h.Get(":id/messages", c.GetMessages)
	h.Get(":id/status", c.GetStatus)
	h.Post(":id/close", c.CloseSession)
}

func sessionID(ctx *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "Invalid session id")
	}
	return id, nil
}

func (c *supportController) CreateSession(ctx *fiber.Ctx) error {
	var req dto.CreateSessionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.CreateOrResume(ctx.Context(), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success open support session", res))
}

func (c *supportController) AttachIntake(ctx *fiber.Ctx) error {
	id, err := sessionID(ctx)
	if err != nil {
		return err
	}

	var req dto.IntakeRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.AttachIntake(ctx.Context(), id, &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success attach intake", res))
}

func (c *supportController) SendMessage(ctx *fiber.Ctx) error {
	id, err := sessionID(ctx)
	if err != nil {
		return err
	}

	var req dto.SendMessageRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	msg, err := c.service.SendVisitorMessage(ctx.Context(), id, req.Text)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success send message", dto.MessageResponse{
		Id:         msg.Id,
		SessionId:  msg.SessionId,
		SenderType: string(msg.SenderType),
		Text:       msg.Text,
		Seq:        msg.Seq,
		CreatedAt:  msg.CreatedAt,
	}))
}

func (c *supportController) GetMessages(ctx *fiber.Ctx) error {
	id, err := sessionID(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.RecentMessages(ctx.Context(), id, ctx.QueryInt("limit", 0))
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get messages", res))
}

func (c *supportController) GetStatus(ctx *fiber.Ctx) error {
	id, err := sessionID(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.Status(ctx.Context(), id)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get status", res))
}

func (c *supportController) CloseSession(ctx *fiber.Ctx) error {
	id, err := sessionID(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.CloseSession(ctx.Context(), id, entity.ClosedByVisitor)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success close session", res))
}
