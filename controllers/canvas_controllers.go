package controllers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	middleware "github.com/123bigmirros/electronic-grave/middlewares"
	"github.com/123bigmirros/electronic-grave/models"
	"github.com/123bigmirros/electronic-grave/repository"
	service "github.com/123bigmirros/electronic-grave/services"
)

type CanvasController struct {
	svc    *service.CanvasService
	logger zerolog.Logger
}

func NewCanvasController(svc *service.CanvasService, logger zerolog.Logger) *CanvasController {
	return &CanvasController{svc: svc, logger: logger}
}

func paramID(c *fiber.Ctx, name string) (int64, error) {
	return strconv.ParseInt(c.Params(name), 10, 64)
}

// respondError maps service and storage errors onto HTTP statuses. Only
// unexpected failures are logged.
func respondError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Login required"})
	case errors.Is(err, repository.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	case errors.Is(err, service.ErrInvalidCanvas):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, service.ErrUnsupportedMedia):
		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, service.ErrClaimTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{"error": "Claim outcome unknown, try again later"})
	default:
		logger.Error().Err(err).Str("path", c.Path()).Str("method", c.Method()).Msg("request failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
}

// SaveCanvas creates a canvas when the payload carries no id and replaces the
// stored one otherwise.
func (cc *CanvasController) SaveCanvas(c *fiber.Ctx) error {
	var canvas models.Canvas
	if err := c.BodyParser(&canvas); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid JSON"})
	}

	created := canvas.IsNew()
	id, err := cc.svc.SaveCanvas(c.UserContext(), &canvas, middleware.CallerID(c))
	if err != nil {
		return respondError(c, cc.logger, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"id": id})
}

// GetCanvasByID returns a canvas. ?view=owner restricts the lookup to the
// caller's own canvases and returns every item in full.
func (cc *CanvasController) GetCanvasByID(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid canvas id"})
	}
	requireOwnership := c.Query("view") == "owner"
	canvas, err := cc.svc.GetByID(c.UserContext(), id, middleware.CallerID(c), requireOwnership)
	if err != nil {
		return respondError(c, cc.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(canvas)
}

func (cc *CanvasController) GetOwnedCanvases(c *fiber.Ctx) error {
	canvases, err := cc.svc.ListOwned(c.UserContext(), middleware.CallerID(c))
	if err != nil {
		return respondError(c, cc.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(canvases)
}

func (cc *CanvasController) GetPublicCanvases(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	canvases, err := cc.svc.ListPublic(c.UserContext(), middleware.CallerID(c), limit)
	if err != nil {
		return respondError(c, cc.logger, err)
	}
	if canvases == nil {
		canvases = []models.Canvas{}
	}
	return c.Status(fiber.StatusOK).JSON(canvases)
}

// DeleteCanvasByID removes a canvas, or only its content with ?contentOnly=true.
func (cc *CanvasController) DeleteCanvasByID(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid canvas id"})
	}
	contentOnly := c.QueryBool("contentOnly", false)
	if err := cc.svc.DeleteCanvas(c.UserContext(), id, middleware.CallerID(c), contentOnly); err != nil {
		return respondError(c, cc.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "success"})
}
