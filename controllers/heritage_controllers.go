package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	middleware "github.com/123bigmirros/electronic-grave/middlewares"
	service "github.com/123bigmirros/electronic-grave/services"
)

type HeritageController struct {
	svc    *service.CanvasService
	logger zerolog.Logger
}

func NewHeritageController(svc *service.CanvasService, logger zerolog.Logger) *HeritageController {
	return &HeritageController{svc: svc, logger: logger}
}

// GetItems lists the items of a shrine the caller may read.
func (hc *HeritageController) GetItems(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid heritage id"})
	}
	items, err := hc.svc.GetPublicHeritageContent(c.UserContext(), id, middleware.CallerID(c))
	if err != nil {
		return respondError(c, hc.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(items)
}

// Claim tries once to win a private item. Losing is a normal answer. The
// handler stops waiting when the request context ends; the outcome is then
// unknown to the client.
func (hc *HeritageController) Claim(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid heritage id"})
	}
	ctx := c.UserContext()
	pending, err := hc.svc.AttemptPrivateClaimAsync(ctx, id, middleware.CallerID(c))
	if err != nil {
		return respondError(c, hc.logger, err)
	}

	var res service.ClaimResponse
	select {
	case res = <-pending:
	case <-ctx.Done():
		return respondError(c, hc.logger, ctx.Err())
	}
	if res.Err != nil {
		return respondError(c, hc.logger, res.Err)
	}
	item := res.Item
	if item == nil {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"claimed": false})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"claimed": true, "item": item})
}
