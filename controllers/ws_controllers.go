package controllers

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	middleware "github.com/123bigmirros/electronic-grave/middlewares"
	"github.com/123bigmirros/electronic-grave/models"
	service "github.com/123bigmirros/electronic-grave/services"
)

// WebSocketController tracks who is looking at a canvas.
type WebSocketController struct {
	visitors *service.VisitorService
	logger   zerolog.Logger
}

func NewWebSocketController(visitors *service.VisitorService, logger zerolog.Logger) *WebSocketController {
	return &WebSocketController{visitors: visitors, logger: logger}
}

// RequireUpgrade rejects plain HTTP requests on websocket routes.
func (wsc *WebSocketController) RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// HandleCanvasSocket registers the connection as a visitor of /ws/canvas/:id
// until the client goes away. The server only pushes; incoming frames are
// read to notice the disconnect.
func (wsc *WebSocketController) HandleCanvasSocket(c *websocket.Conn) {
	defer c.Close()

	canvasID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		wsc.logger.Debug().Str("id", c.Params("id")).Msg("invalid canvas id on socket")
		return
	}
	caller, ok := c.Locals(middleware.CallerLocal).(int64)
	if !ok {
		caller = models.AnonymousUserID
	}

	visitor := models.Visitor{
		SessionID: uuid.NewString(),
		UserID:    caller,
		Name:      c.Query("name", "anonymous"),
		Color:     c.Query("color"),
	}
	ctx := context.Background()
	if err := wsc.visitors.Join(ctx, canvasID, c, visitor); err != nil {
		wsc.logger.Error().Err(err).Int64("canvas_id", canvasID).Msg("join canvas")
		return
	}
	defer func() {
		if err := wsc.visitors.Leave(ctx, canvasID, c, visitor.SessionID); err != nil {
			wsc.logger.Error().Err(err).Int64("canvas_id", canvasID).Msg("leave canvas")
		}
	}()

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func (wsc *WebSocketController) GetVisitors(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid canvas id"})
	}
	visitors, err := wsc.visitors.Visitors(c.UserContext(), id)
	if err != nil {
		return respondError(c, wsc.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(visitors)
}
