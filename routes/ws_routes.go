package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/123bigmirros/electronic-grave/controllers"
)

func WebSocketRoutes(app fiber.Router, wsController *controllers.WebSocketController) {
	app.Get("/canvas/:id/visitors", wsController.GetVisitors)
	app.Get("/ws/canvas/:id", wsController.RequireUpgrade, websocket.New(wsController.HandleCanvasSocket))
}
