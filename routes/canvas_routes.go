package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/123bigmirros/electronic-grave/controllers"
)

func CanvasRoutes(app fiber.Router, canvasController *controllers.CanvasController, heritageController *controllers.HeritageController) {
	app.Post("/canvas", canvasController.SaveCanvas)
	app.Get("/canvas/:id", canvasController.GetCanvasByID)
	app.Delete("/canvas/:id", canvasController.DeleteCanvasByID)
	app.Get("/canvases/mine", canvasController.GetOwnedCanvases)
	app.Get("/canvases/public", canvasController.GetPublicCanvases)

	app.Get("/heritage/:id/items", heritageController.GetItems)
	app.Post("/heritage/:id/claim", heritageController.Claim)
}

func UploadRoutes(app fiber.Router, uploadController *controllers.UploadController, dir string) {
	app.Post("/upload", uploadController.UploadImage)
	app.Static("/uploads", dir)
}
