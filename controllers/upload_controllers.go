package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	middleware "github.com/123bigmirros/electronic-grave/middlewares"
	service "github.com/123bigmirros/electronic-grave/services"
)

type UploadController struct {
	svc    *service.UploadService
	logger zerolog.Logger
}

func NewUploadController(svc *service.UploadService, logger zerolog.Logger) *UploadController {
	return &UploadController{svc: svc, logger: logger}
}

// UploadImage stores the multipart field "file" and answers with its URL.
func (uc *UploadController) UploadImage(c *fiber.Ctx) error {
	if middleware.CallerID(c) <= 0 {
		return respondError(c, uc.logger, service.ErrUnauthenticated)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing file"})
	}
	url, err := uc.svc.SaveImage(fh)
	if err != nil {
		return respondError(c, uc.logger, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"url": url})
}
