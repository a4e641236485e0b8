package server

import (
	fiberprometheus "github.com/ansrivas/fiberprometheus/v2"
	adaptor "github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/123bigmirros/electronic-grave/controllers"
	middleware "github.com/123bigmirros/electronic-grave/middlewares"
	"github.com/123bigmirros/electronic-grave/routes"
	service "github.com/123bigmirros/electronic-grave/services"
	"github.com/123bigmirros/electronic-grave/utils"
)

type HTTPConfig struct {
	ServiceName       string
	AllowOrigins      string
	BodyLimit         int
	TrustUserIDHeader bool

	Canvases *service.CanvasService
	Uploads  *service.UploadService
	// Visitors is nil when no Redis is configured; the presence routes are
	// then not mounted.
	Visitors *service.VisitorService
	Keys     *utils.PublicKeyStore
	Registry *prometheus.Registry
	Logger   zerolog.Logger
}

// NewHTTPApp assembles the fiber application with every route mounted.
func NewHTTPApp(cfg HTTPConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
	})

	if cfg.Registry != nil {
		p := fiberprometheus.NewWithRegistry(cfg.Registry, cfg.ServiceName, "http", "", nil)
		app.Use(p.Middleware)
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})))
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization," + middleware.UserIDHeader,
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "UP",
		})
	})

	app.Use(middleware.JWTParser(middleware.IdentityConfig{
		Keys:              cfg.Keys,
		TrustUserIDHeader: cfg.TrustUserIDHeader,
	}))

	routes.CanvasRoutes(app,
		controllers.NewCanvasController(cfg.Canvases, cfg.Logger),
		controllers.NewHeritageController(cfg.Canvases, cfg.Logger),
	)
	if cfg.Uploads != nil {
		routes.UploadRoutes(app, controllers.NewUploadController(cfg.Uploads, cfg.Logger), cfg.Uploads.Dir())
	}
	if cfg.Visitors != nil {
		routes.WebSocketRoutes(app, controllers.NewWebSocketController(cfg.Visitors, cfg.Logger))
	}
	return app
}
