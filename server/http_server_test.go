package server

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/123bigmirros/electronic-grave/utils"
)

func TestNewHTTPApp(t *testing.T) {
	canvases, _ := newCanvasService(t)
	reg := prometheus.NewRegistry()
	app := NewHTTPApp(HTTPConfig{
		ServiceName:  "grave",
		AllowOrigins: "*",
		Canvases:     canvases,
		Keys:         utils.NewPublicKeyStore(),
		Registry:     reg,
		Logger:       zerolog.Nop(),
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/canvases/public", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// presence and upload routes are only mounted when configured
	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/canvas/1/visitors", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "grave_http_requests_total")
}
