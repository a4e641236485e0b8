package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	middleware "github.com/123bigmirros/electronic-grave/middlewares"
	"github.com/123bigmirros/electronic-grave/models"
	"github.com/123bigmirros/electronic-grave/repository"
	service "github.com/123bigmirros/electronic-grave/services"
	"github.com/123bigmirros/electronic-grave/utils"
)

type testEnv struct {
	app  *fiber.App
	repo *repository.SQLCanvasRepository
}

// newTestApp wires the canvas, heritage and upload controllers over a fresh
// sqlite store. Claims always succeed when an item is left.
func newTestApp(t *testing.T) *testEnv {
	t.Helper()
	db, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "grave.db"))
	require.NoError(t, err)
	repo := repository.NewSQLCanvasRepository(db, repository.DialectSQLite)
	t.Cleanup(func() { _ = repo.Close() })
	require.NoError(t, repo.Migrate(context.Background()))

	engine := service.NewClaimEngine(repo, service.ClaimEngineConfig{FateProbability: 1, Selection: service.SelectOldest})
	canvases := service.NewCanvasService(repo, engine, 0, zerolog.Nop())
	uploads, err := service.NewUploadService(t.TempDir())
	require.NoError(t, err)

	app := fiber.New()
	app.Use(middleware.JWTParser(middleware.IdentityConfig{Keys: utils.NewPublicKeyStore(), TrustUserIDHeader: true}))

	cc := NewCanvasController(canvases, zerolog.Nop())
	hc := NewHeritageController(canvases, zerolog.Nop())
	uc := NewUploadController(uploads, zerolog.Nop())
	app.Post("/canvas", cc.SaveCanvas)
	app.Get("/canvas/:id", cc.GetCanvasByID)
	app.Delete("/canvas/:id", cc.DeleteCanvasByID)
	app.Get("/canvases/mine", cc.GetOwnedCanvases)
	app.Get("/canvases/public", cc.GetPublicCanvases)
	app.Get("/heritage/:id/items", hc.GetItems)
	app.Post("/heritage/:id/claim", hc.Claim)
	app.Post("/upload", uc.UploadImage)

	return &testEnv{app: app, repo: repo}
}

// do sends a request as user (anonymous when user <= 0) and decodes the JSON
// answer into out when out is not nil.
func (e *testEnv) do(t *testing.T, method, path string, user int64, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user > 0 {
		req.Header.Set(middleware.UserIDHeader, strconv.FormatInt(user, 10))
	}
	return e.send(t, req, out)
}

func (e *testEnv) send(t *testing.T, req *http.Request, out any) int {
	t.Helper()
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func shrineCanvas(public bool) models.Canvas {
	return models.Canvas{
		ID:       models.NewCanvasID,
		Title:    "grandfather",
		IsPublic: public,
		Images:   []models.ImageBox{{ImageURL: "/uploads/a.png"}},
		Texts:    []models.TextBox{{Content: "in memory"}},
		Heritages: []models.Heritage{{
			Items: []models.HeritageItem{
				{Content: "watch", IsPrivate: false},
				{Content: "diary", IsPrivate: true},
			},
		}},
	}
}

func newGet(path string) *http.Request {
	return httptest.NewRequest(fiber.MethodGet, path, nil)
}
