package controllers

import (
	"bytes"
	"mime/multipart"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	middleware "github.com/123bigmirros/electronic-grave/middlewares"
)

func multipartBody(t *testing.T, field, filename, contentType string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte("content"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestUploadImage(t *testing.T) {
	env := newTestApp(t)

	tests := []struct {
		name        string
		user        string
		field       string
		contentType string
		wantStatus  int
	}{
		{"stored", "1", "file", "image/jpeg", fiber.StatusCreated},
		{"anonymous", "", "file", "image/jpeg", fiber.StatusUnauthorized},
		{"wrong field", "1", "photo", "image/jpeg", fiber.StatusBadRequest},
		{"not an image", "1", "file", "application/pdf", fiber.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.field, "face.jpg", tt.contentType)
			req := httptest.NewRequest(fiber.MethodPost, "/upload", body)
			req.Header.Set("Content-Type", ct)
			if tt.user != "" {
				req.Header.Set(middleware.UserIDHeader, tt.user)
			}
			var out map[string]string
			status := env.send(t, req, &out)
			assert.Equal(t, tt.wantStatus, status)
			if status == fiber.StatusCreated {
				assert.True(t, strings.HasPrefix(out["url"], "/uploads/"))
				assert.True(t, strings.HasSuffix(out["url"], ".jpg"))
			}
		})
	}
}
