package service

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrUnsupportedMedia = errors.New("unsupported media type")

// UploadPrefix is the public path uploaded files are served under.
const UploadPrefix = "/uploads/"

// UploadService stores canvas images on local disk under random names.
type UploadService struct {
	dir string
}

func NewUploadService(dir string) (*UploadService, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &UploadService{dir: dir}, nil
}

func (s *UploadService) Dir() string {
	return s.dir
}

// SaveImage writes an uploaded image and returns its public URL.
func (s *UploadService) SaveImage(fh *multipart.FileHeader) (string, error) {
	contentType := fh.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMedia, contentType)
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if ext == "" {
		if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	name := uuid.NewString() + ext

	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	if err := s.write(name, src); err != nil {
		return "", err
	}
	return UploadPrefix + name, nil
}

// write copies src into dir/name. A partially written file is removed.
func (s *UploadService) write(name string, src io.Reader) error {
	dst, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return fmt.Errorf("write upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return fmt.Errorf("write upload: %w", err)
	}
	return nil
}
