// Package storage сохраняет загруженные и сгенерированные изображения.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidPath возвращается для путей вне каталога хранилища.
var ErrInvalidPath = errors.New("invalid storage path")

// FS хранит файлы в каталоге <root>/<orderRef>/<uuid><ext>.
type FS struct {
	root string
}

// NewFS создаёт хранилище в каталоге root, создавая его при необходимости.
func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FS{root: abs}, nil
}

// Save записывает содержимое r и возвращает путь относительно корня хранилища и размер.
// Недописанный файл удаляется.
func (s *FS) Save(ctx context.Context, orderRef, ext string, r io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	if !validSegment(orderRef) {
		return "", 0, ErrInvalidPath
	}

	dir := filepath.Join(s.root, orderRef)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create order dir: %w", err)
	}

	name := uuid.NewString() + ext
	full := filepath.Join(dir, name)

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create blob: %w", err)
	}

	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(full)
		return "", 0, fmt.Errorf("write blob: %w", err)
	}

	return filepath.ToSlash(filepath.Join(orderRef, name)), n, nil
}

// Remove удаляет файл, ранее сохранённый через Save. Отсутствующий файл не считается ошибкой.
func (s *FS) Remove(_ context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

// Open открывает сохранённый файл для чтения.
func (s *FS) Open(path string) (*os.File, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

func (s *FS) resolve(path string) (string, error) {
	full := filepath.Join(s.root, filepath.FromSlash(path))
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", ErrInvalidPath
	}
	return full, nil
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
