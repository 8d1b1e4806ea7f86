package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists uploaded documents (proformas, receipts, invoices, generated
// purchase orders) and returns a URL the API can hand back to clients.
// Delete takes a URL previously returned by Save.
type Store interface {
	Save(ctx context.Context, folder, filename string, contentType string, body io.Reader) (string, error)
	Delete(ctx context.Context, url string) error
}

// LocalStore writes documents under a media directory served by the API
type LocalStore struct {
	Dir       string
	PublicURL string
}

func NewLocalStore(dir, publicURL string) *LocalStore {
	return &LocalStore{Dir: dir, PublicURL: strings.TrimRight(publicURL, "/")}
}

func (s *LocalStore) Save(ctx context.Context, folder, filename, contentType string, body io.Reader) (string, error) {
	key := objectKey(folder, filename)
	path := filepath.Join(s.Dir, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create media directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return s.PublicURL + "/media/" + key, nil
}

func (s *LocalStore) Delete(ctx context.Context, url string) error {
	key, ok := strings.CutPrefix(url, s.PublicURL+"/media/")
	if !ok {
		return fmt.Errorf("url %q is not served from this store", url)
	}
	if err := os.Remove(filepath.Join(s.Dir, filepath.FromSlash(key))); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

// objectKey prefixes the sanitized filename with a timestamped unique id so
// repeated uploads of the same name never collide
func objectKey(folder, filename string) string {
	base := filepath.Base(filename)
	stamp := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s/%s_%s_%s", folder, stamp, uuid.NewString()[:8], base)
}
