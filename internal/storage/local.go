package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Local stores uploaded media on the local filesystem, one directory per day.
type Local struct {
	root   string
	logger *slog.Logger
	now    func() time.Time
}

// NewLocal creates the root directory if needed and returns a Local store.
func NewLocal(root string, logger *slog.Logger) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Local{
		root:   root,
		logger: logger.With("component", "storage"),
		now:    time.Now,
	}, nil
}

// Upload writes data under <root>/<YYYY-MM-DD>/ and returns the relative
// reference of the stored object.
func (l *Local) Upload(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.New("upload: empty data")
	}

	day := l.now().UTC().Format("2006-01-02")
	dir := filepath.Join(l.root, day)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create day dir: %w", err)
	}

	name := uuid.NewString()[:8] + "_" + sanitize(filename)
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write media: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close media: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return "", fmt.Errorf("store media: %w", err)
	}

	ref := day + "/" + name
	l.logger.Debug("media stored", "ref", ref, "mime", mimeType, "bytes", len(data))
	return ref, nil
}

func sanitize(filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "media.bin"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
}
