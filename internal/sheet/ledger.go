package sheet

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"intake-bot/internal/repo"
)

// Header is the column layout shared by the ledger and CSV exports.
var Header = []string{"id", "submitted_at", "name", "address", "phone", "handle", "media_reference", "status", "comments", "reviewed_at"}

// Ledger appends one CSV row per submission to a file.
type Ledger struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewLedger returns a ledger writing to path, creating its directory.
func NewLedger(path string, logger *slog.Logger) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	return &Ledger{path: path, logger: logger.With("component", "ledger")}, nil
}

// Append writes sub as a new row, adding the header to an empty file.
func (l *Ledger) Append(ctx context.Context, sub repo.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat ledger: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			return fmt.Errorf("write ledger header: %w", err)
		}
	}
	if err := w.Write(Row(sub)); err != nil {
		return fmt.Errorf("write ledger row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush ledger: %w", err)
	}

	l.logger.Debug("ledger row appended", "submission_id", sub.ID)
	return nil
}

// Row renders a submission in Header order.
func Row(sub repo.Submission) []string {
	reviewed := ""
	if sub.ReviewedAt != nil {
		reviewed = sub.ReviewedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		strconv.FormatInt(sub.ID, 10),
		sub.SubmittedAt.UTC().Format(time.RFC3339),
		sub.Name,
		sub.Address,
		sub.Phone,
		sub.Handle,
		sub.MediaReference,
		string(sub.Status),
		sub.Comments,
		reviewed,
	}
}

// WriteCSV writes a header and one row per submission.
func WriteCSV(w io.Writer, subs []repo.Submission) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, sub := range subs {
		if err := cw.Write(Row(sub)); err != nil {
			return fmt.Errorf("write csv row %d: %w", sub.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
