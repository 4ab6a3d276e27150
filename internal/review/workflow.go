package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"intake-bot/internal/metrics"
	"intake-bot/internal/repo"
)

// ErrInvalidDecision is returned for decisions outside the submission status set.
var ErrInvalidDecision = errors.New("invalid review decision")

// Store is the submission persistence the workflow needs.
type Store interface {
	GetSubmission(ctx context.Context, id int64) (*repo.Submission, error)
	UpdateSubmissionStatus(ctx context.Context, id int64, status repo.SubmissionStatus, comments *string) error
}

// Notifier reports a review decision. sub carries the new status and comments.
type Notifier interface {
	NotifyStatus(ctx context.Context, sub repo.Submission) error
}

// Workflow records administrative review decisions.
type Workflow struct {
	store    Store
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New constructs a Workflow. notifier and metrics may be nil.
func New(store Store, notifier Notifier, metricRegistry *metrics.Metrics, logger *slog.Logger) *Workflow {
	return &Workflow{
		store:    store,
		notifier: notifier,
		metrics:  metricRegistry,
		logger:   logger.With("component", "review"),
	}
}

// Review sets the status of submission id and notifies the applicant.
// Unknown ids return repo.ErrNotFound without side effects. Empty comments
// keep any previously stored comments. A failed notification is logged and
// does not undo the status change.
func (w *Workflow) Review(ctx context.Context, id int64, decision repo.SubmissionStatus, comments string) (*repo.Submission, error) {
	if !decision.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	if _, err := w.store.GetSubmission(ctx, id); err != nil {
		return nil, fmt.Errorf("get submission %d: %w", id, err)
	}

	var commentsArg *string
	if c := strings.TrimSpace(comments); c != "" {
		commentsArg = &c
	}
	if err := w.store.UpdateSubmissionStatus(ctx, id, decision, commentsArg); err != nil {
		return nil, fmt.Errorf("update submission %d: %w", id, err)
	}

	updated, err := w.store.GetSubmission(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload submission %d: %w", id, err)
	}
	w.logger.Info("submission reviewed", "submission_id", id, "status", decision)
	if w.metrics != nil {
		w.metrics.Reviews.WithLabelValues(string(decision)).Inc()
	}

	if w.notifier != nil {
		status := "ok"
		if err := w.notifier.NotifyStatus(ctx, *updated); err != nil {
			status = "error"
			w.logger.Warn("review notification failed", "submission_id", id, "error", err)
		}
		if w.metrics != nil {
			w.metrics.Notifications.WithLabelValues("review", status).Inc()
		}
	}
	return updated, nil
}
