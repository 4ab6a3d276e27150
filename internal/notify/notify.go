package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.mau.fi/whatsmeow/types"

	"intake-bot/internal/repo"
)

// Sender delivers a text message over the chat transport.
type Sender interface {
	SendText(ctx context.Context, to types.JID, text string) error
}

// WhatsApp notifies reviewers about new submissions and applicants about review decisions.
type WhatsApp struct {
	sender    Sender
	reviewers []types.JID
	logger    *slog.Logger
}

// NewWhatsApp parses a comma separated list of reviewer JIDs.
func NewWhatsApp(sender Sender, reviewerJIDs string, logger *slog.Logger) (*WhatsApp, error) {
	var reviewers []types.JID
	for _, raw := range strings.Split(reviewerJIDs, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		jid, err := parseJID(raw)
		if err != nil {
			return nil, fmt.Errorf("parse reviewer jid %q: %w", raw, err)
		}
		reviewers = append(reviewers, jid)
	}
	return &WhatsApp{
		sender:    sender,
		reviewers: reviewers,
		logger:    logger.With("component", "notify"),
	}, nil
}

// NotifySubmission messages every configured reviewer.
func (n *WhatsApp) NotifySubmission(ctx context.Context, sub repo.Submission) error {
	if len(n.reviewers) == 0 {
		n.logger.Info("no reviewers configured, skipping notification", "submission_id", sub.ID)
		return nil
	}
	text := SubmissionText(sub)
	var errs []error
	for _, jid := range n.reviewers {
		if err := n.sender.SendText(ctx, jid, text); err != nil {
			errs = append(errs, fmt.Errorf("notify reviewer %s: %w", jid, err))
		}
	}
	return errors.Join(errs...)
}

// NotifyStatus tells the applicant about a review decision and posts a
// status line to every configured reviewer.
func (n *WhatsApp) NotifyStatus(ctx context.Context, sub repo.Submission) error {
	var errs []error
	jid, err := parseJID(sub.UserID)
	if err != nil {
		errs = append(errs, fmt.Errorf("parse applicant jid: %w", err))
	} else if err := n.sender.SendText(ctx, jid, StatusText(sub)); err != nil {
		errs = append(errs, fmt.Errorf("notify applicant: %w", err))
	}

	line := ReviewerStatusText(sub)
	for _, reviewer := range n.reviewers {
		if err := n.sender.SendText(ctx, reviewer, line); err != nil {
			errs = append(errs, fmt.Errorf("notify reviewer %s: %w", reviewer, err))
		}
	}
	return errors.Join(errs...)
}

// Log only records notifications. It is used when no chat transport is available.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a logging notifier.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("component", "notify")}
}

func (n *Log) NotifySubmission(_ context.Context, sub repo.Submission) error {
	n.logger.Info("new submission", "submission_id", sub.ID, "name", sub.Name, "handle", sub.Handle)
	return nil
}

func (n *Log) NotifyStatus(_ context.Context, sub repo.Submission) error {
	n.logger.Info("submission reviewed", "submission_id", sub.ID, "status", sub.Status, "comments", sub.Comments)
	return nil
}

// SubmissionText formats the reviewer message for a new submission.
func SubmissionText(sub repo.Submission) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*New application #%d*\n\n", sub.ID)
	fmt.Fprintf(&b, "Name: %s\nAddress: %s\nPhone: %s\n", sub.Name, sub.Address, sub.Phone)
	if sub.Handle != "" {
		fmt.Fprintf(&b, "Handle: %s\n", sub.Handle)
	}
	fmt.Fprintf(&b, "Audio: %s\nSubmitted: %s", sub.MediaReference, sub.SubmittedAt.Format("2006-01-02 15:04"))
	return b.String()
}

// StatusText formats the applicant message for a review decision.
func StatusText(sub repo.Submission) string {
	var headline string
	switch sub.Status {
	case repo.StatusApproved:
		headline = fmt.Sprintf("Good news, %s! Your application #%d has been approved.", sub.Name, sub.ID)
	case repo.StatusRejected:
		headline = fmt.Sprintf("Hi %s, your application #%d was not accepted this time.", sub.Name, sub.ID)
	default:
		headline = fmt.Sprintf("Hi %s, your application #%d is back under review.", sub.Name, sub.ID)
	}
	if strings.TrimSpace(sub.Comments) == "" {
		return headline
	}
	return headline + "\n\nComments: " + sub.Comments
}

// ReviewerStatusText formats the reviewer chat line for a review decision.
func ReviewerStatusText(sub repo.Submission) string {
	text := fmt.Sprintf("Application #%d (%s) status updated: %s", sub.ID, sub.Name, sub.Status)
	if c := strings.TrimSpace(sub.Comments); c != "" {
		text += "\nComments: " + c
	}
	return text
}

func parseJID(raw string) (types.JID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.JID{}, errors.New("empty jid")
	}
	if !strings.Contains(raw, "@") {
		raw = strings.TrimPrefix(raw, "+") + "@" + types.DefaultUserServer
	}
	return types.ParseJID(raw)
}
