package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"intake-bot/internal/metrics"
	"intake-bot/internal/repo"
)

// Uploader stores media and returns an opaque storage reference.
type Uploader interface {
	Upload(ctx context.Context, data []byte, filename, mimeType string) (string, error)
}

// Ledger records every new submission in an external sheet.
type Ledger interface {
	Append(ctx context.Context, sub repo.Submission) error
}

// Notifier tells reviewers about a new submission.
type Notifier interface {
	NotifySubmission(ctx context.Context, sub repo.Submission) error
}

// Store is the persistence the engine needs.
type Store interface {
	repo.ConversationStore
	CompleteConversation(ctx context.Context, userID string, sub repo.NewSubmission) (*repo.Submission, error)
}

// EngineConfig holds engine tunables.
type EngineConfig struct {
	OrganizationName string
	MaxMediaBytes    int64
}

// Engine drives intake conversations.
type Engine struct {
	store    Store
	uploader Uploader
	ledger   Ledger
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	machine  Machine
	cfg      EngineConfig
	now      func() time.Time
}

// Outcome reports a handled event.
type Outcome struct {
	From       repo.ConversationState
	State      repo.ConversationState
	Action     Action
	Reply      string
	Submission *repo.Submission
}

// New constructs an Engine. ledger, notifier and metrics may be nil.
func New(store Store, uploader Uploader, ledger Ledger, notifier Notifier, metricRegistry *metrics.Metrics, logger *slog.Logger, cfg EngineConfig) *Engine {
	if cfg.OrganizationName == "" {
		cfg.OrganizationName = "our team"
	}
	return &Engine{
		store:    store,
		uploader: uploader,
		ledger:   ledger,
		notifier: notifier,
		metrics:  metricRegistry,
		logger:   logger.With("component", "convo"),
		machine:  Machine{MaxMediaBytes: cfg.MaxMediaBytes},
		cfg:      cfg,
		now:      time.Now,
	}
}

// Handle processes one inbound event for evt.UserID. Rejected events return a
// *StepError; use ReplyForError for the user-facing text.
func (e *Engine) Handle(ctx context.Context, evt Event) (*Outcome, error) {
	if strings.TrimSpace(evt.UserID) == "" {
		return nil, errors.New("handle event: empty user id")
	}
	rec, err := e.store.GetConversation(ctx, evt.UserID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		rec = nil
	case err != nil:
		e.countError("convo_store")
		return nil, persistenceError(repo.StateIdle, "load conversation", err)
	}

	state := repo.StateIdle
	if rec != nil {
		state = normalizeState(rec.State)
	}

	evt = asAnswer(state, evt)
	if evt.Kind == EventHelp {
		return &Outcome{From: state, State: state, Reply: HelpMessage(e.cfg.OrganizationName)}, nil
	}
	if evt.Kind == EventStatus {
		return &Outcome{From: state, State: state, Reply: StatusMessage(state)}, nil
	}

	decision, err := e.machine.Decide(ctx, state, evt)
	if err != nil {
		e.countRejected(err)
		return nil, err
	}

	out, err := e.apply(ctx, evt, rec, decision)
	if err != nil {
		return nil, err
	}
	if decision.Action != ActionIgnore && e.metrics != nil {
		e.metrics.Transitions.WithLabelValues(string(decision.From), string(decision.To)).Inc()
	}
	return out, nil
}

func (e *Engine) apply(ctx context.Context, evt Event, rec *repo.ConversationRecord, d Decision) (*Outcome, error) {
	out := &Outcome{From: d.From, State: d.To, Action: d.Action}

	switch d.Action {
	case ActionIgnore:
		out.State = d.From
		out.Reply = StatusMessage(d.From)
		return out, nil

	case ActionStart:
		update := repo.ConversationUpdate{State: &d.To, ClearAnswers: true}
		if evt.DisplayName != "" {
			update.DisplayName = &evt.DisplayName
		}
		if evt.Handle != "" {
			update.Handle = &evt.Handle
		}
		if err := e.store.ApplyConversation(ctx, evt.UserID, update); err != nil {
			e.countError("convo_store")
			return nil, persistenceError(d.From, "start conversation", err)
		}
		out.Reply = welcomeMessage(e.cfg.OrganizationName, evt.DisplayName)
		e.logger.Info("conversation started", "user", evt.UserID)
		return out, nil

	case ActionStoreAnswer:
		update := repo.ConversationUpdate{State: &d.To}
		text := evt.Text
		switch d.From {
		case repo.StateCollectingName:
			update.Name = &text
		case repo.StateCollectingAddress:
			update.Address = &text
		case repo.StateCollectingPhone:
			update.Phone = &text
		default:
			return nil, stepError(ErrWrongStep, d.From, "no answer field for state")
		}
		if err := e.store.ApplyConversation(ctx, evt.UserID, update); err != nil {
			e.countError("convo_store")
			return nil, persistenceError(d.From, "store answer", err)
		}
		out.Reply = "Got it. " + stepPrompt(d.To)
		return out, nil

	case ActionUploadMedia:
		ref, err := e.upload(ctx, evt, rec)
		if err != nil {
			return nil, &StepError{Kind: ErrUpload, State: d.From, Cause: err}
		}
		if err := e.store.ApplyConversation(ctx, evt.UserID, repo.ConversationUpdate{State: &d.To, MediaReference: &ref}); err != nil {
			e.countError("convo_store")
			return nil, persistenceError(d.From, "store media reference", err)
		}
		answers := repo.Answers{}
		if rec != nil {
			answers = rec.Answers
		}
		answers.MediaReference = ref
		out.Reply = reviewMessage(answers)
		return out, nil

	case ActionSubmit:
		sub, err := e.submit(ctx, evt, rec)
		if err != nil {
			return nil, err
		}
		out.Submission = sub
		out.Reply = submittedMessage(sub)
		return out, nil

	case ActionCancel:
		if err := e.store.ResetConversation(ctx, evt.UserID); err != nil {
			e.countError("convo_store")
			return nil, persistenceError(d.From, "cancel conversation", err)
		}
		out.Reply = cancelledMessage
		e.logger.Info("conversation cancelled", "user", evt.UserID, "from", d.From)
		return out, nil
	}

	return nil, fmt.Errorf("handle event: unknown action %s", d.Action)
}

func (e *Engine) upload(ctx context.Context, evt Event, rec *repo.ConversationRecord) (string, error) {
	handle := evt.Handle
	if handle == "" && rec != nil {
		handle = rec.Handle
	}
	filename := MediaFileName(handle, evt.Media.MimeType, evt.Media.FileName, e.now())

	start := time.Now()
	ref, err := e.uploader.Upload(ctx, evt.Media.Data, filename, evt.Media.MimeType)
	status := "ok"
	if err != nil {
		status = "error"
	}
	if e.metrics != nil {
		e.metrics.Uploads.WithLabelValues(status).Inc()
		e.metrics.UploadLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		e.logger.Error("media upload failed", "user", evt.UserID, "error", err)
		return "", err
	}
	if strings.TrimSpace(ref) == "" {
		return "", errors.New("uploader returned an empty reference")
	}
	e.logger.Info("media uploaded", "user", evt.UserID, "ref", ref, "bytes", len(evt.Media.Data))
	return ref, nil
}

func (e *Engine) submit(ctx context.Context, evt Event, rec *repo.ConversationRecord) (*repo.Submission, error) {
	if rec == nil {
		return nil, stepError(ErrNotStarted, repo.StateIdle, "")
	}
	newSub := repo.NewSubmission{
		UserID:         rec.UserID,
		Name:           rec.Answers.Name,
		Address:        rec.Answers.Address,
		Phone:          rec.Answers.Phone,
		Handle:         rec.Handle,
		MediaReference: rec.Answers.MediaReference,
	}
	sub, err := e.store.CompleteConversation(ctx, evt.UserID, newSub)
	if err != nil {
		e.countError("convo_store")
		return nil, persistenceError(repo.StateReadyToSubmit, "complete conversation", err)
	}
	e.logger.Info("submission created", "user", evt.UserID, "submission_id", sub.ID)

	// The submission is committed; the sheet row and reviewer message are best effort.
	if e.ledger != nil {
		if err := e.ledger.Append(ctx, *sub); err != nil {
			e.countError("ledger")
			e.logger.Warn("append ledger row failed", "submission_id", sub.ID, "error", err)
		}
	}
	if e.notifier != nil {
		status := "ok"
		if err := e.notifier.NotifySubmission(ctx, *sub); err != nil {
			status = "error"
			e.logger.Warn("notify reviewers failed", "submission_id", sub.ID, "error", err)
		}
		if e.metrics != nil {
			e.metrics.Notifications.WithLabelValues("submission", status).Inc()
		}
	}
	return sub, nil
}

func (e *Engine) countRejected(err error) {
	if e.metrics == nil {
		return
	}
	reason := "other"
	switch {
	case errors.Is(err, ErrNotStarted):
		reason = "not_started"
	case errors.Is(err, ErrValidation):
		reason = "validation"
	case errors.Is(err, ErrWrongStep):
		reason = "wrong_step"
	}
	e.metrics.Rejected.WithLabelValues(reason).Inc()
}

func (e *Engine) countError(component string) {
	if e.metrics != nil {
		e.metrics.Errors.WithLabelValues(component).Inc()
	}
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// MediaFileName builds "<handle>_<timestamp><ext>" for an uploaded sample.
// The extension comes from the MIME type, then from the sender's file name.
func MediaFileName(handle, mimeType, senderFileName string, at time.Time) string {
	handle = unsafeNameChars.ReplaceAllString(strings.TrimSpace(handle), "_")
	if handle == "" {
		handle = "user"
	}
	ext := extensionFor(mimeType)
	if ext == ".bin" {
		if senderExt := strings.ToLower(filepath.Ext(senderFileName)); safeExt.MatchString(senderExt) {
			ext = senderExt
		}
	}
	return fmt.Sprintf("%s_%s%s", handle, at.Format("20060102_150405"), ext)
}

var safeExt = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

func extensionFor(mimeType string) string {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	switch base {
	case "audio/ogg", "application/ogg", "audio/opus":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a", "audio/aac":
		return ".m4a"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/webm":
		return ".webm"
	default:
		return ".bin"
	}
}
