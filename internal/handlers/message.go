package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"intake-bot/internal/convo"
	"intake-bot/internal/metrics"
	"intake-bot/internal/wa"
)

const (
	processTimeout = 90 * time.Second
	dedupPrefix    = "intake:msg:"
)

// Engine handles a translated conversation event.
type Engine interface {
	Handle(ctx context.Context, evt convo.Event) (*convo.Outcome, error)
}

// Replier sends text back to a chat.
type Replier interface {
	SendText(ctx context.Context, to types.JID, text string) error
}

// Downloader fetches the media attached to a message.
type Downloader interface {
	DownloadMedia(ctx context.Context, msg *waProto.Message) ([]byte, string, string, error)
}

// Deduper records message ids and reports whether an id is new.
type Deduper interface {
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MessageHandler translates WhatsApp messages into conversation events.
type MessageHandler struct {
	engine     Engine
	replier    Replier
	downloader Downloader
	dedup      Deduper
	dedupTTL   time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Options carries the optional MessageHandler collaborators.
type Options struct {
	Deduper  Deduper
	DedupTTL time.Duration
	Metrics  *metrics.Metrics
}

// NewMessageHandler wires a MessageHandler.
func NewMessageHandler(engine Engine, replier Replier, downloader Downloader, logger *slog.Logger, opts Options) *MessageHandler {
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = 24 * time.Hour
	}
	return &MessageHandler{
		engine:     engine,
		replier:    replier,
		downloader: downloader,
		dedup:      opts.Deduper,
		dedupTTL:   opts.DedupTTL,
		metrics:    opts.Metrics,
		logger:     logger.With("component", "handler"),
	}
}

// ProcessMessage implements wa.MessageProcessor.
func (h *MessageHandler) ProcessMessage(ctx context.Context, evt *events.Message) {
	if evt == nil || evt.Message == nil {
		return
	}
	info := evt.Info
	if info.IsFromMe || info.IsGroup || info.Chat.Server == types.BroadcastServer {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	if h.seen(ctx, string(info.ID)) {
		h.logger.Debug("duplicate message skipped", "id", info.ID)
		return
	}

	convoEvt, ok, err := h.translate(ctx, evt)
	if err != nil {
		h.logger.Error("download media failed", "from", info.Sender.String(), "error", err)
		h.countError("wa_download")
		h.reply(ctx, evt, convo.ReplyForError(&convo.StepError{Kind: convo.ErrUpload, Cause: err}))
		return
	}
	if !ok {
		return
	}

	out, err := h.engine.Handle(ctx, convoEvt)
	if err != nil {
		if errors.Is(err, convo.ErrPersistence) {
			h.logger.Error("conversation store failure", "user", convoEvt.UserID, "error", err)
		} else {
			h.logger.Info("event rejected", "user", convoEvt.UserID, "kind", convoEvt.Kind, "reason", err)
		}
		h.reply(ctx, evt, convo.ReplyForError(err))
		return
	}
	if out != nil && out.Reply != "" {
		h.reply(ctx, evt, out.Reply)
	}
}

func (h *MessageHandler) seen(ctx context.Context, id string) bool {
	if h.dedup == nil || id == "" {
		return false
	}
	fresh, err := h.dedup.MarkOnce(ctx, dedupPrefix+id, h.dedupTTL)
	if err != nil {
		h.logger.Warn("dedup check failed", "id", id, "error", err)
		return false
	}
	return !fresh
}

// translate maps a message to an event. ok is false for messages the bot ignores.
func (h *MessageHandler) translate(ctx context.Context, evt *events.Message) (convo.Event, bool, error) {
	msg := evt.Message
	out := convo.Event{
		UserID:      evt.Info.Sender.ToNonAD().String(),
		DisplayName: evt.Info.PushName,
		Handle:      evt.Info.Sender.User,
	}

	if text := messageText(msg); text != "" {
		if kind, isCommand := parseCommand(text); isCommand {
			out.Kind = kind
			if !strings.HasPrefix(strings.TrimSpace(text), "/") {
				out.BareCommand = true
				out.Text = strings.TrimSpace(text)
			}
			return out, true, nil
		}
		out.Kind = convo.EventText
		out.Text = text
		return out, true, nil
	}

	switch {
	case msg.AudioMessage != nil || msg.DocumentMessage != nil:
		data, mimeType, fileName, err := h.downloader.DownloadMedia(ctx, msg)
		if err != nil {
			return out, false, err
		}
		out.Kind = convo.EventMedia
		out.Media = &convo.Media{Data: data, MimeType: mimeType, FileName: fileName}
		return out, true, nil
	case msg.ImageMessage != nil:
		out.Kind = convo.EventMedia
		out.Media = &convo.Media{MimeType: msg.ImageMessage.GetMimetype()}
		return out, true, nil
	case msg.VideoMessage != nil:
		out.Kind = convo.EventMedia
		out.Media = &convo.Media{MimeType: msg.VideoMessage.GetMimetype()}
		return out, true, nil
	}
	return out, false, nil
}

func (h *MessageHandler) reply(ctx context.Context, evt *events.Message, text string) {
	if err := h.replier.SendText(wa.WithReply(ctx, evt), evt.Info.Chat, text); err != nil {
		h.logger.Error("send reply failed", "to", evt.Info.Chat.String(), "error", err)
		h.countError("wa_send")
	}
}

func (h *MessageHandler) countError(component string) {
	if h.metrics != nil {
		h.metrics.Errors.WithLabelValues(component).Inc()
	}
}

func messageText(msg *waProto.Message) string {
	if text := msg.GetConversation(); text != "" {
		return text
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}

var commands = map[string]convo.EventKind{
	"start":   convo.EventStart,
	"help":    convo.EventHelp,
	"status":  convo.EventStatus,
	"submit":  convo.EventConfirm,
	"confirm": convo.EventConfirm,
	"cancel":  convo.EventCancel,
}

// parseCommand recognises "start", "/start" and the other command words.
func parseCommand(text string) (convo.EventKind, bool) {
	word := strings.ToLower(strings.TrimSpace(text))
	word = strings.TrimPrefix(word, "/")
	kind, ok := commands[word]
	return kind, ok
}
