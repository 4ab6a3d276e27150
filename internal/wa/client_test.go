package wa

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func TestMessageKind(t *testing.T) {
	cases := map[string]*waProto.Message{
		"empty":    nil,
		"text":     {Conversation: proto.String("hi")},
		"audio":    {AudioMessage: &waProto.AudioMessage{}},
		"document": {DocumentMessage: &waProto.DocumentMessage{}},
		"image":    {ImageMessage: &waProto.ImageMessage{}},
		"other":    {},
	}
	for want, msg := range cases {
		assert.Equal(t, want, MessageKind(msg), want)
	}
	assert.Equal(t, "text", MessageKind(&waProto.Message{ExtendedTextMessage: &waProto.ExtendedTextMessage{Text: proto.String("hi")}}))
}

func TestWithReplyCarriesQuotedMessage(t *testing.T) {
	evt := &events.Message{
		Info:    types.MessageInfo{ID: "abc"},
		Message: &waProto.Message{Conversation: proto.String("hello")},
	}
	meta := replyFromContext(WithReply(context.Background(), evt))
	if assert.NotNil(t, meta) {
		assert.Equal(t, "hello", meta.Message.GetConversation())
		assert.Equal(t, types.MessageID("abc"), meta.Info.ID)
	}

	assert.Nil(t, replyFromContext(WithReply(context.Background(), nil)))
}
