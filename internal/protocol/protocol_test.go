package protocol

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirewire/messaging/internal/common"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	payload, err := EncodeJSON(TypingEvent{Type: TypeTyping, UserID: "a", RecipientID: "b"})
	require.NoError(t, err)
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	typ, err := DecodeEventType(got)
	require.NoError(t, err)
	assert.Equal(t, TypeTyping, typ)
}

func TestFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, nil))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriteFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, make([]byte, MaxFrameSize+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameRejectsOversizedHeader(t *testing.T) {
	// 4-byte header declaring a payload larger than the limit.
	buf := bytes.NewBuffer([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := ReadFrame(buf)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeEventTypeMissing(t *testing.T) {
	_, err := DecodeEventType([]byte(`{"userId":"a"}`))
	assert.ErrorIs(t, err, ErrInvalidEventType)
}

func validEvent() *MessageEvent {
	return &MessageEvent{
		Type:            TypeMessage,
		ClientMessageID: uuid.NewString(),
		SenderID:        "alice",
		RecipientID:     "bob",
		ContentType:     ContentTypeText,
		Content:         "Y2lwaGVydGV4dA==|aXY=|a2V5",
	}
}

func TestValidateMessageEvent(t *testing.T) {
	require.NoError(t, ValidateMessageEvent(validEvent()))

	tests := []struct {
		name   string
		mutate func(*MessageEvent)
	}{
		{"missing sender", func(ev *MessageEvent) { ev.SenderID = "" }},
		{"missing recipient", func(ev *MessageEvent) { ev.RecipientID = "" }},
		{"self message", func(ev *MessageEvent) { ev.RecipientID = ev.SenderID }},
		{"missing client id", func(ev *MessageEvent) { ev.ClientMessageID = "" }},
		{"malformed client id", func(ev *MessageEvent) { ev.ClientMessageID = "not-a-uuid" }},
		{"unknown content type", func(ev *MessageEvent) { ev.ContentType = "sticker" }},
		{"empty content", func(ev *MessageEvent) { ev.Content = "  " }},
		{"bad replyTo", func(ev *MessageEvent) { zero := int64(0); ev.ReplyTo = &zero }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := validEvent()
			tt.mutate(ev)
			assert.ErrorIs(t, ValidateMessageEvent(ev), common.ErrValidation)
		})
	}

	assert.ErrorIs(t, ValidateMessageEvent(nil), common.ErrValidation)
}

func TestValidateStatus(t *testing.T) {
	for _, s := range []string{"sent", "delivered", "read"} {
		assert.NoError(t, ValidateStatus(s))
	}
	assert.ErrorIs(t, ValidateStatus("pending"), common.ErrValidation)
	assert.ErrorIs(t, ValidateStatus("seen"), common.ErrValidation)
}

func TestContentTypes(t *testing.T) {
	assert.True(t, ValidContentType(ContentTypeDocument))
	assert.False(t, ValidContentType("gif"))
	assert.True(t, MediaContentType(ContentTypeImage))
	assert.False(t, MediaContentType(ContentTypeText))
}
