package protocol

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hirewire/messaging/internal/common"
)

// Content types accepted in a MessageEvent.
const (
	ContentTypeText     = "text"
	ContentTypeImage    = "image"
	ContentTypeVideo    = "video"
	ContentTypeAudio    = "audio"
	ContentTypeDocument = "document"
)

// ValidContentType reports whether ct is one of the accepted content types.
func ValidContentType(ct string) bool {
	switch ct {
	case ContentTypeText, ContentTypeImage, ContentTypeVideo, ContentTypeAudio, ContentTypeDocument:
		return true
	}
	return false
}

// MediaContentType reports whether ct carries an object-storage URL.
func MediaContentType(ct string) bool {
	return ValidContentType(ct) && ct != ContentTypeText
}

// ValidateMessageEvent checks a message envelope at the boundary, before it
// reaches any business logic. All failures wrap common.ErrValidation.
func ValidateMessageEvent(ev *MessageEvent) error {
	if ev == nil {
		return fmt.Errorf("%w: empty envelope", common.ErrValidation)
	}
	if ev.SenderID == "" {
		return fmt.Errorf("%w: missing senderId", common.ErrValidation)
	}
	if ev.RecipientID == "" {
		return fmt.Errorf("%w: missing recipientId", common.ErrValidation)
	}
	if ev.SenderID == ev.RecipientID {
		return fmt.Errorf("%w: sender and recipient are the same user", common.ErrValidation)
	}
	if ev.ClientMessageID == "" {
		return fmt.Errorf("%w: missing clientMessageId", common.ErrValidation)
	}
	if _, err := uuid.Parse(ev.ClientMessageID); err != nil {
		return fmt.Errorf("%w: malformed clientMessageId", common.ErrValidation)
	}
	if !ValidContentType(ev.ContentType) {
		return fmt.Errorf("%w: unknown contentType %q", common.ErrValidation, ev.ContentType)
	}
	if strings.TrimSpace(ev.Content) == "" {
		return fmt.Errorf("%w: empty content", common.ErrValidation)
	}
	if ev.ReplyTo != nil && *ev.ReplyTo <= 0 {
		return fmt.Errorf("%w: invalid replyTo reference", common.ErrValidation)
	}
	return nil
}

// ValidateStatus checks a status string carried by status events.
func ValidateStatus(s string) error {
	switch s {
	case "sent", "delivered", "read":
		return nil
	}
	return fmt.Errorf("%w: unknown status %q", common.ErrValidation, s)
}
