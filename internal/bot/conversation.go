// Package bot contains the chat conversation layer that admitted chat
// updates are dispatched to.
package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/karat-app/karat/internal/domain"
)

// UpdateKind classifies an inbound chat update.
type UpdateKind string

const (
	UpdateKindText  UpdateKind = "text"
	UpdateKindVoice UpdateKind = "voice"
	UpdateKindPhoto UpdateKind = "photo"
)

// Update is one inbound chat message after webhook decoding.
type Update struct {
	UpdateID int64
	ChatID   int64
	Kind     UpdateKind
	Text     string

	// FileID references voice or photo payloads held by the chat platform.
	FileID string
}

// ConversationHandler processes an admitted chat update and produces the
// reply to send back to the chat.
type ConversationHandler interface {
	Handle(ctx context.Context, tenant domain.TenantRef, update Update) (reply string, err error)
}

// Conversation is the default ConversationHandler. It acknowledges each
// update kind; invoice extraction from the message content is layered on
// top of this by the dialogue flows.
type Conversation struct {
	logger *slog.Logger
}

// NewConversation creates the default conversation handler.
func NewConversation(logger *slog.Logger) *Conversation {
	return &Conversation{logger: logger}
}

func (c *Conversation) Handle(ctx context.Context, tenant domain.TenantRef, update Update) (string, error) {
	c.logger.Info("chat update handled",
		"tenant_id", tenant.TenantID,
		"chat_id", update.ChatID,
		"kind", update.Kind,
	)

	switch update.Kind {
	case UpdateKindText:
		if update.Text == "" {
			return "Send me the invoice details and I will draft it for you.", nil
		}
		return fmt.Sprintf("Got it. Drafting an invoice from: %q", update.Text), nil
	case UpdateKindVoice:
		return "Voice note received. Transcribing it into an invoice draft.", nil
	case UpdateKindPhoto:
		return "Photo received. Extracting the items into an invoice draft.", nil
	default:
		return "", fmt.Errorf("unsupported update kind %q", update.Kind)
	}
}
