// Package handler contains HTTP handlers for the Karat API and the chat
// webhook.
//
// This file implements the chat webhook that the messaging platform calls
// with user updates.
//
// Route:
//   - POST /webhook/chat -> HandleChatUpdate
//
// The route is PUBLIC (no API key middleware); the caller authenticates
// with the shared webhook secret header.
package handler

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/karat-app/karat/internal/admission"
	"github.com/karat-app/karat/internal/bot"
	"github.com/karat-app/karat/internal/domain"
	"github.com/karat-app/karat/internal/metrics"
)

// webhookSecretHeader carries the shared secret the chat platform is
// configured to send.
const webhookSecretHeader = "X-Webhook-Secret"

// maxWebhookBody caps the webhook payload at 1 MiB.
const maxWebhookBody = 1 << 20

// WebhookHandler processes inbound chat updates: authenticate the caller,
// admit the update through the pipeline, and dispatch it to the
// conversation layer. Denials become chat replies, not HTTP errors, because
// the platform expects 200 for every well-formed delivery.
type WebhookHandler struct {
	pipeline     *admission.Pipeline
	conversation bot.ConversationHandler
	secret       string
	logger       *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(pipeline *admission.Pipeline, conversation bot.ConversationHandler, secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		pipeline:     pipeline,
		conversation: conversation,
		secret:       secret,
		logger:       logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook/chat", h.HandleChatUpdate)
}

// chatUpdateRequest is the webhook payload.
type chatUpdateRequest struct {
	UpdateID int64  `json:"update_id"`
	ChatID   int64  `json:"chat_id"`
	Kind     string `json:"kind"`
	Text     string `json:"text,omitempty"`
	FileID   string `json:"file_id,omitempty"`
}

// chatReplyResponse is what the platform relays back to the user.
type chatReplyResponse struct {
	ChatID int64  `json:"chat_id"`
	Reply  string `json:"reply"`
}

// HandleChatUpdate processes one inbound chat update.
func (h *WebhookHandler) HandleChatUpdate(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		presented := r.Header.Get(webhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(h.secret)) != 1 {
			h.logger.Warn("webhook secret mismatch", "path", r.URL.Path)
			writeJSONError(w, http.StatusUnauthorized, domain.EUNAUTHORIZED, "invalid webhook secret")
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, domain.EINVALID, "failed to read body")
		return
	}

	var update chatUpdateRequest
	if err := json.Unmarshal(body, &update); err != nil {
		writeJSONError(w, http.StatusBadRequest, domain.EINVALID, "malformed JSON body")
		return
	}

	kind, action, ok := classifyUpdate(update.Kind)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, domain.EINVALID, "unsupported update kind")
		return
	}

	metrics.ChatUpdatesTotal.WithLabelValues(string(kind)).Inc()

	externalID := ""
	if update.ChatID != 0 {
		externalID = "chat:" + strconv.FormatInt(update.ChatID, 10)
	}

	result := h.pipeline.Evaluate(r.Context(), externalID, action)
	if !result.Verdict.Allow {
		// The user gets the denial as a normal chat reply.
		writeJSON(w, http.StatusOK, chatReplyResponse{
			ChatID: update.ChatID,
			Reply:  result.Verdict.Reason,
		})
		return
	}

	reply, err := h.conversation.Handle(r.Context(), result.Tenant, bot.Update{
		UpdateID: update.UpdateID,
		ChatID:   update.ChatID,
		Kind:     kind,
		Text:     update.Text,
		FileID:   update.FileID,
	})
	if err != nil {
		h.logger.Error("conversation handler failed",
			"chat_id", update.ChatID,
			"update_id", update.UpdateID,
			"error", err,
		)
		writeJSON(w, http.StatusOK, chatReplyResponse{
			ChatID: update.ChatID,
			Reply:  "Something went wrong on our side. Please try again.",
		})
		return
	}

	writeJSON(w, http.StatusOK, chatReplyResponse{ChatID: update.ChatID, Reply: reply})
}

// classifyUpdate maps an update kind to the admission action it requires.
// Voice and photo updates are plan-gated features; plain text is not.
func classifyUpdate(kind string) (bot.UpdateKind, admission.Action, bool) {
	switch bot.UpdateKind(kind) {
	case bot.UpdateKindText:
		return bot.UpdateKindText, admission.Action{Kind: "chat.text"}, true
	case bot.UpdateKindVoice:
		return bot.UpdateKindVoice, admission.Action{Kind: "chat.voice", RequiredFeature: domain.FeatureVoiceInput}, true
	case bot.UpdateKindPhoto:
		return bot.UpdateKindPhoto, admission.Action{Kind: "chat.photo", RequiredFeature: domain.FeaturePhotoInput}, true
	default:
		return "", admission.Action{}, false
	}
}
