package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"campusrelay/internal/persistence"
	"campusrelay/pkg/types"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// PersistentMessageRequest is the body of POST /api/messages/persistent.
type PersistentMessageRequest struct {
	RecipientID    string `json:"recipient_id" validate:"required,max=64"`
	MessageContent string `json:"message_content" validate:"required,max=65536"`
}

// PersistentMessageResponse describes the stored reference.
type PersistentMessageResponse struct {
	Message        string `json:"message"`
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	BodyRef        string `json:"body_ref"`
	Timestamp      string `json:"timestamp"`
}

// ConversationResponse lists stored references between the caller and a peer.
type ConversationResponse struct {
	ConversationID string                    `json:"conversation_id"`
	Messages       []*types.PersistedMessage `json:"messages"`
}

func (s *Server) handleSendPersistent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, _ := IdentityFrom(ctx)

	var req PersistentMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if !types.IsValidUserID(req.RecipientID) {
		writeError(w, fmt.Errorf("recipient_id: %w", types.ErrInvalidUserID))
		return
	}

	msg, err := s.deps.Messages.Record(ctx, "", identity.UserID, req.RecipientID, persistence.BodyRef(req.MessageContent))
	if err != nil {
		s.logger.ErrorContext(ctx, "store persistent message failed",
			"user_id", identity.UserID, "recipient_id", req.RecipientID, "error", err)
		writeError(w, err)
		return
	}

	s.logger.InfoContext(ctx, "persistent message stored",
		"user_id", identity.UserID, "recipient_id", req.RecipientID, "message_id", msg.MessageID)
	writeJSON(w, http.StatusCreated, PersistentMessageResponse{
		Message:        "Message stored successfully.",
		MessageID:      msg.MessageID,
		ConversationID: msg.ConversationID,
		BodyRef:        msg.BodyRef,
		Timestamp:      msg.Timestamp,
	})
}

func (s *Server) handleListConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, _ := IdentityFrom(ctx)

	peerID := chi.URLParam(r, "peerID")
	if !types.IsValidUserID(peerID) {
		writeError(w, fmt.Errorf("peer id: %w", types.ErrInvalidUserID))
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, err)
		return
	}

	msgs, err := s.deps.Messages.History(ctx, identity.UserID, peerID, limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "list conversation failed", "user_id", identity.UserID, "error", err)
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*types.PersistedMessage{}
	}
	writeJSON(w, http.StatusOK, ConversationResponse{
		ConversationID: persistence.ConversationID(identity.UserID, peerID),
		Messages:       msgs,
	})
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", errInvalidRequest)
	}
	return min(n, maxHistoryLimit), nil
}
