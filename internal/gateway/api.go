// ABOUTME: HTTP handlers that expose conversation turns via SSE
// ABOUTME: One JSON kernel event per data frame, flushed as it arrives

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2389/penny-gateway/internal/auth"
	"github.com/2389/penny-gateway/internal/kernel"
	"github.com/2389/penny-gateway/internal/store"
)

const maxChatBodySize = 1 << 20 // 1MB

// historyPageLimit caps how many messages the history endpoint returns.
const historyPageLimit = 100

// ChatRequest is the body of POST /api/chat. ConversationID is optional;
// when empty a new conversation is created for the caller.
type ChatRequest struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id"`
	SessionID      string `json:"session_id"`
}

// MessageResponse is one history entry in the messages listing.
type MessageResponse struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListMessagesResponse is the body of GET /api/conversations/{id}/messages.
type ListMessagesResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []MessageResponse `json:"messages"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserFromContext(r.Context())
	if userID == "" {
		s.sendJSONError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	req, err := parseChatRequest(w, r)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Resolve the conversation before committing to a streaming response so
	// ownership failures can still produce a proper status code.
	convID, err := s.store.EnsureConversation(r.Context(), userID, req.ConversationID)
	if errors.Is(err, store.ErrForbidden) {
		s.sendJSONError(w, http.StatusForbidden, "conversation belongs to another user")
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to resolve conversation", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// Check streaming support before sending (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported")
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Conversation-ID", convID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	emit := func(ev kernel.Event) error {
		if err := writeSSEEvent(w, ev); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	turn := kernel.TurnRequest{
		UserID:         userID,
		ConversationID: convID,
		SessionID:      req.SessionID,
		Content:        req.Content,
	}

	// The kernel guarantees a terminal done or error event on the stream,
	// so a non-nil return needs logging only.
	if err := s.kernel.RunTurn(r.Context(), turn, emit); err != nil {
		s.logger.Error("turn failed", "conversation_id", convID, "error", err)
	}
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserFromContext(r.Context())
	if userID == "" {
		s.sendJSONError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	convID := chi.URLParam(r, "id")
	if _, err := s.store.EnsureConversation(r.Context(), userID, convID); err != nil {
		switch {
		case errors.Is(err, store.ErrForbidden):
			s.sendJSONError(w, http.StatusForbidden, "conversation belongs to another user")
		case errors.Is(err, store.ErrNotFound):
			s.sendJSONError(w, http.StatusNotFound, "conversation not found")
		default:
			s.logger.Error("failed to resolve conversation", "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	msgs, err := s.store.GetRecentMessages(r.Context(), convID, historyPageLimit)
	if err != nil {
		s.logger.Error("failed to load messages", "conversation_id", convID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ListMessagesResponse{
		ConversationID: convID,
		Messages:       make([]MessageResponse, 0, len(msgs)),
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, MessageResponse{
			ID:         m.ID,
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			CreatedAt:  m.CreatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode messages response", "error", err)
	}
}

// writeSSEEvent writes a single kernel event as an SSE data frame. Events
// carry their type in the JSON payload so no event: line is needed.
func writeSSEEvent(w io.Writer, ev kernel.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// parseChatRequest parses and validates a ChatRequest from the request body.
// Returns an error if the JSON is invalid or content is missing.
func parseChatRequest(w http.ResponseWriter, r *http.Request) (*ChatRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodySize)
	defer r.Body.Close()

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}

	if req.Content == "" {
		return nil, errors.New("content is required")
	}

	return &req, nil
}
