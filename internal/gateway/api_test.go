// ABOUTME: Tests for HTTP handlers that expose conversation turns via SSE
// ABOUTME: Verifies request handling, streaming responses, and error conditions

package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/penny-gateway/internal/auth"
	"github.com/2389/penny-gateway/internal/kernel"
	"github.com/2389/penny-gateway/internal/store"
)

var testSecret = []byte("gateway-test-secret")

// scriptedRunner replays a fixed event sequence and records the request.
type scriptedRunner struct {
	events   []kernel.Event
	err      error
	requests []kernel.TurnRequest
}

func (f *scriptedRunner) RunTurn(ctx context.Context, req kernel.TurnRequest, emit kernel.EmitFunc) error {
	f.requests = append(f.requests, req)
	for _, ev := range f.events {
		if err := emit(ev); err != nil {
			return err
		}
	}
	return f.err
}

func newTestServer(t *testing.T, runner *scriptedRunner) (*Server, store.Store) {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return New(runner, s, auth.NewJWTVerifier(testSecret), nil), s
}

func bearerFor(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.NewJWTVerifier(testSecret).Generate(userID, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func chatRequest(t *testing.T, userID string, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearerFor(t, userID))
	return req
}

// parseSSE decodes the data frames of an SSE body into kernel events.
func parseSSE(t *testing.T, body string) []kernel.Event {
	t.Helper()
	var events []kernel.Event
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev kernel.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestHandleChat_StreamsEvents(t *testing.T) {
	runner := &scriptedRunner{events: []kernel.Event{
		{Type: kernel.EventText, Content: "You spent "},
		{Type: kernel.EventText, Content: "$125.60 on groceries."},
		{Type: kernel.EventDone, MessageID: "msg-1", ProcessingTime: 42},
	}}
	srv, _ := newTestServer(t, runner)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, chatRequest(t, "user-1", ChatRequest{Content: "how much on groceries?"}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get("X-Conversation-ID"))

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 3)
	assert.Equal(t, kernel.EventText, events[0].Type)
	assert.Equal(t, "You spent ", events[0].Content)
	assert.Equal(t, kernel.EventDone, events[2].Type)
	assert.Equal(t, "msg-1", events[2].MessageID)

	require.Len(t, runner.requests, 1)
	assert.Equal(t, "user-1", runner.requests[0].UserID)
	assert.Equal(t, rec.Header().Get("X-Conversation-ID"), runner.requests[0].ConversationID)
}

func TestHandleChat_CreatesConversation(t *testing.T) {
	runner := &scriptedRunner{events: []kernel.Event{
		{Type: kernel.EventDone, MessageID: "msg-1"},
	}}
	srv, st := newTestServer(t, runner)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, chatRequest(t, "user-1", ChatRequest{Content: "hi"}))
	require.Equal(t, http.StatusOK, rec.Code)

	conv, err := st.GetConversation(context.Background(), rec.Header().Get("X-Conversation-ID"))
	require.NoError(t, err)
	assert.Equal(t, "user-1", conv.UserID)
}

func TestHandleChat_ReusesConversation(t *testing.T) {
	runner := &scriptedRunner{events: []kernel.Event{{Type: kernel.EventDone}}}
	srv, st := newTestServer(t, runner)

	convID, err := st.EnsureConversation(context.Background(), "user-1", "")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, chatRequest(t, "user-1", ChatRequest{Content: "hi", ConversationID: convID}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, convID, rec.Header().Get("X-Conversation-ID"))
}

func TestHandleChat_ForeignConversationForbidden(t *testing.T) {
	runner := &scriptedRunner{}
	srv, st := newTestServer(t, runner)

	convID, err := st.EnsureConversation(context.Background(), "user-1", "")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, chatRequest(t, "user-2", ChatRequest{Content: "hi", ConversationID: convID}))

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, runner.requests)

	var errResp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
	assert.Equal(t, "conversation belongs to another user", errResp["error"])
}

func TestHandleChat_UnknownConversationNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedRunner{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, chatRequest(t, "user-1", ChatRequest{Content: "hi", ConversationID: "nope"}))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleChat_MissingContent(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedRunner{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, chatRequest(t, "user-1", ChatRequest{}))

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
	assert.Equal(t, "content is required", errResp["error"])
}

func TestHandleChat_InvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedRunner{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{not json"))
	req.Header.Set("Authorization", bearerFor(t, "user-1"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChat_RequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedRunner{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"content":"hi"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleChat_ErrorTurnStillStreamsTerminalEvent(t *testing.T) {
	partial := true
	runner := &scriptedRunner{
		events: []kernel.Event{
			{Type: kernel.EventText, Content: "partial answer"},
			{Type: kernel.EventError, Error: "provider stream failed", Partial: &partial},
		},
		err: context.DeadlineExceeded,
	}
	srv, _ := newTestServer(t, runner)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, chatRequest(t, "user-1", ChatRequest{Content: "hi"}))

	require.Equal(t, http.StatusOK, rec.Code)
	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 2)
	last := events[len(events)-1]
	assert.Equal(t, kernel.EventError, last.Type)
	require.NotNil(t, last.Partial)
	assert.True(t, *last.Partial)
}

func TestHandleChat_ToolEventsSerialized(t *testing.T) {
	runner := &scriptedRunner{events: []kernel.Event{
		{Type: kernel.EventToolCall, Tool: kernel.ToolRef{ID: "call_1", Name: "transactions_query"}},
		{Type: kernel.EventToolExecuting, Tool: "transactions_query"},
		{Type: kernel.EventDone, MessageID: "msg-1"},
	}}
	srv, _ := newTestServer(t, runner)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, chatRequest(t, "user-1", ChatRequest{Content: "hi"}))
	require.Equal(t, http.StatusOK, rec.Code)

	lines := strings.Split(rec.Body.String(), "\n")
	require.True(t, strings.HasPrefix(lines[0], "data: "))
	var frame map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[0], "data: ")), &frame))
	tool, ok := frame["tool"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "call_1", tool["id"])
	assert.Equal(t, "transactions_query", tool["name"])
}

func TestHandleListMessages(t *testing.T) {
	srv, st := newTestServer(t, &scriptedRunner{})
	ctx := context.Background()

	convID, err := st.EnsureConversation(ctx, "user-1", "")
	require.NoError(t, err)
	_, err = st.SaveMessage(ctx, &store.Message{
		ConversationID:  convID,
		Role:            store.RoleUser,
		Content:         "my email is a@b.com",
		RedactedContent: "my email is [REDACTED:EMAIL]",
	})
	require.NoError(t, err)
	_, err = st.SaveMessage(ctx, &store.Message{
		ConversationID: convID,
		Role:           store.RoleAssistant,
		Content:        "Noted.",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/"+convID+"/messages", nil)
	req.Header.Set("Authorization", bearerFor(t, "user-1"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListMessagesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, convID, resp.ConversationID)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, store.RoleUser, resp.Messages[0].Role)
	assert.Equal(t, "my email is a@b.com", resp.Messages[0].Content)
	assert.Equal(t, "Noted.", resp.Messages[1].Content)
}

func TestHandleListMessages_ForeignConversation(t *testing.T) {
	srv, st := newTestServer(t, &scriptedRunner{})

	convID, err := st.EnsureConversation(context.Background(), "user-1", "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/"+convID+"/messages", nil)
	req.Header.Set("Authorization", bearerFor(t, "user-2"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleListMessages_NotFound(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedRunner{})

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/missing/messages", nil)
	req.Header.Set("Authorization", bearerFor(t, "user-1"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHealthz_NoAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedRunner{})

	req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}
