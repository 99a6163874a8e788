// ABOUTME: Streaming chat completion client for OpenAI-compatible providers
// ABOUTME: Emits typed events on a channel; reassembles fragmented tool call deltas

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/2389/penny-gateway/internal/config"
)

var (
	// ErrContextTooLong means the request exceeds the model's context window.
	ErrContextTooLong = errors.New("conversation exceeds model context window")
	// ErrPromptInjection means the user input matched an injection pattern.
	ErrPromptInjection = errors.New("prompt injection detected")
)

const (
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
	eventBuffer    = 64
)

// EventType discriminates stream events.
type EventType string

const (
	EventText     EventType = "text"
	EventToolCall EventType = "tool_call"
	EventError    EventType = "error"
	EventDone     EventType = "done"
)

// Event is one item on the completion stream.
type Event struct {
	Type     EventType
	Text     string
	ToolCall *ToolCall
	Err      error
	Usage    *Usage
}

// Usage is the token accounting for one completion call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Estimated    bool
}

// Request describes one completion call.
type Request struct {
	System         string
	Messages       []Message
	Tools          []ToolDefinition
	UserID         string
	ConversationID string
}

// Client streams chat completions from an OpenAI-compatible endpoint.
type Client struct {
	baseURL         string
	apiKey          string
	model           string
	contextTokens   int
	inputPricePerM  float64
	outputPricePerM float64
	httpClient      *http.Client
	recorder        UsageRecorder
	logger          *slog.Logger
}

// New creates a completion client from the model configuration.
func New(cfg config.ModelConfig, recorder UsageRecorder) *Client {
	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		model:           cfg.Name,
		contextTokens:   cfg.ContextTokens,
		inputPricePerM:  cfg.InputPricePerM,
		outputPricePerM: cfg.OutputPricePerM,
		httpClient:      &http.Client{Timeout: cfg.RequestTimeout},
		recorder:        recorder,
		logger:          slog.Default().With("component", "llm"),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Stream starts a completion and returns a channel of events. Preflight
// failures (context overflow, injection, transport errors) are returned
// directly; after that, all outcomes arrive as events and the channel is
// closed when the stream ends. Usage is recorded once per call either way.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	inputEstimate := estimateTokens(req)
	if c.contextTokens > 0 && inputEstimate > c.contextTokens {
		return nil, fmt.Errorf("%w: ~%d tokens, limit %d", ErrContextTooLong, inputEstimate, c.contextTokens)
	}

	if last := lastUserContent(req.Messages); last != "" {
		if detail, hit := scanInjection(last); hit {
			return nil, fmt.Errorf("%w: %s", ErrPromptInjection, detail)
		}
	}

	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	body, err := json.Marshal(chatRequest{
		Model:         c.model,
		Messages:      messages,
		Tools:         req.Tools,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	resp, err := c.doRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, eventBuffer)
	go c.consume(ctx, resp, req, inputEstimate, events)
	return events, nil
}

// doRequest posts the completion request, retrying rate limits with backoff.
func (c *Client) doRequest(ctx context.Context, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("executing request: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("rate limited (HTTP %d)", resp.StatusCode)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}

		return resp, nil
	}
	return nil, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

// pendingCall accumulates tool call fragments for one delta index.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func (c *Client) consume(ctx context.Context, resp *http.Response, req Request, inputEstimate int, events chan<- Event) {
	defer close(events)
	defer resp.Body.Close()

	var (
		outputText strings.Builder
		pending    = map[int]*pendingCall{}
		emitted    = map[int]bool{}
		usage      *usageFrame
	)

	defer func() {
		c.recordUsage(req, inputEstimate, outputText.Len(), usage)
	}()

	send := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// flushCalls emits assembled tool calls in index order.
	flushCalls := func() bool {
		idxs := make([]int, 0, len(pending))
		for idx := range pending {
			if !emitted[idx] {
				idxs = append(idxs, idx)
			}
		}
		sort.Ints(idxs)
		for _, idx := range idxs {
			p := pending[idx]
			emitted[idx] = true
			call := &ToolCall{
				ID:       p.id,
				Type:     "function",
				Function: FunctionCall{Name: p.name, Arguments: p.args.String()},
			}
			if !send(Event{Type: EventToolCall, ToolCall: call}) {
				return false
			}
		}
		return true
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			send(Event{Type: EventError, Err: ctx.Err()})
			return
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Debug("skipping malformed stream frame", "error", err)
			continue
		}
		if chunk.Error != nil {
			send(Event{Type: EventError, Err: fmt.Errorf("provider error: %s", chunk.Error.Message)})
			return
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				outputText.WriteString(choice.Delta.Content)
				if !send(Event{Type: EventText, Text: choice.Delta.Content}) {
					return
				}
			}
			for _, delta := range choice.Delta.ToolCalls {
				p, ok := pending[delta.Index]
				if !ok {
					p = &pendingCall{}
					pending[delta.Index] = p
				}
				if delta.ID != "" {
					p.id = delta.ID
				}
				if delta.Function.Name != "" {
					p.name = delta.Function.Name
				}
				p.args.WriteString(delta.Function.Arguments)
			}
			if choice.FinishReason == "tool_calls" {
				if !flushCalls() {
					return
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		send(Event{Type: EventError, Err: fmt.Errorf("reading stream: %w", err)})
		return
	}

	// Providers that omit finish_reason still get their calls delivered.
	if !flushCalls() {
		return
	}

	send(Event{Type: EventDone, Usage: c.buildUsage(inputEstimate, outputText.Len(), usage)})
}

func (c *Client) buildUsage(inputEstimate, outputChars int, frame *usageFrame) *Usage {
	u := &Usage{}
	if frame != nil {
		u.InputTokens = frame.PromptTokens
		u.OutputTokens = frame.CompletionTokens
	} else {
		u.InputTokens = inputEstimate
		u.OutputTokens = outputChars / 4
		u.Estimated = true
	}
	u.CostUSD = float64(u.InputTokens)*c.inputPricePerM/1e6 + float64(u.OutputTokens)*c.outputPricePerM/1e6
	return u
}

func (c *Client) recordUsage(req Request, inputEstimate, outputChars int, frame *usageFrame) {
	if c.recorder == nil {
		return
	}
	u := c.buildUsage(inputEstimate, outputChars, frame)
	// Recording must not depend on the request context, which may be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.recorder.RecordUsage(ctx, req.UserID, req.ConversationID, c.model, u); err != nil {
		c.logger.Warn("failed to record usage", "error", err)
	}
}

// estimateTokens approximates token count as total characters over four.
func estimateTokens(req Request) int {
	chars := len(req.System)
	for _, m := range req.Messages {
		chars += len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Function.Arguments)
		}
	}
	return chars / 4
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
