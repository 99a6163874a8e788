// ABOUTME: Dispatch turns one model-requested tool call into a validated, executed outcome.
// ABOUTME: Handles unknown tools, argument validation, confirmation gating, and timeouts.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Outcome statuses.
const (
	StatusSuccess              = "success"
	StatusError                = "error"
	StatusNotFound             = "not_found"
	StatusInvalidArgs          = "invalid_arguments"
	StatusConfirmationRequired = "confirmation_required"
)

// Request is one model-issued tool call: correlation id, tool identifier,
// and the untrusted argument payload.
type Request struct {
	CallID    string
	ToolID    string
	Arguments json.RawMessage
}

// Outcome is the resolved result of one Request. Exactly one Outcome is
// produced per Request; failures are values here, never panics.
type Outcome struct {
	CallID   string
	ToolID   string
	Status   string
	Result   json.RawMessage
	Error    string
	Duration time.Duration
}

// Executed reports whether the tool's execution capability actually ran.
func (o Outcome) Executed() bool {
	return o.Status == StatusSuccess || o.Status == StatusError
}

// Payload renders the outcome as the JSON body of a tool-result message.
func (o Outcome) Payload() json.RawMessage {
	if o.Status == StatusSuccess {
		return o.Result
	}
	if o.Status == StatusConfirmationRequired {
		return o.Result
	}
	body, _ := json.Marshal(map[string]string{
		"status": o.Status,
		"error":  o.Error,
	})
	return body
}

// ConfirmationSummary extracts the human-readable summary from a
// confirmation-required outcome. Empty for any other status.
func (o Outcome) ConfirmationSummary() string {
	if o.Status != StatusConfirmationRequired {
		return ""
	}
	var body struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(o.Result, &body); err != nil {
		return ""
	}
	return body.Summary
}

// confirmProbe extracts the explicit confirmation flag from an argument
// payload. Anything unparseable counts as unconfirmed.
func confirmProbe(args json.RawMessage) bool {
	var probe struct {
		Confirm bool `json:"confirm"`
	}
	if err := json.Unmarshal(args, &probe); err != nil {
		return false
	}
	return probe.Confirm
}

// WouldExecute reports whether Dispatch would reach the tool's handler for
// this request: known tool, valid arguments, confirmation satisfied.
func (r *Registry) WouldExecute(req Request) bool {
	m, err := r.Get(req.ToolID)
	if err != nil {
		return false
	}
	args := req.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := m.ValidateArgs(args); err != nil {
		return false
	}
	return !m.Meta.NeedsConfirmation() || confirmProbe(args)
}

// Dispatch resolves and runs one tool call. Unknown tools, invalid
// arguments, and confirmation gating produce non-executed outcomes; handler
// errors produce StatusError. The tool's execution capability is invoked at
// most once, with the per-module timeout applied to ctx.
func (r *Registry) Dispatch(ctx context.Context, tc *Context, req Request) Outcome {
	out := Outcome{CallID: req.CallID, ToolID: req.ToolID}

	m, err := r.Get(req.ToolID)
	if err != nil {
		out.Status = StatusNotFound
		out.Error = fmt.Sprintf("tool %q not found", req.ToolID)
		return out
	}

	args := req.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	if err := m.ValidateArgs(args); err != nil {
		out.Status = StatusInvalidArgs
		out.Error = err.Error()
		return out
	}

	if m.Meta.NeedsConfirmation() && !confirmProbe(args) {
		summary := fmt.Sprintf("The tool %q requires confirmation before it runs. Resubmit the call with \"confirm\": true to proceed.", m.ID)
		body, _ := json.Marshal(map[string]any{
			"status":    StatusConfirmationRequired,
			"summary":   summary,
			"arguments": args,
		})
		out.Status = StatusConfirmationRequired
		out.Result = body
		return out
	}

	execCtx := ctx
	if m.Meta.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, m.Meta.Timeout)
		defer cancel()
	}

	started := time.Now()
	result, err := m.Handler(execCtx, tc, args)
	out.Duration = time.Since(started)

	if err != nil {
		out.Status = StatusError
		out.Error = err.Error()
		r.logger.Warn("tool execution failed", "id", m.ID, "call_id", req.CallID, "error", err)
		return out
	}

	out.Status = StatusSuccess
	out.Result = result
	r.logger.Debug("tool executed", "id", m.ID, "call_id", req.CallID, "duration", out.Duration)
	return out
}
