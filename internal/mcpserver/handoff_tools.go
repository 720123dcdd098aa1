package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/contextcore/contextcore/internal/handoff"
	"github.com/contextcore/contextcore/internal/model"
)

// ─── CreateHandoffTool ──────────────────────────────────────────────────────

type CreateHandoffTool struct {
	manager *handoff.Manager
}

func NewCreateHandoffTool(m *handoff.Manager) *CreateHandoffTool {
	return &CreateHandoffTool{manager: m}
}

func (t *CreateHandoffTool) Definition() mcp.Tool {
	return mcp.NewTool("handoff_create",
		mcp.WithDescription("Delegate a task to another agent. Returns the handoff id to poll with handoff_status or handoff_await."),
		mcp.WithString("to_agent", mcp.Required(), mcp.Description("Receiving agent id")),
		mcp.WithString("capability_id", mcp.Required(), mcp.Description("Capability the receiver must provide")),
		mcp.WithString("task", mcp.Required(), mcp.Description("What to do, in plain language")),
		mcp.WithObject("inputs", mcp.Description("Structured input payload")),
		mcp.WithString("priority",
			mcp.Description("low, normal, high or urgent (default normal)"),
			mcp.Enum("low", "normal", "high", "urgent"),
		),
		mcp.WithNumber("timeout_ms", mcp.Description("Handoff timeout in milliseconds (default from configuration)")),
	)
}

func (t *CreateHandoffTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h, err := t.manager.Create(ctx, handoff.CreateRequest{
		ToAgent:      req.GetString("to_agent", ""),
		CapabilityID: req.GetString("capability_id", ""),
		Task:         req.GetString("task", ""),
		Inputs:       objectArg(req, "inputs"),
		Priority:     req.GetString("priority", ""),
		TimeoutMs:    int64(intArg(req, "timeout_ms", int(t.manager.DefaultTimeoutMs()))),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"handoff_id": h.ID,
		"status":     h.Status,
		"deadline":   model.FormatTime(h.Deadline()),
	})
}

// ─── HandoffStatusTool ──────────────────────────────────────────────────────

type HandoffStatusTool struct {
	manager *handoff.Manager
}

func NewHandoffStatusTool(m *handoff.Manager) *HandoffStatusTool {
	return &HandoffStatusTool{manager: m}
}

func (t *HandoffStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("handoff_status",
		mcp.WithDescription("Current record of a handoff as the backend sees it. May lag a recent transition."),
		mcp.WithString("handoff_id", mcp.Required(), mcp.Description("Handoff id")),
	)
}

func (t *HandoffStatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("handoff_id", "")
	if id == "" {
		return mcp.NewToolResultError("'handoff_id' is required"), nil
	}
	h, err := t.manager.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(h)
}

// ─── AwaitHandoffTool ───────────────────────────────────────────────────────

type AwaitHandoffTool struct {
	manager *handoff.Manager
}

func NewAwaitHandoffTool(m *handoff.Manager) *AwaitHandoffTool {
	return &AwaitHandoffTool{manager: m}
}

func (t *AwaitHandoffTool) Definition() mcp.Tool {
	return mcp.NewTool("handoff_await",
		mcp.WithDescription(
			"Wait for a handoff to finish. outcome is completed, failed, timed_out (the protocol expired it) "+
				"or client_timeout (this call stopped waiting; the handoff may still finish).",
		),
		mcp.WithString("handoff_id", mcp.Required(), mcp.Description("Handoff id")),
		mcp.WithNumber("timeout_ms", mcp.Description("How long to wait (default 60000)")),
	)
}

func (t *AwaitHandoffTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("handoff_id", "")
	if id == "" {
		return mcp.NewToolResultError("'handoff_id' is required"), nil
	}
	timeout := time.Duration(intArg(req, "timeout_ms", 60_000)) * time.Millisecond
	res, err := t.manager.AwaitOutcome(ctx, id, timeout)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := map[string]any{
		"handoff_id": id,
		"outcome":    res.Outcome,
		"status":     res.Status,
		"waited_ms":  res.Waited.Milliseconds(),
	}
	if res.ResultTraceID != "" {
		out["result_trace_id"] = res.ResultTraceID
	}
	if res.FailureReason != "" {
		out["failure_reason"] = res.FailureReason
	}
	if res.Err != nil {
		out["last_error"] = res.Err.Error()
	}
	return jsonResult(out)
}

// ─── ProvideInputTool ───────────────────────────────────────────────────────

type ProvideInputTool struct {
	manager *handoff.Manager
}

func NewProvideInputTool(m *handoff.Manager) *ProvideInputTool {
	return &ProvideInputTool{manager: m}
}

func (t *ProvideInputTool) Definition() mcp.Tool {
	return mcp.NewTool("handoff_provide_input",
		mcp.WithDescription("Answer a question a receiving agent asked about a handoff."),
		mcp.WithString("request_id", mcp.Required(), mcp.Description("Input request id from handoff_list_inputs")),
		mcp.WithString("value",
			mcp.Required(),
			mcp.Description("The answer. JSON values (true, [\"a\",\"b\"]) are decoded; anything else is taken as text."),
		),
	)
}

func (t *ProvideInputTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reqID := req.GetString("request_id", "")
	if reqID == "" {
		return mcp.NewToolResultError("'request_id' is required"), nil
	}
	raw, ok := req.GetArguments()["value"]
	if !ok {
		return mcp.NewToolResultError("'value' is required"), nil
	}
	resp, err := t.manager.ProvideInput(ctx, reqID, decodeValue(raw))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Answered %s on handoff %s (response %s).", reqID, resp.HandoffID, resp.ID)), nil
}

// decodeValue accepts either a JSON value or text that may hold one.
func decodeValue(raw any) any {
	if s, ok := raw.(string); ok {
		return model.ParseAnswer(s)
	}
	return raw
}

// ─── ListInputsTool ─────────────────────────────────────────────────────────

type ListInputsTool struct {
	manager *handoff.Manager
}

func NewListInputsTool(m *handoff.Manager) *ListInputsTool {
	return &ListInputsTool{manager: m}
}

func (t *ListInputsTool) Definition() mcp.Tool {
	return mcp.NewTool("handoff_list_inputs",
		mcp.WithDescription("Unanswered questions from receiving agents, for one handoff or for every handoff you created."),
		mcp.WithString("handoff_id", mcp.Description("Limit to one handoff")),
	)
}

func (t *ListInputsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reqs, err := t.manager.ListInputRequests(ctx, req.GetString("handoff_id", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(reqs) == 0 {
		return mcp.NewToolResultText("No pending input requests."), nil
	}
	return jsonResult(reqs)
}
