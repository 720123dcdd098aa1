package model

import (
	"errors"
	"maps"
	"time"
)

var (
	// ErrNotFound is returned by stores for unknown handoffs or input requests.
	ErrNotFound = errors.New("not found")
	// ErrRevisionConflict is returned when a write races another writer.
	ErrRevisionConflict = errors.New("revision conflict")
)

type ExpectedOutput struct {
	Type   string   `json:"type" yaml:"type"`
	Fields []string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Handoff is a unit of work delegated from one agent to another.
// Revision increases by one on every persisted write and is the optimistic
// concurrency token checked by stores.
type Handoff struct {
	ID             string          `json:"id" yaml:"id"`
	Project        string          `json:"project" yaml:"project"`
	FromAgent      string          `json:"from_agent" yaml:"from_agent"`
	ToAgent        string          `json:"to_agent" yaml:"to_agent"`
	CapabilityID   string          `json:"capability_id" yaml:"capability_id"`
	Task           string          `json:"task" yaml:"task"`
	Inputs         map[string]any  `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	ExpectedOutput ExpectedOutput  `json:"expected_output" yaml:"expected_output"`
	Priority       Priority        `json:"priority" yaml:"priority"`
	TimeoutMs      int64           `json:"timeout_ms" yaml:"timeout_ms"`
	Status         HandoffStatus   `json:"status" yaml:"status"`
	CreatedAt      time.Time       `json:"created_at" yaml:"created_at"`
	AcceptedAt     *time.Time      `json:"accepted_at,omitempty" yaml:"accepted_at,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at" yaml:"updated_at"`
	ResultTraceID  string          `json:"result_trace_id,omitempty" yaml:"result_trace_id,omitempty"`
	FailureReason  string          `json:"failure_reason,omitempty" yaml:"failure_reason,omitempty"`
	InputRequests  []InputRequest  `json:"input_requests,omitempty" yaml:"input_requests,omitempty"`
	InputResponses []InputResponse `json:"input_responses,omitempty" yaml:"input_responses,omitempty"`
	Revision       int             `json:"revision" yaml:"revision"`
}

func (h *Handoff) Deadline() time.Time {
	return h.CreatedAt.Add(time.Duration(h.TimeoutMs) * time.Millisecond)
}

// Overdue reports whether a non-terminal handoff has passed its deadline.
func (h *Handoff) Overdue(now time.Time) bool {
	return !IsHandoffTerminal(h.Status) && !now.Before(h.Deadline())
}

// PendingInput returns the most recent unanswered input request, if any.
func (h *Handoff) PendingInput() *InputRequest {
	for i := len(h.InputRequests) - 1; i >= 0; i-- {
		if h.InputRequests[i].Status == InputStatusPending {
			return &h.InputRequests[i]
		}
	}
	return nil
}

func (h *Handoff) InputRequest(requestID string) (*InputRequest, bool) {
	for i := range h.InputRequests {
		if h.InputRequests[i].ID == requestID {
			return &h.InputRequests[i], true
		}
	}
	return nil, false
}

func (h *Handoff) InputResponse(requestID string) (*InputResponse, bool) {
	for i := range h.InputResponses {
		if h.InputResponses[i].RequestID == requestID {
			return &h.InputResponses[i], true
		}
	}
	return nil, false
}

// Clone returns a copy that shares no slices or top-level maps with h.
func (h *Handoff) Clone() *Handoff {
	c := *h
	c.Inputs = maps.Clone(h.Inputs)
	c.ExpectedOutput.Fields = append([]string(nil), h.ExpectedOutput.Fields...)
	c.InputRequests = append([]InputRequest(nil), h.InputRequests...)
	for i := range c.InputRequests {
		c.InputRequests[i].Options = append([]InputOption(nil), h.InputRequests[i].Options...)
	}
	c.InputResponses = append([]InputResponse(nil), h.InputResponses...)
	c.AcceptedAt = cloneTime(h.AcceptedAt)
	c.StartedAt = cloneTime(h.StartedAt)
	c.CompletedAt = cloneTime(h.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
