package handoff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/contextcore/contextcore/internal/events"
	"github.com/contextcore/contextcore/internal/model"
)

// CreateRequest holds the requester-supplied fields of a new handoff.
type CreateRequest struct {
	ToAgent        string
	CapabilityID   string
	Task           string
	Inputs         map[string]any
	ExpectedOutput model.ExpectedOutput
	Priority       string
	TimeoutMs      int64
}

func (r CreateRequest) validate() (model.Priority, error) {
	var ve ValidationErrors
	if strings.TrimSpace(r.ToAgent) == "" {
		ve.Add("to_agent", "must not be empty")
	}
	if strings.TrimSpace(r.CapabilityID) == "" {
		ve.Add("capability_id", "must not be empty")
	}
	if strings.TrimSpace(r.Task) == "" {
		ve.Add("task", "must not be empty")
	}
	if r.TimeoutMs <= 0 {
		ve.Add("timeout_ms", fmt.Sprintf("must be positive, got %d", r.TimeoutMs))
	}
	p, err := model.ParsePriority(r.Priority)
	if err != nil {
		ve.Add("priority", err.Error())
	}
	if ve.HasErrors() {
		return "", &ve
	}
	return p, nil
}

// Outcome is how an await finished. OutcomeTimedOut means the protocol
// declared the handoff timed out; OutcomeClientTimeout means only that the
// caller stopped waiting.
type Outcome string

const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeFailed        Outcome = "failed"
	OutcomeTimedOut      Outcome = "timed_out"
	OutcomeClientTimeout Outcome = "client_timeout"
)

type Result struct {
	HandoffID     string
	Outcome       Outcome
	Status        model.HandoffStatus
	ResultTraceID string
	FailureReason string
	Waited        time.Duration
	// Handoff is the last record observed, nil if none was ever read.
	Handoff *model.Handoff
	// Err is the last backend error seen before a client timeout.
	Err error
}

func resultFrom(h *model.Handoff, waited time.Duration) Result {
	r := Result{
		HandoffID:     h.ID,
		Status:        h.Status,
		ResultTraceID: h.ResultTraceID,
		FailureReason: h.FailureReason,
		Waited:        waited,
		Handoff:       h,
	}
	switch h.Status {
	case model.HandoffStatusCompleted:
		r.Outcome = OutcomeCompleted
	case model.HandoffStatusFailed:
		r.Outcome = OutcomeFailed
	case model.HandoffStatusTimedOut:
		r.Outcome = OutcomeTimedOut
	}
	return r
}

// Manager performs the requester side of the protocol: create, status
// reads, awaiting a result and answering input requests.
type Manager struct {
	core
	reads singleflight.Group
}

func NewManager(store Store, opts Options) *Manager {
	return &Manager{core: newCore(store, opts, "manager")}
}

// DefaultTimeoutMs is the timeout callers should use when the requester
// did not pick one.
func (m *Manager) DefaultTimeoutMs() int64 { return m.opts.DefaultTimeoutMs }

func (m *Manager) Create(ctx context.Context, req CreateRequest) (*model.Handoff, error) {
	priority, err := req.validate()
	if err != nil {
		return nil, err
	}
	if err := m.authorize(ctx, "capability/"+req.CapabilityID, ActionCreate); err != nil {
		return nil, err
	}

	id, err := model.GenerateID(model.IDTypeHandoff)
	if err != nil {
		return nil, err
	}
	now := m.now()
	h := &model.Handoff{
		ID:             id,
		Project:        m.opts.Project,
		FromAgent:      m.opts.AgentID,
		ToAgent:        strings.TrimSpace(req.ToAgent),
		CapabilityID:   strings.TrimSpace(req.CapabilityID),
		Task:           req.Task,
		Inputs:         req.Inputs,
		ExpectedOutput: req.ExpectedOutput,
		Priority:       priority,
		TimeoutMs:      req.TimeoutMs,
		Status:         model.HandoffStatusCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.Save(ctx, h, 0); err != nil {
		return nil, fmt.Errorf("save handoff %s: %w", id, err)
	}

	m.log.Infof("handoff_created id=%s to=%s capability=%s priority=%s timeout_ms=%d",
		h.ID, h.ToAgent, h.CapabilityID, h.Priority, h.TimeoutMs)
	m.publish(events.EventHandoffCreated, h, map[string]any{
		"to_agent":      h.ToAgent,
		"capability_id": h.CapabilityID,
		"priority":      string(h.Priority),
	})
	return h.Clone(), nil
}

// Get returns the backend's current view of a handoff. Concurrent reads of
// the same id share one backend query; each caller stops waiting for it
// when its own ctx is done.
func (m *Manager) Get(ctx context.Context, id string) (*model.Handoff, error) {
	ch := m.reads.DoChan(m.opts.Project+"/"+id, func() (any, error) {
		return m.load(ctx, id)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*model.Handoff).Clone(), nil
	}
}

func (m *Manager) GetStatus(ctx context.Context, id string) (model.HandoffStatus, error) {
	h, err := m.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return h.Status, nil
}

// Await polls at the configured interval until the handoff reaches a
// terminal status or timeout elapses. Backend errors and stale reads are
// retried until then. Every backend read is bounded by the same deadline,
// so a stalled store cannot stretch the wait. On a local timeout it
// returns a *HandoffTimeoutError carrying the last observed status and the
// last backend error.
func (m *Manager) Await(ctx context.Context, id string, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		return Result{}, ValidationError{FieldPath: "timeout", Message: "must be positive"}
	}

	start := time.Now()
	pollCtx, cancel := context.WithDeadline(ctx, start.Add(timeout))
	defer cancel()
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	var last *model.Handoff
	var lastErr error
	gaveUp := func() (Result, error) {
		te := &HandoffTimeoutError{HandoffID: id, Waited: time.Since(start), Cause: lastErr}
		if last != nil {
			te.LastStatus = last.Status
		}
		m.log.Warnf("await_client_timeout id=%s waited=%s last_status=%s", id, te.Waited, te.LastStatus)
		return Result{}, te
	}

	for {
		h, err := m.Get(pollCtx, id)
		switch {
		case err == nil:
			lastErr = nil
			// an older revision is a stale read; keep the newest view
			if last == nil || h.Revision >= last.Revision {
				last = h
			}
			if model.IsHandoffTerminal(last.Status) {
				m.log.Debugf("await_done id=%s status=%s", id, last.Status)
				return resultFrom(last, time.Since(start)), nil
			}
		case ctx.Err() != nil:
			return Result{}, ctx.Err()
		case pollCtx.Err() != nil:
			lastErr = err
			return gaveUp()
		default:
			lastErr = err
			m.log.Debugf("await_poll_error id=%s err=%v", id, err)
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-pollCtx.Done():
			return gaveUp()
		case <-ticker.C:
		}
	}
}

// AwaitOutcome is Await with the client-side timeout reported as
// OutcomeClientTimeout instead of an error.
func (m *Manager) AwaitOutcome(ctx context.Context, id string, timeout time.Duration) (Result, error) {
	res, err := m.Await(ctx, id, timeout)
	var te *HandoffTimeoutError
	if errors.As(err, &te) {
		return Result{
			HandoffID: id,
			Outcome:   OutcomeClientTimeout,
			Status:    te.LastStatus,
			Waited:    te.Waited,
			Err:       te.Cause,
		}, nil
	}
	return res, err
}

// CreateAndAwait creates a handoff and waits for it using the handoff's
// own timeout as the wait budget.
func (m *Manager) CreateAndAwait(ctx context.Context, req CreateRequest) (Result, error) {
	h, err := m.Create(ctx, req)
	if err != nil {
		return Result{}, err
	}
	res, err := m.Await(ctx, h.ID, time.Duration(h.TimeoutMs)*time.Millisecond)
	res.HandoffID = h.ID
	return res, err
}

// ProvideInput answers a pending input request and hands control back to
// the receiver (INPUT_REQUIRED → IN_PROGRESS).
func (m *Manager) ProvideInput(ctx context.Context, requestID string, value any) (*model.InputResponse, error) {
	found, err := m.store.FindByInputRequest(ctx, m.opts.Project, requestID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, &NotFoundError{Kind: "input_request", ID: requestID}
	}
	if err != nil {
		return nil, fmt.Errorf("find input request %s: %w", requestID, err)
	}
	if err := m.authorize(ctx, "handoff/"+found.ID, ActionProvideInput); err != nil {
		return nil, err
	}

	var resp model.InputResponse
	h, err := m.update(ctx, found.ID, func(h *model.Handoff) error {
		req, ok := h.InputRequest(requestID)
		if !ok {
			return &NotFoundError{Kind: "input_request", ID: requestID}
		}
		if req.Status != model.InputStatusPending {
			return &NotFoundError{Kind: "input_request", ID: requestID, Reason: "already " + string(req.Status)}
		}
		if req.Expired(m.now()) {
			return &NotFoundError{Kind: "input_request", ID: requestID, Reason: "expired"}
		}
		if err := req.ValidateAnswer(value); err != nil {
			return ValidationError{FieldPath: "value", Message: err.Error()}
		}
		if err := transition(h, model.HandoffStatusInProgress, "provide input"); err != nil {
			return err
		}
		id, err := model.GenerateID(model.IDTypeInputResponse)
		if err != nil {
			return err
		}
		req.Status = model.InputStatusAnswered
		resp = model.InputResponse{
			ID:          id,
			RequestID:   requestID,
			HandoffID:   h.ID,
			Value:       value,
			RespondedAt: m.now(),
		}
		h.InputResponses = append(h.InputResponses, resp)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.Infof("input_provided id=%s request=%s", h.ID, requestID)
	m.publish(events.EventInputProvided, h, map[string]any{"request_id": requestID})
	return &resp, nil
}

// ListInputRequests returns the pending input requests of one handoff, or
// of every active handoff this manager created when handoffID is empty.
func (m *Manager) ListInputRequests(ctx context.Context, handoffID string) ([]model.InputRequest, error) {
	var handoffs []*model.Handoff
	if handoffID != "" {
		h, err := m.load(ctx, handoffID)
		if err != nil {
			return nil, err
		}
		handoffs = []*model.Handoff{h}
	} else {
		active, err := m.store.ListActive(ctx, m.opts.Project)
		if err != nil {
			return nil, fmt.Errorf("list active handoffs: %w", err)
		}
		for _, h := range active {
			if m.opts.AgentID == "" || h.FromAgent == m.opts.AgentID {
				handoffs = append(handoffs, h)
			}
		}
	}

	var out []model.InputRequest
	for _, h := range handoffs {
		for _, req := range h.InputRequests {
			if req.Status == model.InputStatusPending {
				out = append(out, req)
			}
		}
	}
	return out, nil
}
