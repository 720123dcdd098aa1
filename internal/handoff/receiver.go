package handoff

import (
	"context"
	"fmt"
	"time"

	"github.com/contextcore/contextcore/internal/events"
	"github.com/contextcore/contextcore/internal/lock"
	"github.com/contextcore/contextcore/internal/model"
)

type ReceiverOptions struct {
	Options
	// Capabilities the receiver serves; empty accepts any capability.
	Capabilities []string
	// LockPath, when set, makes Serve hold an exclusive file lock so only
	// one process receives on behalf of the agent.
	LockPath string
}

// Receiver performs the receiving agent's side of the protocol.
type Receiver struct {
	core
	capabilities []string
	lockPath     string
	sweeper      *Sweeper
}

func NewReceiver(store Store, opts ReceiverOptions) *Receiver {
	return &Receiver{
		core:         newCore(store, opts.Options, "receiver"),
		capabilities: opts.Capabilities,
		lockPath:     opts.LockPath,
		sweeper:      NewSweeper(store, opts.Options),
	}
}

// Poll returns the CREATED handoffs waiting for this receiver, ordered
// priority DESC → created_at ASC → id ASC. Overdue handoffs are moved to
// TIMED_OUT and left out.
func (r *Receiver) Poll(ctx context.Context) ([]*model.Handoff, error) {
	pending, err := r.store.ListPending(ctx, r.opts.Project, r.capabilities, r.opts.AgentID)
	if err != nil {
		return nil, fmt.Errorf("list pending handoffs: %w", err)
	}

	now := r.now()
	out := make([]*model.Handoff, 0, len(pending))
	for _, h := range pending {
		if h.Status != model.HandoffStatusCreated {
			continue
		}
		if h.Overdue(now) {
			if _, err := r.expire(ctx, h.ID); err != nil && !IsInvalidTransition(err) {
				r.log.Warnf("expire_failed id=%s err=%v", h.ID, err)
			}
			continue
		}
		out = append(out, h)
	}
	SortPending(out)
	return out, nil
}

// Accept claims a CREATED handoff. Accepting twice, or accepting a handoff
// that has left CREATED, fails with *InvalidTransitionError. A CREATED
// handoff already past its deadline is moved to TIMED_OUT instead.
func (r *Receiver) Accept(ctx context.Context, id string) (*model.Handoff, error) {
	if err := r.authorize(ctx, "handoff/"+id, ActionAccept); err != nil {
		return nil, err
	}

	timedOut := false
	h, err := r.update(ctx, id, func(h *model.Handoff) error {
		timedOut = false
		if h.ToAgent != "" && r.opts.AgentID != "" && h.ToAgent != r.opts.AgentID {
			return ValidationError{FieldPath: "to_agent", Message: fmt.Sprintf("handoff is addressed to %s", h.ToAgent)}
		}
		now := r.now()
		if h.Status == model.HandoffStatusCreated && h.Overdue(now) {
			timedOut = true
			return transition(h, model.HandoffStatusTimedOut, "time out")
		}
		if err := transition(h, model.HandoffStatusAccepted, "accept"); err != nil {
			return err
		}
		h.AcceptedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if timedOut {
		r.log.Warnf("handoff_timeout id=%s on accept", h.ID)
		r.publish(events.EventHandoffTimedOut, h, nil)
		return nil, &InvalidTransitionError{
			HandoffID: id,
			From:      model.HandoffStatusTimedOut,
			To:        model.HandoffStatusAccepted,
			Operation: "accept",
		}
	}

	r.log.Infof("handoff_accepted id=%s capability=%s", h.ID, h.CapabilityID)
	r.publish(events.EventHandoffAccepted, h, nil)
	return h, nil
}

// Start moves an accepted handoff to IN_PROGRESS.
func (r *Receiver) Start(ctx context.Context, id string) (*model.Handoff, error) {
	h, err := r.update(ctx, id, func(h *model.Handoff) error {
		if err := transition(h, model.HandoffStatusInProgress, "start"); err != nil {
			return err
		}
		now := r.now()
		h.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Debugf("handoff_started id=%s", h.ID)
	r.publish(events.EventHandoffStarted, h, nil)
	return h, nil
}

// InputSpec describes a clarification question. Zero InputType means text
// and zero TimeoutMs means model.DefaultInputTimeoutMs.
type InputSpec struct {
	Question  string
	InputType model.InputType
	Options   []model.InputOption
	Default   any
	Required  bool
	TimeoutMs int64
}

// RequestInput asks the requester a question and moves the handoff from
// IN_PROGRESS to INPUT_REQUIRED. The request's timeout is independent of
// the handoff's.
func (r *Receiver) RequestInput(ctx context.Context, id string, spec InputSpec) (*model.InputRequest, error) {
	if err := r.authorize(ctx, "handoff/"+id, ActionRequestInput); err != nil {
		return nil, err
	}
	if spec.InputType == "" {
		spec.InputType = model.InputTypeText
	}
	if spec.TimeoutMs <= 0 {
		spec.TimeoutMs = model.DefaultInputTimeoutMs
	}

	var req model.InputRequest
	h, err := r.update(ctx, id, func(h *model.Handoff) error {
		reqID, err := model.GenerateID(model.IDTypeInputRequest)
		if err != nil {
			return err
		}
		req = model.InputRequest{
			ID:        reqID,
			HandoffID: h.ID,
			Question:  spec.Question,
			InputType: spec.InputType,
			Options:   spec.Options,
			Default:   spec.Default,
			Required:  spec.Required,
			TimeoutMs: spec.TimeoutMs,
			Status:    model.InputStatusPending,
			CreatedAt: r.now(),
		}
		if err := req.Validate(); err != nil {
			return ValidationError{FieldPath: "input_request", Message: err.Error()}
		}
		if err := transition(h, model.HandoffStatusInputRequired, "request input"); err != nil {
			return err
		}
		h.InputRequests = append(h.InputRequests, req)
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Infof("input_requested id=%s request=%s type=%s timeout_ms=%d", h.ID, req.ID, req.InputType, req.TimeoutMs)
	r.publish(events.EventInputRequested, h, map[string]any{
		"request_id": req.ID,
		"question":   req.Question,
		"input_type": string(req.InputType),
	})
	return &req, nil
}

// InputResult is the outcome of AwaitInput. Defaulted is set when the
// request expired and Value is the request's default.
type InputResult struct {
	RequestID string
	Value     any
	Response  *model.InputResponse
	Defaulted bool
}

// AwaitInput waits for the answer to req until the request's own deadline.
// On expiry the request is marked expired and the handoff returns to
// IN_PROGRESS; the default value is returned when one was set, otherwise
// ErrInputTimeout. The handoff itself is never timed out here.
func (r *Receiver) AwaitInput(ctx context.Context, req *model.InputRequest) (InputResult, error) {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		h, err := r.load(ctx, req.HandoffID)
		if err == nil {
			if resp, ok := h.InputResponse(req.ID); ok {
				return InputResult{RequestID: req.ID, Value: resp.Value, Response: resp}, nil
			}
			if model.IsHandoffTerminal(h.Status) {
				return InputResult{RequestID: req.ID}, &InvalidTransitionError{
					HandoffID: h.ID, From: h.Status, To: model.HandoffStatusInProgress, Operation: "await input",
				}
			}
		} else if ctx.Err() == nil {
			r.log.Debugf("await_input_poll_error request=%s err=%v", req.ID, err)
		}

		if req.Expired(r.now()) {
			return r.expireInput(ctx, req)
		}

		select {
		case <-ctx.Done():
			return InputResult{RequestID: req.ID}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Receiver) expireInput(ctx context.Context, req *model.InputRequest) (InputResult, error) {
	h, err := r.update(ctx, req.HandoffID, func(h *model.Handoff) error {
		cur, ok := h.InputRequest(req.ID)
		if !ok {
			return &NotFoundError{Kind: "input_request", ID: req.ID}
		}
		if cur.Status != model.InputStatusPending {
			return errNoChange
		}
		cur.Status = model.InputStatusExpired
		if h.Status == model.HandoffStatusInputRequired {
			return transition(h, model.HandoffStatusInProgress, "resume")
		}
		return nil
	})
	if err != nil {
		return InputResult{RequestID: req.ID}, err
	}
	// answered between the last poll and the expiry write
	if resp, ok := h.InputResponse(req.ID); ok {
		return InputResult{RequestID: req.ID, Value: resp.Value, Response: resp}, nil
	}

	r.log.Warnf("input_timeout id=%s request=%s defaulted=%t", h.ID, req.ID, req.Default != nil)
	r.publish(events.EventInputExpired, h, map[string]any{"request_id": req.ID})
	if req.Default != nil {
		return InputResult{RequestID: req.ID, Value: req.Default, Defaulted: true}, nil
	}
	return InputResult{RequestID: req.ID}, fmt.Errorf("%w: request %s on handoff %s", ErrInputTimeout, req.ID, h.ID)
}

// Complete records success. Allowed from ACCEPTED and IN_PROGRESS only.
func (r *Receiver) Complete(ctx context.Context, id, resultTraceID string) (*model.Handoff, error) {
	if err := r.authorize(ctx, "handoff/"+id, ActionComplete); err != nil {
		return nil, err
	}
	h, err := r.update(ctx, id, func(h *model.Handoff) error {
		if err := transition(h, model.HandoffStatusCompleted, "complete"); err != nil {
			return err
		}
		now := r.now()
		h.CompletedAt = &now
		h.ResultTraceID = resultTraceID
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Infof("handoff_completed id=%s trace=%s", h.ID, resultTraceID)
	r.publish(events.EventHandoffCompleted, h, map[string]any{"result_trace_id": resultTraceID})
	return h, nil
}

// Fail abandons a handoff from any non-terminal status.
func (r *Receiver) Fail(ctx context.Context, id, reason string) (*model.Handoff, error) {
	if err := r.authorize(ctx, "handoff/"+id, ActionFail); err != nil {
		return nil, err
	}
	h, err := r.update(ctx, id, func(h *model.Handoff) error {
		if err := transition(h, model.HandoffStatusFailed, "fail"); err != nil {
			return err
		}
		now := r.now()
		h.CompletedAt = &now
		h.FailureReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Warnf("handoff_failed id=%s reason=%q", h.ID, reason)
	r.publish(events.EventHandoffFailed, h, map[string]any{"reason": reason})
	return h, nil
}

// Handler does the work of one handoff. It may call RequestInput and
// AwaitInput on r. A nil error completes the handoff with the returned
// trace id; an error fails it with the error text as reason.
type Handler func(ctx context.Context, r *Receiver, h *model.Handoff) (resultTraceID string, err error)

// Serve polls until ctx is done, sweeping expired handoffs and running
// handler on each pending one in queue order. Stores that implement
// Watcher wake the loop early on new writes.
func (r *Receiver) Serve(ctx context.Context, handler Handler) error {
	if r.lockPath != "" {
		fl := lock.NewFileLock(r.lockPath)
		if err := fl.TryLock(); err != nil {
			return fmt.Errorf("receiver %s: %w", r.opts.AgentID, err)
		}
		defer fl.Unlock()
	}

	var wake <-chan struct{}
	if w, ok := r.store.(Watcher); ok {
		ch, err := w.Watch(ctx)
		if err != nil {
			r.log.Warnf("watch unavailable, polling only: %v", err)
		} else {
			wake = ch
		}
	}

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	r.log.Infof("serving agent=%s project=%s capabilities=%v poll=%s",
		r.opts.AgentID, r.opts.Project, r.capabilities, r.opts.PollInterval)
	for {
		if _, err := r.sweeper.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.log.Warnf("sweep: %v", err)
		}
		r.drain(ctx, handler)

		select {
		case <-ctx.Done():
			r.log.Infof("receiver stopped agent=%s", r.opts.AgentID)
			return nil
		case <-ticker.C:
		case <-wake:
		}
	}
}

func (r *Receiver) drain(ctx context.Context, handler Handler) {
	pending, err := r.Poll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Warnf("poll: %v", err)
		}
		return
	}
	for _, p := range pending {
		if ctx.Err() != nil {
			return
		}
		r.process(ctx, handler, p.ID)
	}
}

func (r *Receiver) process(ctx context.Context, handler Handler, id string) {
	h, err := r.Accept(ctx, id)
	if err != nil {
		// another receiver won the race or the handoff expired
		r.log.Debugf("skip id=%s: %v", id, err)
		return
	}
	if h, err = r.Start(ctx, id); err != nil {
		r.log.Warnf("start id=%s: %v", id, err)
		return
	}

	traceID, herr := r.runHandler(ctx, handler, h)
	if herr != nil {
		if _, err := r.Fail(ctx, id, herr.Error()); err != nil {
			r.log.Warnf("fail id=%s: %v", id, err)
		}
		return
	}
	if _, err := r.Complete(ctx, id, traceID); err != nil {
		r.log.Warnf("complete id=%s: %v", id, err)
	}
}

func (r *Receiver) runHandler(ctx context.Context, handler Handler, h *model.Handoff) (traceID string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return handler(ctx, r, h)
}
