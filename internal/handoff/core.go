// Package handoff drives the agent handoff state machine against a shared
// Store. Manager holds the requester's operations and Receiver the
// receiving agent's. Neither keeps handoff state in memory: every
// operation re-reads the record, checks the transition, and writes back
// with the revision it read.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contextcore/contextcore/internal/events"
	"github.com/contextcore/contextcore/internal/logging"
	"github.com/contextcore/contextcore/internal/model"
)

const (
	DefaultPollInterval = time.Second
	// maxConflictRetries bounds reload-and-retry after a concurrent write.
	maxConflictRetries = 3
)

// Options configure both Manager and Receiver.
type Options struct {
	Project string
	// AgentID is the requester's id for a Manager and the receiving
	// agent's id for a Receiver.
	AgentID          string
	PollInterval     time.Duration
	DefaultTimeoutMs int64
	Bus              *events.Bus
	Logger           *logging.Logger
	Authorizer       Authorizer
	// Now overrides the clock in tests.
	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.Project == "" {
		o.Project = "default"
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.DefaultTimeoutMs <= 0 {
		o.DefaultTimeoutMs = model.DefaultHandoffTimeoutMs
	}
	if o.Now == nil {
		o.Now = model.Now
	}
}

type core struct {
	store Store
	opts  Options
	log   *logging.Logger
}

func newCore(store Store, opts Options, component string) core {
	opts.applyDefaults()
	return core{store: store, opts: opts, log: opts.Logger.With(component)}
}

func (c *core) now() time.Time {
	return c.opts.Now().UTC()
}

func (c *core) authorize(ctx context.Context, resource, action string) error {
	if c.opts.Authorizer == nil {
		return nil
	}
	if err := c.opts.Authorizer.Authorize(ctx, c.opts.AgentID, resource, action); err != nil {
		return fmt.Errorf("%s on %s: %w", action, resource, err)
	}
	return nil
}

func (c *core) load(ctx context.Context, id string) (*model.Handoff, error) {
	h, err := c.store.Load(ctx, c.opts.Project, id)
	if errors.Is(err, model.ErrNotFound) {
		return nil, &NotFoundError{Kind: "handoff", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("load handoff %s: %w", id, err)
	}
	return h, nil
}

// errNoChange lets a mutate func skip the write.
var errNoChange = errors.New("no change")

// update re-reads id, lets mutate change it and saves it with the revision
// that was read. A concurrent write causes a reload so mutate always sees
// the latest status it can observe. Reloads are spaced one poll interval
// apart so a store with delayed visibility can catch up.
func (c *core) update(ctx context.Context, id string, mutate func(h *model.Handoff) error) (*model.Handoff, error) {
	for attempt := 0; ; attempt++ {
		h, err := c.load(ctx, id)
		if err != nil {
			return nil, err
		}
		rev := h.Revision
		if err := mutate(h); err != nil {
			if errors.Is(err, errNoChange) {
				return h, nil
			}
			return nil, err
		}
		h.UpdatedAt = c.now()
		err = c.store.Save(ctx, h, rev)
		if err == nil {
			return h, nil
		}
		if errors.Is(err, model.ErrRevisionConflict) && attempt < maxConflictRetries {
			c.log.Debugf("revision_conflict id=%s rev=%d attempt=%d", id, rev, attempt+1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.opts.PollInterval):
			}
			continue
		}
		return nil, fmt.Errorf("save handoff %s: %w", id, err)
	}
}

// transition moves h to status to, or reports why op is not allowed.
func transition(h *model.Handoff, to model.HandoffStatus, op string) error {
	if err := model.ValidateHandoffTransition(h.Status, to); err != nil {
		return &InvalidTransitionError{HandoffID: h.ID, From: h.Status, To: to, Operation: op}
	}
	h.Status = to
	return nil
}

func (c *core) publish(et events.EventType, h *model.Handoff, extra map[string]any) {
	data := map[string]any{
		"project":    h.Project,
		"handoff_id": h.ID,
		"agent_id":   c.opts.AgentID,
		"status":     string(h.Status),
	}
	for k, v := range extra {
		data[k] = v
	}
	c.opts.Bus.Publish(et, data)
}

// expire moves an overdue handoff to TIMED_OUT. It reports whether this
// call performed the transition.
func (c *core) expire(ctx context.Context, id string) (bool, error) {
	expired := false
	h, err := c.update(ctx, id, func(h *model.Handoff) error {
		expired = false
		if !h.Overdue(c.now()) {
			return errNoChange
		}
		expired = true
		return transition(h, model.HandoffStatusTimedOut, "time out")
	})
	if err != nil || !expired {
		return false, err
	}
	c.log.Warnf("handoff_timeout id=%s capability=%s deadline=%s",
		h.ID, h.CapabilityID, model.FormatTime(h.Deadline()))
	c.publish(events.EventHandoffTimedOut, h, map[string]any{"deadline": model.FormatTime(h.Deadline())})
	return true, nil
}
