package handoff

import (
	"context"
	"errors"
	"fmt"
)

// Sweeper moves overdue handoffs to TIMED_OUT. Input-request expiry never
// triggers it; only the handoff's own deadline does.
type Sweeper struct {
	core
}

func NewSweeper(store Store, opts Options) *Sweeper {
	return &Sweeper{core: newCore(store, opts, "sweeper")}
}

type SweepResult struct {
	Checked  int
	TimedOut []string
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	active, err := s.store.ListActive(ctx, s.opts.Project)
	if err != nil {
		return res, fmt.Errorf("list active handoffs: %w", err)
	}

	now := s.now()
	var errs []error
	for _, h := range active {
		res.Checked++
		if !h.Overdue(now) {
			continue
		}
		expired, err := s.expire(ctx, h.ID)
		if err != nil {
			// a concurrent terminal transition is not a sweep failure
			if !IsInvalidTransition(err) {
				errs = append(errs, err)
			}
			continue
		}
		if expired {
			res.TimedOut = append(res.TimedOut, h.ID)
		}
	}
	if len(res.TimedOut) > 0 {
		s.log.Infof("sweep project=%s checked=%d timed_out=%d", s.opts.Project, res.Checked, len(res.TimedOut))
	}
	return res, errors.Join(errs...)
}
