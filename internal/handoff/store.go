package handoff

import (
	"context"

	"github.com/contextcore/contextcore/internal/model"
)

// Store is the persistence backend both roles poll. Implementations need
// only eventual read-after-write visibility; every transition re-reads and
// writes with the revision it read.
type Store interface {
	// Save persists h if the stored revision equals expectedRevision
	// (0 for a new record) and returns model.ErrRevisionConflict otherwise.
	// On success h.Revision is expectedRevision+1.
	Save(ctx context.Context, h *model.Handoff, expectedRevision int) error
	Load(ctx context.Context, project, id string) (*model.Handoff, error)
	// ListPending returns CREATED handoffs whose capability is in
	// capabilities (any capability when empty) and, when toAgent is set,
	// addressed to toAgent.
	ListPending(ctx context.Context, project string, capabilities []string, toAgent string) ([]*model.Handoff, error)
	FindByInputRequest(ctx context.Context, project, requestID string) (*model.Handoff, error)
	// ListActive returns every non-terminal handoff in project.
	ListActive(ctx context.Context, project string) ([]*model.Handoff, error)
}

// Watcher is implemented by stores that can signal new writes, letting a
// receiver poll early instead of waiting for its next tick.
type Watcher interface {
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// Authorizer decides whether principal may perform action on resource.
// A nil Authorizer permits everything.
type Authorizer interface {
	Authorize(ctx context.Context, principal, resource, action string) error
}

const (
	ActionCreate       = "handoff:create"
	ActionProvideInput = "handoff:provide_input"
	ActionAccept       = "handoff:accept"
	ActionRequestInput = "handoff:request_input"
	ActionComplete     = "handoff:complete"
	ActionFail         = "handoff:fail"
)
