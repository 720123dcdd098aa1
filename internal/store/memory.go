package store

import (
	"context"
	"sync"
	"time"

	"github.com/contextcore/contextcore/internal/model"
)

type memRecord struct {
	current  *model.Handoff
	previous *model.Handoff
	written  time.Time
}

// Memory keeps handoffs in a map. With a visibility delay, reads return
// the previous revision of a record for that long after each write, which
// mimics a backend that only offers eventual read-after-write visibility.
type Memory struct {
	mu       sync.RWMutex
	records  map[string]*memRecord
	delay    time.Duration
	now      func() time.Time
	watchers []chan struct{}
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*memRecord),
		now:     time.Now,
	}
}

// WithVisibilityDelay sets the read lag and returns m.
func (m *Memory) WithVisibilityDelay(d time.Duration) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

func key(project, id string) string { return project + "/" + id }

func (m *Memory) visible(rec *memRecord) *model.Handoff {
	if m.delay > 0 && m.now().Sub(rec.written) < m.delay {
		return rec.previous
	}
	return rec.current
}

func (m *Memory) Save(ctx context.Context, h *model.Handoff, expectedRevision int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(h.Project, h.ID)
	rec, ok := m.records[k]
	current := 0
	if ok {
		current = rec.current.Revision
	}
	if current != expectedRevision {
		return model.ErrRevisionConflict
	}

	h.Revision = expectedRevision + 1
	next := &memRecord{current: h.Clone(), written: m.now()}
	if ok {
		next.previous = rec.current
	}
	m.records[k] = next

	for _, w := range m.watchers {
		select {
		case w <- struct{}{}:
		default:
		}
	}
	return nil
}

func (m *Memory) Load(ctx context.Context, project, id string) (*model.Handoff, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key(project, id)]
	if !ok {
		return nil, model.ErrNotFound
	}
	h := m.visible(rec)
	if h == nil {
		return nil, model.ErrNotFound
	}
	return h.Clone(), nil
}

func (m *Memory) list(ctx context.Context, keep func(*model.Handoff) bool) ([]*model.Handoff, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Handoff
	for _, rec := range m.records {
		if h := m.visible(rec); h != nil && keep(h) {
			out = append(out, h.Clone())
		}
	}
	sortByID(out)
	return out, nil
}

func (m *Memory) ListPending(ctx context.Context, project string, capabilities []string, toAgent string) ([]*model.Handoff, error) {
	return m.list(ctx, func(h *model.Handoff) bool {
		return isPending(h, project, capabilities, toAgent)
	})
}

func (m *Memory) FindByInputRequest(ctx context.Context, project, requestID string) (*model.Handoff, error) {
	found, err := m.list(ctx, func(h *model.Handoff) bool {
		return h.Project == project && hasInputRequest(h, requestID)
	})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, model.ErrNotFound
	}
	return found[0], nil
}

func (m *Memory) ListActive(ctx context.Context, project string) ([]*model.Handoff, error) {
	return m.list(ctx, func(h *model.Handoff) bool {
		return h.Project == project && !model.IsHandoffTerminal(h.Status)
	})
}

// Watch returns a channel that receives a value after writes. Bursts of
// writes coalesce into one wake-up.
func (m *Memory) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.watchers = append(m.watchers, ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, w := range m.watchers {
			if w == ch {
				m.watchers = append(m.watchers[:i], m.watchers[i+1:]...)
				break
			}
		}
	}()
	return ch, nil
}

// Reset drops every record.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]*memRecord)
}
