package handoff

import (
	"sort"

	"github.com/contextcore/contextcore/internal/model"
)

// SortPending orders handoffs by priority DESC → created_at ASC → id ASC
// so urgent work is never starved behind a normal-priority backlog.
func SortPending(handoffs []*model.Handoff) {
	sort.SliceStable(handoffs, func(i, j int) bool {
		a, b := handoffs[i], handoffs[j]
		if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
			return ra > rb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
