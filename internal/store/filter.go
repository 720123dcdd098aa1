// Package store provides handoff.Store backends: an in-memory map, a
// directory of YAML records and a SQLite database.
package store

import (
	"slices"
	"sort"

	"github.com/contextcore/contextcore/internal/model"
)

func isPending(h *model.Handoff, project string, capabilities []string, toAgent string) bool {
	if h.Project != project || h.Status != model.HandoffStatusCreated {
		return false
	}
	if len(capabilities) > 0 && !slices.Contains(capabilities, h.CapabilityID) {
		return false
	}
	return toAgent == "" || h.ToAgent == toAgent
}

func hasInputRequest(h *model.Handoff, requestID string) bool {
	_, ok := h.InputRequest(requestID)
	return ok
}

func sortByID(hs []*model.Handoff) {
	sort.Slice(hs, func(i, j int) bool { return hs[i].ID < hs[j].ID })
}
