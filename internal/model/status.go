package model

import (
	"fmt"
	"strings"
)

type HandoffStatus string

const (
	HandoffStatusCreated       HandoffStatus = "created"
	HandoffStatusAccepted      HandoffStatus = "accepted"
	HandoffStatusInProgress    HandoffStatus = "in_progress"
	HandoffStatusInputRequired HandoffStatus = "input_required"
	HandoffStatusCompleted     HandoffStatus = "completed"
	HandoffStatusFailed        HandoffStatus = "failed"
	HandoffStatusTimedOut      HandoffStatus = "timed_out"
)

type InputStatus string

const (
	InputStatusPending  InputStatus = "pending"
	InputStatusAnswered InputStatus = "answered"
	InputStatusExpired  InputStatus = "expired"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityRanks = map[Priority]int{
	PriorityLow:    0,
	PriorityNormal: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

var terminalHandoffStatuses = map[HandoffStatus]bool{
	HandoffStatusCompleted: true,
	HandoffStatusFailed:    true,
	HandoffStatusTimedOut:  true,
}

// Handoff transitions: created → accepted → in_progress ⇄ input_required → completed.
// failed is reachable from every non-terminal status (a receiver may abandon work at any point).
// timed_out is written by the sweeper once the handoff deadline passes.
var validHandoffTransitions = map[HandoffStatus]map[HandoffStatus]bool{
	HandoffStatusCreated: {
		HandoffStatusAccepted: true,
		HandoffStatusFailed:   true,
		HandoffStatusTimedOut: true,
	},
	HandoffStatusAccepted: {
		HandoffStatusInProgress: true,
		HandoffStatusCompleted:  true,
		HandoffStatusFailed:     true,
		HandoffStatusTimedOut:   true,
	},
	HandoffStatusInProgress: {
		HandoffStatusInputRequired: true,
		HandoffStatusCompleted:     true,
		HandoffStatusFailed:        true,
		HandoffStatusTimedOut:      true,
	},
	HandoffStatusInputRequired: {
		HandoffStatusInProgress: true,
		HandoffStatusFailed:     true,
		HandoffStatusTimedOut:   true,
	},
}

func IsHandoffTerminal(s HandoffStatus) bool {
	return terminalHandoffStatuses[s]
}

func ValidateHandoffTransition(from, to HandoffStatus) error {
	if IsHandoffTerminal(from) {
		return fmt.Errorf("cannot transition from terminal handoff status %q", from)
	}
	allowed, ok := validHandoffTransitions[from]
	if !ok {
		return fmt.Errorf("unknown handoff status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid handoff transition: %q → %q", from, to)
	}
	return nil
}

// Rank orders priorities for queue draining; higher drains first.
// Unknown values rank with normal.
func (p Priority) Rank() int {
	if r, ok := priorityRanks[p]; ok {
		return r
	}
	return priorityRanks[PriorityNormal]
}

func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := priorityRanks[p]; !ok {
		return "", fmt.Errorf("unknown priority %q: must be one of low, normal, high, urgent", s)
	}
	return p, nil
}
