package model

import "testing"

func TestIsHandoffTerminal(t *testing.T) {
	tests := []struct {
		status   HandoffStatus
		terminal bool
	}{
		{HandoffStatusCreated, false},
		{HandoffStatusAccepted, false},
		{HandoffStatusInProgress, false},
		{HandoffStatusInputRequired, false},
		{HandoffStatusCompleted, true},
		{HandoffStatusFailed, true},
		{HandoffStatusTimedOut, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := IsHandoffTerminal(tt.status); got != tt.terminal {
				t.Errorf("IsHandoffTerminal(%q) = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestValidateHandoffTransition(t *testing.T) {
	valid := []struct {
		from, to HandoffStatus
	}{
		{HandoffStatusCreated, HandoffStatusAccepted},
		{HandoffStatusCreated, HandoffStatusTimedOut},
		{HandoffStatusCreated, HandoffStatusFailed},
		{HandoffStatusAccepted, HandoffStatusInProgress},
		{HandoffStatusAccepted, HandoffStatusCompleted},
		{HandoffStatusAccepted, HandoffStatusFailed},
		{HandoffStatusAccepted, HandoffStatusTimedOut},
		{HandoffStatusInProgress, HandoffStatusInputRequired},
		{HandoffStatusInProgress, HandoffStatusCompleted},
		{HandoffStatusInProgress, HandoffStatusFailed},
		{HandoffStatusInputRequired, HandoffStatusInProgress},
		{HandoffStatusInputRequired, HandoffStatusFailed},
		{HandoffStatusInputRequired, HandoffStatusTimedOut},
	}
	for _, tt := range valid {
		t.Run(string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			if err := ValidateHandoffTransition(tt.from, tt.to); err != nil {
				t.Errorf("expected valid, got error: %v", err)
			}
		})
	}

	invalid := []struct {
		from, to HandoffStatus
	}{
		{HandoffStatusCreated, HandoffStatusCompleted}, // must accept first
		{HandoffStatusCreated, HandoffStatusInProgress},
		{HandoffStatusAccepted, HandoffStatusAccepted},
		{HandoffStatusAccepted, HandoffStatusCreated},
		{HandoffStatusInProgress, HandoffStatusAccepted},
		{HandoffStatusInputRequired, HandoffStatusCompleted},
		{HandoffStatusCompleted, HandoffStatusFailed},
		{HandoffStatusFailed, HandoffStatusInProgress},
		{HandoffStatusTimedOut, HandoffStatusAccepted},
		{"bogus", HandoffStatusAccepted},
	}
	for _, tt := range invalid {
		t.Run("invalid_"+string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			if err := ValidateHandoffTransition(tt.from, tt.to); err == nil {
				t.Errorf("expected error for %q → %q", tt.from, tt.to)
			}
		})
	}
}

// No status may lead back to created or accepted once left, and terminal
// statuses have no outgoing transitions.
func TestHandoffTransitions_NeverRevisit(t *testing.T) {
	all := []HandoffStatus{
		HandoffStatusCreated, HandoffStatusAccepted, HandoffStatusInProgress,
		HandoffStatusInputRequired, HandoffStatusCompleted, HandoffStatusFailed,
		HandoffStatusTimedOut,
	}
	for _, from := range all {
		for _, to := range all {
			err := ValidateHandoffTransition(from, to)
			if err != nil {
				continue
			}
			if to == HandoffStatusCreated {
				t.Errorf("%q → created must be rejected", from)
			}
			if to == HandoffStatusAccepted && from != HandoffStatusCreated {
				t.Errorf("%q → accepted must be rejected", from)
			}
			if IsHandoffTerminal(from) {
				t.Errorf("terminal %q must have no outgoing transitions, allowed → %q", from, to)
			}
		}
	}
}

func TestPriorityRank(t *testing.T) {
	if !(PriorityUrgent.Rank() > PriorityHigh.Rank() &&
		PriorityHigh.Rank() > PriorityNormal.Rank() &&
		PriorityNormal.Rank() > PriorityLow.Rank()) {
		t.Error("expected urgent > high > normal > low")
	}
	if Priority("weird").Rank() != PriorityNormal.Rank() {
		t.Error("unknown priority should rank as normal")
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"", PriorityNormal, false},
		{"urgent", PriorityUrgent, false},
		{" HIGH ", PriorityHigh, false},
		{"low", PriorityLow, false},
		{"critical", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePriority(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParsePriority(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePriority(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParsePriority(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
