package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGenerateID(t *testing.T) {
	types := []IDType{IDTypeHandoff, IDTypeInputRequest, IDTypeInputResponse}
	prefixes := []string{"hof_", "inp_", "inr_"}

	for i, idType := range types {
		t.Run(string(idType), func(t *testing.T) {
			id, err := GenerateID(idType)
			if err != nil {
				t.Fatalf("GenerateID(%s) returned error: %v", idType, err)
			}
			if !ValidateID(id) {
				t.Errorf("generated ID %q does not match regex", id)
			}
			if id[:len(prefixes[i])] != prefixes[i] {
				t.Errorf("expected prefix %q, got %q", prefixes[i], id[:len(prefixes[i])])
			}
		})
	}
}

func TestGenerateID_InvalidType(t *testing.T) {
	if _, err := GenerateID("cmd"); err == nil {
		t.Error("expected error for invalid ID type")
	}
}

func TestGenerateID_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateID(IDTypeHandoff)
		if err != nil {
			t.Fatalf("GenerateID returned error: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"valid handoff", "hof_1771722000_a3f2b7c1", true},
		{"valid input request", "inp_1771722060_b7c1d4e9", true},
		{"valid input response", "inr_1771722600_d4e9f0a2", true},
		{"invalid prefix", "cmd_1771722000_a3f2b7c1", false},
		{"short timestamp", "hof_177172200_a3f2b7c1", false},
		{"uppercase hex", "hof_1771722000_A3F2B7C1", false},
		{"long hex", "hof_1771722000_a3f2b7c10", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateID(tt.id); got != tt.valid {
				t.Errorf("ValidateID(%q) = %v, want %v", tt.id, got, tt.valid)
			}
		})
	}
}

func TestParseIDType(t *testing.T) {
	got, err := ParseIDType("inp_1771722060_b7c1d4e9")
	if err != nil {
		t.Fatalf("ParseIDType returned error: %v", err)
	}
	if got != IDTypeInputRequest {
		t.Errorf("ParseIDType = %q, want %q", got, IDTypeInputRequest)
	}
	if _, err := ParseIDType("invalid"); err == nil {
		t.Error("expected error for invalid ID")
	}
}

func TestParseIDTimestamp(t *testing.T) {
	ts, err := ParseIDTimestamp("hof_1771722000_a3f2b7c1")
	if err != nil {
		t.Fatalf("ParseIDTimestamp returned error: %v", err)
	}
	if ts.Unix() != 1771722000 {
		t.Errorf("expected timestamp 1771722000, got %d", ts.Unix())
	}
}

func TestNewUUID(t *testing.T) {
	id := NewUUID()
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("NewUUID() = %q is not a UUID: %v", id, err)
	}
	if id == NewUUID() {
		t.Error("NewUUID returned the same value twice")
	}
}

func TestFormatParseTime_PreservesSubSecond(t *testing.T) {
	in := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	out, err := ParseTime(FormatTime(in))
	if err != nil {
		t.Fatalf("ParseTime: %v", err)
	}
	if !out.Equal(in) {
		t.Errorf("round trip = %v, want %v", out, in)
	}
	if _, err := ParseTime("yesterday"); err == nil {
		t.Error("expected error for malformed timestamp")
	}
}
