package events

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEntries(t *testing.T, path string) []LogEntry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []LogEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e LogEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestNewAuditLogger_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	logger, err := NewAuditLogger(path, 0)
	require.NoError(t, err)
	defer logger.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
	assert.Equal(t, path, logger.Path())
}

func TestAuditLogger_RecordLiftsKnownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewAuditLogger(path, DefaultMaxLogSize)
	require.NoError(t, err)
	defer logger.Close()

	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	err = logger.Record(Event{
		Type:      EventInputRequested,
		Timestamp: ts,
		Data: map[string]any{
			"project":    "checkout",
			"handoff_id": "hof_1700000000_0000abcd",
			"request_id": "inr_1700000000_0000beef",
			"agent_id":   "db-agent",
			"status":     "input_required",
			"question":   "which schema?",
		},
	})
	require.NoError(t, err)

	entries := readEntries(t, path)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "input_requested", e.EventType)
	assert.True(t, ts.Equal(e.Timestamp))
	assert.Equal(t, "checkout", e.Project)
	assert.Equal(t, "hof_1700000000_0000abcd", e.HandoffID)
	assert.Equal(t, "inr_1700000000_0000beef", e.RequestID)
	assert.Equal(t, "db-agent", e.AgentID)
	assert.Equal(t, "input_required", e.Status)
	assert.Equal(t, map[string]any{"question": "which schema?"}, e.Details)
}

func TestAuditLogger_AttachToBus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewAuditLogger(path, DefaultMaxLogSize)
	require.NoError(t, err)
	defer logger.Close()

	bus := NewBus(10)
	defer bus.Close()
	detach := logger.Attach(bus, func(err error) { t.Errorf("audit write: %v", err) })

	bus.Publish(EventHandoffCreated, map[string]any{"handoff_id": "hof_1"})
	bus.Publish(EventHandoffCompleted, map[string]any{"handoff_id": "hof_1"})

	require.Eventually(t, func() bool {
		return logger.CurrentSize() > 0 && len(readEntries(t, path)) == 2
	}, time.Second, 10*time.Millisecond)
	detach()
}

func TestAuditLogger_Rotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	logger, err := NewAuditLogger(path, 300)
	require.NoError(t, err)
	defer logger.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, logger.WriteEntry(&LogEntry{
			Timestamp: time.Now().UTC(),
			EventType: "handoff_created",
			HandoffID: "hof_1700000000_0000abcd",
			Details:   map[string]any{"i": i},
		}))
	}

	archived, err := os.ReadDir(filepath.Join(dir, ArchiveDir))
	require.NoError(t, err)
	assert.NotEmpty(t, archived)
	assert.LessOrEqual(t, logger.CurrentSize(), int64(300))
}

func TestVerifyLogIntegrity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewAuditLogger(path, DefaultMaxLogSize)
	require.NoError(t, err)
	logger.EnableChecksum(true)

	for _, et := range []EventType{EventHandoffCreated, EventHandoffAccepted, EventHandoffFailed} {
		require.NoError(t, logger.Record(Event{Type: et, Data: map[string]any{"handoff_id": "hof_1", "attempt": 2}}))
	}
	require.NoError(t, logger.Close())

	total, valid, err := VerifyLogIntegrity(path)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 3, valid)

	// tamper with one entry
	entries := readEntries(t, path)
	entries[1].AgentID = "mallory"
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := json.NewEncoder(f)
	for i := range entries {
		require.NoError(t, enc.Encode(entries[i]))
	}
	require.NoError(t, f.Close())

	total, valid, err = VerifyLogIntegrity(path)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, valid)
}

func TestAuditLogger_WriteAfterClose(t *testing.T) {
	logger, err := NewAuditLogger(filepath.Join(t.TempDir(), "audit.jsonl"), 0)
	require.NoError(t, err)
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())
	assert.Error(t, logger.WriteEntry(&LogEntry{EventType: "handoff_created"}))
}
