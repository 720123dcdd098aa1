package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextcore/contextcore/internal/model"
)

func TestOpenSQLite_PragmasAndVersion(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "handoffs.db"))
	require.NoError(t, err)
	defer s.Close()

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpenSQLite_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "handoffs.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	h := newHandoff(t, "checkout", "db.migrate", "db-agent")
	require.NoError(t, s.Save(ctx, h, 0))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(ctx, "checkout", h.ID)
	require.NoError(t, err)
	assert.Equal(t, h.ID, got.ID)
}

func TestSQLite_MigrationBackfillsInputRequests(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "handoffs.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	h := newHandoff(t, "checkout", "db.migrate", "db-agent")
	h.Status = model.HandoffStatusInputRequired
	h.InputRequests = []model.InputRequest{{
		ID: "inp_1700000000_0000abcd", HandoffID: h.ID, Question: "which schema?",
		InputType: model.InputTypeText, TimeoutMs: 1000, Status: model.InputStatusPending,
	}}
	require.NoError(t, s.Save(ctx, h, 0))

	// simulate a database created before the lookup table existed
	_, err = s.db.Exec("DROP TABLE input_requests")
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 0")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	found, err := s.FindByInputRequest(ctx, "checkout", "inp_1700000000_0000abcd")
	require.NoError(t, err)
	assert.Equal(t, h.ID, found.ID)
}
