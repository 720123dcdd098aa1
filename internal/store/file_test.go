package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextcore/contextcore/internal/logging"
	"github.com/contextcore/contextcore/internal/model"
	yamlutil "github.com/contextcore/contextcore/internal/yaml"
)

func TestFile_Layout(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFile(root, logging.Discard())
	require.NoError(t, err)

	h := newHandoff(t, "checkout", "db.migrate", "db-agent")
	require.NoError(t, s.Save(ctx, h, 0))

	path := filepath.Join(root, "checkout", "handoffs", h.ID+".yaml")
	require.NoError(t, yamlutil.ValidateSchemaHeader(path, yamlutil.FileTypeHandoff))

	h.Status = model.HandoffStatusAccepted
	require.NoError(t, s.Save(ctx, h, 1))
	_, err = os.Stat(path + ".bak")
	assert.NoError(t, err, "previous revision kept as backup")
}

func TestFile_RejectsUnsafeNames(t *testing.T) {
	ctx := context.Background()
	s, err := NewFile(t.TempDir(), logging.Discard())
	require.NoError(t, err)

	h := newHandoff(t, "../escape", "db.migrate", "db-agent")
	assert.Error(t, s.Save(ctx, h, 0))

	h = newHandoff(t, "checkout", "db.migrate", "db-agent")
	h.ID = "../../etc/passwd"
	assert.Error(t, s.Save(ctx, h, 0))

	_, err = s.Load(ctx, "checkout", "../../etc/passwd")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestFile_CorruptRecordRestoredFromBackup(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFile(root, logging.Discard())
	require.NoError(t, err)

	h := newHandoff(t, "checkout", "db.migrate", "db-agent")
	require.NoError(t, s.Save(ctx, h, 0))
	h.Status = model.HandoffStatusAccepted
	require.NoError(t, s.Save(ctx, h, 1))

	path := filepath.Join(root, "checkout", "handoffs", h.ID+".yaml")
	require.NoError(t, os.WriteFile(path, []byte("handoff: [unterminated"), 0644))

	got, err := s.Load(ctx, "checkout", h.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HandoffStatusCreated, got.Status, "backup holds the previous revision")
	assert.Equal(t, 1, got.Revision)

	quarantined, err := os.ReadDir(filepath.Join(root, "quarantine"))
	require.NoError(t, err)
	assert.Len(t, quarantined, 1)
}

func TestFile_CorruptRecordWithoutBackupIsSkipped(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFile(root, logging.Discard())
	require.NoError(t, err)

	good := newHandoff(t, "checkout", "db.migrate", "db-agent")
	require.NoError(t, s.Save(ctx, good, 0))

	badID, err := model.GenerateID(model.IDTypeHandoff)
	require.NoError(t, err)
	bad := filepath.Join(root, "checkout", "handoffs", badID+".yaml")
	require.NoError(t, os.WriteFile(bad, []byte("schema_version: 7\nfile_type: handoff\n"), 0644))

	pending, err := s.ListPending(ctx, "checkout", nil, "")
	require.NoError(t, err)
	assert.Equal(t, []string{good.ID}, ids(pending))

	_, err = os.Stat(bad)
	assert.True(t, os.IsNotExist(err), "corrupt record moved out of the way")
}

func TestFile_Watch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	root := t.TempDir()
	s, err := NewFile(root, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "checkout", "handoffs"), 0755))

	wake, err := s.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, newHandoff(t, "checkout", "db.migrate", "db-agent"), 0))
	select {
	case <-wake:
	case <-time.After(2 * time.Second):
		t.Fatal("expected fsnotify wake-up after save")
	}
}
