package yaml

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const goodHandoff = "schema_version: 1\nfile_type: handoff\nhandoff:\n  id: hof_1700000000_0000abcd\n"

func TestQuarantine(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "hof_1.yaml")
	os.WriteFile(path, []byte("{{{corrupt"), 0644)

	dst, err := Quarantine(root, path)
	if err != nil {
		t.Fatalf("Quarantine failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("original file should be moved")
	}
	if filepath.Dir(dst) != filepath.Join(root, "quarantine") {
		t.Errorf("unexpected quarantine dir: %s", dst)
	}
	if !strings.HasPrefix(filepath.Base(dst), "hof_1.yaml.") || !strings.HasSuffix(dst, ".corrupt") {
		t.Errorf("unexpected quarantine name: %s", dst)
	}
}

func TestRestoreFromBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hof_1.yaml")
	os.WriteFile(path+".bak", []byte(goodHandoff), 0644)

	if err := RestoreFromBackup(path, FileTypeHandoff); err != nil {
		t.Fatalf("RestoreFromBackup failed: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != goodHandoff {
		t.Errorf("restored content = %q", got)
	}
}

func TestRestoreFromBackup_NoBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hof_1.yaml")
	err := RestoreFromBackup(path, FileTypeHandoff)
	if !errors.Is(err, ErrNoBackup) {
		t.Errorf("expected ErrNoBackup, got %v", err)
	}
}

func TestRestoreFromBackup_CorruptBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hof_1.yaml")
	os.WriteFile(path+".bak", []byte("schema_version: 1\nfile_type: rbac_policy\n"), 0644)

	err := RestoreFromBackup(path, FileTypeHandoff)
	if !errors.Is(err, ErrNoBackup) {
		t.Errorf("backup of the wrong type should be rejected, got %v", err)
	}
}

func TestRecoverCorruptedFile_WithBackup(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "hof_1.yaml")
	os.WriteFile(path, []byte("{{{corrupt"), 0644)
	os.WriteFile(path+".bak", []byte(goodHandoff), 0644)

	rec, err := RecoverCorruptedFile(root, path, FileTypeHandoff)
	if err != nil {
		t.Fatalf("RecoverCorruptedFile failed: %v", err)
	}
	if !rec.Restored {
		t.Error("expected restore from backup")
	}
	if err := ValidateSchemaHeader(path, FileTypeHandoff); err != nil {
		t.Errorf("restored file should be valid: %v", err)
	}
	if _, err := os.Stat(rec.QuarantinedTo); err != nil {
		t.Errorf("quarantined copy missing: %v", err)
	}
}

func TestRecoverCorruptedFile_WithoutBackup(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "hof_1.yaml")
	os.WriteFile(path, []byte("{{{corrupt"), 0644)

	rec, err := RecoverCorruptedFile(root, path, FileTypeHandoff)
	if err != nil {
		t.Fatalf("RecoverCorruptedFile failed: %v", err)
	}
	if rec.Restored {
		t.Error("nothing to restore from")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("corrupt file should no longer be in place")
	}
}
