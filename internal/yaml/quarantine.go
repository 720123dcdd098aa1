package yaml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNoBackup is returned when a corrupt file has no usable .bak copy.
var ErrNoBackup = errors.New("no backup")

// Quarantine moves filePath into <rootDir>/quarantine with a timestamped
// ".corrupt" suffix and returns the new location.
func Quarantine(rootDir, filePath string) (string, error) {
	quarantineDir := filepath.Join(rootDir, "quarantine")
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}

	name := fmt.Sprintf("%s.%s.corrupt", filepath.Base(filePath), time.Now().UTC().Format("20060102T150405.000000000"))
	dst := filepath.Join(quarantineDir, name)
	if err := os.Rename(filePath, dst); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return dst, nil
}

// RestoreFromBackup copies filePath+".bak" over filePath when the backup
// parses and passes the schema header check for fileType.
func RestoreFromBackup(filePath, fileType string) error {
	bakPath := filePath + ".bak"
	content, err := os.ReadFile(bakPath)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNoBackup, bakPath)
	}
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}

	if err := ValidateSchemaHeaderFromBytes(content, fileType); err != nil {
		return fmt.Errorf("%w: backup is also corrupted: %v", ErrNoBackup, err)
	}

	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}
	return nil
}

// Recovery describes what RecoverCorruptedFile did.
type Recovery struct {
	QuarantinedTo string
	Restored      bool
}

// RecoverCorruptedFile quarantines a file that failed to parse and restores
// the last good copy from its backup. When no backup survives, the file is
// simply gone after the call and Restored is false.
func RecoverCorruptedFile(rootDir, filePath, fileType string) (Recovery, error) {
	var rec Recovery
	dst, err := Quarantine(rootDir, filePath)
	if err != nil {
		return rec, fmt.Errorf("quarantine failed: %w", err)
	}
	rec.QuarantinedTo = dst

	if err := RestoreFromBackup(filePath, fileType); err != nil {
		if errors.Is(err, ErrNoBackup) {
			return rec, nil
		}
		return rec, err
	}
	rec.Restored = true
	return rec, nil
}
