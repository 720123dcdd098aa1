// Package yaml provides atomic YAML file I/O and recovery for the file-backed
// handoff store and the RBAC policy file.
package yaml

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

// AtomicWrite marshals data and replaces path with it atomically. The
// previous content, if any, is kept at path+".bak".
func AtomicWrite(path string, data any) error {
	content, err := yamlv3.Marshal(data)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return AtomicWriteRaw(path, content)
}

// AtomicWriteRaw replaces path with content after checking that what reached
// the disk still parses as YAML. JSON documents pass the check too.
func AtomicWriteRaw(path string, content []byte) error {
	return replace(path, content, replaceOpts{validate: validateYAML, backup: true})
}

// ReplaceFile swaps content into path without validation or backup. Used for
// generated output such as graph exports that are rebuilt on demand.
func ReplaceFile(path string, content []byte) error {
	return replace(path, content, replaceOpts{})
}

type replaceOpts struct {
	validate func([]byte) error
	backup   bool
}

func replace(path string, content []byte, o replaceOpts) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if o.validate != nil {
		// re-read what hit the disk before it replaces anything
		written, err := os.ReadFile(tmpName)
		if err != nil {
			return fmt.Errorf("read temp file for validation: %w", err)
		}
		if err := o.validate(written); err != nil {
			return fmt.Errorf("yaml validation failed: %w", err)
		}
	}

	if o.backup {
		if err := backupExisting(path); err != nil {
			return fmt.Errorf("create backup: %w", err)
		}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

func validateYAML(content []byte) error {
	var v any
	return yamlv3.Unmarshal(content, &v)
}

// backupExisting copies path to path+".bak". A missing path is not an error.
func backupExisting(path string) error {
	in, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(path + ".bak")
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
