package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/contextcore/contextcore/internal/lock"
	"github.com/contextcore/contextcore/internal/logging"
	"github.com/contextcore/contextcore/internal/model"
	yamlutil "github.com/contextcore/contextcore/internal/yaml"
)

// handoffDoc is the on-disk envelope of one handoff record.
type handoffDoc struct {
	yamlutil.SchemaHeader `yaml:",inline"`
	Handoff               model.Handoff `yaml:"handoff"`
}

// File stores each handoff as <root>/<project>/handoffs/<id>.yaml, written
// atomically with a .bak of the previous revision. Records that fail to
// parse are quarantined and restored from their backup when possible.
type File struct {
	root  string
	locks *lock.MutexMap
	log   *logging.Logger
}

func NewFile(root string, log *logging.Logger) (*File, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	root = filepath.Clean(root)
	return &File{root: root, locks: lock.NewMutexMap(), log: log.With("store.file")}, nil
}

func (f *File) Root() string { return f.root }

func validProject(project string) bool {
	return project != "" && project != "." && project != ".." && project != "quarantine" &&
		!strings.ContainsAny(project, `/\`)
}

func (f *File) handoffDir(project string) string {
	return filepath.Join(f.root, project, "handoffs")
}

func (f *File) path(project, id string) string {
	return filepath.Join(f.handoffDir(project), id+".yaml")
}

func (f *File) Save(ctx context.Context, h *model.Handoff, expectedRevision int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !model.ValidateID(h.ID) {
		return fmt.Errorf("save handoff: invalid id %q", h.ID)
	}
	if !validProject(h.Project) {
		return fmt.Errorf("save handoff %s: invalid project %q", h.ID, h.Project)
	}
	return f.locks.WithLock(key(h.Project, h.ID), func() error {
		path := f.path(h.Project, h.ID)
		current := 0
		existing, err := f.read(path)
		switch {
		case err == nil:
			current = existing.Revision
		case !errors.Is(err, model.ErrNotFound):
			return err
		}
		if current != expectedRevision {
			return model.ErrRevisionConflict
		}

		next := h.Clone()
		next.Revision = expectedRevision + 1
		doc := handoffDoc{SchemaHeader: yamlutil.NewSchemaHeader(yamlutil.FileTypeHandoff), Handoff: *next}
		if err := yamlutil.AtomicWrite(path, doc); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		h.Revision = next.Revision
		return nil
	})
}

// read parses one record. A corrupt record is quarantined; if its backup
// is usable the backup is read instead, otherwise ErrNotFound is returned.
func (f *File) read(path string) (*model.Handoff, error) {
	h, err := parseHandoffFile(path)
	if err == nil || errors.Is(err, model.ErrNotFound) {
		return h, err
	}

	rec, rerr := yamlutil.RecoverCorruptedFile(f.root, path, yamlutil.FileTypeHandoff)
	if rerr != nil {
		return nil, fmt.Errorf("recover %s: %w (parse error: %v)", path, rerr, err)
	}
	f.log.Warnf("corrupt record %s quarantined to %s restored=%t: %v", path, rec.QuarantinedTo, rec.Restored, err)
	if !rec.Restored {
		return nil, model.ErrNotFound
	}
	return parseHandoffFile(path)
}

func parseHandoffFile(path string) (*model.Handoff, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc handoffDoc
	if err := yamlv3.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := doc.SchemaHeader.Validate(yamlutil.FileTypeHandoff); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if doc.Handoff.ID == "" {
		return nil, fmt.Errorf("%s: handoff.id missing", path)
	}
	return &doc.Handoff, nil
}

func (f *File) Load(ctx context.Context, project, id string) (*model.Handoff, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !model.ValidateID(id) || !validProject(project) {
		return nil, model.ErrNotFound
	}
	f.locks.Lock(key(project, id))
	defer f.locks.Unlock(key(project, id))
	return f.read(f.path(project, id))
}

func (f *File) list(ctx context.Context, project string, keep func(*model.Handoff) bool) ([]*model.Handoff, error) {
	if !validProject(project) {
		return nil, nil
	}
	dir := f.handoffDir(project)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var out []*model.Handoff
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".yaml" {
			continue
		}
		id := strings.TrimSuffix(name, ".yaml")
		h, err := f.Load(ctx, project, id)
		if err != nil {
			if !errors.Is(err, model.ErrNotFound) {
				f.log.Warnf("skip %s: %v", name, err)
			}
			continue
		}
		if keep(h) {
			out = append(out, h)
		}
	}
	sortByID(out)
	return out, nil
}

func (f *File) ListPending(ctx context.Context, project string, capabilities []string, toAgent string) ([]*model.Handoff, error) {
	return f.list(ctx, project, func(h *model.Handoff) bool {
		return isPending(h, project, capabilities, toAgent)
	})
}

func (f *File) FindByInputRequest(ctx context.Context, project, requestID string) (*model.Handoff, error) {
	found, err := f.list(ctx, project, func(h *model.Handoff) bool {
		return hasInputRequest(h, requestID)
	})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, model.ErrNotFound
	}
	return found[0], nil
}

func (f *File) ListActive(ctx context.Context, project string) ([]*model.Handoff, error) {
	return f.list(ctx, project, func(h *model.Handoff) bool {
		return !model.IsHandoffTerminal(h.Status)
	})
}

// Watch reports handoff writes under root via fsnotify. Project
// directories created after the call are picked up as they appear.
func (f *File) Watch(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(f.root); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", f.root, err)
	}
	projects, _ := os.ReadDir(f.root)
	for _, p := range projects {
		if p.IsDir() && p.Name() != "quarantine" {
			f.watchProject(watcher, filepath.Join(f.root, p.Name()))
		}
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Dir(event.Name) == f.root {
					if event.Has(fsnotify.Create) && filepath.Base(event.Name) != "quarantine" {
						f.watchProject(watcher, event.Name)
					}
					continue
				}
				name := filepath.Base(event.Name)
				if strings.HasPrefix(name, ".") || filepath.Ext(name) != ".yaml" {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					f.log.Debugf("fsnotify event=%s file=%s", event.Op, event.Name)
					select {
					case wake <- struct{}{}:
					default:
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.log.Errorf("fsnotify error=%v", err)
			}
		}
	}()
	return wake, nil
}

func (f *File) watchProject(w *fsnotify.Watcher, projectDir string) {
	if info, err := os.Stat(projectDir); err != nil || !info.IsDir() {
		return
	}
	dir := filepath.Join(projectDir, "handoffs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		f.log.Warnf("ensure dir %s: %v", dir, err)
		return
	}
	if err := w.Add(dir); err != nil {
		f.log.Warnf("watch %s: %v", dir, err)
	}
}
