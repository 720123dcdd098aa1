package descriptor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	yamlv3 "gopkg.in/yaml.v3"
)

// maxParallelLoads bounds concurrent file parses in LoadDir.
const maxParallelLoads = 8

// LoadDir reads every *.yaml, *.yml and *.json file directly under dir.
// A file may hold several YAML documents, each one descriptor, a list of
// descriptors, or a Kubernetes style List with an items field. Results keep file-name order.
func LoadDir(ctx context.Context, dir string) ([]Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read descriptor dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	perFile := make([][]Descriptor, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLoads)
	for i, path := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ds, err := LoadFile(path)
			if err != nil {
				return err
			}
			perFile[i] = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Descriptor
	for _, ds := range perFile {
		out = append(out, ds...)
	}
	return out, nil
}

// LoadFile parses one descriptor file. JSON is read through the YAML
// decoder.
func LoadFile(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	ds, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i := range ds {
		ds[i].Source = path
	}
	return ds, nil
}

// Parse reads every document of a YAML stream. Each document may be one
// descriptor, a list, or a List kind with items; empty documents are
// skipped.
func Parse(data []byte) ([]Descriptor, error) {
	dec := yamlv3.NewDecoder(bytes.NewReader(data))
	var out []Descriptor
	for n := 0; ; n++ {
		var doc any
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", n, err)
		}
		ds, err := fromDocument(doc)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", n, err)
		}
		out = append(out, ds...)
	}
}

func fromDocument(doc any) ([]Descriptor, error) {
	switch v := doc.(type) {
	case nil:
		return nil, nil
	case []any:
		return fromList(v)
	case map[string]any:
		if items, ok := v["items"].([]any); ok && strings.HasSuffix(asString(v["kind"]), "List") {
			return fromList(items)
		}
		return []Descriptor{New(v)}, nil
	default:
		return nil, fmt.Errorf("expected a mapping or a list, got %T", doc)
	}
}

func fromList(items []any) ([]Descriptor, error) {
	out := make([]Descriptor, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("item %d: expected a mapping, got %T", i, item)
		}
		out = append(out, New(m))
	}
	return out, nil
}
