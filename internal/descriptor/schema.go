package descriptor

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

// Normalized is the accessor view of a descriptor, the shape the CUE
// schema constrains.
type Normalized struct {
	ProjectID     string   `json:"project_id"`
	Namespace     string   `json:"namespace"`
	Criticality   string   `json:"criticality"`
	BusinessValue string   `json:"business_value"`
	Owners        []string `json:"owners"`
	DependsOn     []string `json:"depends_on"`
	Targets       []Target `json:"targets"`
	Risks         []Risk   `json:"risks"`
	ADRs          []string `json:"adrs"`
	Capabilities  []string `json:"capabilities"`
}

func (d Descriptor) Normalize() Normalized {
	return Normalized{
		ProjectID:     d.ProjectID(),
		Namespace:     d.Namespace(),
		Criticality:   d.Criticality(),
		BusinessValue: d.BusinessValue(),
		Owners:        orEmpty(d.Owners()),
		DependsOn:     orEmpty(d.DependsOn()),
		Targets:       orEmpty(d.Targets()),
		Risks:         orEmpty(d.Risks()),
		ADRs:          orEmpty(d.ADRs()),
		Capabilities:  orEmpty(d.Capabilities()),
	}
}

// nil slices encode as null, which does not unify with a list
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// ValidationError lists every schema violation of one descriptor.
type ValidationError struct {
	Source    string
	ProjectID string
	Problems  []string
}

func (e *ValidationError) Error() string {
	who := e.ProjectID
	if who == "" {
		who = "<unnamed>"
	}
	if e.Source != "" {
		who = e.Source + ": " + who
	}
	return fmt.Sprintf("descriptor %s: %s", who, strings.Join(e.Problems, "; "))
}

// Validator checks descriptors against the embedded CUE schema. A cue
// context is not safe for concurrent use, so calls are serialized.
type Validator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile descriptor schema: %w", err)
	}
	schema := v.LookupPath(cue.ParsePath("#Project"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("lookup #Project: %w", err)
	}
	return &Validator{ctx: ctx, schema: schema}, nil
}

func (v *Validator) Validate(d Descriptor) error {
	n := d.Normalize()

	v.mu.Lock()
	defer v.mu.Unlock()

	doc := v.ctx.Encode(n)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}
	err := v.schema.Unify(doc).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}
	ve := &ValidationError{Source: d.Source, ProjectID: n.ProjectID}
	for _, e := range cueerrors.Errors(err) {
		path := strings.Join(e.Path(), ".")
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if path != "" {
			msg = path + ": " + msg
		}
		ve.Problems = append(ve.Problems, msg)
	}
	if len(ve.Problems) == 0 {
		ve.Problems = []string{err.Error()}
	}
	return ve
}

// ValidateAll returns the descriptors that pass and the joined errors of
// those that do not. Duplicate project ids are reported as well; the first
// occurrence is kept.
func (v *Validator) ValidateAll(ds []Descriptor) ([]Descriptor, error) {
	var valid []Descriptor
	var errs []error
	seen := make(map[string]string)
	for _, d := range ds {
		if err := v.Validate(d); err != nil {
			errs = append(errs, err)
			continue
		}
		id := d.ProjectID()
		if prev, dup := seen[id]; dup {
			errs = append(errs, &ValidationError{
				Source: d.Source, ProjectID: id,
				Problems: []string{fmt.Sprintf("duplicate project id, first defined in %s", prev)},
			})
			continue
		}
		seen[id] = d.Source
		valid = append(valid, d)
	}
	return valid, errors.Join(errs...)
}
