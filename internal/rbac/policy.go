// Package rbac answers access decisions for handoff operations from a
// role/binding policy file.
package rbac

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	yamlv3 "gopkg.in/yaml.v3"

	yamlutil "github.com/contextcore/contextcore/internal/yaml"
)

// Wildcard binds a role to every principal, or matches any resource or
// action in a grant.
const Wildcard = "*"

var ErrDenied = errors.New("access denied")

type DeniedError struct {
	Principal string
	Resource  string
	Action    string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: principal %q may not %s on %s", ErrDenied, e.Principal, e.Action, e.Resource)
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}

// Grant allows Actions on resources matching Resource. Both accept
// path.Match patterns, e.g. "capability/db.*" or "handoff:*".
type Grant struct {
	Resource string   `yaml:"resource"`
	Actions  []string `yaml:"actions"`
}

type Policy struct {
	yamlutil.SchemaHeader `yaml:",inline"`
	Roles                 map[string][]Grant  `yaml:"roles"`
	Bindings              map[string][]string `yaml:"bindings"`
}

func NewPolicy() *Policy {
	return &Policy{
		SchemaHeader: yamlutil.NewSchemaHeader(yamlutil.FileTypeRBACPolicy),
		Roles:        map[string][]Grant{},
		Bindings:     map[string][]string{},
	}
}

func LoadPolicy(file string) (*Policy, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	p, err := ParsePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return p, nil
}

func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yamlv3.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.SchemaHeader.Validate(yamlutil.FileTypeRBACPolicy); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate reports bindings to undefined roles and malformed patterns.
func (p *Policy) Validate() error {
	var errs []error
	for principal, roles := range p.Bindings {
		for _, r := range roles {
			if _, ok := p.Roles[r]; !ok {
				errs = append(errs, fmt.Errorf("bindings[%s]: unknown role %q", principal, r))
			}
		}
	}
	for role, grants := range p.Roles {
		for i, g := range grants {
			if g.Resource == "" {
				errs = append(errs, fmt.Errorf("roles[%s][%d]: resource is required", role, i))
			} else if _, err := path.Match(g.Resource, ""); err != nil {
				errs = append(errs, fmt.Errorf("roles[%s][%d]: bad resource pattern %q", role, i, g.Resource))
			}
			if len(g.Actions) == 0 {
				errs = append(errs, fmt.Errorf("roles[%s][%d]: at least one action is required", role, i))
			}
		}
	}
	return errors.Join(errs...)
}

// Save writes the policy atomically.
func (p *Policy) Save(file string) error {
	if p.SchemaVersion == 0 {
		p.SchemaHeader = yamlutil.NewSchemaHeader(yamlutil.FileTypeRBACPolicy)
	}
	return yamlutil.AtomicWrite(file, p)
}

type Decision struct {
	Allowed bool
	// Role is the role whose grant allowed the request.
	Role   string
	Reason string
}

// Decide looks for a role bound to principal, directly or through the
// wildcard binding, with a grant covering resource and action. Roles are
// checked in name order.
func (p *Policy) Decide(principal, resource, action string) Decision {
	roles := p.rolesFor(principal)
	if len(roles) == 0 {
		return Decision{Reason: fmt.Sprintf("no roles bound to %q", principal)}
	}
	for _, role := range roles {
		for _, g := range p.Roles[role] {
			if !match(g.Resource, resource) {
				continue
			}
			for _, a := range g.Actions {
				if match(a, action) {
					return Decision{Allowed: true, Role: role, Reason: fmt.Sprintf("granted by role %s", role)}
				}
			}
		}
	}
	return Decision{Reason: fmt.Sprintf("no grant for %s on %s in roles %s", action, resource, strings.Join(roles, ","))}
}

func (p *Policy) rolesFor(principal string) []string {
	set := map[string]bool{}
	for _, r := range p.Bindings[principal] {
		set[r] = true
	}
	for _, r := range p.Bindings[Wildcard] {
		set[r] = true
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func match(pattern, value string) bool {
	if pattern == Wildcard {
		return true
	}
	ok, err := path.Match(pattern, value)
	return err == nil && ok
}

// Authorize implements the handoff package's access check.
func (p *Policy) Authorize(_ context.Context, principal, resource, action string) error {
	if d := p.Decide(principal, resource, action); d.Allowed {
		return nil
	}
	return &DeniedError{Principal: principal, Resource: resource, Action: action}
}

// AllowAll permits everything. It is the default when no policy is set.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, string, string, string) error { return nil }
