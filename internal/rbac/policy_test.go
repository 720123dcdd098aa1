package rbac

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextcore/contextcore/internal/handoff"
)

var (
	_ handoff.Authorizer = (*Policy)(nil)
	_ handoff.Authorizer = AllowAll{}
)

const policyYAML = `
schema_version: 1
file_type: rbac_policy
roles:
  requester:
    - resource: "capability/*"
      actions: ["handoff:create"]
    - resource: "handoff/*"
      actions: ["handoff:provide_input"]
  db-receiver:
    - resource: "handoff/*"
      actions: ["handoff:*"]
  admin:
    - resource: "*"
      actions: ["*"]
bindings:
  planner: [requester]
  db-agent: [db-receiver]
  root: [admin]
  "*": []
`

func TestDecide(t *testing.T) {
	p, err := ParsePolicy([]byte(policyYAML))
	require.NoError(t, err)

	tests := []struct {
		principal, resource, action string
		allowed                     bool
		role                        string
	}{
		{"planner", "capability/db.migrate", handoff.ActionCreate, true, "requester"},
		{"planner", "handoff/hof_1", handoff.ActionProvideInput, true, "requester"},
		{"planner", "handoff/hof_1", handoff.ActionAccept, false, ""},
		{"db-agent", "handoff/hof_1", handoff.ActionComplete, true, "db-receiver"},
		{"db-agent", "capability/db.migrate", handoff.ActionCreate, false, ""},
		{"root", "anything/at/all", "whatever", true, "admin"},
		{"stranger", "handoff/hof_1", handoff.ActionAccept, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.principal+" "+tt.action, func(t *testing.T) {
			d := p.Decide(tt.principal, tt.resource, tt.action)
			assert.Equal(t, tt.allowed, d.Allowed, d.Reason)
			assert.Equal(t, tt.role, d.Role)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestDecide_WildcardBinding(t *testing.T) {
	p := NewPolicy()
	p.Roles["reader"] = []Grant{{Resource: "handoff/*", Actions: []string{"handoff:status"}}}
	p.Bindings[Wildcard] = []string{"reader"}

	assert.True(t, p.Decide("anyone", "handoff/hof_1", "handoff:status").Allowed)
	assert.False(t, p.Decide("anyone", "handoff/hof_1", handoff.ActionFail).Allowed)
}

func TestAuthorize(t *testing.T) {
	p, err := ParsePolicy([]byte(policyYAML))
	require.NoError(t, err)
	ctx := context.Background()

	assert.NoError(t, p.Authorize(ctx, "db-agent", "handoff/hof_1", handoff.ActionAccept))

	err = p.Authorize(ctx, "planner", "handoff/hof_1", handoff.ActionFail)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDenied)
	var de *DeniedError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "planner", de.Principal)

	assert.NoError(t, AllowAll{}.Authorize(ctx, "x", "y", "z"))
}

func TestParsePolicy_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing header": "roles: {}\n",
		"wrong file type": "schema_version: 1\nfile_type: handoff\n",
		"unknown role": "schema_version: 1\nfile_type: rbac_policy\nbindings:\n  a: [ghost]\n",
		"empty actions": "schema_version: 1\nfile_type: rbac_policy\nroles:\n  r:\n    - resource: x\n",
		"bad pattern": "schema_version: 1\nfile_type: rbac_policy\nroles:\n  r:\n    - resource: \"[\"\n      actions: [a]\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(src))
			assert.Error(t, err)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rbac.yaml")
	p := NewPolicy()
	p.Roles["ops"] = []Grant{{Resource: "*", Actions: []string{"handoff:fail"}}}
	p.Bindings["oncall"] = []string{"ops"}
	require.NoError(t, p.Save(file))

	loaded, err := LoadPolicy(file)
	require.NoError(t, err)
	assert.True(t, loaded.Decide("oncall", "handoff/x", "handoff:fail").Allowed)

	_, err = LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
