package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextcore/contextcore/internal/events"
	"github.com/contextcore/contextcore/internal/handoff"
	"github.com/contextcore/contextcore/internal/model"
)

// ─── harness ─────────────────────────────────────────────────────────────────

type harness struct {
	t      *testing.T
	dir    string
	config string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "descriptors"), 0755))
	cfg := fmt.Sprintf(`project:
  id: shop
agent:
  id: planner
store:
  backend: file
  path: %s
handoff:
  poll_interval_ms: 10
audit:
  path: %s
graph:
  descriptors_dir: %s
logging:
  level: error
`, filepath.Join(dir, "store"), filepath.Join(dir, "audit.jsonl"), filepath.Join(dir, "descriptors"))
	config := filepath.Join(dir, "contextcore.yaml")
	require.NoError(t, os.WriteFile(config, []byte(cfg), 0644))
	return &harness{t: t, dir: dir, config: config}
}

func (h *harness) run(args ...string) (stdout, stderr string, code int) {
	h.t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--config", h.config}, args...)
	code = Execute(context.Background(), full, &out, &errOut)
	return out.String(), errOut.String(), code
}

// runJSON runs a command in json format and decodes the data field into v.
func (h *harness) runJSON(v any, args ...string) int {
	h.t.Helper()
	stdout, stderr, code := h.run(append([]string{"--format", "json"}, args...)...)
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(h.t, json.Unmarshal([]byte(stdout), &resp), "stdout=%q stderr=%q", stdout, stderr)
	if v != nil && resp.Status == "ok" {
		require.NoError(h.t, json.Unmarshal(resp.Data, v))
	}
	return code
}

func (h *harness) writeDescriptor(name, body string) {
	h.t.Helper()
	require.NoError(h.t, os.WriteFile(filepath.Join(h.dir, "descriptors", name), []byte(body), 0644))
}

// ─── command tree ────────────────────────────────────────────────────────────

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "contextcore", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	paths := [][]string{
		{"handoff", "create"}, {"handoff", "status"}, {"handoff", "await"}, {"handoff", "inputs"},
		{"handoff", "provide-input"}, {"handoff", "poll"}, {"handoff", "accept"}, {"handoff", "start"},
		{"handoff", "request-input"}, {"handoff", "complete"}, {"handoff", "fail"}, {"handoff", "sweep"},
		{"receive"},
		{"graph", "build"}, {"graph", "impact"}, {"graph", "deps"}, {"graph", "path"}, {"graph", "risk"},
		{"graph", "export"}, {"graph", "cycles"},
		{"mcp"}, {"version"}, {"audit", "verify"},
	}
	for _, p := range paths {
		t.Run(strings.Join(p, " "), func(t *testing.T) {
			sub, _, err := cmd.Find(p)
			require.NoError(t, err)
			assert.Equal(t, p[len(p)-1], sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	config := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, config)
	assert.Equal(t, "contextcore.yaml", config.DefValue)
}

func TestExecute_ExitCodes(t *testing.T) {
	h := newHarness(t)

	_, stderr, code := h.run("--format", "xml", "version")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "invalid format")

	_, _, code = h.run("handoff", "status", "--no-such-flag")
	assert.Equal(t, ExitCommandError, code)

	stdout, _, code := h.run("version")
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "contextcore dev\n", stdout)

	_, stderr, code = h.run("handoff", "status", "hof_1700000000_deadbeef")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "E_NOT_FOUND")

	_, stderr, code = h.run("handoff", "create", "--to", "db-agent", "--capability", "db.migrate",
		"--task", "t", "--priority", "whenever")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "E_VALIDATION")
}

func TestExecute_JSONErrorEnvelope(t *testing.T) {
	h := newHarness(t)
	stdout, _, code := h.run("--format", "json", "handoff", "status", "hof_1700000000_deadbeef")
	assert.Equal(t, ExitFailure, code)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_NOT_FOUND", resp.Error.Code)
}

// ─── handoff commands ────────────────────────────────────────────────────────

func TestHandoffLifecycle(t *testing.T) {
	h := newHarness(t)

	var created model.Handoff
	code := h.runJSON(&created, "handoff", "create", "--to", "db-agent", "--capability", "db.migrate",
		"--task", "add index", "--inputs", `{"table":"orders"}`, "--priority", "high")
	require.Equal(t, ExitSuccess, code)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "planner", created.FromAgent)
	assert.Equal(t, model.DefaultHandoffTimeoutMs, created.TimeoutMs)
	assert.Equal(t, "orders", created.Inputs["table"])

	var pending []model.Handoff
	require.Equal(t, ExitSuccess, h.runJSON(&pending, "handoff", "poll", "--agent", "db-agent"))
	require.Len(t, pending, 1)
	assert.Equal(t, created.ID, pending[0].ID)

	var nothing []model.Handoff
	require.Equal(t, ExitSuccess, h.runJSON(&nothing, "handoff", "poll", "--agent", "someone-else"))
	assert.Empty(t, nothing)

	// only the addressee may accept
	_, stderr, code := h.run("handoff", "accept", created.ID)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "addressed to db-agent")

	_, _, code = h.run("handoff", "accept", "--agent", "db-agent", created.ID)
	require.Equal(t, ExitSuccess, code)
	_, _, code = h.run("handoff", "start", "--agent", "db-agent", created.ID)
	require.Equal(t, ExitSuccess, code)

	var req model.InputRequest
	code = h.runJSON(&req, "handoff", "request-input", "--agent", "db-agent", created.ID,
		"--question", "Which replica?", "--type", "choice", "--option", "primary", "--option", "Read replica=replica")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, model.InputTypeChoice, req.InputType)
	assert.Equal(t, []model.InputOption{{Label: "primary", Value: "primary"}, {Label: "Read replica", Value: "replica"}}, req.Options)
	assert.Equal(t, model.DefaultInputTimeoutMs, req.TimeoutMs)

	stdout, _, code := h.run("handoff", "inputs")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, req.ID)
	assert.Contains(t, stdout, "Which replica?")

	_, _, code = h.run("handoff", "provide-input", req.ID, "tertiary")
	assert.Equal(t, ExitCommandError, code, "not an offered option")
	_, _, code = h.run("handoff", "provide-input", req.ID, "replica")
	require.Equal(t, ExitSuccess, code)

	stdout, _, code = h.run("handoff", "status", created.ID)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, string(model.HandoffStatusInProgress))

	_, _, code = h.run("handoff", "complete", "--agent", "db-agent", created.ID, "--trace-id", "trace-7")
	require.Equal(t, ExitSuccess, code)

	var rep awaitReport
	code = h.runJSON(&rep, "handoff", "await", created.ID, "--timeout", "1s")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, handoff.OutcomeCompleted, rep.Outcome)
	assert.Equal(t, "trace-7", rep.ResultTraceID)

	audit, err := os.ReadFile(filepath.Join(h.dir, "audit.jsonl"))
	require.NoError(t, err)
	for _, ev := range []string{"handoff_created", "handoff_accepted", "handoff_started", "input_requested", "input_provided", "handoff_completed"} {
		assert.Contains(t, string(audit), ev)
	}
}

func TestHandoffAwait_ClientTimeoutAndFailure(t *testing.T) {
	h := newHarness(t)

	var created model.Handoff
	require.Equal(t, ExitSuccess, h.runJSON(&created, "handoff", "create",
		"--to", "db-agent", "--capability", "db.migrate", "--task", "t"))

	var rep awaitReport
	code := h.runJSON(&rep, "handoff", "await", created.ID, "--timeout", "30ms")
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, handoff.OutcomeClientTimeout, rep.Outcome)
	assert.Equal(t, model.HandoffStatusCreated, rep.Status)

	_, _, code = h.run("handoff", "fail", "--agent", "db-agent", created.ID, "--reason", "no capacity")
	require.Equal(t, ExitSuccess, code)

	stdout, stderr, code := h.run("handoff", "await", created.ID)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "failed reason=no capacity")
	assert.Empty(t, stderr, "a reported outcome is not printed twice")
}

func TestHandoffSweep(t *testing.T) {
	h := newHarness(t)

	var created model.Handoff
	require.Equal(t, ExitSuccess, h.runJSON(&created, "handoff", "create",
		"--to", "db-agent", "--capability", "db.migrate", "--task", "t", "--timeout-ms", "20"))
	time.Sleep(40 * time.Millisecond)

	var res handoff.SweepResult
	require.Equal(t, ExitSuccess, h.runJSON(&res, "handoff", "sweep"))
	assert.Equal(t, []string{created.ID}, res.TimedOut)

	var rep awaitReport
	assert.Equal(t, ExitFailure, h.runJSON(&rep, "handoff", "await", created.ID))
	assert.Equal(t, handoff.OutcomeTimedOut, rep.Outcome)
}

func TestParseOptions(t *testing.T) {
	assert.Nil(t, parseOptions(nil))
	assert.Equal(t, []model.InputOption{
		{Label: "yes", Value: "yes"},
		{Label: "Use staging", Value: "staging"},
		{Label: "a", Value: "b=c"},
	}, parseOptions([]string{"yes", "Use staging=staging", "a=b=c"}))
}

// ─── receive handlers ────────────────────────────────────────────────────────

func TestExecHandler(t *testing.T) {
	h := &model.Handoff{
		ID:           "hof_1700000000_0000abcd",
		CapabilityID: "db.migrate",
		Task:         "add index",
		TimeoutMs:    10_000,
		CreatedAt:    time.Now(),
	}
	ctx := context.Background()

	trace, err := execHandler(`grep -q '"capability_id":"db.migrate"' && echo "trace-$HANDOFF_ID" && echo ignored`)(ctx, nil, h)
	require.NoError(t, err)
	assert.Equal(t, "trace-hof_1700000000_0000abcd", trace)

	_, err = execHandler(`echo "disk full" >&2; exit 3`)(ctx, nil, h)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	h.TimeoutMs = 50
	_, err = execHandler(`sleep 5`)(ctx, nil, h)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadline")
}

func TestEchoHandler(t *testing.T) {
	var buf bytes.Buffer
	trace, err := echoHandler(&OutputFormatter{Writer: &buf})(context.Background(), nil, &model.Handoff{
		ID: "hof_1", Priority: model.PriorityUrgent, CapabilityID: "db.migrate", Task: "vacuum",
	})
	require.NoError(t, err)
	assert.Equal(t, "echo:hof_1", trace)
	assert.Equal(t, "hof_1 [urgent] db.migrate: vacuum\n", buf.String())
}

// ─── graph commands ──────────────────────────────────────────────────────────

const checkoutYAML = `
metadata:
  name: checkout
  namespace: shop
spec:
  business:
    criticality: critical
    owners: [payments]
  dependencies: [inventory]
  risks:
    - type: security
      priority: P1
`

const inventoryYAML = `
project_id: inventory
owners: [warehouse]
targets:
  - kind: Database
    name: orders
    namespace: data
`

func TestGraphCommands(t *testing.T) {
	h := newHarness(t)
	h.writeDescriptor("checkout.yaml", checkoutYAML)
	h.writeDescriptor("inventory.yaml", inventoryYAML)

	var rep BuildReport
	require.Equal(t, ExitSuccess, h.runJSON(&rep, "graph", "build"))
	assert.Equal(t, 2, rep.Descriptors)
	assert.Equal(t, 2, rep.Projects)

	stdout, _, code := h.run("graph", "impact", "database/data/orders")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "inventory")
	assert.Contains(t, stdout, "checkout  CRITICAL")
	assert.Contains(t, stdout, "teams: payments, warehouse")

	stdout, _, code = h.run("graph", "impact", "database/data/orders", "--depth", "1")
	require.Equal(t, ExitSuccess, code)
	assert.NotContains(t, stdout, "checkout")

	_, stderr, code := h.run("graph", "impact", "nowhere")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "E_NOT_FOUND")

	stdout, _, code = h.run("graph", "path", "team:payments", "database/data/orders")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "team:payments -> checkout -> inventory -> database/data/orders\n", stdout)

	var risks []map[string]any
	require.Equal(t, ExitSuccess, h.runJSON(&risks, "graph", "risk", "payments"))
	require.Len(t, risks, 1)
	assert.Equal(t, "security", risks[0]["type"])

	out := filepath.Join(h.dir, "out", "graph.json")
	_, _, code = h.run("graph", "export", "--as", "dict", "-o", out)
	require.Equal(t, ExitSuccess, code)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"stats"`)

	stdout, _, code = h.run("graph", "export")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, `"links"`)

	stdout, _, code = h.run("graph", "cycles")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "no dependency cycles")
}

func TestGraphCycles_ExitFailure(t *testing.T) {
	h := newHarness(t)
	h.writeDescriptor("a.yaml", "project_id: a\ndepends_on: [b]\n")
	h.writeDescriptor("b.yaml", "project_id: b\ndepends_on: [a]\n")

	stdout, stderr, code := h.run("graph", "cycles")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "a -> b -> a")
	assert.Empty(t, stderr)
}

func TestGraphValidation(t *testing.T) {
	h := newHarness(t)
	h.writeDescriptor("good.yaml", inventoryYAML)
	h.writeDescriptor("bad.yaml", "project_id: broken\ncriticality: extreme\n")

	var rep BuildReport
	require.Equal(t, ExitSuccess, h.runJSON(&rep, "graph", "build"))
	assert.Equal(t, 2, rep.Projects, "no validation by default")

	require.Equal(t, ExitSuccess, h.runJSON(&rep, "graph", "build", "--validate"))
	assert.Equal(t, 1, rep.Projects)
	require.Len(t, rep.Invalid, 1)
	assert.Contains(t, rep.Invalid[0], "broken")

	_, stderr, code := h.run("graph", "build", "--strict")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "E_VALIDATION")
}

// ─── audit ───────────────────────────────────────────────────────────────────

func TestAuditVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := events.NewAuditLogger(path, events.DefaultMaxLogSize)
	require.NoError(t, err)
	logger.EnableChecksum(true)
	require.NoError(t, logger.Record(events.Event{Type: events.EventHandoffCreated, Data: map[string]any{"handoff_id": "hof_1"}}))
	require.NoError(t, logger.Record(events.Event{Type: events.EventHandoffAccepted, Data: map[string]any{"handoff_id": "hof_2"}}))
	require.NoError(t, logger.Close())

	h := newHarness(t)
	var rep AuditReport
	code := h.runJSON(&rep, "audit", "verify", path)
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, AuditReport{Path: path, Entries: 2, Valid: 2}, rep)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(raw), "hof_1", "hof_9", 1)), 0644))

	stdout, _, code := h.run("audit", "verify", path)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "2 entries, 1 valid, 1 tampered")
}

func TestAuditVerify_DefaultsToConfiguredPath(t *testing.T) {
	h := newHarness(t)
	_, _, code := h.run("handoff", "create", "--to", "db-agent", "--capability", "db.migrate", "--task", "migrate")
	require.Equal(t, ExitSuccess, code)

	stdout, _, code := h.run("audit", "verify")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "1 entries, 1 valid, 0 tampered")
}
