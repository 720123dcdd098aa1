package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/contextcore/contextcore/internal/handoff"
	"github.com/contextcore/contextcore/internal/model"
)

// HandoffOptions holds flags shared by the handoff subcommands.
type HandoffOptions struct {
	*RootOptions
	Agent string
}

// NewHandoffCommand creates the handoff command group.
func NewHandoffCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HandoffOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "handoff",
		Short: "Create, drive and inspect handoffs",
		Long: `Requester commands (create, status, await, inputs, provide-input) act as the
agent that delegates work. Receiver commands (poll, accept, start,
request-input, complete, fail) act as the agent doing it. --agent overrides
the agent id from the config file for either side.`,
	}
	cmd.PersistentFlags().StringVar(&opts.Agent, "agent", "", "act as this agent id (default: agent.id from config)")

	cmd.AddCommand(
		newHandoffCreateCommand(opts),
		newHandoffStatusCommand(opts),
		newHandoffAwaitCommand(opts),
		newHandoffInputsCommand(opts),
		newHandoffProvideInputCommand(opts),
		newHandoffPollCommand(opts),
		newHandoffAcceptCommand(opts),
		newHandoffStartCommand(opts),
		newHandoffRequestInputCommand(opts),
		newHandoffCompleteCommand(opts),
		newHandoffFailCommand(opts),
		newHandoffSweepCommand(opts),
	)
	return cmd
}

// withEnv opens the environment for one command run and closes it after.
func withEnv(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, e *env, out *OutputFormatter) error) error {
	e, err := openEnv(cmd, opts)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(cmd.Context(), e, opts.formatter(cmd))
}

func describeHandoff(h *model.Handoff) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s  %s -> %s  capability=%s priority=%s\n",
		h.ID, h.Status, h.FromAgent, h.ToAgent, h.CapabilityID, h.Priority)
	fmt.Fprintf(&b, "  task: %s\n", h.Task)
	fmt.Fprintf(&b, "  created: %s  deadline: %s", model.FormatTime(h.CreatedAt), model.FormatTime(h.Deadline()))
	if h.ResultTraceID != "" {
		fmt.Fprintf(&b, "\n  result: %s", h.ResultTraceID)
	}
	if h.FailureReason != "" {
		fmt.Fprintf(&b, "\n  failure: %s", h.FailureReason)
	}
	if req := h.PendingInput(); req != nil {
		fmt.Fprintf(&b, "\n  waiting on %s: %s", req.ID, req.Question)
	}
	return b.String()
}

// ─── requester side ──────────────────────────────────────────────────────────

func newHandoffCreateCommand(opts *HandoffOptions) *cobra.Command {
	var (
		req     handoff.CreateRequest
		inputs  string
		wait    bool
		timeout int64
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Delegate a task to another agent",
		Example: `  contextcore handoff create --to db-agent --capability db.migrate \
    --task "add index on orders.created_at" --inputs '{"table":"orders"}' --priority high`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputs != "" {
				if err := json.Unmarshal([]byte(inputs), &req.Inputs); err != nil {
					return WrapExitError(ExitCommandError, "--inputs must be a JSON object", err)
				}
			}
			return withEnv(cmd, opts.RootOptions, func(ctx context.Context, e *env, out *OutputFormatter) error {
				m := e.manager(opts.Agent)
				req.TimeoutMs = timeout
				if req.TimeoutMs == 0 {
					req.TimeoutMs = m.DefaultTimeoutMs()
				}
				if !wait {
					h, err := m.Create(ctx, req)
					if err != nil {
						return opError("create handoff", err)
					}
					return out.Success(h, h.ID)
				}
				res, err := m.CreateAndAwait(ctx, req)
				return reportAwait(out, res, err)
			})
		},
	}
	cmd.Flags().StringVar(&req.ToAgent, "to", "", "receiving agent id (required)")
	cmd.Flags().StringVar(&req.CapabilityID, "capability", "", "capability the receiver must provide (required)")
	cmd.Flags().StringVar(&req.Task, "task", "", "task description (required)")
	cmd.Flags().StringVar(&inputs, "inputs", "", "input payload as a JSON object")
	cmd.Flags().StringVar(&req.Priority, "priority", "normal", "low|normal|high|urgent")
	cmd.Flags().Int64Var(&timeout, "timeout-ms", 0, "handoff timeout in milliseconds (default: handoff.default_timeout_ms)")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the handoff to finish")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("capability")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func newHandoffStatusCommand(opts *HandoffOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <handoff-id>",
		Short: "Show a handoff as the backend currently sees it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, opts.RootOptions, func(ctx context.Context, e *env, out *OutputFormatter) error {
				h, err := e.manager(opts.Agent).Get(ctx, args[0])
				if err != nil {
					return opError("get handoff", err)
				}
				return out.Success(h, describeHandoff(h))
			})
		},
	}
}

// awaitReport is the JSON shape of an await outcome.
type awaitReport struct {
	HandoffID     string              `json:"handoff_id"`
	Outcome       handoff.Outcome     `json:"outcome"`
	Status        model.HandoffStatus `json:"status,omitempty"`
	ResultTraceID string              `json:"result_trace_id,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
	WaitedMs      int64               `json:"waited_ms"`
}

// reportAwait prints an await outcome. Anything other than a completed
// handoff exits with ExitFailure.
func reportAwait(out *OutputFormatter, res handoff.Result, err error) error {
	var te *handoff.HandoffTimeoutError
	switch {
	case errors.As(err, &te):
		res = handoff.Result{HandoffID: te.HandoffID, Outcome: handoff.OutcomeClientTimeout, Status: te.LastStatus, Waited: te.Waited}
	case err != nil:
		return opError("await handoff", err)
	}

	rep := awaitReport{
		HandoffID:     res.HandoffID,
		Outcome:       res.Outcome,
		Status:        res.Status,
		ResultTraceID: res.ResultTraceID,
		FailureReason: res.FailureReason,
		WaitedMs:      res.Waited.Milliseconds(),
	}
	text := fmt.Sprintf("%s %s", rep.HandoffID, rep.Outcome)
	switch rep.Outcome {
	case handoff.OutcomeCompleted:
		text += " result=" + rep.ResultTraceID
	case handoff.OutcomeFailed:
		text += " reason=" + rep.FailureReason
	case handoff.OutcomeClientTimeout:
		text += fmt.Sprintf(" (stopped waiting after %s; last status %s)", res.Waited.Round(time.Millisecond), rep.Status)
	}
	if err := out.Success(rep, text); err != nil {
		return err
	}
	if rep.Outcome != handoff.OutcomeCompleted {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("handoff %s %s", rep.HandoffID, rep.Outcome), Reported: true}
	}
	return nil
}

func newHandoffAwaitCommand(opts *HandoffOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "await <handoff-id>",
		Short: "Wait for a handoff to finish",
		Long: `Polls until the handoff is COMPLETED, FAILED or TIMED_OUT. If --timeout
elapses first the outcome is client_timeout: this command stopped waiting,
the handoff itself may still finish.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, opts.RootOptions, func(ctx context.Context, e *env, out *OutputFormatter) error {
				res, err := e.manager(opts.Agent).Await(ctx, args[0], timeout)
				if res.HandoffID == "" {
					res.HandoffID = args[0]
				}
				return reportAwait(out, res, err)
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "how long to wait")
	return cmd
}

func newHandoffInputsCommand(opts *HandoffOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inputs [handoff-id]",
		Short: "List unanswered input requests",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			return withEnv(cmd, opts.RootOptions, func(ctx context.Context, e *env, out *OutputFormatter) error {
				reqs, err := e.manager(opts.Agent).ListInputRequests(ctx, id)
				if err != nil {
					return opError("list input requests", err)
				}
				if reqs == nil {
					reqs = []model.InputRequest{}
				}
				var b strings.Builder
				for _, r := range reqs {
					fmt.Fprintf(&b, "%s  handoff=%s type=%s  %s\n", r.ID, r.HandoffID, r.InputType, r.Question)
					for _, o := range r.Options {
						fmt.Fprintf(&b, "    - %s (%s)\n", o.Value, o.Label)
					}
				}
				text := strings.TrimRight(b.String(), "\n")
				if text == "" {
					text = "No pending input requests."
				}
				return out.Success(reqs, text)
			})
		},
	}
}

func newHandoffProvideInputCommand(opts *HandoffOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "provide-input <request-id> <value>",
		Short: "Answer an input request",
		Long: `The value is decoded as JSON when it is a boolean, string or list
(true, '["a","b"]'); anything else is sent as text.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, opts.RootOptions, func(ctx context.Context, e *env, out *OutputFormatter) error {
				resp, err := e.manager(opts.Agent).ProvideInput(ctx, args[0], model.ParseAnswer(args[1]))
				if err != nil {
					return opError("provide input", err)
				}
				return out.Success(resp, fmt.Sprintf("answered %s on %s", resp.RequestID, resp.HandoffID))
			})
		},
	}
}

// ─── receiver side ───────────────────────────────────────────────────────────

func newHandoffPollCommand(opts *HandoffOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "List handoffs waiting for this agent, in queue order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, opts.RootOptions, func(ctx context.Context, e *env, out *OutputFormatter) error {
				pending, err := e.receiver(opts.Agent).Poll(ctx)
				if err != nil {
					return opError("poll", err)
				}
				if pending == nil {
					pending = []*model.Handoff{}
				}
				lines := make([]string, 0, len(pending))
				for _, h := range pending {
					lines = append(lines, fmt.Sprintf("%s  %-6s  %s  %s", h.ID, h.Priority, h.CapabilityID, h.Task))
				}
				text := strings.Join(lines, "\n")
				if text == "" {
					text = "No pending handoffs."
				}
				return out.Success(pending, text)
			})
		},
	}
}

// transitionCommand builds a receiver command that moves one handoff.
func transitionCommand(opts *HandoffOptions, use, short string, args cobra.PositionalArgs,
	run func(ctx context.Context, r *handoff.Receiver, args []string) (*model.Handoff, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, opts.RootOptions, func(ctx context.Context, e *env, out *OutputFormatter) error {
				h, err := run(ctx, e.receiver(opts.Agent), args)
				if err != nil {
					return opError(cmd.Name(), err)
				}
				return out.Success(h, fmt.Sprintf("%s %s", h.ID, h.Status))
			})
		},
	}
}

func newHandoffAcceptCommand(opts *HandoffOptions) *cobra.Command {
	return transitionCommand(opts, "accept <handoff-id>", "Claim a CREATED handoff", cobra.ExactArgs(1),
		func(ctx context.Context, r *handoff.Receiver, args []string) (*model.Handoff, error) {
			return r.Accept(ctx, args[0])
		})
}

func newHandoffStartCommand(opts *HandoffOptions) *cobra.Command {
	return transitionCommand(opts, "start <handoff-id>", "Begin work on an accepted handoff", cobra.ExactArgs(1),
		func(ctx context.Context, r *handoff.Receiver, args []string) (*model.Handoff, error) {
			return r.Start(ctx, args[0])
		})
}

func newHandoffCompleteCommand(opts *HandoffOptions) *cobra.Command {
	var traceID string
	cmd := transitionCommand(opts, "complete <handoff-id>", "Report the handoff done", cobra.ExactArgs(1),
		func(ctx context.Context, r *handoff.Receiver, args []string) (*model.Handoff, error) {
			return r.Complete(ctx, args[0], traceID)
		})
	cmd.Flags().StringVar(&traceID, "trace-id", "", "id of the trace holding the result")
	return cmd
}

func newHandoffFailCommand(opts *HandoffOptions) *cobra.Command {
	var reason string
	cmd := transitionCommand(opts, "fail <handoff-id>", "Report the handoff failed", cobra.ExactArgs(1),
		func(ctx context.Context, r *handoff.Receiver, args []string) (*model.Handoff, error) {
			return r.Fail(ctx, args[0], reason)
		})
	cmd.Flags().StringVar(&reason, "reason", "", "why the handoff failed")
	return cmd
}

func newHandoffRequestInputCommand(opts *HandoffOptions) *cobra.Command {
	var (
		spec      handoff.InputSpec
		inputType string
		options   []string
		def       string
		wait      bool
	)
	cmd := &cobra.Command{
		Use:   "request-input <handoff-id>",
		Short: "Ask the requester a question about an in-progress handoff",
		Example: `  contextcore handoff request-input hof_1700000000_0000abcd \
    --question "Which replica?" --type choice --option primary --option "Read replica=replica" --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec.InputType = model.InputType(inputType)
			spec.Options = parseOptions(options)
			if cmd.Flags().Changed("default") {
				spec.Default = model.ParseAnswer(def)
			}
			return withEnv(cmd, opts.RootOptions, func(ctx context.Context, e *env, out *OutputFormatter) error {
				if spec.TimeoutMs == 0 {
					spec.TimeoutMs = e.cfg.Handoff.InputTimeoutMs
				}
				r := e.receiver(opts.Agent)
				req, err := r.RequestInput(ctx, args[0], spec)
				if err != nil {
					return opError("request input", err)
				}
				if !wait {
					return out.Success(req, req.ID)
				}
				out.VerboseLog("waiting for %s until %s", req.ID, model.FormatTime(req.Deadline()))
				res, err := r.AwaitInput(ctx, req)
				if err != nil {
					return opError("await input", err)
				}
				return out.Success(res, fmt.Sprintf("%v", res.Value))
			})
		},
	}
	cmd.Flags().StringVar(&spec.Question, "question", "", "the question (required)")
	cmd.Flags().StringVar(&inputType, "type", string(model.InputTypeText), "text|choice|multi_choice|confirmation|file")
	cmd.Flags().StringArrayVar(&options, "option", nil, "an option for choice types, as value or label=value (repeatable)")
	cmd.Flags().StringVar(&def, "default", "", "value used when the request expires unanswered")
	cmd.Flags().BoolVar(&spec.Required, "required", false, "an empty text answer is rejected")
	cmd.Flags().Int64Var(&spec.TimeoutMs, "timeout-ms", 0, "request timeout in milliseconds (default: handoff.input_timeout_ms)")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the answer and print it")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}

// parseOptions reads "value" or "label=value" entries.
func parseOptions(raw []string) []model.InputOption {
	var out []model.InputOption
	for _, s := range raw {
		label, value, ok := strings.Cut(s, "=")
		if !ok {
			value = label
		}
		out = append(out, model.InputOption{Label: label, Value: value})
	}
	return out
}

func newHandoffSweepCommand(opts *HandoffOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Time out every overdue handoff in the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, opts.RootOptions, func(ctx context.Context, e *env, out *OutputFormatter) error {
				res, err := handoff.NewSweeper(e.store, e.options(opts.Agent)).Sweep(ctx)
				if err != nil {
					return opError("sweep", err)
				}
				return out.Success(res, fmt.Sprintf("checked %d, timed out %d %v", res.Checked, len(res.TimedOut), res.TimedOut))
			})
		},
	}
}
