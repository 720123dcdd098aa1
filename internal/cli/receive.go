package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/contextcore/contextcore/internal/handoff"
	"github.com/contextcore/contextcore/internal/lock"
	"github.com/contextcore/contextcore/internal/model"
)

// ReceiveOptions holds flags for the receive command.
type ReceiveOptions struct {
	*RootOptions
	Agent        string
	Capabilities []string
	LockPath     string
	Exec         string
}

// NewReceiveCommand creates the receive command, a long-running receiver.
func NewReceiveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReceiveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Serve handoffs addressed to this agent until interrupted",
		Long: `Polls for handoffs addressed to the agent, accepts them in queue order and
runs a handler on each. Without --exec the handler echoes the task and
completes with trace id echo:<handoff-id>.

With --exec the script runs under bash with the handoff as JSON on stdin and
HANDOFF_ID, HANDOFF_CAPABILITY and HANDOFF_TASK in the environment. Exit 0
completes the handoff with the first line of stdout as the result trace id;
any other exit fails it with stderr as the reason. The script is killed at
the handoff deadline.

Only one receive process may run per lock file.`,
		Example: `  contextcore receive --agent db-agent --capability db.migrate --exec ./migrate.sh`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReceive(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Agent, "agent", "", "agent id to receive for (default: agent.id from config)")
	cmd.Flags().StringSliceVar(&opts.Capabilities, "capability", nil, "capabilities served (default: agent.capabilities from config)")
	cmd.Flags().StringVar(&opts.LockPath, "lock", "", "single-instance lock file (default: agent.lock_path from config)")
	cmd.Flags().StringVar(&opts.Exec, "exec", "", "bash script run for each handoff")
	return cmd
}

func runReceive(cmd *cobra.Command, opts *ReceiveOptions) error {
	return withEnv(cmd, opts.RootOptions, func(ctx context.Context, e *env, out *OutputFormatter) error {
		ro := handoff.ReceiverOptions{
			Options:      e.options(opts.Agent),
			Capabilities: e.cfg.Agent.Capabilities,
			LockPath:     e.cfg.Agent.LockPath,
		}
		if len(opts.Capabilities) > 0 {
			ro.Capabilities = opts.Capabilities
		}
		if opts.LockPath != "" {
			ro.LockPath = opts.LockPath
		}
		if ro.AgentID == "" {
			return NewExitError(ExitCommandError, "receive needs an agent id: set agent.id or pass --agent")
		}

		handler := echoHandler(out)
		if opts.Exec != "" {
			handler = execHandler(opts.Exec)
		}
		out.VerboseLog("receiving as %s (capabilities %v)", ro.AgentID, ro.Capabilities)

		err := handoff.NewReceiver(e.store, ro).Serve(ctx, handler)
		if errors.Is(err, lock.ErrLocked) {
			pid, _ := lock.HolderPID(ro.LockPath)
			return WrapExitError(ExitCommandError, fmt.Sprintf("another receiver holds %s (pid %d)", ro.LockPath, pid), err)
		}
		return err
	})
}

func echoHandler(out *OutputFormatter) handoff.Handler {
	return func(ctx context.Context, r *handoff.Receiver, h *model.Handoff) (string, error) {
		fmt.Fprintf(out.Writer, "%s [%s] %s: %s\n", h.ID, h.Priority, h.CapabilityID, h.Task)
		return "echo:" + h.ID, nil
	}
}

// execHandler runs script once per handoff. See the receive command help
// for the contract.
func execHandler(script string) handoff.Handler {
	return func(ctx context.Context, r *handoff.Receiver, h *model.Handoff) (string, error) {
		payload, err := json.Marshal(h)
		if err != nil {
			return "", fmt.Errorf("encode handoff: %w", err)
		}

		runCtx, cancel := context.WithDeadline(ctx, h.Deadline())
		defer cancel()

		var stdout, stderr bytes.Buffer
		c := exec.CommandContext(runCtx, "bash", "-c", script)
		c.Stdin = bytes.NewReader(payload)
		c.Stdout = &stdout
		c.Stderr = &stderr
		c.WaitDelay = time.Second
		c.Env = append(os.Environ(),
			"HANDOFF_ID="+h.ID,
			"HANDOFF_CAPABILITY="+h.CapabilityID,
			"HANDOFF_TASK="+h.Task,
		)

		if err := c.Run(); err != nil {
			if runCtx.Err() == context.DeadlineExceeded {
				return "", fmt.Errorf("script killed at handoff deadline %s", model.FormatTime(h.Deadline()))
			}
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return "", fmt.Errorf("%s: %w", msg, err)
			}
			return "", err
		}
		traceID, _, _ := strings.Cut(strings.TrimSpace(stdout.String()), "\n")
		return strings.TrimSpace(traceID), nil
	}
}
