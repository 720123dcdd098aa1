package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/contextcore/contextcore/internal/events"
)

// AuditReport is the result of audit verify.
type AuditReport struct {
	Path     string `json:"path"`
	Entries  int    `json:"entries"`
	Valid    int    `json:"valid"`
	Tampered int    `json:"tampered"`
}

// NewAuditCommand creates the audit command group.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the handoff audit log",
	}
	cmd.AddCommand(newAuditVerifyCommand(rootOpts))
	return cmd
}

func newAuditVerifyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [path]",
		Short: "Check audit log entries against their checksums",
		Long: `Reads the audit log (default: audit.path from config) and recomputes the
checksum of every entry that carries one. Exits 1 when any entry does not
match.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := loadConfig(opts)
				if err != nil {
					return err
				}
				path = cfg.Audit.Path
			}
			if path == "" {
				return NewExitError(ExitCommandError, "no audit log: set audit.path or pass a path")
			}

			total, valid, err := events.VerifyLogIntegrity(path)
			if err != nil {
				return WrapExitError(ExitFailure, "verify audit log", err)
			}
			rep := AuditReport{Path: path, Entries: total, Valid: valid, Tampered: total - valid}
			if err := out.Success(rep, fmt.Sprintf("%s: %d entries, %d valid, %d tampered", path, total, valid, rep.Tampered)); err != nil {
				return err
			}
			if rep.Tampered > 0 {
				return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d tampered audit entries", rep.Tampered), Reported: true}
			}
			return nil
		},
	}
}
