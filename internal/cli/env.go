package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/contextcore/contextcore/internal/events"
	"github.com/contextcore/contextcore/internal/handoff"
	"github.com/contextcore/contextcore/internal/logging"
	"github.com/contextcore/contextcore/internal/model"
	"github.com/contextcore/contextcore/internal/rbac"
	"github.com/contextcore/contextcore/internal/store"
)

// env is everything a handoff command needs, built from the config file
// once per invocation.
type env struct {
	cfg    model.Config
	log    *logging.Logger
	store  handoff.Store
	bus    *events.Bus
	authz  handoff.Authorizer
	closer []func() error
}

func loadConfig(opts *RootOptions) (model.Config, error) {
	cfg, err := model.LoadConfig(opts.ConfigPath)
	if err != nil {
		return model.Config{}, WrapExitError(ExitCommandError, "load config", err)
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, opts *RootOptions, cfg model.Config) *logging.Logger {
	level := logging.ParseLevel(cfg.Logging.Level)
	if opts.Verbose {
		level = logging.LevelDebug
	}
	return logging.New(cmd.ErrOrStderr(), level, "contextcore")
}

func openEnv(cmd *cobra.Command, opts *RootOptions) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, log: newLogger(cmd, opts, cfg), bus: events.NewBus(64)}
	e.closer = append(e.closer, func() error { e.bus.Close(); return nil })

	if err := e.openStore(); err != nil {
		e.Close()
		return nil, WrapExitError(ExitCommandError, "open store", err)
	}
	if err := e.openAudit(); err != nil {
		e.Close()
		return nil, WrapExitError(ExitCommandError, "open audit log", err)
	}
	if err := e.loadPolicy(); err != nil {
		e.Close()
		return nil, WrapExitError(ExitCommandError, "load rbac policy", err)
	}
	return e, nil
}

func (e *env) openStore() error {
	switch e.cfg.Store.Backend {
	case "memory":
		e.store = store.NewMemory()
	case "file":
		fs, err := store.NewFile(e.cfg.Store.Path, e.log)
		if err != nil {
			return err
		}
		e.store = fs
	case "sqlite":
		path := e.cfg.Store.Path
		if filepath.Ext(path) == "" {
			if err := os.MkdirAll(path, 0755); err != nil {
				return fmt.Errorf("create store directory: %w", err)
			}
			path = filepath.Join(path, "handoffs.db")
		}
		db, err := store.OpenSQLite(path)
		if err != nil {
			return err
		}
		e.store = db
		e.closer = append(e.closer, db.Close)
	default:
		return fmt.Errorf("unknown store backend %q", e.cfg.Store.Backend)
	}
	e.log.Debugf("store_opened backend=%s path=%s", e.cfg.Store.Backend, e.cfg.Store.Path)
	return nil
}

func (e *env) openAudit() error {
	if e.cfg.Audit.Path == "" {
		return nil
	}
	audit, err := events.NewAuditLogger(e.cfg.Audit.Path, e.cfg.Audit.MaxBytes)
	if err != nil {
		return err
	}
	audit.EnableChecksum(e.cfg.Audit.Checksum)
	detach := audit.Attach(e.bus, func(err error) {
		e.log.Warnf("audit_write_failed err=%v", err)
	})
	// detach and drain the bus before the file is closed
	e.closer = append(e.closer, func() error {
		detach()
		e.bus.Close()
		return audit.Close()
	})
	return nil
}

func (e *env) loadPolicy() error {
	if e.cfg.RBAC.PolicyPath == "" {
		e.authz = rbac.AllowAll{}
		return nil
	}
	p, err := rbac.LoadPolicy(e.cfg.RBAC.PolicyPath)
	if err != nil {
		return err
	}
	e.authz = p
	return nil
}

// options returns handoff options acting as agentID, falling back to the
// configured agent.
func (e *env) options(agentID string) handoff.Options {
	if agentID == "" {
		agentID = e.cfg.Agent.ID
	}
	return handoff.Options{
		Project:          e.cfg.Project.ID,
		AgentID:          agentID,
		PollInterval:     e.cfg.PollInterval(),
		DefaultTimeoutMs: e.cfg.Handoff.DefaultTimeoutMs,
		Bus:              e.bus,
		Logger:           e.log,
		Authorizer:       e.authz,
	}
}

func (e *env) manager(agentID string) *handoff.Manager {
	return handoff.NewManager(e.store, e.options(agentID))
}

func (e *env) receiver(agentID string) *handoff.Receiver {
	ro := handoff.ReceiverOptions{
		Options:      e.options(agentID),
		Capabilities: e.cfg.Agent.Capabilities,
		LockPath:     e.cfg.Agent.LockPath,
	}
	return handoff.NewReceiver(e.store, ro)
}

// Close releases resources in reverse order of acquisition.
func (e *env) Close() {
	for i := len(e.closer) - 1; i >= 0; i-- {
		if err := e.closer[i](); err != nil {
			e.log.Warnf("close_failed err=%v", err)
		}
	}
}
