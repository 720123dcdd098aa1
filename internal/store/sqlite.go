package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/contextcore/contextcore/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - handoffs table only
// 1 - input_requests lookup table for FindByInputRequest
const currentSchemaVersion = 1

// SQLite stores handoffs in a SQLite database in WAL mode. Writes are
// conditional on the stored revision.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at path and applies pragmas
// and migrations. It is safe to call on an existing database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite allows one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return runMigrations(db)
}

func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 adds the input request index and backfills it from the
// records already stored.
func migrateToV1(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS input_requests (
			request_id TEXT NOT NULL PRIMARY KEY,
			project    TEXT NOT NULL,
			handoff_id TEXT NOT NULL,
			FOREIGN KEY (project, handoff_id) REFERENCES handoffs(project, id) ON DELETE CASCADE
		)`); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}

	rows, err := tx.Query(`SELECT record FROM handoffs`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	var existing []*model.Handoff
	for rows.Next() {
		h, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("migrate to v1: %w", err)
		}
		existing = append(existing, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	for _, h := range existing {
		if err := indexInputRequests(context.Background(), tx, h); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*model.Handoff, error) {
	var record string
	if err := row.Scan(&record); err != nil {
		return nil, err
	}
	var h model.Handoff
	if err := json.Unmarshal([]byte(record), &h); err != nil {
		return nil, fmt.Errorf("decode handoff record: %w", err)
	}
	return &h, nil
}

func indexInputRequests(ctx context.Context, tx *sql.Tx, h *model.Handoff) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM input_requests WHERE project = ? AND handoff_id = ?`, h.Project, h.ID); err != nil {
		return err
	}
	for _, req := range h.InputRequests {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO input_requests (request_id, project, handoff_id) VALUES (?, ?, ?)`,
			req.ID, h.Project, h.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Save(ctx context.Context, h *model.Handoff, expectedRevision int) error {
	next := h.Clone()
	next.Revision = expectedRevision + 1
	record, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode handoff %s: %w", h.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var res sql.Result
	if expectedRevision == 0 {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO handoffs (project, id, status, capability_id, to_agent, priority, created_at, revision, record)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (project, id) DO NOTHING`,
			next.Project, next.ID, next.Status, next.CapabilityID, next.ToAgent,
			next.Priority.Rank(), model.FormatTime(next.CreatedAt), next.Revision, string(record))
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE handoffs
			SET status = ?, capability_id = ?, to_agent = ?, priority = ?, revision = ?, record = ?
			WHERE project = ? AND id = ? AND revision = ?`,
			next.Status, next.CapabilityID, next.ToAgent, next.Priority.Rank(), next.Revision, string(record),
			next.Project, next.ID, expectedRevision)
	}
	if err != nil {
		return fmt.Errorf("write handoff %s: %w", h.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write handoff %s: %w", h.ID, err)
	}
	if n == 0 {
		return model.ErrRevisionConflict
	}
	if err := indexInputRequests(ctx, tx, next); err != nil {
		return fmt.Errorf("index input requests of %s: %w", h.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	h.Revision = next.Revision
	return nil
}

func (s *SQLite) Load(ctx context.Context, project, id string) (*model.Handoff, error) {
	row := s.db.QueryRowContext(ctx, `SELECT record FROM handoffs WHERE project = ? AND id = ?`, project, id)
	h, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load handoff %s: %w", id, err)
	}
	return h, nil
}

func (s *SQLite) query(ctx context.Context, q string, args ...any) ([]*model.Handoff, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Handoff
	for rows.Next() {
		h, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SQLite) ListPending(ctx context.Context, project string, capabilities []string, toAgent string) ([]*model.Handoff, error) {
	q := `SELECT record FROM handoffs WHERE project = ? AND status = ?`
	args := []any{project, string(model.HandoffStatusCreated)}
	if toAgent != "" {
		q += ` AND to_agent = ?`
		args = append(args, toAgent)
	}
	if len(capabilities) > 0 {
		q += ` AND capability_id IN (?` + strings.Repeat(", ?", len(capabilities)-1) + `)`
		for _, c := range capabilities {
			args = append(args, c)
		}
	}
	q += ` ORDER BY id`
	out, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return out, nil
}

func (s *SQLite) FindByInputRequest(ctx context.Context, project, requestID string) (*model.Handoff, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT h.record FROM input_requests r
		JOIN handoffs h ON h.project = r.project AND h.id = r.handoff_id
		WHERE r.project = ? AND r.request_id = ?`, project, requestID)
	h, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find input request %s: %w", requestID, err)
	}
	return h, nil
}

func (s *SQLite) ListActive(ctx context.Context, project string) ([]*model.Handoff, error) {
	out, err := s.query(ctx, `
		SELECT record FROM handoffs
		WHERE project = ? AND status NOT IN (?, ?, ?)
		ORDER BY id`,
		project, string(model.HandoffStatusCompleted), string(model.HandoffStatusFailed), string(model.HandoffStatusTimedOut))
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	return out, nil
}
