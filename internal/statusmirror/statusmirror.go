// Package statusmirror upserts the orchestrator's Status snapshot into
// a Postgres table after each tick, for fleet-wide dashboards that
// would otherwise have to poll every project's status.json
// individually. Grounded on cmd/server/main.go's
// `_ "github.com/lib/pq"` import (there wired to an unused
// Spanner/Postgres stub) and internal/evidence/supabase_store.go's
// persistence-sink shape (marshal to JSON, upsert by ID, log and
// return a wrapped error on failure rather than panicking).
package statusmirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	_ "github.com/lib/pq"

	"github.com/ocx/orchestrator/internal/reducer"
)

// Mirror upserts Status snapshots into Postgres. A nil *Mirror is
// safe to call Publish on, the same nil-safety convention
// internal/metrics.Collector uses, so wiring a mirror into
// cmd/orchestratord is optional.
type Mirror struct {
	db     *sql.DB
	logger *log.Logger
}

// Open connects to Postgres at dsn and ensures the mirror table
// exists. Callers should Close the returned *Mirror on shutdown.
func Open(dsn string) (*Mirror, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("statusmirror: open: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("statusmirror: ping: %w", err)
	}
	m := &Mirror{db: db, logger: log.New(log.Writer(), "[StatusMirror] ", log.LstdFlags)}
	if err := m.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *Mirror) ensureSchema(ctx context.Context) error {
	const stmt = `CREATE TABLE IF NOT EXISTS project_status (
		project    TEXT PRIMARY KEY,
		mode       TEXT NOT NULL,
		halted     BOOLEAN NOT NULL,
		payload    JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("statusmirror: ensure schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (m *Mirror) Close() error {
	if m == nil {
		return nil
	}
	return m.db.Close()
}

// Publish upserts one project's Status snapshot. Failures are
// returned, not swallowed: the caller (cmd/orchestratord's loop)
// logs the error itself and carries on rather than failing the tick.
func (m *Mirror) Publish(ctx context.Context, project string, status reducer.Status) error {
	if m == nil {
		return nil
	}
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("statusmirror: marshal status: %w", err)
	}

	const stmt = `INSERT INTO project_status (project, mode, halted, payload, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (project) DO UPDATE
		SET mode = EXCLUDED.mode, halted = EXCLUDED.halted, payload = EXCLUDED.payload, updated_at = now()`
	if _, err := m.db.ExecContext(ctx, stmt, project, status.Project.Mode, status.Project.Halted, payload); err != nil {
		m.logger.Printf("failed to mirror status for %s: %v", project, err)
		return fmt.Errorf("statusmirror: upsert: %w", err)
	}
	return nil
}
