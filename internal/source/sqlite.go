package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/valter-silva-au/taskview/pkg/models"
)

const tasksSchemaSQL = `
CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	position    INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'pending',
	project     TEXT NOT NULL DEFAULT '',
	priority    TEXT NOT NULL DEFAULT '',
	tags        TEXT NOT NULL DEFAULT '[]',
	urgency     REAL NOT NULL DEFAULT 0,
	due         TEXT,
	description TEXT NOT NULL DEFAULT '',
	raw         TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_tasks_position ON tasks(position);
`

// SQLite is a Source backed by a tasks table in a SQLite database.
type SQLite struct {
	*Store
	conn   *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (or creates) the database at path, applies the schema
// and loads the current rows.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite source: open db: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite source: ping: %w", err)
	}
	if _, err := conn.ExecContext(ctx, tasksSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite source: apply schema: %w", err)
	}

	s := &SQLite{conn: conn, logger: logger}
	recs, err := s.readAll(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	s.Store = NewStore(recs)
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) readAll(ctx context.Context) ([]models.TaskRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, status, project, priority, tags, urgency, due, description, raw
		FROM tasks ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite source: query tasks: %w", err)
	}
	defer rows.Close()

	var recs []models.TaskRecord
	for rows.Next() {
		var (
			r        models.TaskRecord
			status   string
			priority string
			tags     string
			due      sql.NullString
			raw      string
		)
		if err := rows.Scan(&r.ID, &status, &r.Project, &priority, &tags, &r.Urgency, &due, &r.Description, &raw); err != nil {
			return nil, fmt.Errorf("sqlite source: scan task: %w", err)
		}
		r.Status = models.TaskStatus(status)
		r.Priority = models.Priority(priority)
		if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
			return nil, fmt.Errorf("sqlite source: task %s tags: %w", r.ID, err)
		}
		if raw != "" && raw != "{}" {
			if err := json.Unmarshal([]byte(raw), &r.Raw); err != nil {
				return nil, fmt.Errorf("sqlite source: task %s raw: %w", r.ID, err)
			}
		}
		if due.Valid && due.String != "" {
			t, err := time.Parse(time.RFC3339Nano, due.String)
			if err != nil {
				return nil, fmt.Errorf("sqlite source: task %s due: %w", r.ID, err)
			}
			r.Due = &t
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite source: iterate tasks: %w", err)
	}
	return recs, nil
}

// Reload re-reads the table and publishes a new snapshot.
func (s *SQLite) Reload(ctx context.Context) (uint64, error) {
	recs, err := s.readAll(ctx)
	if err != nil {
		return 0, err
	}
	return s.Replace(recs), nil
}

// Insert writes records in one transaction and reloads the snapshot. Rows
// with an existing ID are updated in place and keep their position; new
// rows are appended.
func (s *SQLite) Insert(ctx context.Context, records []models.TaskRecord) (uint64, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite source: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var base int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), -1) + 1 FROM tasks`).Scan(&base); err != nil {
		return 0, fmt.Errorf("sqlite source: next position: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tasks (id, position, status, project, priority, tags, urgency, due, description, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			project = excluded.project,
			priority = excluded.priority,
			tags = excluded.tags,
			urgency = excluded.urgency,
			due = excluded.due,
			description = excluded.description,
			raw = excluded.raw`)
	if err != nil {
		return 0, fmt.Errorf("sqlite source: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		tags, err := json.Marshal(nonNil(r.Tags))
		if err != nil {
			return 0, fmt.Errorf("sqlite source: task %s tags: %w", r.ID, err)
		}
		raw := []byte("{}")
		if len(r.Raw) > 0 {
			if raw, err = json.Marshal(r.Raw); err != nil {
				return 0, fmt.Errorf("sqlite source: task %s raw: %w", r.ID, err)
			}
		}
		var due any
		if r.Due != nil {
			due = r.Due.UTC().Format(time.RFC3339Nano)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, base+i, string(r.Status), r.Project, string(r.Priority),
			string(tags), r.Urgency, due, r.Description, string(raw)); err != nil {
			return 0, fmt.Errorf("sqlite source: insert task %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite source: commit: %w", err)
	}
	return s.Reload(ctx)
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// Watch polls PRAGMA data_version every interval and reloads when another
// connection has committed changes. It returns when ctx is cancelled.
func (s *SQLite) Watch(ctx context.Context, interval time.Duration) error {
	// data_version is per connection, so polling must use one pinned
	// connection that never writes.
	conn, err := s.conn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("sqlite source: pin connection: %w", err)
	}
	defer conn.Close()

	var last int64
	if err := conn.QueryRowContext(ctx, `PRAGMA data_version`).Scan(&last); err != nil {
		return fmt.Errorf("sqlite source: data_version: %w", err)
	}

	s.logger.Info("watcher: started", slog.String("kind", models.SourceSQLite), slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("watcher: stopped", slog.String("kind", models.SourceSQLite))
			return nil
		case <-ticker.C:
			var v int64
			if err := conn.QueryRowContext(ctx, `PRAGMA data_version`).Scan(&v); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Warn("watcher: data_version failed", slog.String("error", err.Error()))
				continue
			}
			if v == last {
				continue
			}
			last = v
			version, err := s.Reload(ctx)
			if err != nil {
				s.logger.Warn("watcher: reload failed", slog.String("error", err.Error()))
				continue
			}
			s.logger.Debug("watcher: reloaded", slog.Uint64("version", version))
		}
	}
}
