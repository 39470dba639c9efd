package sink

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/programme-lv/runner/api"
)

var ErrSubmissionNotFound = errors.New("submission row not found")

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Postgres writes results back into the storage API's submissions table.
// The row must already exist; it is matched by id.
type Postgres struct {
	db    *sqlx.DB
	table string
}

func NewPostgres(db *sqlx.DB, table string) (*Postgres, error) {
	if table == "" {
		table = "submissions"
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Postgres{db: db, table: table}, nil
}

func ConnectPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

func (p *Postgres) schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    code TEXT,
    input TEXT,
    time_limit INTEGER,
    memory_limit INTEGER,
    expected_output TEXT,
    output TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`, p.table),
		fmt.Sprintf(`ALTER TABLE %s
    ADD COLUMN IF NOT EXISTS status TEXT,
    ADD COLUMN IF NOT EXISTS verdict TEXT,
    ADD COLUMN IF NOT EXISTS stderr TEXT,
    ADD COLUMN IF NOT EXISTS exit_code INTEGER,
    ADD COLUMN IF NOT EXISTS wall_ms BIGINT,
    ADD COLUMN IF NOT EXISTS mem_kib BIGINT,
    ADD COLUMN IF NOT EXISTS output_truncated BOOLEAN,
    ADD COLUMN IF NOT EXISTS message TEXT,
    ADD COLUMN IF NOT EXISTS finished_at TIMESTAMPTZ`, p.table),
	}
}

// Migrate creates the submissions table if it is missing and adds the
// result columns to it.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range p.schema() {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", p.table, err)
		}
	}
	return nil
}

func (p *Postgres) updateQuery() string {
	return fmt.Sprintf(`UPDATE %s SET
    output = :output,
    verdict = :verdict,
    status = :status,
    stderr = :stderr,
    exit_code = :exit_code,
    wall_ms = :wall_ms,
    mem_kib = :mem_kib,
    output_truncated = :output_truncated,
    message = :message,
    finished_at = :finished_at
WHERE CAST(id AS TEXT) = :id`, p.table)
}

func (p *Postgres) Persist(ctx context.Context, res api.Result) error {
	r, err := p.db.NamedExecContext(ctx, p.updateQuery(), res)
	if err != nil {
		return fmt.Errorf("failed to update submission %s: %w", res.ID, err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSubmissionNotFound, res.ID)
	}
	return nil
}
