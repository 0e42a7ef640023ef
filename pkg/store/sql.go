package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/Mindburn-Labs/transmuter/pkg/contracts"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLBackend implements Backend using database/sql.
// It supports both Postgres and SQLite via standard drivers.
type SQLBackend struct {
	db *sql.DB
}

func NewSQLBackend(db *sql.DB) *SQLBackend {
	return &SQLBackend{db: db}
}

// OpenSQL opens driver ("postgres" or "sqlite") at dsn, initializes the
// schema and returns Records over it.
func OpenSQL(ctx context.Context, driver, dsn string) (*Records, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// in-memory databases are per connection
		db.SetMaxOpenConns(1)
	}
	b := NewSQLBackend(db)
	if err := b.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(b), nil
}

const schema = `
CREATE TABLE IF NOT EXISTS transmuter_meta (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS transmuter_records (
	kind TEXT NOT NULL,
	record_key TEXT NOT NULL,
	transmuter TEXT NOT NULL DEFAULT '',
	mutation TEXT NOT NULL DEFAULT '',
	taker TEXT NOT NULL DEFAULT '',
	revision BIGINT NOT NULL,
	body TEXT NOT NULL,
	PRIMARY KEY (kind, record_key)
);
CREATE INDEX IF NOT EXISTS transmuter_records_parent ON transmuter_records (kind, transmuter, mutation);
`

// Init creates the schema and verifies the stored schema version.
func (s *SQLBackend) Init(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transmuter_meta (name, value) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		"schema_version", SchemaVersion)
	if err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	var stored string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM transmuter_meta WHERE name = $1`, "schema_version").Scan(&stored)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	return checkSchema(stored)
}

func checkSchema(stored string) error {
	v, err := semver.NewVersion(stored)
	if err != nil {
		return fmt.Errorf("schema version %q: %w", stored, err)
	}
	c, err := semver.NewConstraint(SchemaConstraint)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("schema version %s does not satisfy %s", v, SchemaConstraint)
	}
	return nil
}

func (s *SQLBackend) Load(ctx context.Context, kind Kind, key contracts.Address) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT kind, record_key, transmuter, mutation, taker, revision, body FROM transmuter_records WHERE kind = $1 AND record_key = $2`,
		string(kind), string(key))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load %s: %w", kind, err)
	}
	return rec, nil
}

func (s *SQLBackend) Scan(ctx context.Context, kind Kind, f Filter) ([]Record, error) {
	query := `SELECT kind, record_key, transmuter, mutation, taker, revision, body FROM transmuter_records WHERE kind = $1`
	args := []any{string(kind)}
	for _, c := range []struct {
		col string
		val contracts.Address
	}{{"transmuter", f.Transmuter}, {"mutation", f.Mutation}, {"taker", f.Taker}} {
		if c.val == "" {
			continue
		}
		args = append(args, string(c.val))
		query += fmt.Sprintf(" AND %s = $%d", c.col, len(args))
	}
	query += " ORDER BY record_key"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLBackend) Apply(ctx context.Context, ops []Op) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, op := range ops {
		if err := applyOp(ctx, tx, op); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func applyOp(ctx context.Context, tx *sql.Tx, op Op) error {
	r := op.Record
	var (
		res sql.Result
		err error
	)
	switch {
	case op.Delete:
		res, err = tx.ExecContext(ctx,
			`DELETE FROM transmuter_records WHERE kind = $1 AND record_key = $2 AND revision = $3`,
			string(r.Kind), string(r.Key), int64(r.Revision))
	case r.Revision == 0:
		res, err = tx.ExecContext(ctx, `
			INSERT INTO transmuter_records (kind, record_key, transmuter, mutation, taker, revision, body)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (kind, record_key) DO NOTHING`,
			string(r.Kind), string(r.Key), string(r.Transmuter), string(r.Mutation), string(r.Taker), int64(1), string(r.Body))
	default:
		res, err = tx.ExecContext(ctx, `
			UPDATE transmuter_records
			SET transmuter = $1, mutation = $2, taker = $3, revision = $4, body = $5
			WHERE kind = $6 AND record_key = $7 AND revision = $8`,
			string(r.Transmuter), string(r.Mutation), string(r.Taker), int64(r.Revision+1), string(r.Body), string(r.Kind), string(r.Key), int64(r.Revision))
	}
	if err != nil {
		return fmt.Errorf("write %s %s: %w", r.Kind, r.Key.Short(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n != 1 {
		return ErrConflict
	}
	return nil
}

func (s *SQLBackend) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec      Record
		kind     string
		key      string
		tr, m, t string
		revision int64
		body     string
	)
	if err := row.Scan(&kind, &key, &tr, &m, &t, &revision, &body); err != nil {
		return Record{}, err
	}
	rec.Kind = Kind(kind)
	rec.Key = contracts.Address(key)
	rec.Transmuter = contracts.Address(tr)
	rec.Mutation = contracts.Address(m)
	rec.Taker = contracts.Address(t)
	rec.Revision = uint64(revision)
	rec.Body = []byte(body)
	return rec, nil
}
