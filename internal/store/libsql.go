package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/formula/pkg/schema"
)

// LibSQLStore implements Journal on libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db    *sql.DB
	codec *codec
	now   func() time.Time
}

// NewLibSQLStore opens a libSQL database at the given path. The path should be
// a file URI, e.g. "file:/path/to/journal.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so they go through QueryRow.
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	} {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	c, err := newCodec()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &LibSQLStore{db: db, codec: c, now: func() time.Time { return time.Now().UTC() }}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error {
	s.codec.close()
	return s.db.Close()
}

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db, func() int64 { return s.now().UnixNano() })
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Record inserts ev, assigning an ID and timestamp when they are unset.
func (s *LibSQLStore) Record(ctx context.Context, ev *Evaluation) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	blob, err := s.codec.pack(payload{Bindings: ev.Bindings, Result: ev.Result})
	if err != nil {
		return storeError("record", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO evaluations (id, request_id, command, transport, formula, payload, error_code, error_message, duration_us, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RequestID, ev.Command, nullStr(ev.Transport), ev.Formula, nullBlob(blob),
		nullStr(ev.ErrorCode), nullStr(ev.ErrorMessage), ev.Duration.Microseconds(), ev.CreatedAt.UnixNano(),
	)
	if err != nil {
		return storeError("record", err)
	}
	return nil
}

const selectEvaluations = `SELECT id, request_id, command, transport, formula, payload, error_code, error_message, duration_us, created_at FROM evaluations`

// Get returns one journal entry by ID.
func (s *LibSQLStore) Get(ctx context.Context, id string) (*Evaluation, error) {
	rows, err := s.db.QueryContext(ctx, selectEvaluations+` WHERE id = ?`, id)
	if err != nil {
		return nil, storeError("get", err)
	}
	defer rows.Close()

	evs, err := s.scan(rows)
	if err != nil {
		return nil, err
	}
	if len(evs) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "evaluation %q not found", id)
	}
	return evs[0], nil
}

// List returns entries matching filter, newest first.
func (s *LibSQLStore) List(ctx context.Context, filter EvaluationFilter) ([]*Evaluation, error) {
	var where []string
	var args []any

	if filter.Command != "" {
		where = append(where, "command = ?")
		args = append(args, filter.Command)
	}
	if filter.ErrorCode != "" {
		where = append(where, "error_code = ?")
		args = append(args, filter.ErrorCode)
	}
	if filter.Failed != nil {
		if *filter.Failed {
			where = append(where, "error_code IS NOT NULL")
		} else {
			where = append(where, "error_code IS NULL")
		}
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since.UnixNano())
	}

	query := selectEvaluations
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list", err)
	}
	defer rows.Close()
	return s.scan(rows)
}

// Stats summarizes the journal.
func (s *LibSQLStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByCode: make(map[string]int64)}
	var oldest, newest sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(error_code), MIN(created_at), MAX(created_at) FROM evaluations`,
	).Scan(&st.Total, &st.Failed, &oldest, &newest)
	if err != nil {
		return nil, storeError("stats", err)
	}
	if oldest.Valid {
		t := time.Unix(0, oldest.Int64).UTC()
		st.Oldest = &t
	}
	if newest.Valid {
		t := time.Unix(0, newest.Int64).UTC()
		st.Newest = &t
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT error_code, COUNT(*) FROM evaluations WHERE error_code IS NOT NULL GROUP BY error_code`)
	if err != nil {
		return nil, storeError("stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var code string
		var n int64
		if err := rows.Scan(&code, &n); err != nil {
			return nil, storeError("stats", err)
		}
		st.ByCode[code] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("stats", err)
	}
	return st, nil
}

// Prune deletes entries created before the cutoff.
func (s *LibSQLStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM evaluations WHERE created_at < ?`, before.UnixNano())
	if err != nil {
		return 0, storeError("prune", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeError("prune", err)
	}
	return n, nil
}

func (s *LibSQLStore) scan(rows *sql.Rows) ([]*Evaluation, error) {
	var out []*Evaluation
	for rows.Next() {
		ev := &Evaluation{}
		var (
			transport, code, msg sql.NullString
			blob                 []byte
			durationUs, created  int64
		)
		if err := rows.Scan(&ev.ID, &ev.RequestID, &ev.Command, &transport, &ev.Formula, &blob,
			&code, &msg, &durationUs, &created); err != nil {
			return nil, storeError("scan", err)
		}
		p, err := s.codec.unpack(blob)
		if err != nil {
			return nil, storeError("scan", err)
		}
		ev.Transport = transport.String
		ev.ErrorCode = code.String
		ev.ErrorMessage = msg.String
		ev.Bindings = p.Bindings
		ev.Result = p.Result
		ev.Duration = time.Duration(durationUs) * time.Microsecond
		ev.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("scan", err)
	}
	return out, nil
}

// --- Helpers ---

func storeError(op string, err error) *schema.FormulaError {
	return schema.NewErrorf(schema.ErrCodeStore, "journal %s: %v", op, err).WithCause(err)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBlob(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
