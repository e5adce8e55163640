package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/msbkrkyn/defi-yield-tracker/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
    hash         TEXT PRIMARY KEY,
    id           TEXT NOT NULL,
    chain_id     INTEGER NOT NULL,
    kind         TEXT NOT NULL,
    status       TEXT NOT NULL,
    from_addr    TEXT NOT NULL DEFAULT '',
    from_token   TEXT NOT NULL DEFAULT '',
    to_token     TEXT NOT NULL DEFAULT '',
    from_amount  TEXT NOT NULL DEFAULT '',
    block_number INTEGER NOT NULL DEFAULT 0,
    submitted_at TEXT NOT NULL,
    settled_at   TEXT NOT NULL DEFAULT '',
    updated_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tx_status  ON transactions(status);
CREATE INDEX IF NOT EXISTS idx_tx_updated ON transactions(updated_at DESC);
`

const selectColumns = `id, hash, chain_id, kind, status, from_addr, from_token, to_token,
	from_amount, block_number, submitted_at, settled_at, updated_at`

// SQLiteJournal stores the journal in SQLite (pure Go, no cgo).
type SQLiteJournal struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteJournal{db: db, now: time.Now}, nil
}

func (s *SQLiteJournal) Record(ctx context.Context, tx model.SwapTransaction) (Entry, error) {
	if tx.Hash == "" {
		return Entry{}, fmt.Errorf("record transaction: empty hash")
	}
	updated := s.now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (hash, id, chain_id, kind, status, from_addr, from_token, to_token,
			from_amount, block_number, submitted_at, settled_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			status       = excluded.status,
			block_number = excluded.block_number,
			settled_at   = excluded.settled_at,
			updated_at   = excluded.updated_at`,
		tx.Hash, uuid.New().String(), tx.ChainID, string(tx.Kind), string(tx.Status),
		tx.From, tx.FromToken, tx.ToToken, tx.FromAmount, tx.BlockNumber,
		formatTime(tx.SubmittedAt), formatTime(tx.SettledAt), formatTime(updated),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("upsert transaction: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM transactions WHERE hash = ?`, tx.Hash)
	e, err := scanEntry(row)
	if err != nil {
		return Entry{}, fmt.Errorf("read transaction: %w", err)
	}
	return e, nil
}

func (s *SQLiteJournal) Pending(ctx context.Context) ([]Entry, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM transactions WHERE status = ? ORDER BY submitted_at ASC`, string(model.TxPending))
}

func (s *SQLiteJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx, `SELECT `+selectColumns+` FROM transactions ORDER BY updated_at DESC LIMIT ?`, limit)
}

func (s *SQLiteJournal) Close() error {
	return s.db.Close()
}

func (s *SQLiteJournal) query(ctx context.Context, query string, args ...interface{}) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e                             Entry
		kind, status                  string
		submitted, settled, updatedAt string
	)
	err := row.Scan(&e.ID, &e.Tx.Hash, &e.Tx.ChainID, &kind, &status, &e.Tx.From, &e.Tx.FromToken,
		&e.Tx.ToToken, &e.Tx.FromAmount, &e.Tx.BlockNumber, &submitted, &settled, &updatedAt)
	if err != nil {
		return Entry{}, err
	}
	e.Tx.Kind = model.TxKind(kind)
	e.Tx.Status = model.TxStatus(status)
	e.Tx.SubmittedAt = parseTime(submitted)
	e.Tx.SettledAt = parseTime(settled)
	e.UpdatedAt = parseTime(updatedAt)
	return e, nil
}

// timeLayout has a fixed width so stored values sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
