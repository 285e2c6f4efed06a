package position

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"funding_arb/internal/core"
	"funding_arb/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS positions (
	id         TEXT PRIMARY KEY,
	pair_id    TEXT NOT NULL,
	instrument TEXT NOT NULL,
	status     TEXT NOT NULL,
	opened_at  INTEGER NOT NULL,
	closed_at  INTEGER NOT NULL DEFAULT 0,
	data       TEXT NOT NULL,
	checksum   BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_positions_closed_at ON positions(closed_at);
CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
`

// SQLiteJournal persists positions as checksummed JSON rows
type SQLiteJournal struct {
	db *sql.DB
}

var _ core.IPositionJournal = (*SQLiteJournal)(nil)

func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(journalSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

// Record upserts the position
func (j *SQLiteJournal) Record(ctx context.Context, pos *model.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}

	var closedAt int64
	if !pos.ClosedAt.IsZero() {
		closedAt = pos.ClosedAt.UnixNano()
	}

	checksum := sha256.Sum256(data)
	query := `INSERT OR REPLACE INTO positions
		(id, pair_id, instrument, status, opened_at, closed_at, data, checksum, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = j.db.ExecContext(ctx, query,
		pos.ID, pos.PairID, pos.Instrument, pos.Status.String(),
		pos.OpenedAt.UnixNano(), closedAt, string(data), checksum[:], time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to write position %s: %w", pos.ID, err)
	}
	return nil
}

// ListOpen returns every position that still holds exposure, oldest first.
// A row failing its checksum fails the whole call.
func (j *SQLiteJournal) ListOpen(ctx context.Context) ([]*model.Position, error) {
	return j.query(ctx,
		`SELECT data, checksum FROM positions WHERE status <> ? ORDER BY opened_at, id`,
		model.PositionClosed.String())
}

// ListClosedSince returns closed positions with ClosedAt >= since, oldest first
func (j *SQLiteJournal) ListClosedSince(ctx context.Context, since time.Time) ([]*model.Position, error) {
	return j.query(ctx,
		`SELECT data, checksum FROM positions WHERE closed_at > 0 AND closed_at >= ? ORDER BY closed_at`,
		since.UnixNano())
}

func (j *SQLiteJournal) query(ctx context.Context, query string, args ...interface{}) ([]*model.Position, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var out []*model.Position
	for rows.Next() {
		var data string
		var checksum []byte
		if err := rows.Scan(&data, &checksum); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		pos, err := decodeRow(data, checksum)
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func decodeRow(data string, stored []byte) (*model.Position, error) {
	computed := sha256.Sum256([]byte(data))
	if len(stored) != len(computed) || string(stored) != string(computed[:]) {
		return nil, fmt.Errorf("checksum verification failed: data corruption detected")
	}

	var pos model.Position
	if err := json.Unmarshal([]byte(data), &pos); err != nil {
		return nil, fmt.Errorf("failed to unmarshal position: %w", err)
	}
	return &pos, nil
}
