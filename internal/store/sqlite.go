package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS content (
    id          TEXT PRIMARY KEY,
    created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS signals (
    content_id     TEXT NOT NULL REFERENCES content(id) ON DELETE CASCADE,
    key            TEXT NOT NULL,
    name           TEXT NOT NULL,
    current_value  INTEGER NOT NULL,
    contributors   INTEGER NOT NULL DEFAULT 0,
    last_updated   INTEGER,
    stake          TEXT NOT NULL DEFAULT '0',
    volatility     REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (content_id, key)
);

CREATE TABLE IF NOT EXISTS signal_history (
    content_id    TEXT NOT NULL,
    key           TEXT NOT NULL,
    epoch_number  INTEGER NOT NULL,
    value         INTEGER NOT NULL,
    recorded_at   INTEGER NOT NULL,
    PRIMARY KEY (content_id, key, epoch_number)
);

CREATE TABLE IF NOT EXISTS submissions (
    id              TEXT PRIMARY KEY,
    participant_id  TEXT NOT NULL,
    content_id      TEXT NOT NULL,
    epoch_number    INTEGER NOT NULL,
    beliefs         TEXT NOT NULL,
    stake           TEXT NOT NULL DEFAULT '0',
    submitted_at    INTEGER NOT NULL,
    settled_at      INTEGER,
    UNIQUE (participant_id, content_id, epoch_number)
);

CREATE INDEX IF NOT EXISTS idx_submissions_pending ON submissions (epoch_number, content_id, settled_at);

CREATE TABLE IF NOT EXISTS settlements (
    content_id      TEXT NOT NULL,
    epoch_number    INTEGER NOT NULL,
    status          TEXT NOT NULL,
    attempts        INTEGER NOT NULL DEFAULT 0,
    last_error      TEXT NOT NULL DEFAULT '',
    contributors    INTEGER NOT NULL DEFAULT 0,
    settled_values  TEXT,
    weights         TEXT,
    settled_at      INTEGER,
    updated_at      INTEGER NOT NULL,
    PRIMARY KEY (content_id, epoch_number)
);
`

// SQLite is an embedded single-file backend. It hands out the three store
// views over one connection; SQLite serializes writers, so settlements of a
// content item can never interleave.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLite{db: db, path: path}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Signals() *SQLiteSignalStore         { return &SQLiteSignalStore{db: s.db} }
func (s *SQLite) Submissions() *SQLiteSubmissionStore { return &SQLiteSubmissionStore{db: s.db} }
func (s *SQLite) Settlements() *SQLiteSettlementStore { return &SQLiteSettlementStore{db: s.db} }

func toUnixNano(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullableTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnixNano(n.Int64)
	return &t
}

func nullableNano(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toUnixNano(*t)
}

// --- signals ---

type SQLiteSignalStore struct {
	db *sql.DB
}

func (s *SQLiteSignalStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteSignalStore) Register(ctx context.Context, contentID string, specs []domain.SignalSpec) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO content (id, created_at) VALUES (?, ?)`,
		contentID, toUnixNano(time.Now())); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrConflict
		}
		return err
	}
	for _, spec := range specs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO signals (content_id, key, name, current_value) VALUES (?, ?, ?, ?)`,
			contentID, spec.Key, spec.DisplayName(), spec.InitialValue,
		); err != nil {
			return fmt.Errorf("insert signal %s: %w", spec.Key, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteSignalStore) Get(ctx context.Context, contentID string) (*domain.SignalCollection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, name, current_value, contributors, last_updated, stake, volatility
		 FROM signals WHERE content_id = ?`, contentID)
	if err != nil {
		return nil, err
	}

	c := domain.NewSignalCollection(contentID)
	for rows.Next() {
		sig := &domain.Signal{}
		var lastUpdated sql.NullInt64
		var stake string
		if err := rows.Scan(&sig.Key, &sig.Name, &sig.CurrentValue, &sig.Metadata.Contributors,
			&lastUpdated, &stake, &sig.Metadata.Volatility); err != nil {
			rows.Close()
			return nil, err
		}
		sig.Metadata.LastUpdated = nullableTime(lastUpdated)
		if sig.Metadata.Stake, err = decimal.NewFromString(stake); err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse stake for %s: %w", sig.Key, err)
		}
		c.Signals[sig.Key] = sig
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(c.Signals) == 0 {
		return nil, ErrNotFound
	}

	hrows, err := s.db.QueryContext(ctx,
		`SELECT key, epoch_number, value, recorded_at FROM signal_history
		 WHERE content_id = ? ORDER BY key, epoch_number`, contentID)
	if err != nil {
		return nil, err
	}
	defer hrows.Close()
	for hrows.Next() {
		var key string
		var recorded int64
		var p domain.HistoryPoint
		if err := hrows.Scan(&key, &p.EpochNumber, &p.Value, &recorded); err != nil {
			return nil, err
		}
		p.Timestamp = fromUnixNano(recorded)
		if sig, ok := c.Signals[key]; ok {
			sig.History = append(sig.History, p)
		}
	}
	return c, hrows.Err()
}

func (s *SQLiteSignalStore) ListContent(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM content ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteSignalStore) ApplySettlement(ctx context.Context, contentID string, epochNumber uint64, updates map[string]domain.SignalUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	prior := make(map[string]int)
	rows, err := tx.QueryContext(ctx, `SELECT key, current_value FROM signals WHERE content_id = ?`, contentID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var key string
		var v int
		if err := rows.Scan(&key, &v); err != nil {
			rows.Close()
			return err
		}
		prior[key] = v
	}
	rows.Close()
	if len(prior) == 0 {
		return ErrNotFound
	}

	for key, u := range updates {
		prev, ok := prior[key]
		if !ok {
			return fmt.Errorf("signal %s on %s: %w", key, contentID, ErrNotFound)
		}

		var last sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(epoch_number) FROM signal_history WHERE content_id = ? AND key = ?`,
			contentID, key).Scan(&last); err != nil {
			return err
		}
		if last.Valid && epochNumber <= uint64(last.Int64) {
			return fmt.Errorf("signal %s already settled at epoch %d: %w", key, last.Int64, domain.ErrConcurrentModification)
		}

		value := domain.ClampSignalValue(u.Value)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO signal_history (content_id, key, epoch_number, value, recorded_at) VALUES (?, ?, ?, ?, ?)`,
			contentID, key, epochNumber, value, toUnixNano(u.At)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE signals SET current_value = ?, contributors = ?, last_updated = ?, stake = ?, volatility = ?
			 WHERE content_id = ? AND key = ?`,
			value, u.Contributors, toUnixNano(u.At), u.Stake.String(), domain.Volatility(prev, value),
			contentID, key); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// --- submissions ---

type SQLiteSubmissionStore struct {
	db *sql.DB
}

func (s *SQLiteSubmissionStore) Upsert(ctx context.Context, sub *domain.Submission) (bool, error) {
	beliefs, err := json.Marshal(sub.Beliefs)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var settled sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT settled_at FROM submissions WHERE participant_id = ? AND content_id = ? AND epoch_number = ?`,
		sub.ParticipantID, sub.ContentID, sub.EpochNumber).Scan(&settled)

	replaced := false
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO submissions (id, participant_id, content_id, epoch_number, beliefs, stake, submitted_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sub.ID.String(), sub.ParticipantID, sub.ContentID, sub.EpochNumber, string(beliefs),
			sub.Stake.String(), toUnixNano(sub.SubmittedAt))
	case err != nil:
		return false, err
	case settled.Valid:
		return false, domain.ErrEpochClosed
	default:
		replaced = true
		_, err = tx.ExecContext(ctx,
			`UPDATE submissions SET beliefs = ?, stake = ?, submitted_at = ?
			 WHERE participant_id = ? AND content_id = ? AND epoch_number = ?`,
			string(beliefs), sub.Stake.String(), toUnixNano(sub.SubmittedAt),
			sub.ParticipantID, sub.ContentID, sub.EpochNumber)
	}
	if err != nil {
		return false, err
	}
	return replaced, tx.Commit()
}

func (s *SQLiteSubmissionStore) ListByContentEpoch(ctx context.Context, contentID string, epochNumber uint64) ([]domain.Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, participant_id, content_id, epoch_number, beliefs, stake, submitted_at, settled_at
		 FROM submissions WHERE content_id = ? AND epoch_number = ?
		 ORDER BY participant_id`, contentID, epochNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Submission
	for rows.Next() {
		var sub domain.Submission
		var id, beliefs, stake string
		var submitted int64
		var settled sql.NullInt64
		if err := rows.Scan(&id, &sub.ParticipantID, &sub.ContentID, &sub.EpochNumber,
			&beliefs, &stake, &submitted, &settled); err != nil {
			return nil, err
		}
		if err := sub.ID.UnmarshalText([]byte(id)); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(beliefs), &sub.Beliefs); err != nil {
			return nil, fmt.Errorf("decode beliefs for %s: %w", id, err)
		}
		if sub.Stake, err = decimal.NewFromString(stake); err != nil {
			return nil, err
		}
		sub.SubmittedAt = fromUnixNano(submitted)
		sub.SettledAt = nullableTime(settled)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *SQLiteSubmissionStore) ListPending(ctx context.Context, upToEpoch uint64) ([]domain.PendingSettlement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT content_id, epoch_number FROM submissions
		 WHERE settled_at IS NULL AND epoch_number <= ?
		 ORDER BY epoch_number, content_id`, upToEpoch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []domain.PendingSettlement
	for rows.Next() {
		var p domain.PendingSettlement
		if err := rows.Scan(&p.ContentID, &p.EpochNumber); err != nil {
			return nil, err
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

func (s *SQLiteSubmissionStore) MarkSettled(ctx context.Context, contentID string, epochNumber uint64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET settled_at = ?
		 WHERE content_id = ? AND epoch_number = ? AND settled_at IS NULL`,
		toUnixNano(at), contentID, epochNumber)
	return err
}

// --- settlements ---

type SQLiteSettlementStore struct {
	db *sql.DB
}

func (s *SQLiteSettlementStore) Get(ctx context.Context, contentID string, epochNumber uint64) (*domain.SettlementRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT content_id, epoch_number, status, attempts, last_error, contributors,
		        settled_values, weights, settled_at, updated_at
		 FROM settlements WHERE content_id = ? AND epoch_number = ?`, contentID, epochNumber)
	r, err := scanSQLiteSettlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *SQLiteSettlementStore) Upsert(ctx context.Context, r *domain.SettlementRecord) error {
	values, err := json.Marshal(r.Values)
	if err != nil {
		return err
	}
	weights, err := json.Marshal(r.Weights)
	if err != nil {
		return err
	}
	r.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settlements (content_id, epoch_number, status, attempts, last_error, contributors,
		                          settled_values, weights, settled_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (content_id, epoch_number) DO UPDATE SET
		     status = excluded.status, attempts = excluded.attempts, last_error = excluded.last_error,
		     contributors = excluded.contributors, settled_values = excluded.settled_values,
		     weights = excluded.weights, settled_at = excluded.settled_at, updated_at = excluded.updated_at`,
		r.ContentID, r.EpochNumber, string(r.Status), r.Attempts, r.LastError, r.Contributors,
		string(values), string(weights), nullableNano(r.SettledAt), toUnixNano(r.UpdatedAt))
	return err
}

func (s *SQLiteSettlementStore) ListByStatus(ctx context.Context, status domain.SettlementStatus) ([]domain.SettlementRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content_id, epoch_number, status, attempts, last_error, contributors,
		        settled_values, weights, settled_at, updated_at
		 FROM settlements WHERE status = ? ORDER BY epoch_number, content_id`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.SettlementRecord
	for rows.Next() {
		r, err := scanSQLiteSettlement(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSettlement(row rowScanner) (*domain.SettlementRecord, error) {
	r := &domain.SettlementRecord{}
	var status string
	var values, weights sql.NullString
	var settled sql.NullInt64
	var updated int64
	if err := row.Scan(&r.ContentID, &r.EpochNumber, &status, &r.Attempts, &r.LastError, &r.Contributors,
		&values, &weights, &settled, &updated); err != nil {
		return nil, err
	}
	r.Status = domain.SettlementStatus(status)
	if values.Valid && values.String != "null" {
		if err := json.Unmarshal([]byte(values.String), &r.Values); err != nil {
			return nil, err
		}
	}
	if weights.Valid && weights.String != "null" {
		if err := json.Unmarshal([]byte(weights.String), &r.Weights); err != nil {
			return nil, err
		}
	}
	r.SettledAt = nullableTime(settled)
	r.UpdatedAt = fromUnixNano(updated)
	return r, nil
}
