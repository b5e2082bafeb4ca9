package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SignalStore struct {
	db *pgxpool.Pool
}

func NewSignalStore(db *pgxpool.Pool) *SignalStore {
	return &SignalStore{db: db}
}

func (s *SignalStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *SignalStore) Register(ctx context.Context, contentID string, specs []domain.SignalSpec) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `INSERT INTO content (id) VALUES ($1)`, contentID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return err
	}

	for _, spec := range specs {
		_, err := tx.Exec(ctx,
			`INSERT INTO signals (content_id, key, name, current_value)
			 VALUES ($1, $2, $3, $4)`,
			contentID, spec.Key, spec.DisplayName(), spec.InitialValue,
		)
		if err != nil {
			return fmt.Errorf("insert signal %s: %w", spec.Key, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *SignalStore) Get(ctx context.Context, contentID string) (*domain.SignalCollection, error) {
	rows, err := s.db.Query(ctx,
		`SELECT key, name, current_value, contributors, last_updated, stake, volatility
		 FROM signals WHERE content_id = $1`,
		contentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	c := domain.NewSignalCollection(contentID)
	for rows.Next() {
		sig := &domain.Signal{}
		if err := rows.Scan(&sig.Key, &sig.Name, &sig.CurrentValue, &sig.Metadata.Contributors,
			&sig.Metadata.LastUpdated, &sig.Metadata.Stake, &sig.Metadata.Volatility); err != nil {
			return nil, err
		}
		c.Signals[sig.Key] = sig
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(c.Signals) == 0 {
		return nil, ErrNotFound
	}

	hrows, err := s.db.Query(ctx,
		`SELECT key, epoch_number, value, recorded_at
		 FROM signal_history WHERE content_id = $1
		 ORDER BY key, epoch_number`,
		contentID,
	)
	if err != nil {
		return nil, err
	}
	defer hrows.Close()

	for hrows.Next() {
		var key string
		var p domain.HistoryPoint
		if err := hrows.Scan(&key, &p.EpochNumber, &p.Value, &p.Timestamp); err != nil {
			return nil, err
		}
		if sig, ok := c.Signals[key]; ok {
			sig.History = append(sig.History, p)
		}
	}
	return c, hrows.Err()
}

func (s *SignalStore) ListContent(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM content ORDER BY id`)
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

// ApplySettlement locks the content's signal rows for the duration of the
// transaction so concurrent settlements of one item cannot interleave.
func (s *SignalStore) ApplySettlement(ctx context.Context, contentID string, epochNumber uint64, updates map[string]domain.SignalUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT key, current_value FROM signals WHERE content_id = $1 FOR UPDATE`,
		contentID,
	)
	if err != nil {
		return err
	}
	prior := make(map[string]int)
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
	if err := rows.Err(); err != nil {
		return err
	}
	if len(prior) == 0 {
		return ErrNotFound
	}

	lastEpochs, err := s.lastEpochs(ctx, tx, contentID)
	if err != nil {
		return err
	}

	for key, u := range updates {
		prev, ok := prior[key]
		if !ok {
			return fmt.Errorf("signal %s on %s: %w", key, contentID, ErrNotFound)
		}
		if last, ok := lastEpochs[key]; ok && epochNumber <= last {
			return fmt.Errorf("signal %s already settled at epoch %d: %w", key, last, domain.ErrConcurrentModification)
		}

		value := domain.ClampSignalValue(u.Value)
		if _, err := tx.Exec(ctx,
			`INSERT INTO signal_history (content_id, key, epoch_number, value, recorded_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			contentID, key, epochNumber, value, u.At,
		); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return domain.ErrConcurrentModification
			}
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE signals
			 SET current_value = $3, contributors = $4, last_updated = $5, stake = $6, volatility = $7
			 WHERE content_id = $1 AND key = $2`,
			contentID, key, value, u.Contributors, u.At, u.Stake, domain.Volatility(prev, value),
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *SignalStore) lastEpochs(ctx context.Context, tx pgx.Tx, contentID string) (map[string]uint64, error) {
	rows, err := tx.Query(ctx,
		`SELECT key, MAX(epoch_number) FROM signal_history
		 WHERE content_id = $1 GROUP BY key`,
		contentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]uint64)
	for rows.Next() {
		var key string
		var n uint64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}
