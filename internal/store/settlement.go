package store

import (
	"context"
	"errors"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SettlementStore struct {
	db *pgxpool.Pool
}

func NewSettlementStore(db *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{db: db}
}

const settlementColumns = `content_id, epoch_number, status, attempts, last_error, contributors,
	settled_values, weights, settled_at, updated_at`

func (s *SettlementStore) Get(ctx context.Context, contentID string, epochNumber uint64) (*domain.SettlementRecord, error) {
	r := &domain.SettlementRecord{}
	err := s.db.QueryRow(ctx,
		`SELECT `+settlementColumns+`
		 FROM settlements WHERE content_id = $1 AND epoch_number = $2`,
		contentID, epochNumber,
	).Scan(&r.ContentID, &r.EpochNumber, &r.Status, &r.Attempts, &r.LastError, &r.Contributors,
		&r.Values, &r.Weights, &r.SettledAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

func (s *SettlementStore) Upsert(ctx context.Context, r *domain.SettlementRecord) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO settlements (content_id, epoch_number, status, attempts, last_error, contributors,
		                          settled_values, weights, settled_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		 ON CONFLICT (content_id, epoch_number) DO UPDATE
		 SET status = EXCLUDED.status, attempts = EXCLUDED.attempts, last_error = EXCLUDED.last_error,
		     contributors = EXCLUDED.contributors, settled_values = EXCLUDED.settled_values,
		     weights = EXCLUDED.weights, settled_at = EXCLUDED.settled_at, updated_at = now()
		 RETURNING updated_at`,
		r.ContentID, r.EpochNumber, r.Status, r.Attempts, r.LastError, r.Contributors,
		r.Values, r.Weights, r.SettledAt,
	).Scan(&r.UpdatedAt)
}

func (s *SettlementStore) ListByStatus(ctx context.Context, status domain.SettlementStatus) ([]domain.SettlementRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+settlementColumns+`
		 FROM settlements WHERE status = $1
		 ORDER BY epoch_number, content_id`,
		status,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.SettlementRecord
	for rows.Next() {
		var r domain.SettlementRecord
		if err := rows.Scan(&r.ContentID, &r.EpochNumber, &r.Status, &r.Attempts, &r.LastError, &r.Contributors,
			&r.Values, &r.Weights, &r.SettledAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
