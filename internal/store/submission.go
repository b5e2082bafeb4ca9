package store

import (
	"context"
	"errors"
	"time"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SubmissionStore struct {
	db *pgxpool.Pool
}

func NewSubmissionStore(db *pgxpool.Pool) *SubmissionStore {
	return &SubmissionStore{db: db}
}

// Upsert relies on the (participant_id, content_id, epoch_number) unique
// constraint; only the row for that triple is locked. The xmax trick tells an
// inserted row (xmax = 0) apart from an updated one.
func (s *SubmissionStore) Upsert(ctx context.Context, sub *domain.Submission) (bool, error) {
	var replaced bool
	err := s.db.QueryRow(ctx,
		`INSERT INTO submissions (id, participant_id, content_id, epoch_number, beliefs, stake, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (participant_id, content_id, epoch_number) DO UPDATE
		 SET beliefs = EXCLUDED.beliefs, stake = EXCLUDED.stake, submitted_at = EXCLUDED.submitted_at
		 WHERE submissions.settled_at IS NULL
		 RETURNING (xmax <> 0)`,
		sub.ID, sub.ParticipantID, sub.ContentID, sub.EpochNumber, sub.Beliefs, sub.Stake, sub.SubmittedAt,
	).Scan(&replaced)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// the row exists but was already settled
			return false, domain.ErrEpochClosed
		}
		return false, err
	}
	return replaced, nil
}

func (s *SubmissionStore) ListByContentEpoch(ctx context.Context, contentID string, epochNumber uint64) ([]domain.Submission, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, participant_id, content_id, epoch_number, beliefs, stake, submitted_at, settled_at
		 FROM submissions WHERE content_id = $1 AND epoch_number = $2
		 ORDER BY participant_id`,
		contentID, epochNumber,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Submission
	for rows.Next() {
		var sub domain.Submission
		if err := rows.Scan(&sub.ID, &sub.ParticipantID, &sub.ContentID, &sub.EpochNumber,
			&sub.Beliefs, &sub.Stake, &sub.SubmittedAt, &sub.SettledAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *SubmissionStore) ListPending(ctx context.Context, upToEpoch uint64) ([]domain.PendingSettlement, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT content_id, epoch_number FROM submissions
		 WHERE settled_at IS NULL AND epoch_number <= $1
		 ORDER BY epoch_number, content_id`,
		upToEpoch,
	)
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

func (s *SubmissionStore) MarkSettled(ctx context.Context, contentID string, epochNumber uint64, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE submissions SET settled_at = $3
		 WHERE content_id = $1 AND epoch_number = $2 AND settled_at IS NULL`,
		contentID, epochNumber, at,
	)
	return err
}
