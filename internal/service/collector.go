package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/Harshitk-cp/veracity/internal/store"
	"go.uber.org/zap"
)

var ErrContentNotFound = fmt.Errorf("content %w", domain.ErrNotFound)

// SubmitResult reports the stored submission and whether it replaced an
// earlier one for the same (participant, content, epoch).
type SubmitResult struct {
	Submission *domain.Submission
	Replaced   bool
}

type SubmissionCollector struct {
	signals     domain.SignalStore
	submissions domain.SubmissionStore
	gate        *EpochGate
	logger      *zap.Logger

	now func() time.Time
}

func NewSubmissionCollector(ss domain.SignalStore, subs domain.SubmissionStore, gate *EpochGate, logger *zap.Logger) *SubmissionCollector {
	return &SubmissionCollector{
		signals:     ss,
		submissions: subs,
		gate:        gate,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock replaces the wall clock, for tests.
func (c *SubmissionCollector) SetClock(now func() time.Time) {
	c.now = now
}

// Submit buffers sub for its epoch. Only the currently open epoch accepts
// writes: an earlier epoch is ErrEpochClosed, a later one ErrEpochNotOpen.
// Resubmitting the same triple overwrites the earlier beliefs.
func (c *SubmissionCollector) Submit(ctx context.Context, sub *domain.Submission) (*SubmitResult, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	if err := c.checkWindow(sub.EpochNumber); err != nil {
		return nil, err
	}

	collection, err := c.signals.Get(ctx, sub.ContentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrContentNotFound
		}
		return nil, err
	}
	for key := range sub.Beliefs {
		if !collection.Has(key) {
			return nil, fmt.Errorf("%w: content %s has no signal %q", domain.ErrValidation, sub.ContentID, key)
		}
	}

	release, err := c.gate.Enter(sub.EpochNumber)
	if err != nil {
		return nil, err
	}
	defer release()

	// the boundary may have passed while we were loading the content
	now := c.now().UTC()
	if err := c.checkWindow(sub.EpochNumber); err != nil {
		return nil, err
	}

	stored := *sub
	stored.ID = sub.Key().ID()
	stored.SubmittedAt = now
	stored.SettledAt = nil

	replaced, err := c.submissions.Upsert(ctx, &stored)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("submission buffered",
		zap.String("participant_id", stored.ParticipantID),
		zap.String("content_id", stored.ContentID),
		zap.Uint64("epoch", stored.EpochNumber),
		zap.Bool("replaced", replaced))

	return &SubmitResult{Submission: &stored, Replaced: replaced}, nil
}

func (c *SubmissionCollector) checkWindow(epoch uint64) error {
	current := domain.EpochOf(c.now())
	switch {
	case epoch < current:
		return fmt.Errorf("epoch %d ended at %s: %w", epoch, domain.BoundsOf(epoch).End.Format(time.RFC3339), domain.ErrEpochClosed)
	case epoch > current:
		return fmt.Errorf("epoch %d opens at %s: %w", epoch, domain.BoundsOf(epoch).Start.Format(time.RFC3339), domain.ErrEpochNotOpen)
	case c.gate.Closed(epoch):
		return fmt.Errorf("epoch %d is settling: %w", epoch, domain.ErrEpochClosed)
	}
	return nil
}

// Pending lists the submissions buffered for a content item in an epoch.
func (c *SubmissionCollector) Pending(ctx context.Context, contentID string, epoch uint64) ([]domain.Submission, error) {
	return c.submissions.ListByContentEpoch(ctx, contentID, epoch)
}

// CurrentEpoch is the epoch the collector accepts writes for right now.
func (c *SubmissionCollector) CurrentEpoch() domain.EpochBounds {
	return domain.CurrentEpoch(c.now())
}
