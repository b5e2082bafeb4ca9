package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/Harshitk-cp/veracity/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Aggregator folds one epoch's submissions for a content item into new
// signal values. Settle is serialized per content item and is a no-op for a
// (content, epoch) pair that already settled.
type Aggregator struct {
	signals     domain.SignalStore
	submissions domain.SubmissionStore
	settlements domain.SettlementStore
	logger      *zap.Logger

	temperature float64
	locks       *keyedMutex
	now         func() time.Time
}

func NewAggregator(ss domain.SignalStore, subs domain.SubmissionStore, sets domain.SettlementStore, temperature float64, logger *zap.Logger) *Aggregator {
	if temperature <= 0 {
		temperature = DefaultBTSTemperature
	}
	return &Aggregator{
		signals:     ss,
		submissions: subs,
		settlements: sets,
		logger:      logger,
		temperature: temperature,
		locks:       newKeyedMutex(),
		now:         time.Now,
	}
}

func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

func settlementFailure(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConcurrentModification) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrSettlementFailure, op, err)
}

// Settle runs BTS aggregation for contentID at epoch and writes the result
// back. A retry after a partial failure skips signals whose history already
// holds this epoch, so nothing is counted twice. fresh is false when the pair
// had already settled and the stored record is returned as is.
func (a *Aggregator) Settle(ctx context.Context, contentID string, epoch uint64) (rec *domain.SettlementRecord, fresh bool, err error) {
	unlock := a.locks.Lock(contentID)
	defer unlock()

	attempts := 1
	prev, err := a.settlements.Get(ctx, contentID, epoch)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, false, settlementFailure("load settlement record", err)
	case prev.Status.Done():
		// a crash may have landed between the record and the archive step
		if err := a.submissions.MarkSettled(ctx, contentID, epoch, a.now().UTC()); err != nil {
			return nil, false, settlementFailure("archive submissions", err)
		}
		return prev, false, nil
	default:
		attempts = prev.Attempts + 1
	}

	collection, err := a.signals.Get(ctx, contentID)
	if err != nil {
		return nil, false, settlementFailure("load signals", err)
	}
	subs, err := a.submissions.ListByContentEpoch(ctx, contentID, epoch)
	if err != nil {
		return nil, false, settlementFailure("load submissions", err)
	}

	now := a.now().UTC()
	record := &domain.SettlementRecord{
		ContentID:   contentID,
		EpochNumber: epoch,
		Attempts:    attempts,
		SettledAt:   &now,
	}

	if len(subs) == 0 {
		record.Status = domain.SettlementEmpty
		if err := a.settlements.Upsert(ctx, record); err != nil {
			return nil, false, settlementFailure("save settlement record", err)
		}
		return record, true, nil
	}

	values, weights, updates, err := a.score(collection, subs, epoch, now)
	if err != nil {
		return nil, false, settlementFailure("score submissions", err)
	}

	if err := a.signals.ApplySettlement(ctx, contentID, epoch, updates); err != nil {
		return nil, false, settlementFailure("apply settlement", err)
	}

	record.Status = domain.SettlementSettled
	record.Contributors = len(subs)
	record.Values = values
	record.Weights = weights
	if err := a.settlements.Upsert(ctx, record); err != nil {
		return nil, false, settlementFailure("save settlement record", err)
	}
	if err := a.submissions.MarkSettled(ctx, contentID, epoch, now); err != nil {
		return nil, false, settlementFailure("archive submissions", err)
	}

	a.logger.Info("content settled",
		zap.String("content_id", contentID),
		zap.Uint64("epoch", epoch),
		zap.Int("contributors", record.Contributors),
		zap.Int("signals_updated", len(updates)),
		zap.Int("attempt", attempts))

	return record, true, nil
}

// score computes per-signal BTS outcomes. Keys nobody submitted a belief for
// are left out; keys already settled at this epoch are scored for the record
// but not re-applied. A key whose history is already past epoch cannot take
// these submissions any more and fails the whole settlement.
func (a *Aggregator) score(collection *domain.SignalCollection, subs []domain.Submission, epoch uint64, now time.Time) (map[string]int, []domain.ParticipantWeight, map[string]domain.SignalUpdate, error) {
	keys := make([]string, 0, len(collection.Signals))
	for key := range collection.Signals {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	values := make(map[string]int)
	updates := make(map[string]domain.SignalUpdate)
	var weights []domain.ParticipantWeight

	for _, key := range keys {
		var beliefs []domain.Belief
		var contributors []*domain.Submission
		for i := range subs {
			if b, ok := subs[i].Beliefs[key]; ok {
				beliefs = append(beliefs, b)
				contributors = append(contributors, &subs[i])
			}
		}
		if len(beliefs) == 0 {
			continue
		}

		result := ScoreBeliefs(beliefs, a.temperature)
		values[key] = result.Value

		stake := decimal.Zero
		for _, sub := range contributors {
			stake = stake.Add(sub.Stake)
		}
		for i, sub := range contributors {
			weights = append(weights, domain.ParticipantWeight{
				ParticipantID: sub.ParticipantID,
				Key:           key,
				Surprise:      result.Surprises[i],
				Weight:        result.Weights[i],
				StakeShare:    decimal.NewFromFloat(result.Weights[i]).Mul(stake).Round(12),
			})
		}

		if last, ok := collection.Signals[key].LastEpoch(); ok {
			if last > epoch {
				return nil, nil, nil, fmt.Errorf("%w: %s history is at epoch %d, past %d",
					domain.ErrConcurrentModification, key, last, epoch)
			}
			if last == epoch {
				continue
			}
		}
		updates[key] = domain.SignalUpdate{
			Value:        result.Value,
			Contributors: len(contributors),
			Stake:        stake,
			At:           now,
		}
	}
	return values, weights, updates, nil
}
