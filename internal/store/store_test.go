package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	signals     domain.SignalStore
	submissions domain.SubmissionStore
	settlements domain.SettlementStore
}

func backends(t *testing.T) map[string]backend {
	t.Helper()

	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "veracity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return map[string]backend{
		"sqlite": {db.Signals(), db.Submissions(), db.Settlements()},
		"memory": {NewInMemorySignalStore(), NewInMemorySubmissionStore(), NewInMemorySettlementStore()},
	}
}

// submissionBackends adds the Redis buffer, which only implements
// SubmissionStore, to the full backends.
func submissionBackends(t *testing.T) map[string]domain.SubmissionStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	out := map[string]domain.SubmissionStore{"redis": NewRedisSubmissionStore(client)}
	for name, b := range backends(t) {
		out[name] = b.submissions
	}
	return out
}

var t0 = time.Date(2025, 3, 1, 1, 0, 0, 0, time.UTC)

func TestSignalStore_RegisterAndGet(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.signals.Register(ctx, "post-1", domain.DefaultSignalSpecs()))

			c, err := b.signals.Get(ctx, "post-1")
			require.NoError(t, err)
			assert.Len(t, c.Signals, 3)
			assert.Equal(t, 50, c.Signals[domain.SignalTruth].CurrentValue)
			assert.Equal(t, "Truth", c.Signals[domain.SignalTruth].Name)
			assert.Empty(t, c.Signals[domain.SignalTruth].History)
			assert.Nil(t, c.Signals[domain.SignalTruth].Metadata.LastUpdated)

			err = b.signals.Register(ctx, "post-1", domain.DefaultSignalSpecs())
			assert.ErrorIs(t, err, ErrConflict)

			_, err = b.signals.Get(ctx, "missing")
			assert.ErrorIs(t, err, domain.ErrNotFound)

			ids, err := b.signals.ListContent(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"post-1"}, ids)
		})
	}
}

func TestSignalStore_ApplySettlement(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.signals.Register(ctx, "post-1", domain.DefaultSignalSpecs()))

			err := b.signals.ApplySettlement(ctx, "post-1", 10, map[string]domain.SignalUpdate{
				domain.SignalTruth: {Value: 70, Contributors: 2, Stake: decimal.NewFromInt(5), At: t0},
			})
			require.NoError(t, err)

			c, err := b.signals.Get(ctx, "post-1")
			require.NoError(t, err)
			truth := c.Signals[domain.SignalTruth]
			assert.Equal(t, 70, truth.CurrentValue)
			require.Len(t, truth.History, 1)
			assert.Equal(t, truth.CurrentValue, truth.History[0].Value)
			assert.Equal(t, uint64(10), truth.History[0].EpochNumber)
			assert.Equal(t, 2, truth.Metadata.Contributors)
			assert.InDelta(t, 0.4, truth.Metadata.Volatility, 1e-9)
			assert.True(t, truth.Metadata.Stake.Equal(decimal.NewFromInt(5)))
			require.NotNil(t, truth.Metadata.LastUpdated)
			assert.True(t, truth.Metadata.LastUpdated.Equal(t0))

			// untouched signal keeps its state
			rel := c.Signals[domain.SignalRelevance]
			assert.Equal(t, 50, rel.CurrentValue)
			assert.Empty(t, rel.History)

			// same or older epoch is rejected and leaves state alone
			err = b.signals.ApplySettlement(ctx, "post-1", 10, map[string]domain.SignalUpdate{
				domain.SignalTruth: {Value: 10, Contributors: 1, At: t0},
			})
			assert.ErrorIs(t, err, domain.ErrConcurrentModification)

			c, err = b.signals.Get(ctx, "post-1")
			require.NoError(t, err)
			assert.Equal(t, 70, c.Signals[domain.SignalTruth].CurrentValue)
			assert.Len(t, c.Signals[domain.SignalTruth].History, 1)

			err = b.signals.ApplySettlement(ctx, "post-1", 11, map[string]domain.SignalUpdate{
				domain.SignalTruth: {Value: 60, Contributors: 1, At: t0.Add(domain.EpochLength)},
			})
			require.NoError(t, err)
			c, err = b.signals.Get(ctx, "post-1")
			require.NoError(t, err)
			h := c.Signals[domain.SignalTruth].History
			require.Len(t, h, 2)
			assert.Less(t, h[0].EpochNumber, h[1].EpochNumber)
			assert.Equal(t, 60, c.Signals[domain.SignalTruth].CurrentValue)
		})
	}
}

func TestSignalStore_ApplySettlementUnknown(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := b.signals.ApplySettlement(ctx, "missing", 1, map[string]domain.SignalUpdate{
				domain.SignalTruth: {Value: 1, At: t0},
			})
			assert.ErrorIs(t, err, domain.ErrNotFound)

			require.NoError(t, b.signals.Register(ctx, "post-1", domain.DefaultSignalSpecs()))
			err = b.signals.ApplySettlement(ctx, "post-1", 1, map[string]domain.SignalUpdate{
				"urgency": {Value: 1, At: t0},
			})
			assert.ErrorIs(t, err, domain.ErrNotFound)

			assert.NoError(t, b.signals.ApplySettlement(ctx, "post-1", 1, nil))
		})
	}
}

func submission(participant string, epoch uint64, my, others int) *domain.Submission {
	s := &domain.Submission{
		ParticipantID: participant,
		ContentID:     "post-1",
		EpochNumber:   epoch,
		Beliefs:       map[string]domain.Belief{domain.SignalTruth: {MyBelief: my, OthersBelief: others}},
		Stake:         decimal.NewFromInt(1),
		SubmittedAt:   t0,
	}
	s.ID = s.Key().ID()
	return s
}

func TestSubmissionStore_UpsertReplaces(t *testing.T) {
	for name, ss := range submissionBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			replaced, err := ss.Upsert(ctx, submission("alice", 5, 80, 50))
			require.NoError(t, err)
			assert.False(t, replaced)

			replaced, err = ss.Upsert(ctx, submission("alice", 5, 30, 40))
			require.NoError(t, err)
			assert.True(t, replaced)

			subs, err := ss.ListByContentEpoch(ctx, "post-1", 5)
			require.NoError(t, err)
			require.Len(t, subs, 1)
			assert.Equal(t, 30, subs[0].Beliefs[domain.SignalTruth].MyBelief)
			assert.Equal(t, submission("alice", 5, 0, 0).ID, subs[0].ID)
		})
	}
}

func TestSubmissionStore_PendingAndSettled(t *testing.T) {
	for name, ss := range submissionBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, s := range []*domain.Submission{
				submission("alice", 5, 80, 50),
				submission("bob", 5, 50, 50),
				submission("alice", 3, 10, 10),
				submission("carol", 7, 10, 10),
			} {
				_, err := ss.Upsert(ctx, s)
				require.NoError(t, err)
			}

			pending, err := ss.ListPending(ctx, 5)
			require.NoError(t, err)
			assert.Equal(t, []domain.PendingSettlement{
				{ContentID: "post-1", EpochNumber: 3},
				{ContentID: "post-1", EpochNumber: 5},
			}, pending)

			require.NoError(t, ss.MarkSettled(ctx, "post-1", 3, t0))
			pending, err = ss.ListPending(ctx, 5)
			require.NoError(t, err)
			assert.Equal(t, []domain.PendingSettlement{{ContentID: "post-1", EpochNumber: 5}}, pending)

			_, err = ss.Upsert(ctx, submission("alice", 3, 99, 99))
			assert.ErrorIs(t, err, domain.ErrEpochClosed)

			subs, err := ss.ListByContentEpoch(ctx, "post-1", 3)
			require.NoError(t, err)
			require.Len(t, subs, 1)
			assert.Equal(t, 10, subs[0].Beliefs[domain.SignalTruth].MyBelief)
			assert.NotNil(t, subs[0].SettledAt)
		})
	}
}

func TestSubmissionStore_ConcurrentWriters(t *testing.T) {
	for name, ss := range submissionBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const writers = 20

			var wg sync.WaitGroup
			errs := make(chan error, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := ss.Upsert(ctx, submission(fmt.Sprintf("p-%02d", i), 9, i, 50))
					errs <- err
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			subs, err := ss.ListByContentEpoch(ctx, "post-1", 9)
			require.NoError(t, err)
			assert.Len(t, subs, writers)
		})
	}
}

func TestSettlementStore_UpsertAndList(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := b.settlements.Get(ctx, "post-1", 4)
			assert.True(t, errors.Is(err, domain.ErrNotFound))

			settled := t0
			rec := &domain.SettlementRecord{
				ContentID:    "post-1",
				EpochNumber:  4,
				Status:       domain.SettlementSettled,
				Attempts:     1,
				Contributors: 2,
				Values:       map[string]int{domain.SignalTruth: 79},
				Weights: []domain.ParticipantWeight{
					{ParticipantID: "alice", Key: domain.SignalTruth, Surprise: 45, Weight: 0.95, StakeShare: decimal.RequireFromString("1.9")},
				},
				SettledAt: &settled,
			}
			require.NoError(t, b.settlements.Upsert(ctx, rec))

			got, err := b.settlements.Get(ctx, "post-1", 4)
			require.NoError(t, err)
			assert.Equal(t, domain.SettlementSettled, got.Status)
			assert.Equal(t, 79, got.Values[domain.SignalTruth])
			require.Len(t, got.Weights, 1)
			assert.True(t, got.Weights[0].StakeShare.Equal(decimal.RequireFromString("1.9")))
			assert.False(t, got.UpdatedAt.IsZero())

			failed := &domain.SettlementRecord{
				ContentID: "post-2", EpochNumber: 4, Status: domain.SettlementFailed,
				Attempts: 5, LastError: "connection refused",
			}
			require.NoError(t, b.settlements.Upsert(ctx, failed))

			list, err := b.settlements.ListByStatus(ctx, domain.SettlementFailed)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "post-2", list[0].ContentID)
			assert.Equal(t, "connection refused", list[0].LastError)

			failed.Status = domain.SettlementSettled
			require.NoError(t, b.settlements.Upsert(ctx, failed))
			list, err = b.settlements.ListByStatus(ctx, domain.SettlementFailed)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestParsePendingMember(t *testing.T) {
	p, err := parsePendingMember(pendingMember("post|with|bars", 42))
	require.NoError(t, err)
	assert.Equal(t, domain.PendingSettlement{ContentID: "post|with|bars", EpochNumber: 42}, p)

	_, err = parsePendingMember("nope")
	assert.Error(t, err)
	_, err = parsePendingMember("x|post")
	assert.Error(t, err)
}
