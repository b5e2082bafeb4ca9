package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/Harshitk-cp/veracity/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakySignalStore fails ApplySettlement for selected content items.
type flakySignalStore struct {
	*store.InMemorySignalStore

	mu       sync.Mutex
	failures map[string]int // remaining failures per content, -1 = always
	calls    map[string]int
}

func newFlakySignalStore(inner *store.InMemorySignalStore) *flakySignalStore {
	return &flakySignalStore{InMemorySignalStore: inner, failures: map[string]int{}, calls: map[string]int{}}
}

var errStorageDown = errors.New("storage unavailable")

func (s *flakySignalStore) failFor(contentID string, n int) {
	s.mu.Lock()
	s.failures[contentID] = n
	s.mu.Unlock()
}

func (s *flakySignalStore) ApplySettlement(ctx context.Context, contentID string, epoch uint64, updates map[string]domain.SignalUpdate) error {
	s.mu.Lock()
	s.calls[contentID]++
	n := s.failures[contentID]
	if n > 0 {
		s.failures[contentID] = n - 1
	}
	s.mu.Unlock()
	if n != 0 {
		return errStorageDown
	}
	return s.InMemorySignalStore.ApplySettlement(ctx, contentID, epoch, updates)
}

func (s *flakySignalStore) callCount(contentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[contentID]
}

// MockPublisher mocks domain.EventPublisher.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishSettlement(ctx context.Context, e domain.SettlementEvent) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	return m.Called().Error(0)
}

func testSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Concurrency: 4,
		MaxRetries:  2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Timeout:     time.Second,
	}
}

func (f *fixture) scheduler(signals domain.SignalStore, pub domain.EventPublisher) *EpochScheduler {
	agg := NewAggregator(signals, f.submissions, f.settlements, DefaultBTSTemperature, zap.NewNop())
	agg.SetClock(f.clock.Now)
	s := NewEpochScheduler(agg, f.submissions, f.settlements, f.gate, pub, nil, testSchedulerConfig(), zap.NewNop())
	s.SetClock(f.clock.Now)
	return s
}

func TestScheduler_CloseEpochSettlesAndAdvances(t *testing.T) {
	f := newFixture(t, "post-1", "post-2")
	ctx := context.Background()
	f.submit(t,
		truthSubmission("alice", "post-1", f.epoch, 80, 50),
		truthSubmission("bob", "post-1", f.epoch, 50, 50),
		truthSubmission("alice", "post-2", f.epoch, 20, 40),
	)

	pub := new(MockPublisher)
	pub.On("PublishSettlement", mock.Anything, mock.MatchedBy(func(e domain.SettlementEvent) bool {
		return e.EpochNumber == f.epoch
	})).Return(nil).Times(2)

	s := f.scheduler(f.signals, pub)
	assert.Equal(t, domain.EpochOpen, s.State().Phase)
	assert.Equal(t, 3*time.Hour, s.State().Remaining)

	f.clock.Set(domain.BoundsOf(f.epoch).End)
	s.CloseEpoch(ctx, f.epoch)

	st := s.State()
	assert.Equal(t, domain.EpochOpen, st.Phase)
	assert.Equal(t, f.epoch+1, st.Epoch.Number)
	assert.Equal(t, domain.EpochLength, st.Remaining)

	c, err := f.signals.Get(ctx, "post-1")
	require.NoError(t, err)
	assert.Equal(t, 79, c.Signals[domain.SignalTruth].CurrentValue)
	c, err = f.signals.Get(ctx, "post-2")
	require.NoError(t, err)
	assert.Equal(t, 20, c.Signals[domain.SignalTruth].CurrentValue)

	rec, err := s.Record(ctx, "post-1", f.epoch)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementSettled, rec.Status)

	// the closed epoch refuses late writes even from a lagging clock
	f.clock.Set(testNow)
	_, err = f.collector.Submit(ctx, truthSubmission("carol", "post-1", f.epoch, 10, 10))
	assert.ErrorIs(t, err, domain.ErrEpochClosed)

	// settling again is a no-op and publishes nothing new
	f.clock.Set(domain.BoundsOf(f.epoch).End)
	again, err := s.Settle(ctx, "post-1", f.epoch)
	require.NoError(t, err)
	assert.Equal(t, rec.SettledAt, again.SettledAt)
	c, err = f.signals.Get(ctx, "post-1")
	require.NoError(t, err)
	assert.Len(t, c.Signals[domain.SignalTruth].History, 1)

	pub.AssertExpectations(t)
}

func TestScheduler_CatchesUpEarlierEpochsInOrder(t *testing.T) {
	f := newFixture(t, "post-1")
	ctx := context.Background()

	// two epochs ago, written while the scheduler was down
	old := f.epoch - 2
	f.clock.Set(domain.BoundsOf(old).Start.Add(time.Minute))
	f.submit(t, truthSubmission("alice", "post-1", old, 10, 50))
	f.clock.Set(testNow)
	f.submit(t, truthSubmission("alice", "post-1", f.epoch, 90, 50))

	s := f.scheduler(f.signals, nil)
	f.clock.Set(domain.BoundsOf(f.epoch).End)
	s.CloseEpoch(ctx, f.epoch)

	c, err := f.signals.Get(ctx, "post-1")
	require.NoError(t, err)
	h := c.Signals[domain.SignalTruth].History
	require.Len(t, h, 2)
	assert.Equal(t, old, h[0].EpochNumber)
	assert.Equal(t, 10, h[0].Value)
	assert.Equal(t, f.epoch, h[1].EpochNumber)
	assert.Equal(t, 90, c.Signals[domain.SignalTruth].CurrentValue)
}

func TestScheduler_TransientFailureIsRetried(t *testing.T) {
	f := newFixture(t, "post-1")
	ctx := context.Background()
	f.submit(t, truthSubmission("alice", "post-1", f.epoch, 70, 50))

	flaky := newFlakySignalStore(f.signals)
	flaky.failFor("post-1", 2)
	s := f.scheduler(flaky, nil)

	f.clock.Set(domain.BoundsOf(f.epoch).End)
	s.CloseEpoch(ctx, f.epoch)

	assert.Equal(t, 3, flaky.callCount("post-1"))
	rec, err := s.Record(ctx, "post-1", f.epoch)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementSettled, rec.Status)
	assert.Equal(t, 3, rec.Attempts)
}

func TestScheduler_ExhaustedRetriesSurfaceFailure(t *testing.T) {
	f := newFixture(t, "post-1", "post-2")
	ctx := context.Background()
	f.submit(t,
		truthSubmission("alice", "post-1", f.epoch, 70, 50),
		truthSubmission("alice", "post-2", f.epoch, 30, 50),
	)

	flaky := newFlakySignalStore(f.signals)
	flaky.failFor("post-1", -1)
	s := f.scheduler(flaky, nil)

	f.clock.Set(domain.BoundsOf(f.epoch).End)
	s.CloseEpoch(ctx, f.epoch)

	// 1 attempt + MaxRetries
	assert.Equal(t, 3, flaky.callCount("post-1"))

	failed, err := s.Failed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "post-1", failed[0].ContentID)
	assert.Equal(t, 3, failed[0].Attempts)
	assert.Contains(t, failed[0].LastError, errStorageDown.Error())

	// other content settled regardless
	rec, err := s.Record(ctx, "post-2", f.epoch)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementSettled, rec.Status)

	// submissions stay pending, never silently dropped
	pending, err := f.submissions.ListPending(ctx, f.epoch)
	require.NoError(t, err)
	assert.Equal(t, []domain.PendingSettlement{{ContentID: "post-1", EpochNumber: f.epoch}}, pending)

	// the next boundary does not auto-retry a failed pair, and holds later epochs back
	f.clock.Set(domain.BoundsOf(f.epoch + 1).Start)
	f.submit(t, truthSubmission("bob", "post-1", f.epoch+1, 40, 50))
	f.clock.Set(domain.BoundsOf(f.epoch + 1).End)
	s.CloseEpoch(ctx, f.epoch+1)
	assert.Equal(t, 3, flaky.callCount("post-1"))

	// manual intervention once storage recovers
	flaky.failFor("post-1", 0)
	rec, err = s.Settle(ctx, "post-1", f.epoch)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementSettled, rec.Status)
	assert.Equal(t, 70, rec.Values[domain.SignalTruth])

	failed, err = s.Failed(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestScheduler_SettleKeepsEpochOrderPerContent(t *testing.T) {
	f := newFixture(t, "post-1")
	ctx := context.Background()
	f.submit(t, truthSubmission("alice", "post-1", f.epoch, 70, 50))

	flaky := newFlakySignalStore(f.signals)
	flaky.failFor("post-1", -1)
	s := f.scheduler(flaky, nil)

	f.clock.Set(domain.BoundsOf(f.epoch).End)
	s.CloseEpoch(ctx, f.epoch)

	f.clock.Set(domain.BoundsOf(f.epoch + 1).Start)
	f.submit(t, truthSubmission("bob", "post-1", f.epoch+1, 40, 50))
	f.clock.Set(domain.BoundsOf(f.epoch + 1).End)
	s.CloseEpoch(ctx, f.epoch+1)

	flaky.failFor("post-1", 0)

	// the later epoch waits for the failed one
	_, err := s.Settle(ctx, "post-1", f.epoch+1)
	assert.ErrorIs(t, err, ErrEarlierEpochOpen)
	_, err = s.Record(ctx, "post-1", f.epoch+1)
	assert.ErrorIs(t, err, ErrSettlementNotFound)

	c, err := f.signals.Get(ctx, "post-1")
	require.NoError(t, err)
	assert.Empty(t, c.Signals[domain.SignalTruth].History)

	rec, err := s.Settle(ctx, "post-1", f.epoch)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementSettled, rec.Status)
	assert.Equal(t, 70, rec.Values[domain.SignalTruth])

	rec, err = s.Settle(ctx, "post-1", f.epoch+1)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementSettled, rec.Status)

	c, err = f.signals.Get(ctx, "post-1")
	require.NoError(t, err)
	truth := c.Signals[domain.SignalTruth]
	assert.Equal(t, 40, truth.CurrentValue)
	require.Len(t, truth.History, 2)
	assert.Equal(t, 70, truth.History[0].Value)
	assert.Equal(t, f.epoch, truth.History[0].EpochNumber)
	assert.Equal(t, f.epoch+1, truth.History[1].EpochNumber)

	pending, err := f.submissions.ListPending(ctx, f.epoch+1)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// blockingSubmissionStore holds the first Upsert until release is closed.
type blockingSubmissionStore struct {
	*store.InMemorySubmissionStore

	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSubmissionStore) Upsert(ctx context.Context, sub *domain.Submission) (bool, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.InMemorySubmissionStore.Upsert(ctx, sub)
}

func TestScheduler_ManualSettleWaitsForInFlightSubmit(t *testing.T) {
	f := newFixture(t, "post-1")
	ctx := context.Background()

	blocking := &blockingSubmissionStore{
		InMemorySubmissionStore: f.submissions,
		entered:                 make(chan struct{}),
		release:                 make(chan struct{}),
	}
	collector := NewSubmissionCollector(f.signals, blocking, f.gate, zap.NewNop())
	collector.SetClock(f.clock.Now)
	s := f.scheduler(f.signals, nil)

	submitted := make(chan error, 1)
	go func() {
		_, err := collector.Submit(ctx, truthSubmission("alice", "post-1", f.epoch, 70, 50))
		submitted <- err
	}()
	<-blocking.entered

	// the boundary passes while the write is still in flight
	f.clock.Set(domain.BoundsOf(f.epoch).End)

	type result struct {
		rec *domain.SettlementRecord
		err error
	}
	settled := make(chan result, 1)
	go func() {
		rec, err := s.Settle(ctx, "post-1", f.epoch)
		settled <- result{rec, err}
	}()

	select {
	case <-settled:
		t.Fatal("settled before the in-flight submission landed")
	case <-time.After(50 * time.Millisecond):
	}

	close(blocking.release)
	require.NoError(t, <-submitted)

	res := <-settled
	require.NoError(t, res.err)
	assert.Equal(t, domain.SettlementSettled, res.rec.Status)
	assert.Equal(t, 70, res.rec.Values[domain.SignalTruth])

	c, err := f.signals.Get(ctx, "post-1")
	require.NoError(t, err)
	assert.Equal(t, 70, c.Signals[domain.SignalTruth].CurrentValue)
}

func TestScheduler_SettleRejectsOpenEpoch(t *testing.T) {
	f := newFixture(t, "post-1")
	s := f.scheduler(f.signals, nil)

	_, err := s.Settle(context.Background(), "post-1", f.epoch)
	assert.ErrorIs(t, err, ErrEpochStillOpen)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestScheduler_PublishFailureDoesNotFailSettlement(t *testing.T) {
	f := newFixture(t, "post-1")
	ctx := context.Background()
	f.submit(t, truthSubmission("alice", "post-1", f.epoch, 70, 50))

	pub := new(MockPublisher)
	pub.On("PublishSettlement", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
	s := f.scheduler(f.signals, pub)

	f.clock.Set(domain.BoundsOf(f.epoch).End)
	s.CloseEpoch(ctx, f.epoch)

	rec, err := s.Record(ctx, "post-1", f.epoch)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementSettled, rec.Status)
	pub.AssertExpectations(t)
}

func TestScheduler_StartStop(t *testing.T) {
	f := newFixture(t, "post-1")
	s := f.scheduler(f.signals, nil)
	s.Start()
	s.Stop()
	assert.Equal(t, domain.EpochOpen, s.State().Phase)
}

func TestSchedulerConfig_Normalize(t *testing.T) {
	c := SchedulerConfig{MaxRetries: -1, BaseDelay: time.Second, MaxDelay: time.Millisecond}.normalize()
	assert.Equal(t, DefaultSchedulerConfig().Concurrency, c.Concurrency)
	assert.Equal(t, 0, c.MaxRetries)
	assert.Equal(t, time.Second, c.MaxDelay)
	assert.Equal(t, DefaultSchedulerConfig().Timeout, c.Timeout)
}
