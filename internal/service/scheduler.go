package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/Harshitk-cp/veracity/internal/store"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	ErrSettlementNotFound = errors.New("settlement not found")
	ErrEpochStillOpen     = fmt.Errorf("%w: epoch is still open", domain.ErrValidation)
	ErrEarlierEpochOpen   = fmt.Errorf("%w: an earlier epoch of this content is not settled", domain.ErrValidation)
)

type SchedulerConfig struct {
	Concurrency int
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration // per attempt
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Concurrency: 4,
		MaxRetries:  5,
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		Timeout:     30 * time.Second,
	}
}

func (c SchedulerConfig) normalize() SchedulerConfig {
	d := DefaultSchedulerConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// SettlementRecorder receives settlement telemetry.
type SettlementRecorder interface {
	EpochPhase(phase domain.EpochPhase, epoch uint64)
	SettlementFinished(status domain.SettlementStatus, elapsed time.Duration)
	SettlementRetried()
	PublishFailed()
}

type nopRecorder struct{}

func (nopRecorder) EpochPhase(domain.EpochPhase, uint64)                   {}
func (nopRecorder) SettlementFinished(domain.SettlementStatus, time.Duration) {}
func (nopRecorder) SettlementRetried()                                      {}
func (nopRecorder) PublishFailed()                                          {}

type nopPublisher struct{}

func (nopPublisher) PublishSettlement(context.Context, domain.SettlementEvent) error { return nil }
func (nopPublisher) Close() error                                                    { return nil }

// EpochScheduler owns the epoch state machine: Open(n) until the boundary,
// Closing(n) while pending content settles, Settled(n), then Open(n+1).
type EpochScheduler struct {
	aggregator  *Aggregator
	submissions domain.SubmissionStore
	settlements domain.SettlementStore
	gate        *EpochGate
	publisher   domain.EventPublisher
	recorder    SettlementRecorder
	logger      *zap.Logger

	cfg SchedulerConfig
	now func() time.Time

	mu    sync.RWMutex
	phase domain.EpochPhase
	epoch uint64

	sf     singleflight.Group
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewEpochScheduler(agg *Aggregator, subs domain.SubmissionStore, sets domain.SettlementStore, gate *EpochGate,
	publisher domain.EventPublisher, recorder SettlementRecorder, cfg SchedulerConfig, logger *zap.Logger) *EpochScheduler {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	s := &EpochScheduler{
		aggregator:  agg,
		submissions: subs,
		settlements: sets,
		gate:        gate,
		publisher:   publisher,
		recorder:    recorder,
		logger:      logger,
		cfg:         cfg.normalize(),
		now:         time.Now,
		stopCh:      make(chan struct{}),
	}
	s.setState(domain.EpochOpen, domain.EpochOf(s.now()))
	return s
}

// SetClock replaces the wall clock, for tests. Call before Start.
func (s *EpochScheduler) SetClock(now func() time.Time) {
	s.now = now
	s.setState(domain.EpochOpen, domain.EpochOf(now()))
}

func (s *EpochScheduler) setState(phase domain.EpochPhase, epoch uint64) {
	s.mu.Lock()
	s.phase, s.epoch = phase, epoch
	s.mu.Unlock()
	s.recorder.EpochPhase(phase, epoch)
}

// State is a snapshot of the state machine with the time left in the epoch.
func (s *EpochScheduler) State() domain.EpochState {
	s.mu.RLock()
	phase, epoch := s.phase, s.epoch
	s.mu.RUnlock()

	bounds := domain.BoundsOf(epoch)
	st := domain.EpochState{Phase: phase, Epoch: bounds}
	if phase == domain.EpochOpen {
		st.Remaining = bounds.Remaining(s.now())
	}
	return st
}

// Start settles whatever earlier epochs left behind, then fires once per
// boundary until Stop.
func (s *EpochScheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		n := domain.EpochOf(s.now())
		s.setState(domain.EpochOpen, n)
		s.logger.Info("epoch scheduler started",
			zap.Uint64("epoch", n),
			zap.Time("closes_at", domain.BoundsOf(n).End))

		if n > 0 {
			s.gate.Close(n - 1)
			s.settlePending(ctx, n-1)
		}

		for {
			timer := time.NewTimer(domain.BoundsOf(n).End.Sub(s.now()))
			select {
			case <-timer.C:
				s.CloseEpoch(ctx, n)
				n++
			case <-s.stopCh:
				timer.Stop()
				s.logger.Info("epoch scheduler stopped")
				return
			}
		}
	}()
}

func (s *EpochScheduler) Stop() {
	close(s.stopCh)
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// CloseEpoch runs one boundary crossing for epoch n: stop accepting writes,
// drain in-flight submits, settle n and any earlier leftovers, advance.
func (s *EpochScheduler) CloseEpoch(ctx context.Context, n uint64) {
	s.setState(domain.EpochClosing, n)
	s.gate.Close(n)
	s.settlePending(ctx, n)
	s.setState(domain.EpochSettled, n)
	s.setState(domain.EpochOpen, n+1)
}

func (s *EpochScheduler) settlePending(ctx context.Context, upTo uint64) {
	pending, err := s.submissions.ListPending(ctx, upTo)
	if err != nil {
		// nothing is lost: the next boundary lists every earlier epoch again
		s.logger.Error("failed to list pending settlements", zap.Uint64("epoch", upTo), zap.Error(err))
		return
	}
	if len(pending) == 0 {
		s.logger.Info("no pending settlements", zap.Uint64("epoch", upTo))
		return
	}

	byContent := make(map[string][]uint64)
	for _, p := range pending {
		byContent[p.ContentID] = append(byContent[p.ContentID], p.EpochNumber)
	}
	s.logger.Info("settling epoch",
		zap.Uint64("epoch", upTo),
		zap.Int("content_items", len(byContent)),
		zap.Int("pairs", len(pending)))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for contentID, epochs := range byContent {
		sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })
		g.Go(func() error {
			s.settleContent(ctx, contentID, epochs)
			return nil
		})
	}
	_ = g.Wait()
}

// settleContent settles one item's epochs oldest first. History only moves
// forward, so a failed epoch holds back the later ones until it is resolved.
func (s *EpochScheduler) settleContent(ctx context.Context, contentID string, epochs []uint64) {
	for _, epoch := range epochs {
		rec, err := s.settlements.Get(ctx, contentID, epoch)
		if err == nil && rec.Status == domain.SettlementFailed {
			s.logger.Warn("content blocked by failed settlement",
				zap.String("content_id", contentID),
				zap.Uint64("epoch", epoch),
				zap.String("last_error", rec.LastError))
			return
		}
		if _, err := s.settle(ctx, contentID, epoch); err != nil {
			return
		}
	}
}

// settle runs one (content, epoch) settlement under the retry policy and
// records the outcome. Exhausted or permanent failures leave a failed record.
func (s *EpochScheduler) settle(ctx context.Context, contentID string, epoch uint64) (*domain.SettlementRecord, error) {
	start := s.now()
	log := s.logger.With(zap.String("content_id", contentID), zap.Uint64("epoch", epoch))

	policy := retrypolicy.NewBuilder[*domain.SettlementRecord]().
		HandleIf(func(_ *domain.SettlementRecord, err error) bool {
			return domain.Retryable(err) && ctx.Err() == nil
		}).
		WithBackoff(s.cfg.BaseDelay, s.cfg.MaxDelay).
		WithMaxRetries(s.cfg.MaxRetries).
		WithJitterFactor(0.1).
		Build()

	var lastErr error
	fresh := false
	rec, err := failsafe.With(policy).WithContext(ctx).Get(func() (*domain.SettlementRecord, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()

		rec, applied, err := s.aggregator.Settle(attemptCtx, contentID, epoch)
		fresh = applied
		if err != nil {
			lastErr = err
			s.recorder.SettlementRetried()
			log.Warn("settlement attempt failed", zap.Error(err))
			s.recordAttempt(ctx, contentID, epoch, domain.SettlementPending, err)
		}
		return rec, err
	})
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		if ctx.Err() != nil {
			// shutting down; the pair stays pending for the next run
			log.Info("settlement interrupted", zap.Error(ctx.Err()))
			return nil, ctx.Err()
		}
		s.recordAttempt(context.WithoutCancel(ctx), contentID, epoch, domain.SettlementFailed, lastErr)
		s.recorder.SettlementFinished(domain.SettlementFailed, s.now().Sub(start))
		log.Error("settlement failed", zap.Error(lastErr))
		return nil, fmt.Errorf("settle %s at epoch %d: %w", contentID, epoch, lastErr)
	}

	if !fresh {
		return rec, nil
	}
	s.recorder.SettlementFinished(rec.Status, s.now().Sub(start))
	if rec.Status == domain.SettlementSettled {
		s.publish(ctx, rec)
	}
	return rec, nil
}

// recordAttempt bumps the attempt counter without touching a record that
// already reached a final state.
func (s *EpochScheduler) recordAttempt(ctx context.Context, contentID string, epoch uint64, status domain.SettlementStatus, cause error) {
	rec, err := s.settlements.Get(ctx, contentID, epoch)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec = &domain.SettlementRecord{ContentID: contentID, EpochNumber: epoch}
	case err != nil:
		s.logger.Error("failed to load settlement record", zap.String("content_id", contentID), zap.Error(err))
		return
	case rec.Status.Done():
		return
	}

	if status == domain.SettlementPending {
		rec.Attempts++
	}
	rec.Status = status
	rec.LastError = cause.Error()
	if err := s.settlements.Upsert(ctx, rec); err != nil {
		s.logger.Error("failed to save settlement record",
			zap.String("content_id", contentID),
			zap.Uint64("epoch", epoch),
			zap.Error(err))
	}
}

func (s *EpochScheduler) publish(ctx context.Context, rec *domain.SettlementRecord) {
	event := domain.SettlementEvent{
		ContentID:    rec.ContentID,
		EpochNumber:  rec.EpochNumber,
		Values:       rec.Values,
		Contributors: rec.Contributors,
	}
	if rec.SettledAt != nil {
		event.SettledAt = *rec.SettledAt
	}
	if err := s.publisher.PublishSettlement(ctx, event); err != nil {
		s.recorder.PublishFailed()
		s.logger.Warn("failed to publish settlement event",
			zap.String("content_id", rec.ContentID),
			zap.Uint64("epoch", rec.EpochNumber),
			zap.Error(err))
	}
}

// Settle is the manual trigger for a closed (content, epoch) pair, typically
// one that ended up failed. Epochs of one item settle oldest first, so the
// call is refused while an earlier epoch of the same item still has
// unsettled submissions. Concurrent calls for the same pair share a run.
func (s *EpochScheduler) Settle(ctx context.Context, contentID string, epoch uint64) (*domain.SettlementRecord, error) {
	if epoch >= domain.EpochOf(s.now()) {
		if !s.gate.Closed(epoch) {
			return nil, ErrEpochStillOpen
		}
	} else {
		// waits out submits that entered before the boundary
		s.gate.Close(epoch)
	}

	if err := s.checkEarlierSettled(ctx, contentID, epoch); err != nil {
		return nil, err
	}

	key := contentID + "/" + strconv.FormatUint(epoch, 10)
	v, err, _ := s.sf.Do(key, func() (any, error) {
		return s.settle(ctx, contentID, epoch)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.SettlementRecord), nil
}

func (s *EpochScheduler) checkEarlierSettled(ctx context.Context, contentID string, epoch uint64) error {
	if epoch == 0 {
		return nil
	}
	pending, err := s.submissions.ListPending(ctx, epoch-1)
	if err != nil {
		return fmt.Errorf("list pending settlements: %w", err)
	}
	for _, p := range pending {
		if p.ContentID == contentID {
			return fmt.Errorf("%w: epoch %d", ErrEarlierEpochOpen, p.EpochNumber)
		}
	}
	return nil
}

// Record returns the settlement record for a pair.
func (s *EpochScheduler) Record(ctx context.Context, contentID string, epoch uint64) (*domain.SettlementRecord, error) {
	rec, err := s.settlements.Get(ctx, contentID, epoch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSettlementNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Failed lists pairs that exhausted their retries and need intervention.
func (s *EpochScheduler) Failed(ctx context.Context) ([]domain.SettlementRecord, error) {
	return s.settlements.ListByStatus(ctx, domain.SettlementFailed)
}
