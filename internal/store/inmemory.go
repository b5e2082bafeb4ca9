package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Harshitk-cp/veracity/internal/domain"
)

// InMemorySignalStore implements domain.SignalStore for tests and development.
// Each content item carries its own lock, so settlements of different items
// never contend.
type InMemorySignalStore struct {
	mu       sync.RWMutex
	contents map[string]*contentEntry
}

type contentEntry struct {
	mu         sync.Mutex
	collection *domain.SignalCollection
}

func NewInMemorySignalStore() *InMemorySignalStore {
	return &InMemorySignalStore{contents: make(map[string]*contentEntry)}
}

func (s *InMemorySignalStore) Ping(ctx context.Context) error { return nil }

func (s *InMemorySignalStore) Register(ctx context.Context, contentID string, specs []domain.SignalSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.contents[contentID]; exists {
		return ErrConflict
	}
	c := domain.NewSignalCollection(contentID)
	for _, spec := range specs {
		c.Signals[spec.Key] = &domain.Signal{
			Key:          spec.Key,
			Name:         spec.DisplayName(),
			CurrentValue: spec.InitialValue,
		}
	}
	s.contents[contentID] = &contentEntry{collection: c}
	return nil
}

func (s *InMemorySignalStore) entry(contentID string) (*contentEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.contents[contentID]
	return e, ok
}

func (s *InMemorySignalStore) Get(ctx context.Context, contentID string) (*domain.SignalCollection, error) {
	e, ok := s.entry(contentID)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneCollection(e.collection), nil
}

func (s *InMemorySignalStore) ListContent(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := slices.Collect(maps.Keys(s.contents))
	sort.Strings(ids)
	return ids, nil
}

func (s *InMemorySignalStore) ApplySettlement(ctx context.Context, contentID string, epochNumber uint64, updates map[string]domain.SignalUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	e, ok := s.entry(contentID)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	// validate everything before touching state so a rejected settlement
	// leaves the collection untouched
	for key := range updates {
		sig, ok := e.collection.Signals[key]
		if !ok {
			return fmt.Errorf("signal %s on %s: %w", key, contentID, ErrNotFound)
		}
		if last, ok := sig.LastEpoch(); ok && epochNumber <= last {
			return fmt.Errorf("signal %s already settled at epoch %d: %w", key, last, domain.ErrConcurrentModification)
		}
	}

	for key, u := range updates {
		sig := e.collection.Signals[key]
		value := domain.ClampSignalValue(u.Value)
		at := u.At
		sig.History = append(sig.History, domain.HistoryPoint{Timestamp: at, Value: value, EpochNumber: epochNumber})
		sig.Metadata.Volatility = domain.Volatility(sig.CurrentValue, value)
		sig.CurrentValue = value
		sig.Metadata.Contributors = u.Contributors
		sig.Metadata.LastUpdated = &at
		sig.Metadata.Stake = u.Stake
	}
	return nil
}

func cloneCollection(c *domain.SignalCollection) *domain.SignalCollection {
	out := domain.NewSignalCollection(c.ContentID)
	for k, sig := range c.Signals {
		cp := *sig
		cp.History = slices.Clone(sig.History)
		if sig.Metadata.LastUpdated != nil {
			t := *sig.Metadata.LastUpdated
			cp.Metadata.LastUpdated = &t
		}
		out.Signals[k] = &cp
	}
	return out
}

const submissionShards = 32

// InMemorySubmissionStore shards submissions by (participant, content, epoch)
// key, so concurrent writers only contend when they hash to the same shard.
type InMemorySubmissionStore struct {
	shards [submissionShards]submissionShard
}

type submissionShard struct {
	mu   sync.RWMutex
	subs map[domain.SubmissionKey]domain.Submission
}

func NewInMemorySubmissionStore() *InMemorySubmissionStore {
	s := &InMemorySubmissionStore{}
	for i := range s.shards {
		s.shards[i].subs = make(map[domain.SubmissionKey]domain.Submission)
	}
	return s
}

func (s *InMemorySubmissionStore) shard(k domain.SubmissionKey) *submissionShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.String()))
	return &s.shards[h.Sum32()%submissionShards]
}

func (s *InMemorySubmissionStore) Upsert(ctx context.Context, sub *domain.Submission) (bool, error) {
	key := sub.Key()
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	prev, exists := sh.subs[key]
	if exists && prev.SettledAt != nil {
		return false, domain.ErrEpochClosed
	}
	cp := *sub
	cp.Beliefs = maps.Clone(sub.Beliefs)
	sh.subs[key] = cp
	return exists, nil
}

func (s *InMemorySubmissionStore) each(fn func(sh *submissionShard)) {
	for i := range s.shards {
		fn(&s.shards[i])
	}
}

func (s *InMemorySubmissionStore) ListByContentEpoch(ctx context.Context, contentID string, epochNumber uint64) ([]domain.Submission, error) {
	var out []domain.Submission
	s.each(func(sh *submissionShard) {
		sh.mu.RLock()
		defer sh.mu.RUnlock()
		for k, sub := range sh.subs {
			if k.ContentID == contentID && k.EpochNumber == epochNumber {
				sub.Beliefs = maps.Clone(sub.Beliefs)
				out = append(out, sub)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out, nil
}

func (s *InMemorySubmissionStore) ListPending(ctx context.Context, upToEpoch uint64) ([]domain.PendingSettlement, error) {
	seen := make(map[domain.PendingSettlement]bool)
	s.each(func(sh *submissionShard) {
		sh.mu.RLock()
		defer sh.mu.RUnlock()
		for k, sub := range sh.subs {
			if sub.SettledAt == nil && k.EpochNumber <= upToEpoch {
				seen[domain.PendingSettlement{ContentID: k.ContentID, EpochNumber: k.EpochNumber}] = true
			}
		}
	})
	return sortPending(seen), nil
}

func (s *InMemorySubmissionStore) MarkSettled(ctx context.Context, contentID string, epochNumber uint64, at time.Time) error {
	s.each(func(sh *submissionShard) {
		sh.mu.Lock()
		defer sh.mu.Unlock()
		for k, sub := range sh.subs {
			if k.ContentID == contentID && k.EpochNumber == epochNumber && sub.SettledAt == nil {
				settled := at
				sub.SettledAt = &settled
				sh.subs[k] = sub
			}
		}
	})
	return nil
}

func sortPending(set map[domain.PendingSettlement]bool) []domain.PendingSettlement {
	out := make([]domain.PendingSettlement, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EpochNumber != out[j].EpochNumber {
			return out[i].EpochNumber < out[j].EpochNumber
		}
		return out[i].ContentID < out[j].ContentID
	})
	return out
}

type settlementKey struct {
	contentID string
	epoch     uint64
}

type InMemorySettlementStore struct {
	mu      sync.RWMutex
	records map[settlementKey]domain.SettlementRecord
}

func NewInMemorySettlementStore() *InMemorySettlementStore {
	return &InMemorySettlementStore{records: make(map[settlementKey]domain.SettlementRecord)}
}

func (s *InMemorySettlementStore) Get(ctx context.Context, contentID string, epochNumber uint64) (*domain.SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[settlementKey{contentID, epochNumber}]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *InMemorySettlementStore) Upsert(ctx context.Context, r *domain.SettlementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.UpdatedAt = time.Now().UTC()
	cp := *r
	cp.Values = maps.Clone(r.Values)
	cp.Weights = slices.Clone(r.Weights)
	s.records[settlementKey{r.ContentID, r.EpochNumber}] = cp
	return nil
}

func (s *InMemorySettlementStore) ListByStatus(ctx context.Context, status domain.SettlementStatus) ([]domain.SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SettlementRecord
	for _, r := range s.records {
		if r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EpochNumber != out[j].EpochNumber {
			return out[i].EpochNumber < out[j].EpochNumber
		}
		return out[i].ContentID < out[j].ContentID
	})
	return out, nil
}
