package domain

import (
	"context"
	"time"
)

// SignalStore is the single writer of aggregate signal state. Implementations
// must serialize ApplySettlement per content item.
type SignalStore interface {
	Register(ctx context.Context, contentID string, specs []SignalSpec) error
	Get(ctx context.Context, contentID string) (*SignalCollection, error)
	ListContent(ctx context.Context) ([]string, error)
	// ApplySettlement appends one history point per updated key. It fails with
	// ErrConcurrentModification when epochNumber is not newer than a key's
	// last history point.
	ApplySettlement(ctx context.Context, contentID string, epochNumber uint64, updates map[string]SignalUpdate) error
	Ping(ctx context.Context) error
}

// SubmissionStore buffers submissions. Upsert must be atomic per
// (participant, content, epoch) without locking unrelated keys.
type SubmissionStore interface {
	Upsert(ctx context.Context, s *Submission) (replaced bool, err error)
	ListByContentEpoch(ctx context.Context, contentID string, epochNumber uint64) ([]Submission, error)
	// ListPending returns (content, epoch) pairs with unsettled submissions
	// whose epoch is at most upToEpoch, oldest epoch first.
	ListPending(ctx context.Context, upToEpoch uint64) ([]PendingSettlement, error)
	MarkSettled(ctx context.Context, contentID string, epochNumber uint64, at time.Time) error
}

type SettlementStore interface {
	Get(ctx context.Context, contentID string, epochNumber uint64) (*SettlementRecord, error)
	Upsert(ctx context.Context, r *SettlementRecord) error
	ListByStatus(ctx context.Context, status SettlementStatus) ([]SettlementRecord, error)
}

// EventPublisher notifies downstream consumers of settled values.
type EventPublisher interface {
	PublishSettlement(ctx context.Context, e SettlementEvent) error
	Close() error
}
