package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/Harshitk-cp/veracity/internal/store"
	"go.uber.org/zap"
)

var ErrContentConflict = errors.New("content already registered")

type SignalService struct {
	store    domain.SignalStore
	priority []string
	logger   *zap.Logger
}

func NewSignalService(s domain.SignalStore, priority []string, logger *zap.Logger) *SignalService {
	if len(priority) == 0 {
		priority = domain.DefaultPriority
	}
	return &SignalService{store: s, priority: priority, logger: logger}
}

// Register creates a content item with the given signals, or the three core
// signals at their neutral value when specs is empty.
func (s *SignalService) Register(ctx context.Context, contentID string, specs []domain.SignalSpec) (*domain.SignalCollection, error) {
	if contentID == "" {
		return nil, fmt.Errorf("%w: content_id is required", domain.ErrValidation)
	}
	if len(specs) == 0 {
		specs = domain.DefaultSignalSpecs()
	}

	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.Key == "" {
			return nil, fmt.Errorf("%w: signal key is required", domain.ErrValidation)
		}
		if seen[spec.Key] {
			return nil, fmt.Errorf("%w: duplicate signal key %q", domain.ErrValidation, spec.Key)
		}
		if !domain.ValidSignalValue(spec.InitialValue) {
			return nil, fmt.Errorf("%w: %s initial_value %d outside [0,100]", domain.ErrValidation, spec.Key, spec.InitialValue)
		}
		seen[spec.Key] = true
	}

	if err := s.store.Register(ctx, contentID, specs); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrContentConflict
		}
		return nil, err
	}
	s.logger.Info("content registered", zap.String("content_id", contentID), zap.Int("signals", len(specs)))

	return s.Get(ctx, contentID)
}

func (s *SignalService) Get(ctx context.Context, contentID string) (*domain.SignalCollection, error) {
	c, err := s.store.Get(ctx, contentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrContentNotFound
		}
		return nil, err
	}
	return c, nil
}

// Ordered returns the content's signals in display priority order.
func (s *SignalService) Ordered(ctx context.Context, contentID string) ([]*domain.Signal, error) {
	c, err := s.Get(ctx, contentID)
	if err != nil {
		return nil, err
	}
	return c.Ordered(s.priority), nil
}

func (s *SignalService) List(ctx context.Context) ([]string, error) {
	return s.store.ListContent(ctx)
}

func (s *SignalService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
