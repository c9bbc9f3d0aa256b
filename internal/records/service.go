package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IDGenerator issues record ids.
type IDGenerator interface {
	NewID() (uuid.UUID, error)
}

// Clock supplies creation timestamps.
type Clock interface {
	Now() time.Time
}

// DefaultRecentLimit is used when a caller does not ask for a specific count.
const DefaultRecentLimit = 10

// Service validates specs, assigns ids and reads records back.
type Service struct {
	store  Store
	ids    IDGenerator
	clock  Clock
	logger *zap.Logger
}

// NewService wires a Service.
func NewService(store Store, ids IDGenerator, clock Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, ids: ids, clock: clock, logger: logger}
}

// Create validates spec and stores it under a fresh id.
func (s *Service) Create(ctx context.Context, spec SweepSpec) (StoredSweep, error) {
	if err := spec.Validate(); err != nil {
		return StoredSweep{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return StoredSweep{}, fmt.Errorf("assign id: %w", err)
	}
	rec := StoredSweep{ID: id, SweepSpec: spec, CreatedAt: s.clock.Now()}
	if err := s.store.Save(ctx, rec); err != nil {
		return StoredSweep{}, fmt.Errorf("save record %s: %w", id, err)
	}
	s.logger.Info("config stored", zap.String("id", id.String()), zap.String("name", spec.Name))
	return rec, nil
}

// Get loads one record. Unknown ids yield ErrNotFound.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (StoredSweep, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return StoredSweep{}, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}

// Recent lists up to limit records, newest first. Ids whose record has gone
// missing are skipped.
func (s *Service) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > RecentCap {
		limit = RecentCap
	}
	ids, err := s.store.ListRecentIDs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent ids: %w", err)
	}
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		rec, err := s.store.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get record %s: %w", id, err)
		}
		out = append(out, Entry{ID: id, Config: rec})
	}
	return out, nil
}
