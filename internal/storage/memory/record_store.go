// Package memory holds in-memory store implementations for development and tests.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/JakeFAU/sweep-progress/internal/records"
)

// RecordStore keeps sweep configs in a map plus a newest-first id index.
type RecordStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]records.StoredSweep
	recent  []uuid.UUID
	cap     int
}

// NewRecordStore constructs a RecordStore whose recent index holds at most
// recentCap ids (records.RecentCap when <= 0).
func NewRecordStore(recentCap int) *RecordStore {
	if recentCap <= 0 {
		recentCap = records.RecentCap
	}
	return &RecordStore{
		records: make(map[uuid.UUID]records.StoredSweep),
		cap:     recentCap,
	}
}

// Save stores rec and pushes its id to the front of the recent index.
func (s *RecordStore) Save(_ context.Context, rec records.StoredSweep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return errors.New("record already exists")
	}
	s.records[rec.ID] = cloneRecord(rec)
	s.recent = append([]uuid.UUID{rec.ID}, s.recent...)
	if len(s.recent) > s.cap {
		s.recent = s.recent[:s.cap]
	}
	return nil
}

// Get fetches a record by id.
func (s *RecordStore) Get(_ context.Context, id uuid.UUID) (records.StoredSweep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return records.StoredSweep{}, records.ErrNotFound
	}
	return cloneRecord(rec), nil
}

// ListRecentIDs returns up to limit ids, newest first.
func (s *RecordStore) ListRecentIDs(_ context.Context, limit int) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.recent) {
		limit = len(s.recent)
	}
	return append([]uuid.UUID(nil), s.recent[:limit]...), nil
}

func cloneRecord(rec records.StoredSweep) records.StoredSweep {
	params := make([]records.Parameter, len(rec.Parameters))
	for i, p := range rec.Parameters {
		p.Values = append([]any(nil), p.Values...)
		params[i] = p
	}
	if rec.Parameters == nil {
		params = nil
	}
	rec.Parameters = params
	return rec
}

var _ records.Store = (*RecordStore)(nil)
