package history

import (
	"context"
	"sync"

	"github.com/example/pickup-dispatch/internal/apperr"
	"github.com/example/pickup-dispatch/internal/models"
)

// Store holds the append-only location history per request.
type Store interface {
	Append(ctx context.Context, rec models.LocationHistoryRecord) error
	// Last returns the most recent record for the request, or ErrNotFound.
	Last(ctx context.Context, requestID string) (*models.LocationHistoryRecord, error)
	// List returns all records for the request ordered by sampled_at.
	List(ctx context.Context, requestID string) ([]models.LocationHistoryRecord, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]models.LocationHistoryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]models.LocationHistoryRecord)}
}

func (m *MemoryStore) Append(ctx context.Context, rec models.LocationHistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.RequestID] = append(m.records[rec.RequestID], rec)
	return nil
}

func (m *MemoryStore) Last(ctx context.Context, requestID string) (*models.LocationHistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.records[requestID]
	if len(recs) == 0 {
		return nil, apperr.NotFoundf("no history for request %s", requestID)
	}
	rec := recs[len(recs)-1]
	return &rec, nil
}

func (m *MemoryStore) List(ctx context.Context, requestID string) ([]models.LocationHistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.records[requestID]
	out := make([]models.LocationHistoryRecord, len(recs))
	copy(out, recs)
	return out, nil
}
