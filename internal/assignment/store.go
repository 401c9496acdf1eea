package assignment

import (
	"context"
	"sync"
	"time"

	"github.com/example/pickup-dispatch/internal/apperr"
	"github.com/example/pickup-dispatch/internal/models"
)

// Transition describes one conditional status move. The store applies
// precondition and mutation as a single atomic write; if the guard no
// longer holds nothing is mutated and ErrPreconditionFailed comes back.
type Transition struct {
	From []models.RequestStatus // acceptable current statuses
	To   models.RequestStatus

	RequireUnassigned bool   // assigned_vendor must still be empty
	RequireVendor     string // assigned_vendor must equal this actor

	SetVendor       string
	ClearVendor     bool
	SetCancelReason string

	StampAccepted  bool
	StampArrived   bool
	StampCompleted bool
	At             time.Time
}

func (t Transition) acceptsFrom(s models.RequestStatus) bool {
	for _, f := range t.From {
		if f == s {
			return true
		}
	}
	return false
}

// RequestStore is the durable source of truth for pickup requests.
type RequestStore interface {
	Create(ctx context.Context, r *models.PickupRequest) error
	Get(ctx context.Context, id string) (*models.PickupRequest, error)
	// Apply performs the conditional transition and returns the updated
	// record, ErrNotFound, or ErrPreconditionFailed.
	Apply(ctx context.Context, id string, t Transition) (*models.PickupRequest, error)
}

// MemoryRequestStore keeps requests in a map guarded by a mutex. The
// conditional semantics mirror the Postgres implementation so tests can
// exercise the race behavior without a database.
type MemoryRequestStore struct {
	mu       sync.Mutex
	requests map[string]*models.PickupRequest
}

func NewMemoryRequestStore() *MemoryRequestStore {
	return &MemoryRequestStore{requests: make(map[string]*models.PickupRequest)}
}

func (m *MemoryRequestStore) Create(ctx context.Context, r *models.PickupRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.ID]; ok {
		return apperr.Preconditionf("request %s already exists", r.ID)
	}
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryRequestStore) Get(ctx context.Context, id string) (*models.PickupRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, apperr.NotFoundf("request %s", id)
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryRequestStore) Apply(ctx context.Context, id string, t Transition) (*models.PickupRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, apperr.NotFoundf("request %s", id)
	}
	if !t.acceptsFrom(r.Status) {
		return nil, apperr.Preconditionf("request %s is %s", id, r.Status)
	}
	if t.RequireUnassigned && r.AssignedVendor != "" {
		return nil, apperr.Preconditionf("request %s already assigned", id)
	}
	if t.RequireVendor != "" && r.AssignedVendor != t.RequireVendor {
		return nil, apperr.Preconditionf("vendor %s is not assigned to request %s", t.RequireVendor, id)
	}

	r.Status = t.To
	if t.SetVendor != "" {
		r.AssignedVendor = t.SetVendor
	}
	if t.ClearVendor {
		r.AssignedVendor = ""
	}
	if t.SetCancelReason != "" {
		r.CancelReason = t.SetCancelReason
	}
	at := t.At
	if t.StampAccepted {
		r.AcceptedAt = &at
	}
	if t.StampArrived {
		r.ArrivedAt = &at
	}
	if t.StampCompleted {
		r.CompletedAt = &at
	}
	cp := *r
	return &cp, nil
}
