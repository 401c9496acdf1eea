package assignment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/example/pickup-dispatch/internal/apperr"
	"github.com/example/pickup-dispatch/internal/models"
	"github.com/example/pickup-dispatch/internal/observability"
)

// EventSink receives state-change events after successful transitions.
type EventSink interface {
	Publish(ctx context.Context, ev models.StateChange) error
}

// StuckPolicy decides when a request has waited too long for a vendor.
// The coordinator keeps no timers; escalation is the caller's call.
type StuckPolicy interface {
	Stuck(r *models.PickupRequest, now time.Time) bool
}

// MaxWait is a StuckPolicy flagging requests notified longer than D.
type MaxWait struct{ D time.Duration }

func (p MaxWait) Stuck(r *models.PickupRequest, now time.Time) bool {
	return r.Status == models.StatusNotified && now.Sub(r.CreatedAt) > p.D
}

// Coordinator owns the pickup request lifecycle. Every mutation goes
// through a single conditional write in the store, so exactly one of
// any set of racing actors wins and the rest see PreconditionFailed.
type Coordinator struct {
	Store  RequestStore
	Events EventSink
	Logger *slog.Logger

	now func() time.Time
}

func NewCoordinator(store RequestStore, events EventSink, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{Store: store, Events: events, Logger: logger, now: time.Now}
}

// CreateParams carries requester input for a new pickup request.
type CreateParams struct {
	RequesterID string
	Origin      models.Coord
	Materials   string
	WeightKgEst float64
	PriceEst    float64
}

func (c *Coordinator) CreateRequest(ctx context.Context, p CreateParams) (*models.PickupRequest, error) {
	if strings.TrimSpace(p.RequesterID) == "" {
		return nil, apperr.Validationf("requester_id is required")
	}
	if err := validCoord(p.Origin); err != nil {
		return nil, err
	}
	r := &models.PickupRequest{
		ID:          newID(),
		RequesterID: p.RequesterID,
		Origin:      p.Origin,
		Materials:   p.Materials,
		WeightKgEst: p.WeightKgEst,
		PriceEst:    p.PriceEst,
		Status:      models.StatusCreated,
		CreatedAt:   c.now().UTC(),
	}
	if err := c.Store.Create(ctx, r); err != nil {
		return nil, err
	}
	c.emit(ctx, r, "", "", r.Status)
	return r, nil
}

func (c *Coordinator) Get(ctx context.Context, id string) (*models.PickupRequest, error) {
	if id == "" {
		return nil, apperr.Validationf("request id is required")
	}
	return c.Store.Get(ctx, id)
}

// MarkNotified records that candidates were produced for the request.
// Idempotent: an already-notified request is left as is.
func (c *Coordinator) MarkNotified(ctx context.Context, id string) (*models.PickupRequest, error) {
	r, err := c.Store.Apply(ctx, id, Transition{
		From: []models.RequestStatus{models.StatusCreated},
		To:   models.StatusNotified,
	})
	if err == nil {
		c.emit(ctx, r, "", models.StatusCreated, r.Status)
		return r, nil
	}
	if !errors.Is(err, apperr.ErrPreconditionFailed) {
		return nil, err
	}
	cur, gerr := c.Store.Get(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	if cur.Status == models.StatusNotified {
		return cur, nil
	}
	return nil, err
}

// Accept assigns the request to vendorID. The store-level guard
// (status still notified, vendor still null) makes this the single
// point where concurrent accepts are resolved to one winner.
func (c *Coordinator) Accept(ctx context.Context, id, vendorID string) (*models.PickupRequest, error) {
	if strings.TrimSpace(vendorID) == "" {
		return nil, apperr.Validationf("vendor_id is required")
	}
	r, err := c.Store.Apply(ctx, id, Transition{
		From:              []models.RequestStatus{models.StatusNotified},
		To:                models.StatusAssigned,
		RequireUnassigned: true,
		SetVendor:         vendorID,
		StampAccepted:     true,
		At:                c.now().UTC(),
	})
	if err == nil {
		observability.AssignmentsTotal.Inc()
		c.emit(ctx, r, vendorID, models.StatusNotified, r.Status)
		return r, nil
	}
	if !errors.Is(err, apperr.ErrPreconditionFailed) {
		return nil, err
	}
	cur, gerr := c.Store.Get(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	// A repeat of the caller's own successful accept is not a conflict.
	if cur.Status.Assigned() && cur.AssignedVendor == vendorID {
		return cur, nil
	}
	observability.AssignmentConflictsTotal.Inc()
	if cur.AssignedVendor != "" {
		return nil, apperr.Preconditionf("request %s already assigned", id)
	}
	return nil, apperr.Preconditionf("request %s is %s", id, cur.Status)
}

// Decline releases the request back to the candidate pool. The reason
// is mandatory; only the assigned vendor may decline.
func (c *Coordinator) Decline(ctx context.Context, id, vendorID, reason string) (*models.PickupRequest, error) {
	if strings.TrimSpace(vendorID) == "" {
		return nil, apperr.Validationf("vendor_id is required")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validationf("decline reason is required")
	}
	r, err := c.Store.Apply(ctx, id, Transition{
		From:          []models.RequestStatus{models.StatusAssigned},
		To:            models.StatusNotified,
		RequireVendor: vendorID,
		ClearVendor:   true,
	})
	if err == nil {
		c.logDecline(id, vendorID, reason)
		// The record's vendor is already cleared; the event names the
		// decliner so their derived caches are still evicted.
		c.emit(ctx, r, vendorID, models.StatusAssigned, r.Status)
		return r, nil
	}
	if !errors.Is(err, apperr.ErrPreconditionFailed) {
		return nil, err
	}
	cur, gerr := c.Store.Get(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	// The record keeps no decliner history, so any notified and
	// unassigned state reads as the caller's own earlier decline.
	if cur.Status == models.StatusNotified && cur.AssignedVendor == "" {
		return cur, nil
	}
	return nil, err
}

// MarkArrived records arrival at the origin; assigned vendor only.
func (c *Coordinator) MarkArrived(ctx context.Context, id, vendorID string) (*models.PickupRequest, error) {
	return c.vendorStep(ctx, id, vendorID, models.StatusAssigned, models.StatusArrivedAtOrigin, Transition{StampArrived: true})
}

// MarkCompleted closes the pickup; terminal and immutable after.
func (c *Coordinator) MarkCompleted(ctx context.Context, id, vendorID string) (*models.PickupRequest, error) {
	return c.vendorStep(ctx, id, vendorID, models.StatusArrivedAtOrigin, models.StatusPickupCompleted, Transition{StampCompleted: true})
}

func (c *Coordinator) vendorStep(ctx context.Context, id, vendorID string, from, to models.RequestStatus, extra Transition) (*models.PickupRequest, error) {
	if strings.TrimSpace(vendorID) == "" {
		return nil, apperr.Validationf("vendor_id is required")
	}
	t := extra
	t.From = []models.RequestStatus{from}
	t.To = to
	t.RequireVendor = vendorID
	t.At = c.now().UTC()
	r, err := c.Store.Apply(ctx, id, t)
	if err == nil {
		c.emit(ctx, r, vendorID, from, r.Status)
		return r, nil
	}
	if !errors.Is(err, apperr.ErrPreconditionFailed) {
		return nil, err
	}
	cur, gerr := c.Store.Get(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	if cur.Status == to && cur.AssignedVendor == vendorID {
		return cur, nil
	}
	return nil, err
}

// Cancel terminates the request before completion. A late accept racing
// with this loses at the store guard, so a cancelled request can never
// be resurrected.
func (c *Coordinator) Cancel(ctx context.Context, id, actorID, reason string) (*models.PickupRequest, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, apperr.Validationf("actor_id is required")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validationf("cancellation reason is required")
	}
	// Cancelling an assigned request must null the vendor too; the
	// record leaves the assigned states and the invariant requires
	// assigned_vendor only while in them. Read the vendor first so the
	// event can still name whose caches to evict.
	prevVendor := ""
	if cur, gerr := c.Store.Get(ctx, id); gerr == nil {
		prevVendor = cur.AssignedVendor
	}
	r, err := c.Store.Apply(ctx, id, Transition{
		From:            []models.RequestStatus{models.StatusCreated, models.StatusNotified, models.StatusAssigned},
		To:              models.StatusCancelled,
		ClearVendor:     true,
		SetCancelReason: reason,
	})
	if err == nil {
		c.emit(ctx, r, prevVendor, "", r.Status)
		return r, nil
	}
	if !errors.Is(err, apperr.ErrPreconditionFailed) {
		return nil, err
	}
	cur, gerr := c.Store.Get(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	if cur.Status == models.StatusCancelled {
		return cur, nil
	}
	return nil, err
}

// emit publishes a state-change event. vendorID is the vendor the
// transition concerned, passed explicitly because decline and cancel
// clear the record's vendor before the event is built.
func (c *Coordinator) emit(ctx context.Context, r *models.PickupRequest, vendorID string, from, to models.RequestStatus) {
	if c.Events == nil {
		return
	}
	ev := models.StateChange{
		RequestID:   r.ID,
		RequesterID: r.RequesterID,
		VendorID:    vendorID,
		From:        from,
		To:          to,
		At:          c.now().UTC(),
	}
	if err := c.Events.Publish(ctx, ev); err != nil {
		// Event delivery is advisory; the transition already committed.
		c.Logger.Error("state change publish failed", "request_id", r.ID, "to", to, "error", err)
	}
}

func (c *Coordinator) logDecline(id, vendorID, reason string) {
	c.Logger.Info("vendor declined request", "request_id", id, "vendor_id", vendorID, "reason", reason)
}

func validCoord(co models.Coord) error {
	if co.Lat < -90 || co.Lat > 90 {
		return apperr.Validationf("latitude %f out of range", co.Lat)
	}
	if co.Lng < -180 || co.Lng > 180 {
		return apperr.Validationf("longitude %f out of range", co.Lng)
	}
	return nil
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
