package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PickupRequest is the durable record of one material-collection task.
// It is mutated only by the assignment coordinator; once it reaches a
// terminal status it is immutable and retained for audit.
type PickupRequest struct {
	ID             string        `json:"id"`
	RequesterID    string        `json:"requester_id"`
	Origin         Coord         `json:"origin"`
	Materials      string        `json:"materials"`
	WeightKgEst    float64       `json:"weight_kg_est"`
	PriceEst       float64       `json:"price_est"`
	Status         RequestStatus `json:"status"`
	AssignedVendor string        `json:"assigned_vendor,omitempty"`
	CancelReason   string        `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	AcceptedAt     *time.Time    `json:"accepted_at,omitempty"`
	ArrivedAt      *time.Time    `json:"arrived_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// VendorLocationPing is the latest reported position of a vendor. It
// lives only in the location cache and is overwritten on every update.
type VendorLocationPing struct {
	VendorID   string    `json:"vendor_id"`
	VendorType string    `json:"vendor_type"`
	RequestID  string    `json:"request_id,omitempty"`
	Loc        Coord     `json:"loc"`
	CapturedAt time.Time `json:"captured_at"`
}

// LocationHistoryRecord is one durable position sample for an active
// request. Append-only; at most one per sampling interval.
type LocationHistoryRecord struct {
	RequestID string    `json:"request_id"`
	VendorID  string    `json:"vendor_id"`
	Loc       Coord     `json:"loc"`
	SampledAt time.Time `json:"sampled_at"`
}

// VendorCandidate is a match result entry; computed, never stored.
type VendorCandidate struct {
	VendorID   string  `json:"vendor_id"`
	DistanceKm float64 `json:"distance_km"`
}

// StateChange is emitted on every successful request transition and
// drives downstream cache invalidation.
type StateChange struct {
	RequestID   string        `json:"request_id"`
	RequesterID string        `json:"requester_id"`
	VendorID    string        `json:"vendor_id,omitempty"`
	From        RequestStatus `json:"from"`
	To          RequestStatus `json:"to"`
	At          time.Time     `json:"at"`
}
