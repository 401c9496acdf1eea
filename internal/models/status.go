package models

import "fmt"

// RequestStatus is the closed set of pickup request lifecycle states.
type RequestStatus string

const (
	StatusCreated         RequestStatus = "created"
	StatusNotified        RequestStatus = "notified"
	StatusAssigned        RequestStatus = "assigned"
	StatusArrivedAtOrigin RequestStatus = "arrived_at_origin"
	StatusPickupCompleted RequestStatus = "pickup_completed"
	StatusCancelled       RequestStatus = "cancelled"
)

// transitions is the single source of truth for legal status moves.
// Assigned->Notified is the decline path; everything else is forward.
var transitions = map[RequestStatus][]RequestStatus{
	StatusCreated:         {StatusNotified, StatusCancelled},
	StatusNotified:        {StatusAssigned, StatusCancelled},
	StatusAssigned:        {StatusNotified, StatusArrivedAtOrigin, StatusCancelled},
	StatusArrivedAtOrigin: {StatusPickupCompleted},
	StatusPickupCompleted: {},
	StatusCancelled:       {},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to RequestStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s RequestStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// Assigned reports whether the status requires a non-empty assigned vendor.
func (s RequestStatus) Assigned() bool {
	switch s {
	case StatusAssigned, StatusArrivedAtOrigin, StatusPickupCompleted:
		return true
	}
	return false
}

// ParseStatus validates a stored status string.
func ParseStatus(v string) (RequestStatus, error) {
	s := RequestStatus(v)
	if _, ok := transitions[s]; !ok {
		return "", fmt.Errorf("unknown request status %q", v)
	}
	return s, nil
}
