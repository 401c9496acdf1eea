package dispatch

import (
	"context"
	"log/slog"

	"github.com/example/pickup-dispatch/internal/models"
)

// RequestSummary is what a candidate vendor sees before accepting.
type RequestSummary struct {
	RequestID   string       `json:"request_id"`
	Origin      models.Coord `json:"origin"`
	Materials   string       `json:"materials"`
	WeightKgEst float64      `json:"weight_kg_est"`
	PriceEst    float64      `json:"price_est"`
}

// CandidateNotice is the per-vendor payload: the summary plus how far
// away that vendor is and a rough arrival estimate.
type CandidateNotice struct {
	RequestSummary
	VendorID   string  `json:"vendor_id"`
	DistanceKm float64 `json:"distance_km"`
	EtaSeconds float64 `json:"eta_seconds,omitempty"`
}

// Dispatcher delivers candidate notices. Delivery is a collaborator
// concern; the dispatch engine never depends on it succeeding.
type Dispatcher interface {
	NotifyCandidates(ctx context.Context, notices []CandidateNotice) error
}

// LogDispatcher just records the fan-out; the default when no delivery
// channel is configured.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d *LogDispatcher) NotifyCandidates(ctx context.Context, notices []CandidateNotice) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, n := range notices {
		logger.Info("candidate notified", "request_id", n.RequestID, "vendor_id", n.VendorID, "distance_km", n.DistanceKm)
	}
	return nil
}
