package history

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/pickup-dispatch/internal/apperr"
	"github.com/example/pickup-dispatch/internal/models"
	"github.com/example/pickup-dispatch/internal/observability"
)

// DefaultSamplingInterval throttles durable history writes. Pings can
// arrive sub-minute; persisting each one would write-amplify the store
// in proportion to ping frequency instead of meaningful movement.
const DefaultSamplingInterval = 30 * time.Minute

// Recorder samples pings tied to a request into the durable history.
// The read-then-write throttle check is a best-effort race: a request
// has one actively-pinging vendor, so a rare duplicate inside the
// window is an acceptable anomaly.
type Recorder struct {
	Store    Store
	Interval time.Duration
	Logger   *slog.Logger
}

func NewRecorder(store Store, interval time.Duration, logger *slog.Logger) *Recorder {
	if interval <= 0 {
		interval = DefaultSamplingInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{Store: store, Interval: interval, Logger: logger}
}

// Observe persists one sample for the ping's request unless a record
// newer than the sampling interval already exists. Pings without a
// request id carry no audit value and are skipped.
func (r *Recorder) Observe(ctx context.Context, p models.VendorLocationPing) error {
	if p.RequestID == "" {
		return nil
	}
	last, err := r.Store.Last(ctx, p.RequestID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		// first sample for this request
	case err != nil:
		return err
	case p.CapturedAt.Sub(last.SampledAt) < r.Interval:
		return nil
	}

	rec := models.LocationHistoryRecord{
		RequestID: p.RequestID,
		VendorID:  p.VendorID,
		Loc:       p.Loc,
		SampledAt: p.CapturedAt,
	}
	if err := r.Store.Append(ctx, rec); err != nil {
		return err
	}
	observability.HistoryRecordsTotal.Inc()
	r.Logger.Debug("history sample persisted", "request_id", p.RequestID, "vendor_id", p.VendorID)
	return nil
}
