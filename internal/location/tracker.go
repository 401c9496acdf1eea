package location

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/example/pickup-dispatch/internal/apperr"
	"github.com/example/pickup-dispatch/internal/cache"
	"github.com/example/pickup-dispatch/internal/geo"
	"github.com/example/pickup-dispatch/internal/models"
	"github.com/example/pickup-dispatch/internal/observability"
)

// DefaultTTL is the inactivity window after which a vendor with no new
// ping is treated as offline.
const DefaultTTL = time.Hour

// Tracker is the vendor location cache. Each ping overwrites the
// vendor-keyed entry and, when the ping belongs to a request, a
// mirrored request-keyed entry so "where is my vendor" is one read.
// The cache is advisory: its failures are logged and swallowed.
type Tracker struct {
	Cache    cache.Cache
	Registry geo.Registry
	TTL      time.Duration
	Logger   *slog.Logger

	now func() time.Time
}

func NewTracker(c cache.Cache, reg geo.Registry, ttl time.Duration, logger *slog.Logger) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{Cache: c, Registry: reg, TTL: ttl, Logger: logger, now: time.Now}
}

func vendorKey(vendorID string) string   { return "vendor:loc:" + vendorID }
func requestKey(requestID string) string { return "request:loc:" + requestID }

// Update records the latest ping for a vendor. The vendor entry and the
// request mirror are written back to back; staleness between them is at
// most one ping interval, which callers tolerate.
func (t *Tracker) Update(ctx context.Context, p models.VendorLocationPing) (models.VendorLocationPing, error) {
	if strings.TrimSpace(p.VendorID) == "" {
		return models.VendorLocationPing{}, apperr.Validationf("vendor_id is required")
	}
	if strings.TrimSpace(p.VendorType) == "" {
		return models.VendorLocationPing{}, apperr.Validationf("vendor_type is required")
	}
	if p.Loc.Lat < -90 || p.Loc.Lat > 90 || p.Loc.Lng < -180 || p.Loc.Lng > 180 {
		return models.VendorLocationPing{}, apperr.Validationf("coordinates out of range")
	}
	if p.CapturedAt.IsZero() {
		p.CapturedAt = t.now().UTC()
	}

	b, err := json.Marshal(p)
	if err != nil {
		return models.VendorLocationPing{}, err
	}
	if err := t.Cache.SetWithTTL(ctx, vendorKey(p.VendorID), b, t.TTL); err != nil {
		t.Logger.Error("location cache write failed", "vendor_id", p.VendorID, "error", err)
	}
	if p.RequestID != "" {
		if err := t.Cache.SetWithTTL(ctx, requestKey(p.RequestID), b, t.TTL); err != nil {
			t.Logger.Error("location mirror write failed", "request_id", p.RequestID, "error", err)
		}
	}
	if t.Registry != nil {
		if err := t.Registry.Upsert(ctx, p); err != nil {
			t.Logger.Error("geo registry upsert failed", "vendor_id", p.VendorID, "error", err)
		}
	}
	observability.LocationPingsTotal.Inc()
	return p, nil
}

// ByVendor returns the vendor's live position or ErrNotFound once the
// TTL has lapsed with no new ping.
func (t *Tracker) ByVendor(ctx context.Context, vendorID string) (*models.VendorLocationPing, error) {
	if vendorID == "" {
		return nil, apperr.Validationf("vendor_id is required")
	}
	return t.lookup(ctx, vendorKey(vendorID), "vendor "+vendorID)
}

// ByRequest resolves the assigned vendor's live position through the
// request-keyed mirror.
func (t *Tracker) ByRequest(ctx context.Context, requestID string) (*models.VendorLocationPing, error) {
	if requestID == "" {
		return nil, apperr.Validationf("request_id is required")
	}
	return t.lookup(ctx, requestKey(requestID), "request "+requestID)
}

func (t *Tracker) lookup(ctx context.Context, key, what string) (*models.VendorLocationPing, error) {
	b, ok, err := t.Cache.Get(ctx, key)
	if err != nil {
		t.Logger.Error("location cache read failed", "key", key, "error", err)
		return nil, apperr.NotFoundf("no live location for %s", what)
	}
	if !ok {
		return nil, apperr.NotFoundf("no live location for %s", what)
	}
	var p models.VendorLocationPing
	if err := json.Unmarshal(b, &p); err != nil {
		t.Logger.Error("location cache entry corrupt", "key", key, "error", err)
		return nil, apperr.NotFoundf("no live location for %s", what)
	}
	return &p, nil
}
