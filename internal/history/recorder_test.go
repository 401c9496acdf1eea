package history

import (
	"context"
	"testing"
	"time"

	"github.com/example/pickup-dispatch/internal/models"
)

func ping(at time.Time) models.VendorLocationPing {
	return models.VendorLocationPing{
		VendorID:   "v1",
		VendorType: "collector",
		RequestID:  "r1",
		Loc:        models.Coord{Lat: 12.98, Lng: 77.60},
		CapturedAt: at,
	}
}

func TestThrottleSamplesNotEveryPing(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, 30*time.Minute, nil)
	ctx := context.Background()

	// A vendor pinging every 5 minutes for 2 hours.
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for m := 0; m < 120; m += 5 {
		if err := rec.Observe(ctx, ping(start.Add(time.Duration(m)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := store.List(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 4 {
		t.Fatalf("expected 4 sampled records, got %d", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		gap := recs[i].SampledAt.Sub(recs[i-1].SampledAt)
		if gap < 30*time.Minute {
			t.Fatalf("records %d and %d only %s apart", i-1, i, gap)
		}
		if !recs[i].SampledAt.After(recs[i-1].SampledAt) {
			t.Fatalf("sampled_at not strictly increasing")
		}
	}
}

func TestFirstPingAlwaysSampled(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, 30*time.Minute, nil)
	ctx := context.Background()

	if err := rec.Observe(ctx, ping(time.Now())); err != nil {
		t.Fatal(err)
	}
	recs, _ := store.List(ctx, "r1")
	if len(recs) != 1 {
		t.Fatalf("expected the first ping persisted, got %d records", len(recs))
	}
}

func TestPingWithoutRequestIsSkipped(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, 30*time.Minute, nil)
	ctx := context.Background()

	p := ping(time.Now())
	p.RequestID = ""
	if err := rec.Observe(ctx, p); err != nil {
		t.Fatal(err)
	}
	recs, _ := store.List(ctx, "r1")
	if len(recs) != 0 {
		t.Fatalf("expected no records, got %d", len(recs))
	}
}

func TestSeparateRequestsThrottleIndependently(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, 30*time.Minute, nil)
	ctx := context.Background()

	now := time.Now()
	a := ping(now)
	b := ping(now)
	b.RequestID = "r2"
	if err := rec.Observe(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := rec.Observe(ctx, b); err != nil {
		t.Fatal(err)
	}
	if recs, _ := store.List(ctx, "r1"); len(recs) != 1 {
		t.Fatalf("r1 should have 1 record, got %d", len(recs))
	}
	if recs, _ := store.List(ctx, "r2"); len(recs) != 1 {
		t.Fatalf("r2 should have 1 record, got %d", len(recs))
	}
}
