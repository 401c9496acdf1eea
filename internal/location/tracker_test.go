package location

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/pickup-dispatch/internal/apperr"
	"github.com/example/pickup-dispatch/internal/cache"
	"github.com/example/pickup-dispatch/internal/models"
)

func newTestTracker() (*Tracker, *cache.Memory, *time.Time) {
	now := time.Now()
	mem := cache.NewMemory()
	mem.Now = func() time.Time { return now }
	tr := NewTracker(mem, nil, time.Hour, nil)
	tr.now = func() time.Time { return now }
	return tr, mem, &now
}

func TestUpdateThenGetRoundtrip(t *testing.T) {
	tr, _, _ := newTestTracker()
	ctx := context.Background()

	ping, err := tr.Update(ctx, models.VendorLocationPing{
		VendorID: "v1", VendorType: "collector",
		Loc: models.Coord{Lat: 12.98, Lng: 77.60},
	})
	if err != nil {
		t.Fatal(err)
	}
	if ping.CapturedAt.IsZero() {
		t.Fatal("captured_at should be stamped")
	}

	got, err := tr.ByVendor(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Loc.Lat != 12.98 || got.Loc.Lng != 77.60 {
		t.Fatalf("unexpected coords: %+v", got.Loc)
	}
}

func TestRequestMirror(t *testing.T) {
	tr, _, _ := newTestTracker()
	ctx := context.Background()

	if _, err := tr.Update(ctx, models.VendorLocationPing{
		VendorID: "v1", VendorType: "collector", RequestID: "r1",
		Loc: models.Coord{Lat: 12.98, Lng: 77.60},
	}); err != nil {
		t.Fatal(err)
	}

	got, err := tr.ByRequest(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.VendorID != "v1" {
		t.Fatalf("mirror should resolve to the vendor ping, got %+v", got)
	}
}

func TestNoMirrorWithoutRequest(t *testing.T) {
	tr, _, _ := newTestTracker()
	ctx := context.Background()

	if _, err := tr.Update(ctx, models.VendorLocationPing{
		VendorID: "v1", VendorType: "collector",
		Loc: models.Coord{Lat: 12.98, Lng: 77.60},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.ByRequest(ctx, "r1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestExpiryAfterTTL(t *testing.T) {
	tr, _, now := newTestTracker()
	ctx := context.Background()

	if _, err := tr.Update(ctx, models.VendorLocationPing{
		VendorID: "v1", VendorType: "collector", RequestID: "r1",
		Loc: models.Coord{Lat: 12.98, Lng: 77.60},
	}); err != nil {
		t.Fatal(err)
	}

	*now = now.Add(61 * time.Minute)

	if _, err := tr.ByVendor(ctx, "v1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("vendor entry should have expired, got %v", err)
	}
	if _, err := tr.ByRequest(ctx, "r1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("request mirror should have expired, got %v", err)
	}
}

func TestOverwriteKeepsLatestPing(t *testing.T) {
	tr, _, _ := newTestTracker()
	ctx := context.Background()

	for _, lat := range []float64{12.90, 12.95, 12.99} {
		if _, err := tr.Update(ctx, models.VendorLocationPing{
			VendorID: "v1", VendorType: "collector",
			Loc: models.Coord{Lat: lat, Lng: 77.60},
		}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := tr.ByVendor(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Loc.Lat != 12.99 {
		t.Fatalf("expected the latest ping, got %+v", got.Loc)
	}
}

func TestUpdateValidation(t *testing.T) {
	tr, _, _ := newTestTracker()
	ctx := context.Background()

	cases := []models.VendorLocationPing{
		{VendorType: "collector", Loc: models.Coord{Lat: 1, Lng: 1}},
		{VendorID: "v1", Loc: models.Coord{Lat: 1, Lng: 1}},
		{VendorID: "v1", VendorType: "collector", Loc: models.Coord{Lat: 91, Lng: 1}},
		{VendorID: "v1", VendorType: "collector", Loc: models.Coord{Lat: 1, Lng: 181}},
	}
	for i, p := range cases {
		if _, err := tr.Update(ctx, p); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}
}

type failingCache struct{ cache.Memory }

func (f *failingCache) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("redis down")
}

func TestCacheFailureIsSwallowed(t *testing.T) {
	tr := NewTracker(&failingCache{}, nil, time.Hour, nil)
	if _, err := tr.Update(context.Background(), models.VendorLocationPing{
		VendorID: "v1", VendorType: "collector",
		Loc: models.Coord{Lat: 12.98, Lng: 77.60},
	}); err != nil {
		t.Fatalf("cache failure must not fail the ping, got %v", err)
	}
}
