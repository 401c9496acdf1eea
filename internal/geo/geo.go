package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/example/pickup-dispatch/internal/models"
)

// Registry is the live index of vendor positions the matcher scans.
// Nearby returns only vendors whose last ping is within the inactivity
// TTL; a silent vendor is offline, not a candidate.
type Registry interface {
	Upsert(ctx context.Context, p models.VendorLocationPing) error
	Nearby(ctx context.Context, origin models.Coord, radiusKm float64, vendorTypes []string) ([]models.VendorLocationPing, error)
}

// Index is an in-process Registry: a map scan per query. Fine for a
// single instance or tests; multi-instance deployments use RedisRegistry.
type Index struct {
	mu      sync.RWMutex
	vendors map[string]map[string]models.VendorLocationPing // vendor type -> id -> last ping
	ttl     time.Duration

	Now func() time.Time
}

func NewIndex(ttl time.Duration) *Index {
	return &Index{vendors: make(map[string]map[string]models.VendorLocationPing), ttl: ttl, Now: time.Now}
}

func (g *Index) Upsert(ctx context.Context, p models.VendorLocationPing) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	byID, ok := g.vendors[p.VendorType]
	if !ok {
		byID = make(map[string]models.VendorLocationPing)
		g.vendors[p.VendorType] = byID
	}
	byID[p.VendorID] = p
	return nil
}

// Nearby is a single linear pass over the requested vendor types.
// Expired pings are deleted on the way, so the map only holds vendors
// that pinged within the TTL.
func (g *Index) Nearby(ctx context.Context, origin models.Coord, radiusKm float64, vendorTypes []string) ([]models.VendorLocationPing, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.Now()
	var out []models.VendorLocationPing
	for _, vt := range vendorTypes {
		for id, p := range g.vendors[vt] {
			if now.Sub(p.CapturedAt) > g.ttl {
				delete(g.vendors[vt], id)
				continue
			}
			if HaversineKm(origin, p.Loc) > radiusKm {
				continue
			}
			out = append(out, p)
		}
	}
	return out, nil
}

// HaversineKm is the great-circle distance in kilometers over a mean
// Earth radius of 6371 km.
func HaversineKm(a, b models.Coord) float64 {
	const earthRadiusKm = 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
