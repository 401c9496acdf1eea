package proximity

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/example/pickup-dispatch/internal/apperr"
	"github.com/example/pickup-dispatch/internal/geo"
	"github.com/example/pickup-dispatch/internal/models"
	"github.com/example/pickup-dispatch/internal/observability"
)

// DefaultRadiusKm bounds a match query when the caller passes none.
const DefaultRadiusKm = 15.0

// Matcher computes geographically eligible vendors for a request from
// whatever is currently live in the location registry. Read-only; an
// empty result means "no eligible vendor right now" and retry policy
// belongs to the caller.
type Matcher struct {
	Registry geo.Registry
}

func NewMatcher(reg geo.Registry) *Matcher {
	return &Matcher{Registry: reg}
}

// Candidates returns all live vendors of the given types within
// radiusKm of origin, sorted ascending by great-circle distance with
// ties broken by vendor id. Distances are kilometers to 2 decimals.
func (m *Matcher) Candidates(ctx context.Context, origin models.Coord, radiusKm float64, vendorTypes []string) ([]models.VendorCandidate, error) {
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	if len(vendorTypes) == 0 {
		return nil, apperr.Validationf("at least one vendor type is required")
	}
	start := time.Now()
	live, err := m.Registry.Nearby(ctx, origin, radiusKm, vendorTypes)
	if err != nil {
		return nil, err
	}

	out := make([]models.VendorCandidate, 0, len(live))
	for _, p := range live {
		d := geo.HaversineKm(origin, p.Loc)
		if d > radiusKm {
			continue
		}
		out = append(out, models.VendorCandidate{VendorID: p.VendorID, DistanceKm: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].VendorID < out[j].VendorID
	})
	for i := range out {
		out[i].DistanceKm = round2(out[i].DistanceKm)
	}

	observability.MatchesTotal.Inc()
	observability.MatchLatency.Observe(time.Since(start).Seconds())
	return out, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
