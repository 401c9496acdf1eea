package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/pickup-dispatch/internal/models"
)

// RedisRegistry implements Registry on Redis GEO sets, one per vendor
// type, plus a TTL-bound hash per vendor carrying the full last ping.
// GEO members have no expiry of their own, so liveness is decided by
// the hash: a member whose hash is gone has stopped pinging and is
// dropped from the set on the next query.
type RedisRegistry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisRegistry(client *redis.Client, prefix string, ttl time.Duration) *RedisRegistry {
	if prefix == "" {
		prefix = "vendors_geo"
	}
	return &RedisRegistry{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisRegistry) geoKey(vendorType string) string { return r.prefix + ":" + vendorType }

func (r *RedisRegistry) pingKey(vendorType, vendorID string) string {
	return r.prefix + ":ping:" + vendorType + ":" + vendorID
}

func (r *RedisRegistry) Upsert(ctx context.Context, p models.VendorLocationPing) error {
	pipe := r.client.Pipeline()
	pipe.GeoAdd(ctx, r.geoKey(p.VendorType), &redis.GeoLocation{
		Name:      p.VendorID,
		Longitude: p.Loc.Lng,
		Latitude:  p.Loc.Lat,
	})
	pipe.HSet(ctx, r.pingKey(p.VendorType, p.VendorID), map[string]interface{}{
		"lat":         p.Loc.Lat,
		"lng":         p.Loc.Lng,
		"request_id":  p.RequestID,
		"captured_at": p.CapturedAt.UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, r.pingKey(p.VendorType, p.VendorID), r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Nearby runs one GEOSEARCH per requested type plus one pipelined
// liveness fetch, never a round trip per candidate. The search radius
// is padded slightly; the caller applies the exact distance filter.
func (r *RedisRegistry) Nearby(ctx context.Context, origin models.Coord, radiusKm float64, vendorTypes []string) ([]models.VendorLocationPing, error) {
	type hit struct {
		vendorType string
		vendorID   string
	}
	var hits []hit
	for _, vt := range vendorTypes {
		locs, err := r.client.GeoSearchLocation(ctx, r.geoKey(vt), &redis.GeoSearchLocationQuery{
			GeoSearchQuery: redis.GeoSearchQuery{
				Longitude:  origin.Lng,
				Latitude:   origin.Lat,
				Radius:     radiusKm * 1.01,
				RadiusUnit: "km",
				Sort:       "ASC",
			},
		}).Result()
		if err != nil {
			return nil, err
		}
		for _, l := range locs {
			hits = append(hits, hit{vendorType: vt, vendorID: l.Name})
		}
	}
	if len(hits) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(hits))
	for i, h := range hits {
		cmds[i] = pipe.HGetAll(ctx, r.pingKey(h.vendorType, h.vendorID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	out := make([]models.VendorLocationPing, 0, len(hits))
	for i, h := range hits {
		m, err := cmds[i].Result()
		if err != nil || len(m) == 0 {
			// Ping expired; retire the stale geo member.
			r.client.ZRem(ctx, r.geoKey(h.vendorType), h.vendorID)
			continue
		}
		p := models.VendorLocationPing{VendorID: h.vendorID, VendorType: h.vendorType, RequestID: m["request_id"]}
		p.Loc.Lat = parseFloat(m["lat"])
		p.Loc.Lng = parseFloat(m["lng"])
		if ts, err := time.Parse(time.RFC3339Nano, m["captured_at"]); err == nil {
			p.CapturedAt = ts
		}
		out = append(out, p)
	}
	return out, nil
}
