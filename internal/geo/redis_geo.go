package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/trip-dispatch/internal/models"
)

// RedisGeo implements Geo on Redis GEO commands, sharing the key layout
// written by the location consumer binary.
type RedisGeo struct {
	client    *redis.Client
	key       string
	freshness time.Duration
	limit     int
	ctx       context.Context
}

func NewRedisGeo(addr, password, key string, freshness time.Duration, limit int) *RedisGeo {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, freshness: freshness, limit: limit, ctx: context.Background()}
}

func (r *RedisGeo) Upsert(p models.DriverPresence) {
	if p.Updated.IsZero() {
		p.Updated = time.Now()
	}
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: p.Loc.Lon, Latitude: p.Loc.Lat, Name: p.DriverID}).Result()
	_ = r.client.HSet(r.ctx, MetaKey(p.DriverID), PresenceMeta(p)).Err()
}

func (r *RedisGeo) SetAvailability(driverID string, available bool) bool {
	exists, err := r.client.Exists(r.ctx, MetaKey(driverID)).Result()
	if err != nil || exists == 0 {
		return false
	}
	return r.client.HSet(r.ctx, MetaKey(driverID), "available", strconv.FormatBool(available)).Err() == nil
}

func (r *RedisGeo) Get(driverID string) (models.DriverPresence, bool) {
	pos, err := r.client.GeoPos(r.ctx, r.key, driverID).Result()
	if err != nil || len(pos) == 0 || pos[0] == nil {
		return models.DriverPresence{}, false
	}
	p := models.DriverPresence{DriverID: driverID, Loc: models.Coord{Lat: pos[0].Latitude, Lon: pos[0].Longitude}}
	if m, err := r.client.HGetAll(r.ctx, MetaKey(driverID)).Result(); err == nil {
		applyMeta(&p, m)
	}
	return p, true
}

func (r *RedisGeo) Query(at models.Coord, radiusKm float64, now time.Time) []models.DriverPresence {
	res, err := r.client.GeoRadius(r.ctx, r.key, at.Lon, at.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		WithDist:  true,
		// Over-fetch so metadata filtering still fills the cap.
		Count: r.limit * 3,
		Sort:  "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.DriverPresence, 0, len(res))
	for _, g := range res {
		p := models.DriverPresence{DriverID: g.Name, Loc: models.Coord{Lat: g.Latitude, Lon: g.Longitude}}
		if m, err := r.client.HGetAll(r.ctx, MetaKey(g.Name)).Result(); err == nil {
			applyMeta(&p, m)
		}
		if !Candidate(p, at, radiusKm, now, r.freshness) {
			continue
		}
		out = append(out, p)
		if len(out) == r.limit {
			break
		}
	}
	return out
}

func MetaKey(driverID string) string { return "driver:meta:" + driverID }

// PresenceMeta flattens presence metadata into the hash stored next to the
// GEO entry. Written identically by the server and the Kafka consumer.
func PresenceMeta(p models.DriverPresence) map[string]interface{} {
	return map[string]interface{}{
		"available": strconv.FormatBool(p.Available),
		"approved":  strconv.FormatBool(p.Approved),
		"rating":    strconv.FormatFloat(p.Rating, 'f', 2, 64),
		"trips":     strconv.Itoa(p.TripsCompleted),
		"updated":   p.Updated.UTC().Format(time.RFC3339),
	}
}

func applyMeta(p *models.DriverPresence, m map[string]string) {
	if v, ok := m["available"]; ok {
		p.Available = v == "true"
	}
	if v, ok := m["approved"]; ok {
		p.Approved = v == "true"
	}
	if v, ok := m["rating"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			p.Rating = f
		}
	}
	if v, ok := m["trips"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			p.TripsCompleted = n
		}
	}
	if v, ok := m["updated"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			p.Updated = t
		}
	}
}
