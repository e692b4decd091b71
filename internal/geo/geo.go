package geo

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/trip-dispatch/internal/models"
)

// Geo answers proximity queries over driver presence. A driver is a dispatch
// candidate only when available, approved and reported within the freshness
// window; results are ordered ascending by great-circle distance and capped.
type Geo interface {
	Query(at models.Coord, radiusKm float64, now time.Time) []models.DriverPresence
	Upsert(p models.DriverPresence)
	SetAvailability(driverID string, available bool) bool
	Get(driverID string) (models.DriverPresence, bool)
}

const (
	DefaultFreshness = 10 * time.Minute
	DefaultLimit     = 20
)

// Index is the naive linear-scan implementation. The interface is shaped so
// a grid or R-tree index can replace it without touching callers.
type Index struct {
	mu        sync.RWMutex
	drivers   map[string]models.DriverPresence
	freshness time.Duration
	limit     int
}

func NewIndex(freshness time.Duration, limit int) *Index {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Index{drivers: make(map[string]models.DriverPresence), freshness: freshness, limit: limit}
}

func (g *Index) Upsert(p models.DriverPresence) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.Updated.IsZero() {
		p.Updated = time.Now()
	}
	g.drivers[p.DriverID] = p
}

func (g *Index) SetAvailability(driverID string, available bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.drivers[driverID]
	if !ok {
		return false
	}
	p.Available = available
	g.drivers[driverID] = p
	return true
}

func (g *Index) Get(driverID string) (models.DriverPresence, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.drivers[driverID]
	return p, ok
}

func (g *Index) Query(at models.Coord, radiusKm float64, now time.Time) []models.DriverPresence {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cands := make([]models.DriverPresence, 0, len(g.drivers))
	for _, p := range g.drivers {
		if Candidate(p, at, radiusKm, now, g.freshness) {
			cands = append(cands, p)
		}
	}
	return rankAndCap(cands, at, g.limit)
}

// Candidate applies the eligibility filter shared by all index variants.
func Candidate(p models.DriverPresence, at models.Coord, radiusKm float64, now time.Time, freshness time.Duration) bool {
	if !p.Available || !p.Approved {
		return false
	}
	if now.Sub(p.Updated) > freshness {
		return false
	}
	return Haversine(at.Lat, at.Lon, p.Loc.Lat, p.Loc.Lon) <= radiusKm
}

func rankAndCap(cands []models.DriverPresence, at models.Coord, limit int) []models.DriverPresence {
	sort.Slice(cands, func(i, j int) bool {
		di := Haversine(at.Lat, at.Lon, cands[i].Loc.Lat, cands[i].Loc.Lon)
		dj := Haversine(at.Lat, at.Lon, cands[j].Loc.Lat, cands[j].Loc.Lon)
		if di == dj {
			return cands[i].DriverID < cands[j].DriverID
		}
		return di < dj
	})
	if len(cands) > limit {
		cands = cands[:limit]
	}
	return cands
}

// Haversine returns the great-circle distance in km on a sphere of radius
// 6371 km.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// DistanceKm is the haversine distance rounded to one decimal place. It is a
// straight-line estimate, not a routed distance.
func DistanceKm(a, b models.Coord) float64 {
	return math.Round(Haversine(a.Lat, a.Lon, b.Lat, b.Lon)*10) / 10
}
