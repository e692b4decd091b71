package geo

import (
	"sync"
	"time"

	"github.com/mmcloughlin/geohash"

	"github.com/example/trip-dispatch/internal/models"
)

// GridIndex buckets drivers into geohash cells so a query only scans the
// pickup's cell and its neighbors instead of every driver.
type GridIndex struct {
	mu        sync.RWMutex
	cells     map[string]map[string]models.DriverPresence
	cellOf    map[string]string
	freshness time.Duration
	limit     int
}

func NewGridIndex(freshness time.Duration, limit int) *GridIndex {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &GridIndex{
		cells:     make(map[string]map[string]models.DriverPresence),
		cellOf:    make(map[string]string),
		freshness: freshness,
		limit:     limit,
	}
}

// precisionFor picks a geohash precision whose cell edge comfortably exceeds
// the radius, so cell + neighbors cover the whole search circle.
func precisionFor(radiusKm float64) uint {
	switch {
	case radiusKm <= 0.6:
		return 6
	case radiusKm <= 4.9:
		return 5
	case radiusKm <= 39:
		return 4
	default:
		return 3
	}
}

func (g *GridIndex) Upsert(p models.DriverPresence) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.Updated.IsZero() {
		p.Updated = time.Now()
	}
	cell := geohash.EncodeWithPrecision(p.Loc.Lat, p.Loc.Lon, 6)
	if prev, ok := g.cellOf[p.DriverID]; ok && prev != cell {
		delete(g.cells[prev], p.DriverID)
		if len(g.cells[prev]) == 0 {
			delete(g.cells, prev)
		}
	}
	if g.cells[cell] == nil {
		g.cells[cell] = make(map[string]models.DriverPresence)
	}
	g.cells[cell][p.DriverID] = p
	g.cellOf[p.DriverID] = cell
}

func (g *GridIndex) SetAvailability(driverID string, available bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	cell, ok := g.cellOf[driverID]
	if !ok {
		return false
	}
	p := g.cells[cell][driverID]
	p.Available = available
	g.cells[cell][driverID] = p
	return true
}

func (g *GridIndex) Get(driverID string) (models.DriverPresence, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cell, ok := g.cellOf[driverID]
	if !ok {
		return models.DriverPresence{}, false
	}
	p, ok := g.cells[cell][driverID]
	return p, ok
}

func (g *GridIndex) Query(at models.Coord, radiusKm float64, now time.Time) []models.DriverPresence {
	prec := precisionFor(radiusKm)
	center := geohash.EncodeWithPrecision(at.Lat, at.Lon, prec)
	scan := append(geohash.Neighbors(center), center)

	g.mu.RLock()
	defer g.mu.RUnlock()
	var cands []models.DriverPresence
	for _, prefix := range scan {
		// Stored cells are precision 6; match on the coarser query prefix.
		for cell, drivers := range g.cells {
			if len(cell) < len(prefix) || cell[:len(prefix)] != prefix {
				continue
			}
			for _, p := range drivers {
				if Candidate(p, at, radiusKm, now, g.freshness) {
					cands = append(cands, p)
				}
			}
		}
	}
	return rankAndCap(cands, at, g.limit)
}
