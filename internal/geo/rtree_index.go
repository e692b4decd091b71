package geo

import (
	"math"
	"sync"
	"time"

	"github.com/dhconnelly/rtreego"

	"github.com/example/trip-dispatch/internal/models"
)

// RTreeIndex keeps driver positions in an R-tree so the query only visits
// entries intersecting the search window.
type RTreeIndex struct {
	mu        sync.Mutex
	tree      *rtreego.Rtree
	entries   map[string]*rtreeEntry
	freshness time.Duration
	limit     int
}

type rtreeEntry struct {
	presence models.DriverPresence
}

func (e *rtreeEntry) Bounds() rtreego.Rect {
	return rtreego.Point{e.presence.Loc.Lat, e.presence.Loc.Lon}.ToRect(1e-6)
}

func NewRTreeIndex(freshness time.Duration, limit int) *RTreeIndex {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &RTreeIndex{
		tree:      rtreego.NewTree(2, 25, 50),
		entries:   make(map[string]*rtreeEntry),
		freshness: freshness,
		limit:     limit,
	}
}

func (g *RTreeIndex) Upsert(p models.DriverPresence) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.Updated.IsZero() {
		p.Updated = time.Now()
	}
	// A moved point changes its bounds, so delete and reinsert.
	if prev, ok := g.entries[p.DriverID]; ok {
		g.tree.Delete(prev)
	}
	e := &rtreeEntry{presence: p}
	g.entries[p.DriverID] = e
	g.tree.Insert(e)
}

func (g *RTreeIndex) SetAvailability(driverID string, available bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[driverID]
	if !ok {
		return false
	}
	e.presence.Available = available
	return true
}

func (g *RTreeIndex) Get(driverID string) (models.DriverPresence, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[driverID]
	if !ok {
		return models.DriverPresence{}, false
	}
	return e.presence, true
}

func (g *RTreeIndex) Query(at models.Coord, radiusKm float64, now time.Time) []models.DriverPresence {
	g.mu.Lock()
	defer g.mu.Unlock()
	latDelta := radiusKm / 111.0
	cosLat := math.Cos(at.Lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	lonDelta := radiusKm / (111.0 * cosLat)
	rect, err := rtreego.NewRect(
		rtreego.Point{at.Lat - latDelta, at.Lon - lonDelta},
		[]float64{2 * latDelta, 2 * lonDelta},
	)
	if err != nil {
		return nil
	}
	hits := g.tree.SearchIntersect(rect)
	cands := make([]models.DriverPresence, 0, len(hits))
	for _, h := range hits {
		e, ok := h.(*rtreeEntry)
		if !ok {
			continue
		}
		if Candidate(e.presence, at, radiusKm, now, g.freshness) {
			cands = append(cands, e.presence)
		}
	}
	return rankAndCap(cands, at, g.limit)
}
