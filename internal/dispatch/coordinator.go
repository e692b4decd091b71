package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/trip-dispatch/internal/geo"
	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/observability"
	"github.com/example/trip-dispatch/internal/pricing"
	"github.com/example/trip-dispatch/internal/trip"
)

// Notifier delivers a dispatch offer to one driver. Delivery guarantees are
// the transport's problem; the coordinator fires and forgets.
type Notifier interface {
	Notify(driverID string, offer models.Offer) error
}

// BoundingBox is the configured service area. Zero value means no limit.
type BoundingBox struct {
	MinLat, MinLon, MaxLat, MaxLon float64
}

func (b BoundingBox) defined() bool {
	return b.MinLat != 0 || b.MinLon != 0 || b.MaxLat != 0 || b.MaxLon != 0
}

func (b BoundingBox) contains(c models.Coord) bool {
	return c.Lat >= b.MinLat && c.Lat <= b.MaxLat && c.Lon >= b.MinLon && c.Lon <= b.MaxLon
}

type Config struct {
	SearchRadiusKm float64
	PendingTTL     time.Duration
	SweepInterval  time.Duration
	ServiceArea    BoundingBox
}

// Coordinator orchestrates request → estimate → candidate search → fan-out.
type Coordinator struct {
	geo      geo.Geo
	pricing  *pricing.Engine
	source   pricing.ConfigSource
	trips    *trip.Service
	notifier Notifier
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

func NewCoordinator(g geo.Geo, eng *pricing.Engine, src pricing.ConfigSource, trips *trip.Service, n Notifier, logger *slog.Logger, cfg Config) *Coordinator {
	if cfg.SearchRadiusKm <= 0 {
		cfg.SearchRadiusKm = 5
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 2 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{geo: g, pricing: eng, source: src, trips: trips, notifier: n, logger: logger, cfg: cfg, now: time.Now}
}

type RequestResult struct {
	Trip           *models.Trip
	CandidateCount int
}

// RequestTrip validates the request, prices it, creates the pending trip and
// kicks off candidate notification. It returns as soon as fan-out is
// initiated; acceptance is a separate, later call.
func (c *Coordinator) RequestTrip(ctx context.Context, req models.TripRequest) (RequestResult, error) {
	if req.ClientID == "" {
		return RequestResult{}, fmt.Errorf("%w: missing client id", trip.ErrValidation)
	}
	for _, pt := range []models.Coord{req.Pickup.Coord, req.Dropoff.Coord} {
		if pt.Lat < -90 || pt.Lat > 90 || pt.Lon < -180 || pt.Lon > 180 {
			return RequestResult{}, fmt.Errorf("%w: coordinates %.4f,%.4f", trip.ErrValidation, pt.Lat, pt.Lon)
		}
	}
	if c.cfg.ServiceArea.defined() {
		if !c.cfg.ServiceArea.contains(req.Pickup.Coord) || !c.cfg.ServiceArea.contains(req.Dropoff.Coord) {
			return RequestResult{}, trip.ErrOutOfServiceArea
		}
	}

	now := c.now()
	distKm := geo.DistanceKm(req.Pickup.Coord, req.Dropoff.Coord)
	price, err := c.pricing.Estimate(distKm, now, c.source.Active(now))
	if err != nil {
		return RequestResult{}, err
	}
	est := trip.Estimate{
		DistanceKm:  distKm,
		DurationMin: c.pricing.TripETA(distKm),
		Price:       price,
	}
	t, err := c.trips.Create(ctx, req.ClientID, req.Pickup, req.Dropoff, est)
	if err != nil {
		return RequestResult{}, err
	}

	cands := c.geo.Query(req.Pickup.Coord, c.cfg.SearchRadiusKm, now)
	go c.fanOut(t, cands)

	observability.TripsRequested.Inc()
	c.logger.Info("trip requested", "trip_id", t.ID, "client_id", t.ClientID,
		"distance_km", distKm, "candidates", len(cands))
	return RequestResult{Trip: t, CandidateCount: len(cands)}, nil
}

func (c *Coordinator) fanOut(t *models.Trip, cands []models.DriverPresence) {
	for _, d := range cands {
		approachKm := geo.DistanceKm(d.Loc, t.Pickup.Coord)
		offer := models.Offer{
			TripID:         t.ID,
			Pickup:         t.Pickup,
			Dropoff:        t.Dropoff,
			EstimatedPrice: t.EstimatedPrice,
			DistanceKm:     approachKm,
			EtaMinutes:     c.pricing.ApproachETA(approachKm),
		}
		if err := c.notifier.Notify(d.DriverID, offer); err != nil {
			observability.OffersFailed.Inc()
			c.logger.Warn("offer delivery failed", "trip_id", t.ID, "driver_id", d.DriverID, "error", err)
			continue
		}
		observability.OffersSent.Inc()
	}
}

type Candidate struct {
	DriverID       string  `json:"driver_id"`
	DistanceKm     float64 `json:"distance_km"`
	EtaMinutes     int     `json:"eta_minutes"`
	Rating         float64 `json:"rating"`
	TripsCompleted int     `json:"trips_completed"`
}

// ListCandidates exposes the candidate search directly, ordered nearest
// first with the approach-profile ETA.
func (c *Coordinator) ListCandidates(at models.Coord, radiusKm float64) []Candidate {
	if radiusKm <= 0 {
		radiusKm = c.cfg.SearchRadiusKm
	}
	now := c.now()
	cands := c.geo.Query(at, radiusKm, now)
	out := make([]Candidate, 0, len(cands))
	for _, d := range cands {
		distKm := geo.DistanceKm(at, d.Loc)
		out = append(out, Candidate{
			DriverID:       d.DriverID,
			DistanceKm:     distKm,
			EtaMinutes:     c.pricing.ApproachETA(distKm),
			Rating:         d.Rating,
			TripsCompleted: d.TripsCompleted,
		})
	}
	return out
}

// RunExpiry expires pending trips nobody accepted within the TTL. It is the
// coordinator's policy loop, not a lifecycle primitive; stops with ctx.
func (c *Coordinator) RunExpiry(ctx context.Context, store trip.Store) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepOnce(ctx, store)
		}
	}
}

func (c *Coordinator) sweepOnce(ctx context.Context, store trip.Store) {
	cutoff := c.now().Add(-c.cfg.PendingTTL)
	ids, err := store.ListPendingBefore(ctx, cutoff)
	if err != nil {
		c.logger.Error("expiry sweep failed", "error", err)
		return
	}
	for _, id := range ids {
		expired, err := c.trips.Expire(ctx, id)
		if err != nil {
			c.logger.Error("expire failed", "trip_id", id, "error", err)
			continue
		}
		if expired {
			observability.TripsExpired.Inc()
			c.logger.Info("trip expired", "trip_id", id)
		}
	}
}
