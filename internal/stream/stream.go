package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/trip-dispatch/internal/geo"
	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/observability"
	"github.com/example/trip-dispatch/internal/trip"
)

// Service ingests periodic position reports. Idle reports refresh driver
// presence; active-trip reports additionally append to the trip's trail and
// fan out to subscribers.
type Service struct {
	geo      geo.Geo
	store    trip.Store
	hub      *Hub
	producer *KafkaProducer // optional
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(g geo.Geo, store trip.Store, hub *Hub, producer *KafkaProducer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{geo: g, store: store, hub: hub, producer: producer, logger: logger, now: time.Now}
}

func (s *Service) Hub() *Hub { return s.hub }

// ReportPresence handles idle-mode reporting. Position and freshness come
// from the report; availability and approval survive from the known entry so
// a position ping can never flip a driver back into the candidate pool.
func (s *Service) ReportPresence(ctx context.Context, p models.DriverPresence) error {
	if p.DriverID == "" {
		return fmt.Errorf("%w: missing driver id", trip.ErrValidation)
	}
	if p.Updated.IsZero() {
		p.Updated = s.now()
	}
	if prev, ok := s.geo.Get(p.DriverID); ok {
		p.Available = prev.Available
		p.Approved = prev.Approved
		if p.Rating == 0 {
			p.Rating = prev.Rating
		}
		if p.TripsCompleted == 0 {
			p.TripsCompleted = prev.TripsCompleted
		}
	}
	s.geo.Upsert(p)
	if s.producer != nil {
		if err := s.producer.PublishPresence(ctx, p); err != nil {
			s.logger.Warn("presence publish failed", "driver_id", p.DriverID, "error", err)
		}
	}
	observability.PresenceUpdates.Inc()
	return nil
}

// ReportTrip handles active-trip reporting. Accepted only while the trip is
// in progress and the reporter is the bound driver.
func (s *Service) ReportTrip(ctx context.Context, tripID, driverID string, loc models.Coord, speedKph, headingDeg float64) error {
	t, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return err
	}
	if t.Status != models.StatusInProgress || t.DriverID != driverID {
		return fmt.Errorf("%w: trip %s is %s", trip.ErrUnauthorized, tripID, t.Status)
	}

	sample := models.LocationSample{
		TripID:     tripID,
		DriverID:   driverID,
		Loc:        loc,
		SpeedKph:   speedKph,
		HeadingDeg: headingDeg,
		RecordedAt: s.now(),
	}
	// A failed append degrades to "no durable trail entry this cycle"; the
	// live update still goes out.
	if err := s.store.SaveSample(ctx, &sample); err != nil {
		s.logger.Error("sample append failed", "trip_id", tripID, "error", err)
	}

	if prev, ok := s.geo.Get(driverID); ok {
		prev.Loc = loc
		prev.Updated = sample.RecordedAt
		s.geo.Upsert(prev)
	}

	s.hub.Publish(sample)
	if s.producer != nil {
		if err := s.producer.PublishSample(ctx, sample); err != nil {
			s.logger.Warn("sample publish failed", "trip_id", tripID, "error", err)
		}
	}
	observability.LocationSamples.Inc()
	return nil
}
