package safety

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/observability"
	"github.com/example/trip-dispatch/internal/trip"
)

// Alerter delivers a high-priority alert to the operator channel, distinct
// from ordinary trip notifications.
type Alerter interface {
	Alert(ctx context.Context, e models.EmergencyEvent, t models.Trip) error
}

// Service handles emergency escalation. It deliberately bypasses the trip
// state machine: an emergency in any non-terminal state, an ambiguous state
// or even a finished trip is acknowledged, because silence on this path is
// worse than a redundant alert.
type Service struct {
	store         trip.Store
	alerter       Alerter
	contactNumber string
	logger        *slog.Logger
	now           func() time.Time
}

func NewService(store trip.Store, alerter Alerter, contactNumber string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, alerter: alerter, contactNumber: contactNumber, logger: logger, now: time.Now}
}

type Ack struct {
	Acknowledged  bool   `json:"acknowledged"`
	ContactNumber string `json:"contact_number"`
}

// Trigger records an emergency event and raises the operator alert. Each
// call appends its own event; the trip flag only records "at least one".
// The only refusal is an unknown trip.
func (s *Service) Trigger(ctx context.Context, tripID, raisedBy string, at models.Coord) (Ack, error) {
	t, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return Ack{}, err
	}

	e := models.EmergencyEvent{
		ID:       trip.NewID(),
		TripID:   tripID,
		RaisedBy: raisedBy,
		Loc:      at,
		RaisedAt: s.now(),
	}
	if err := s.store.SaveEmergency(ctx, &e); err != nil {
		// Record-keeping must not block the human response path.
		s.logger.Error("emergency event append failed", "trip_id", tripID, "error", err)
	}
	if err := s.store.SetEmergency(ctx, tripID); err != nil {
		s.logger.Error("emergency flag update failed", "trip_id", tripID, "error", err)
	}
	if s.alerter != nil {
		if err := s.alerter.Alert(ctx, e, *t); err != nil {
			s.logger.Error("operator alert failed", "trip_id", tripID, "error", err)
		}
	}

	observability.EmergencyEvents.Inc()
	s.logger.Warn("emergency triggered", "trip_id", tripID, "raised_by", raisedBy,
		"lat", at.Lat, "lon", at.Lon, "trip_status", t.Status)
	return Ack{Acknowledged: true, ContactNumber: s.contactNumber}, nil
}
