package trip

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/trip-dispatch/internal/models"
)

// Availability is the slice of the geo index the lifecycle needs: flipping a
// driver out of the candidate pool at acceptance and back at termination.
type Availability interface {
	SetAvailability(driverID string, available bool) bool
}

// allowedTransitions is the trip state flow as code. Acceptance is not here:
// it has its own entry point because it additionally binds the driver.
// in_progress deliberately has no cancellation edge; once underway a trip
// ends in completed or an operator-forced abort.
var allowedTransitions = map[models.TripStatus][]models.TripStatus{
	models.StatusPending: {
		models.StatusCancelledByClient,
		models.StatusCancelledByDriver,
		models.StatusExpired,
	},
	models.StatusAccepted: {
		models.StatusDriverArriving,
		models.StatusInProgress,
		models.StatusCancelledByClient,
		models.StatusCancelledByDriver,
	},
	models.StatusDriverArriving: {
		models.StatusInProgress,
		models.StatusCancelledByClient,
		models.StatusCancelledByDriver,
	},
	models.StatusInProgress: {
		models.StatusCompleted,
		models.StatusAbortedByOperator,
	},
}

// CanTransition reports whether from→to is an allowed status edge.
func CanTransition(from, to models.TripStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Service owns every trip status mutation.
type Service struct {
	store  Store
	geo    Availability
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, geo Availability, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, geo: geo, logger: logger, now: time.Now}
}

type Estimate struct {
	DistanceKm  float64
	DurationMin int
	Price       models.Money
}

func (s *Service) Create(ctx context.Context, clientID string, pickup, dropoff models.Place, est Estimate) (*models.Trip, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: missing client id", ErrValidation)
	}
	t := &models.Trip{
		ID:                   NewID(),
		ClientID:             clientID,
		Pickup:               pickup,
		Dropoff:              dropoff,
		EstimatedDistanceKm:  est.DistanceKm,
		EstimatedDurationMin: est.DurationMin,
		EstimatedPrice:       est.Price,
		Status:               models.StatusPending,
		CreatedAt:            s.now(),
	}
	if err := s.store.CreateTrip(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) Get(ctx context.Context, tripID string) (*models.Trip, error) {
	return s.store.GetTrip(ctx, tripID)
}

// Accept resolves the single-winner race. Concurrent calls for the same
// pending trip all funnel through the store's compare-and-swap; exactly one
// observes pending and binds its driver, the rest get ErrStaleOffer. The
// availability flip is bookkeeping and happens after the decision commits.
func (s *Service) Accept(ctx context.Context, tripID, driverID string) (*models.Trip, error) {
	if driverID == "" {
		return nil, fmt.Errorf("%w: missing driver id", ErrValidation)
	}
	now := s.now()
	t, swapped, err := s.store.CompareAndSwap(ctx, tripID, models.StatusPending, func(t *models.Trip) {
		t.Status = models.StatusAccepted
		t.DriverID = driverID
		t.AcceptedAt = &now
	})
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, fmt.Errorf("%w: trip %s is %s", ErrStaleOffer, tripID, t.Status)
	}
	if s.geo != nil && !s.geo.SetAvailability(driverID, false) {
		s.logger.Warn("accept: driver unknown to geo index", "trip_id", tripID, "driver_id", driverID)
	}
	s.logger.Info("trip accepted", "trip_id", tripID, "driver_id", driverID)
	return t, nil
}

// SetStatus applies a caller-initiated transition. The mutation is
// all-or-nothing: on any failure the trip is left untouched.
func (s *Service) SetStatus(ctx context.Context, tripID, callerID string, next models.TripStatus, finalPrice *models.Money) (*models.Trip, error) {
	if !next.Valid() || next == models.StatusPending || next == models.StatusAccepted ||
		next == models.StatusExpired || next == models.StatusAbortedByOperator {
		// accepted is reached through Accept, the rest are not caller states.
		return nil, fmt.Errorf("%w: cannot set status %q", ErrInvalidTransition, next)
	}
	cur, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if callerID == "" || (callerID != cur.ClientID && callerID != cur.DriverID) {
		return nil, fmt.Errorf("%w: %s on trip %s", ErrUnauthorized, callerID, tripID)
	}
	switch next {
	case models.StatusCancelledByClient:
		if callerID != cur.ClientID {
			return nil, fmt.Errorf("%w: only the client may set %s", ErrUnauthorized, next)
		}
	case models.StatusCancelledByDriver, models.StatusDriverArriving, models.StatusInProgress:
		if callerID != cur.DriverID {
			return nil, fmt.Errorf("%w: only the bound driver may set %s", ErrUnauthorized, next)
		}
	}
	if !CanTransition(cur.Status, next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, next)
	}
	return s.transition(ctx, tripID, cur.Status, next, finalPrice)
}

// Abort is the operator-forced termination of an in-progress trip. It is a
// distinct administrative edge, not an extension of normal cancellation.
func (s *Service) Abort(ctx context.Context, tripID, operatorID string) (*models.Trip, error) {
	if operatorID == "" {
		return nil, fmt.Errorf("%w: missing operator id", ErrValidation)
	}
	t, err := s.transition(ctx, tripID, models.StatusInProgress, models.StatusAbortedByOperator, nil)
	if err != nil {
		return nil, err
	}
	s.logger.Warn("trip aborted by operator", "trip_id", tripID, "operator_id", operatorID)
	return t, nil
}

// Expire moves a pending trip nobody accepted into the expired terminal
// state. The timing policy lives in the dispatch coordinator; this is just
// the conditional edge. Returns false when the trip is no longer pending.
func (s *Service) Expire(ctx context.Context, tripID string) (bool, error) {
	now := s.now()
	_, swapped, err := s.store.CompareAndSwap(ctx, tripID, models.StatusPending, func(t *models.Trip) {
		t.Status = models.StatusExpired
		t.EndedAt = &now
	})
	if err != nil {
		return false, err
	}
	return swapped, nil
}

func (s *Service) transition(ctx context.Context, tripID string, from, next models.TripStatus, finalPrice *models.Money) (*models.Trip, error) {
	now := s.now()
	var freedDriver string
	t, swapped, err := s.store.CompareAndSwap(ctx, tripID, from, func(t *models.Trip) {
		t.Status = next
		switch next {
		case models.StatusInProgress:
			t.StartedAt = &now
		case models.StatusCompleted:
			t.CompletedAt = &now
			t.EndedAt = &now
			price := t.EstimatedPrice
			if finalPrice != nil {
				price = *finalPrice
			}
			t.FinalPrice = &price
			freedDriver = t.DriverID
		case models.StatusCancelledByClient, models.StatusCancelledByDriver, models.StatusAbortedByOperator:
			t.EndedAt = &now
			freedDriver = t.DriverID
			t.DriverID = ""
		}
	})
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, fmt.Errorf("%w: trip %s changed to %s concurrently", ErrInvalidTransition, tripID, t.Status)
	}
	if freedDriver != "" && s.geo != nil {
		s.geo.SetAvailability(freedDriver, true)
	}
	s.logger.Info("trip transition", "trip_id", tripID, "from", from, "to", next)
	return t, nil
}

// Rate records a post-trip rating, once per (trip, rater).
func (s *Service) Rate(ctx context.Context, tripID, raterID, ratedID string, score int, feedback string) (*models.Rating, error) {
	if score < 1 || score > 5 {
		return nil, fmt.Errorf("%w: score %d out of range", ErrValidation, score)
	}
	t, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.Status != models.StatusCompleted {
		return nil, fmt.Errorf("%w: trip %s is %s, only completed trips are rated", ErrValidation, tripID, t.Status)
	}
	if raterID != t.ClientID && raterID != t.DriverID {
		return nil, fmt.Errorf("%w: %s on trip %s", ErrUnauthorized, raterID, tripID)
	}
	r := &models.Rating{
		ID:        NewID(),
		TripID:    tripID,
		RaterID:   raterID,
		RatedID:   ratedID,
		Score:     score,
		Feedback:  feedback,
		CreatedAt: s.now(),
	}
	if err := s.store.SaveRating(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}
