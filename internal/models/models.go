package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Money is an amount in the currency's smallest denomination, hundredths of
// the unit. 825.00 is Money(82500).
type Money int64

type Place struct {
	Coord
	Address string `json:"address,omitempty"`
}

type TripStatus string

const (
	StatusPending           TripStatus = "pending"
	StatusAccepted          TripStatus = "accepted"
	StatusDriverArriving    TripStatus = "driver_arriving"
	StatusInProgress        TripStatus = "in_progress"
	StatusCompleted         TripStatus = "completed"
	StatusCancelledByClient TripStatus = "cancelled_by_client"
	StatusCancelledByDriver TripStatus = "cancelled_by_driver"
	StatusExpired           TripStatus = "expired"
	StatusAbortedByOperator TripStatus = "aborted_by_operator"
)

// Terminal reports whether s is a final state.
func (s TripStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelledByClient, StatusCancelledByDriver,
		StatusExpired, StatusAbortedByOperator:
		return true
	}
	return false
}

// Valid reports whether s is one of the enumerated statuses.
func (s TripStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDriverArriving, StatusInProgress,
		StatusCompleted, StatusCancelledByClient, StatusCancelledByDriver,
		StatusExpired, StatusAbortedByOperator:
		return true
	}
	return false
}

type Trip struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
	// DriverID is empty until a driver wins the accept race. Once set it only
	// goes back to empty when a cancellation before in_progress unbinds it.
	DriverID string `json:"driver_id,omitempty"`

	Pickup  Place `json:"pickup"`
	Dropoff Place `json:"dropoff"`

	EstimatedDistanceKm  float64 `json:"estimated_distance_km"`
	EstimatedDurationMin int     `json:"estimated_duration_min"`
	EstimatedPrice       Money   `json:"estimated_price"`
	FinalPrice           *Money  `json:"final_price,omitempty"`

	Status    TripStatus `json:"status"`
	Emergency bool       `json:"emergency"`

	CreatedAt   time.Time  `json:"created_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

type DriverPresence struct {
	DriverID       string    `json:"driver_id"`
	Loc            Coord     `json:"loc"`
	Updated        time.Time `json:"updated"`
	Available      bool      `json:"available"`
	Approved       bool      `json:"approved"`
	Rating         float64   `json:"rating"` // 0..5
	TripsCompleted int       `json:"trips_completed"`
}

type LocationSample struct {
	TripID     string    `json:"trip_id"`
	DriverID   string    `json:"driver_id"`
	Loc        Coord     `json:"loc"`
	SpeedKph   float64   `json:"speed_kph"`
	HeadingDeg float64   `json:"heading_deg"`
	RecordedAt time.Time `json:"recorded_at"`
}

type PricingConfig struct {
	Base              Money     `json:"base"`
	PerKm             Money     `json:"per_km"`
	MinFare           Money     `json:"min_fare"`
	NightMultiplier   float64   `json:"night_multiplier"`
	WeekendMultiplier float64   `json:"weekend_multiplier"`
	EffectiveAt       time.Time `json:"effective_at"`
}

type EmergencyEvent struct {
	ID       string    `json:"id"`
	TripID   string    `json:"trip_id"`
	RaisedBy string    `json:"raised_by"`
	Loc      Coord     `json:"loc"`
	RaisedAt time.Time `json:"raised_at"`
}

type Rating struct {
	ID        string    `json:"id"`
	TripID    string    `json:"trip_id"`
	RaterID   string    `json:"rater_id"`
	RatedID   string    `json:"rated_id"`
	Score     int       `json:"score"` // 1..5
	Feedback  string    `json:"feedback,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type TripRequest struct {
	ClientID string `json:"client_id"`
	Pickup   Place  `json:"pickup"`
	Dropoff  Place  `json:"dropoff"`
}

// Offer is what a candidate driver receives when a trip is dispatched.
type Offer struct {
	TripID         string  `json:"trip_id"`
	Pickup         Place   `json:"pickup"`
	Dropoff        Place   `json:"dropoff"`
	EstimatedPrice Money   `json:"estimated_price"`
	DistanceKm     float64 `json:"distance_km"`
	EtaMinutes     int     `json:"eta_minutes"`
}
