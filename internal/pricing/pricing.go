package pricing

import (
	"fmt"
	"math"
	"time"

	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/trip"
)

// Engine computes fare and ETA estimates. Estimation is pure: the same
// inputs always produce the same outputs, nothing is stored.
type Engine struct {
	// Average speeds for the two ETA profiles: trip duration shown to the
	// client, and driver approach time shown alongside candidates.
	TripSpeedKmh     float64
	ApproachSpeedKmh float64
}

const approachETAFloorMin = 3

func NewEngine(tripSpeedKmh, approachSpeedKmh float64) *Engine {
	if tripSpeedKmh <= 0 {
		tripSpeedKmh = 40
	}
	if approachSpeedKmh <= 0 {
		approachSpeedKmh = 30
	}
	return &Engine{TripSpeedKmh: tripSpeedKmh, ApproachSpeedKmh: approachSpeedKmh}
}

// Estimate computes the fare for a trip of distanceKm starting at the local
// time at. Night hours [22,24)+[0,6) and weekends multiply the fare, night
// first; the result is clamped to the minimum fare and rounded to the
// nearest 10 smallest-denomination units, half away from zero.
func (e *Engine) Estimate(distanceKm float64, at time.Time, cfg models.PricingConfig) (models.Money, error) {
	if distanceKm < 0 {
		return 0, fmt.Errorf("%w: negative distance %.1f", trip.ErrValidation, distanceKm)
	}
	fare := float64(cfg.Base) + distanceKm*float64(cfg.PerKm)
	if isNight(at) {
		fare *= cfg.NightMultiplier
	}
	if isWeekend(at) {
		fare *= cfg.WeekendMultiplier
	}
	if min := float64(cfg.MinFare); fare < min {
		fare = min
	}
	return roundTo10(fare), nil
}

// TripETA estimates trip duration in minutes at the trip speed profile.
func (e *Engine) TripETA(distanceKm float64) int {
	return EstimateETA(distanceKm, e.TripSpeedKmh)
}

// ApproachETA estimates driver arrival in minutes at the approach speed
// profile, floored so the UI never shows an unrealistically small value.
func (e *Engine) ApproachETA(distanceKm float64) int {
	eta := EstimateETA(distanceKm, e.ApproachSpeedKmh)
	if eta < approachETAFloorMin {
		eta = approachETAFloorMin
	}
	return eta
}

// EstimateETA returns round(distanceKm/avgSpeedKmh * 60) minutes.
func EstimateETA(distanceKm, avgSpeedKmh float64) int {
	if avgSpeedKmh <= 0 {
		avgSpeedKmh = 30
	}
	return int(math.Round(distanceKm / avgSpeedKmh * 60))
}

func isNight(at time.Time) bool {
	h := at.Hour()
	return h >= 22 || h < 6
}

func isWeekend(at time.Time) bool {
	wd := at.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// roundTo10 rounds to the nearest multiple of 10, half away from zero.
func roundTo10(v float64) models.Money {
	q := v / 10
	var r float64
	if q >= 0 {
		r = math.Floor(q + 0.5)
	} else {
		r = math.Ceil(q - 0.5)
	}
	return models.Money(r) * 10
}
