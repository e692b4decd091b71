package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/observability"
	"github.com/example/trip-dispatch/internal/trip"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}

// writeDomainError maps the error taxonomy onto HTTP statuses. Anything
// outside the taxonomy is reported as a dependency failure.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, trip.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, trip.ErrOutOfServiceArea):
		writeError(w, http.StatusUnprocessableEntity, "out_of_service_area", err.Error())
	case errors.Is(err, trip.ErrStaleOffer):
		writeError(w, http.StatusConflict, "stale_offer", err.Error())
	case errors.Is(err, trip.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, trip.ErrInvalidTransition):
		writeError(w, http.StatusUnprocessableEntity, "invalid_transition", err.Error())
	case errors.Is(err, trip.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, trip.ErrAlreadyRated):
		writeError(w, http.StatusConflict, "already_rated", err.Error())
	default:
		writeError(w, http.StatusBadGateway, "dependency_failure", "temporarily unable to process request")
	}
}

func (s *Server) handleRequestTrip(w http.ResponseWriter, r *http.Request) {
	var req models.TripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	req.ClientID = callerFrom(r.Context()).ID
	res, err := s.coordinator.RequestTrip(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"trip_id":                res.Trip.ID,
		"estimated_price":        res.Trip.EstimatedPrice,
		"estimated_distance_km":  res.Trip.EstimatedDistanceKm,
		"estimated_duration_min": res.Trip.EstimatedDurationMin,
		"candidate_count":        res.CandidateCount,
	})
}

func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "lat and lon are required")
		return
	}
	radiusKm := 0.0
	if v := q.Get("radius_km"); v != "" {
		radiusKm, _ = strconv.ParseFloat(v, 64)
	}
	cands := s.coordinator.ListCandidates(models.Coord{Lat: lat, Lon: lon}, radiusKm)
	writeJSON(w, http.StatusOK, map[string]any{"candidates": cands})
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	t, err := s.trips.Get(r.Context(), tripID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	caller := callerFrom(r.Context())
	if caller.Role != "admin" && caller.ID != t.ClientID && caller.ID != t.DriverID {
		writeError(w, http.StatusForbidden, "unauthorized", "not a trip participant")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	driverID := callerFrom(r.Context()).ID
	t, err := s.trips.Accept(r.Context(), tripID, driverID)
	if err != nil {
		outcome := "error"
		if errors.Is(err, trip.ErrStaleOffer) {
			outcome = "stale_offer"
		}
		observability.AcceptAttempts.WithLabelValues(outcome).Inc()
		writeDomainError(w, err)
		return
	}
	observability.AcceptAttempts.WithLabelValues("won").Inc()
	writeJSON(w, http.StatusOK, t)
}

type statusRequest struct {
	Status     models.TripStatus `json:"status"`
	FinalPrice *models.Money     `json:"final_price,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	caller := callerFrom(r.Context())
	var (
		t   *models.Trip
		err error
	)
	if req.Status == models.StatusAbortedByOperator {
		if caller.Role != "admin" {
			writeError(w, http.StatusForbidden, "unauthorized", "operator abort requires admin role")
			return
		}
		t, err = s.trips.Abort(r.Context(), tripID, caller.ID)
	} else {
		t, err = s.trips.SetStatus(r.Context(), tripID, caller.ID, req.Status, req.FinalPrice)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if t.Status.Terminal() {
		s.stream.Hub().Close(t.ID)
	}
	writeJSON(w, http.StatusOK, t)
}

type locationReport struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	SpeedKph   float64 `json:"speed_kph"`
	HeadingDeg float64 `json:"heading_deg"`
}

func (s *Server) handleTripLocation(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	var rep locationReport
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	driverID := callerFrom(r.Context()).ID
	err := s.stream.ReportTrip(r.Context(), tripID, driverID,
		models.Coord{Lat: rep.Lat, Lon: rep.Lon}, rep.SpeedKph, rep.HeadingDeg)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	var p models.DriverPresence
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if err := s.stream.ReportPresence(r.Context(), p); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSOS(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	var rep locationReport
	// Location is optional on the SOS path; a bad body must not refuse help.
	_ = json.NewDecoder(r.Body).Decode(&rep)
	ack, err := s.safety.Trigger(r.Context(), tripID, callerFrom(r.Context()).ID,
		models.Coord{Lat: rep.Lat, Lon: rep.Lon})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

type ratingRequest struct {
	RatedID  string `json:"rated_id"`
	Score    int    `json:"score"`
	Feedback string `json:"feedback,omitempty"`
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	var req ratingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	rating, err := s.trips.Rate(r.Context(), tripID, callerFrom(r.Context()).ID, req.RatedID, req.Score, req.Feedback)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"rating_id": rating.ID})
}
