package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/example/trip-dispatch/internal/dispatch"
	"github.com/example/trip-dispatch/internal/geo"
	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/pricing"
	"github.com/example/trip-dispatch/internal/safety"
	"github.com/example/trip-dispatch/internal/stream"
	"github.com/example/trip-dispatch/internal/trip"
)

type testEnv struct {
	server *Server
	store  *trip.MemoryStore
	trips  *trip.Service
	idx    *geo.Index
	wsreg  *dispatch.WSRegistry
}

type noopNotifier struct{}

func (noopNotifier) Notify(string, models.Offer) error { return nil }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := trip.NewMemoryStore()
	idx := geo.NewIndex(10*time.Minute, 20)
	trips := trip.NewService(store, idx, nil)
	eng := pricing.NewEngine(40, 30)
	src := pricing.NewStaticSource(pricing.DefaultConfig())
	coord := dispatch.NewCoordinator(idx, eng, src, trips, noopNotifier{}, nil, dispatch.Config{})
	str := stream.NewService(idx, store, stream.NewHub(), nil, nil)
	saf := safety.NewService(store, nil, "112", nil)
	wsreg := dispatch.NewWSRegistry()
	srv := NewServer(coord, trips, str, saf, wsreg, nil, nil)
	return &testEnv{server: srv, store: store, trips: trips, idx: idx, wsreg: wsreg}
}

func (e *testEnv) do(t *testing.T, method, path, callerID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if callerID != "" {
		req.Header.Set("X-Caller-ID", callerID)
	}
	if role != "" {
		req.Header.Set("X-Caller-Role", role)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func tripRequestBody() map[string]any {
	return map[string]any{
		"pickup":  map[string]any{"lat": 10, "lon": 10},
		"dropoff": map[string]any{"lat": 10.05, "lon": 10.05},
	}
}

func TestMissingIdentityIsRejected(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/v1/trips/request", "", "", tripRequestBody())
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if decodeBody(t, rec)["error"] != "missing_identity" {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestRequestTrip(t *testing.T) {
	env := newTestEnv(t)
	env.idx.Upsert(models.DriverPresence{DriverID: "d1", Loc: models.Coord{Lat: 10.001, Lon: 10}, Updated: time.Now(), Available: true, Approved: true})

	rec := env.do(t, "POST", "/api/v1/trips/request", "client-1", "client", tripRequestBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["trip_id"] == "" {
		t.Fatal("missing trip_id")
	}
	if body["candidate_count"].(float64) != 1 {
		t.Fatalf("candidate_count = %v", body["candidate_count"])
	}
	if body["estimated_price"].(float64) <= 0 {
		t.Fatalf("estimated_price = %v", body["estimated_price"])
	}
}

func TestRequestTripBadCoordinates(t *testing.T) {
	env := newTestEnv(t)
	body := tripRequestBody()
	body["pickup"] = map[string]any{"lat": 95, "lon": 10}
	rec := env.do(t, "POST", "/api/v1/trips/request", "client-1", "client", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAcceptRaceOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/v1/trips/request", "client-1", "client", tripRequestBody())
	tripID := decodeBody(t, rec)["trip_id"].(string)

	const drivers = 8
	codes := make(chan int, drivers)
	var wg sync.WaitGroup
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r := env.do(t, "POST", "/api/v1/trips/"+tripID+"/accept", fmt.Sprintf("d%d", n), "driver", nil)
			codes <- r.Code
		}(i)
	}
	wg.Wait()
	close(codes)

	won, stale := 0, 0
	for code := range codes {
		switch code {
		case http.StatusOK:
			won++
		case http.StatusConflict:
			stale++
		default:
			t.Fatalf("unexpected status %d", code)
		}
	}
	if won != 1 || stale != drivers-1 {
		t.Fatalf("won=%d stale=%d", won, stale)
	}
}

func TestGetTripParticipantsOnly(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/v1/trips/request", "client-1", "client", tripRequestBody())
	tripID := decodeBody(t, rec)["trip_id"].(string)

	if r := env.do(t, "GET", "/api/v1/trips/"+tripID, "client-1", "client", nil); r.Code != http.StatusOK {
		t.Fatalf("client read: %d", r.Code)
	}
	if r := env.do(t, "GET", "/api/v1/trips/"+tripID, "stranger", "client", nil); r.Code != http.StatusForbidden {
		t.Fatalf("stranger read: %d", r.Code)
	}
	if r := env.do(t, "GET", "/api/v1/trips/"+tripID, "ops-1", "admin", nil); r.Code != http.StatusOK {
		t.Fatalf("admin read: %d", r.Code)
	}
	if r := env.do(t, "GET", "/api/v1/trips/missing", "client-1", "client", nil); r.Code != http.StatusNotFound {
		t.Fatalf("missing trip: %d", r.Code)
	}
}

func TestStatusTransitionsOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.idx.Upsert(models.DriverPresence{DriverID: "d1", Loc: models.Coord{Lat: 10.001, Lon: 10}, Updated: time.Now(), Available: true, Approved: true})
	rec := env.do(t, "POST", "/api/v1/trips/request", "client-1", "client", tripRequestBody())
	tripID := decodeBody(t, rec)["trip_id"].(string)
	if r := env.do(t, "POST", "/api/v1/trips/"+tripID+"/accept", "d1", "driver", nil); r.Code != http.StatusOK {
		t.Fatalf("accept: %d", r.Code)
	}

	// jumping straight to completed from accepted is not a legal edge
	r := env.do(t, "POST", "/api/v1/trips/"+tripID+"/status", "d1", "driver", map[string]any{"status": "completed"})
	if r.Code != http.StatusUnprocessableEntity {
		t.Fatalf("illegal edge: %d, body %s", r.Code, r.Body.String())
	}

	for _, next := range []string{"driver_arriving", "in_progress"} {
		r = env.do(t, "POST", "/api/v1/trips/"+tripID+"/status", "d1", "driver", map[string]any{"status": next})
		if r.Code != http.StatusOK {
			t.Fatalf("%s: %d, body %s", next, r.Code, r.Body.String())
		}
	}

	// operator abort requires the admin role
	r = env.do(t, "POST", "/api/v1/trips/"+tripID+"/status", "d1", "driver", map[string]any{"status": "aborted_by_operator"})
	if r.Code != http.StatusForbidden {
		t.Fatalf("driver abort: %d", r.Code)
	}
	r = env.do(t, "POST", "/api/v1/trips/"+tripID+"/status", "ops-1", "admin", map[string]any{"status": "aborted_by_operator"})
	if r.Code != http.StatusOK {
		t.Fatalf("admin abort: %d, body %s", r.Code, r.Body.String())
	}
}

func TestCompleteWithFinalPrice(t *testing.T) {
	env := newTestEnv(t)
	env.idx.Upsert(models.DriverPresence{DriverID: "d1", Loc: models.Coord{Lat: 10.001, Lon: 10}, Updated: time.Now(), Available: true, Approved: true})
	rec := env.do(t, "POST", "/api/v1/trips/request", "client-1", "client", tripRequestBody())
	tripID := decodeBody(t, rec)["trip_id"].(string)
	env.do(t, "POST", "/api/v1/trips/"+tripID+"/accept", "d1", "driver", nil)
	env.do(t, "POST", "/api/v1/trips/"+tripID+"/status", "d1", "driver", map[string]any{"status": "in_progress"})

	r := env.do(t, "POST", "/api/v1/trips/"+tripID+"/status", "d1", "driver", map[string]any{"status": "completed", "final_price": 99000})
	if r.Code != http.StatusOK {
		t.Fatalf("complete: %d, body %s", r.Code, r.Body.String())
	}
	var got models.Trip
	if err := json.Unmarshal(r.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode trip: %v", err)
	}
	if got.FinalPrice == nil || *got.FinalPrice != 99000 {
		t.Fatalf("final price = %v", got.FinalPrice)
	}
}

func TestTripLocationAndWrongDriver(t *testing.T) {
	env := newTestEnv(t)
	env.idx.Upsert(models.DriverPresence{DriverID: "d1", Loc: models.Coord{Lat: 10.001, Lon: 10}, Updated: time.Now(), Available: true, Approved: true})
	rec := env.do(t, "POST", "/api/v1/trips/request", "client-1", "client", tripRequestBody())
	tripID := decodeBody(t, rec)["trip_id"].(string)
	env.do(t, "POST", "/api/v1/trips/"+tripID+"/accept", "d1", "driver", nil)
	env.do(t, "POST", "/api/v1/trips/"+tripID+"/status", "d1", "driver", map[string]any{"status": "in_progress"})

	report := map[string]any{"lat": 10.002, "lon": 10.002, "speed_kph": 35, "heading_deg": 90}
	if r := env.do(t, "POST", "/api/v1/trips/"+tripID+"/location", "d1", "driver", report); r.Code != http.StatusNoContent {
		t.Fatalf("bound driver report: %d", r.Code)
	}
	if r := env.do(t, "POST", "/api/v1/trips/"+tripID+"/location", "d2", "driver", report); r.Code != http.StatusForbidden {
		t.Fatalf("other driver report: %d", r.Code)
	}
	if got := env.store.Samples(tripID); len(got) != 1 {
		t.Fatalf("trail has %d samples, want 1", len(got))
	}
}

func TestSOSAcknowledgesEvenWithBadBody(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/v1/trips/request", "client-1", "client", tripRequestBody())
	tripID := decodeBody(t, rec)["trip_id"].(string)

	req := httptest.NewRequest("POST", "/api/v1/trips/"+tripID+"/sos", bytes.NewBufferString("{garbage"))
	req.Header.Set("X-Caller-ID", "client-1")
	r := httptest.NewRecorder()
	env.server.ServeHTTP(r, req)
	if r.Code != http.StatusOK {
		t.Fatalf("sos with bad body: %d", r.Code)
	}
	body := decodeBody(t, r)
	if body["acknowledged"] != true || body["contact_number"] != "112" {
		t.Fatalf("ack = %v", body)
	}
	if got := env.store.Emergencies(tripID); len(got) != 1 {
		t.Fatalf("recorded %d events, want 1", len(got))
	}
}

func TestRateOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.idx.Upsert(models.DriverPresence{DriverID: "d1", Loc: models.Coord{Lat: 10.001, Lon: 10}, Updated: time.Now(), Available: true, Approved: true})
	rec := env.do(t, "POST", "/api/v1/trips/request", "client-1", "client", tripRequestBody())
	tripID := decodeBody(t, rec)["trip_id"].(string)
	env.do(t, "POST", "/api/v1/trips/"+tripID+"/accept", "d1", "driver", nil)
	env.do(t, "POST", "/api/v1/trips/"+tripID+"/status", "d1", "driver", map[string]any{"status": "in_progress"})
	env.do(t, "POST", "/api/v1/trips/"+tripID+"/status", "d1", "driver", map[string]any{"status": "completed"})

	body := map[string]any{"rated_id": "d1", "score": 5, "feedback": "smooth ride"}
	if r := env.do(t, "POST", "/api/v1/trips/"+tripID+"/rating", "client-1", "client", body); r.Code != http.StatusCreated {
		t.Fatalf("first rating: %d, body %s", r.Code, r.Body.String())
	}
	if r := env.do(t, "POST", "/api/v1/trips/"+tripID+"/rating", "client-1", "client", body); r.Code != http.StatusConflict {
		t.Fatalf("second rating: %d", r.Code)
	}
	body = map[string]any{"rated_id": "d1", "score": 9}
	if r := env.do(t, "POST", "/api/v1/trips/"+tripID+"/rating", "client-1", "client", body); r.Code != http.StatusBadRequest {
		t.Fatalf("out of range score: %d", r.Code)
	}
}

func TestHealthzNeedsNoIdentity(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/healthz", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
}
