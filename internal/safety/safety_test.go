package safety

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/trip-dispatch/internal/geo"
	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/trip"
)

type captureAlerter struct {
	events []models.EmergencyEvent
	trips  []models.Trip
	err    error
}

func (a *captureAlerter) Alert(ctx context.Context, e models.EmergencyEvent, t models.Trip) error {
	a.events = append(a.events, e)
	a.trips = append(a.trips, t)
	return a.err
}

func safetyFixture(t *testing.T, alerter Alerter) (*Service, *trip.Service, *trip.MemoryStore, *geo.Index) {
	t.Helper()
	store := trip.NewMemoryStore()
	idx := geo.NewIndex(10*time.Minute, 20)
	trips := trip.NewService(store, idx, nil)
	return NewService(store, alerter, "112", nil), trips, store, idx
}

func makeTrip(t *testing.T, trips *trip.Service) *models.Trip {
	t.Helper()
	tr, err := trips.Create(context.Background(), "client-1",
		models.Place{Coord: models.Coord{Lat: 10, Lon: 10}},
		models.Place{Coord: models.Coord{Lat: 10.05, Lon: 10.05}},
		trip.Estimate{DistanceKm: 6.2, DurationMin: 10, Price: 61000})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return tr
}

func TestTriggerAcknowledgesAndRecords(t *testing.T) {
	alerter := &captureAlerter{}
	svc, trips, store, _ := safetyFixture(t, alerter)
	ctx := context.Background()
	tr := makeTrip(t, trips)

	ack, err := svc.Trigger(ctx, tr.ID, "client-1", models.Coord{Lat: 10.01, Lon: 10.01})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if !ack.Acknowledged || ack.ContactNumber != "112" {
		t.Fatalf("ack = %+v", ack)
	}

	events := store.Emergencies(tr.ID)
	if len(events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(events))
	}
	if events[0].RaisedBy != "client-1" || events[0].Loc.Lat != 10.01 {
		t.Fatalf("event = %+v", events[0])
	}
	got, _ := store.GetTrip(ctx, tr.ID)
	if !got.Emergency {
		t.Fatal("trip emergency flag not set")
	}
	if len(alerter.events) != 1 {
		t.Fatalf("alerter called %d times, want 1", len(alerter.events))
	}
}

func TestTriggerAppendsOneEventPerCall(t *testing.T) {
	svc, trips, store, _ := safetyFixture(t, &captureAlerter{})
	ctx := context.Background()
	tr := makeTrip(t, trips)

	for i := 0; i < 3; i++ {
		if _, err := svc.Trigger(ctx, tr.ID, "client-1", models.Coord{Lat: 10, Lon: 10}); err != nil {
			t.Fatalf("trigger %d: %v", i, err)
		}
	}
	if got := len(store.Emergencies(tr.ID)); got != 3 {
		t.Fatalf("recorded %d events, want 3", got)
	}
}

func TestTriggerWorksOnFinishedTrips(t *testing.T) {
	svc, trips, _, idx := safetyFixture(t, &captureAlerter{})
	ctx := context.Background()
	tr := makeTrip(t, trips)

	idx.Upsert(models.DriverPresence{DriverID: "d1", Loc: models.Coord{Lat: 10, Lon: 10}, Updated: time.Now(), Available: true, Approved: true})
	_, _ = trips.Accept(ctx, tr.ID, "d1")
	_, _ = trips.SetStatus(ctx, tr.ID, "d1", models.StatusInProgress, nil)
	if _, err := trips.SetStatus(ctx, tr.ID, "d1", models.StatusCompleted, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	ack, err := svc.Trigger(ctx, tr.ID, "client-1", models.Coord{Lat: 10, Lon: 10})
	if err != nil || !ack.Acknowledged {
		t.Fatalf("trigger on completed trip: ack=%+v err=%v", ack, err)
	}
}

func TestTriggerUnknownTrip(t *testing.T) {
	svc, _, _, _ := safetyFixture(t, &captureAlerter{})
	if _, err := svc.Trigger(context.Background(), "missing", "client-1", models.Coord{}); !errors.Is(err, trip.ErrNotFound) {
		t.Fatalf("got %v, want not found", err)
	}
}

func TestAlerterFailureDoesNotBlockAck(t *testing.T) {
	alerter := &captureAlerter{err: errors.New("broker down")}
	svc, trips, _, _ := safetyFixture(t, alerter)
	tr := makeTrip(t, trips)

	ack, err := svc.Trigger(context.Background(), tr.ID, "client-1", models.Coord{Lat: 10, Lon: 10})
	if err != nil || !ack.Acknowledged {
		t.Fatalf("alert failure leaked to caller: ack=%+v err=%v", ack, err)
	}
}
