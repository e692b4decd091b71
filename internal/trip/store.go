package trip

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/example/trip-dispatch/internal/models"
)

// Store is the persistence contract for trips and their append-only trails.
// CompareAndSwap is the single atomic primitive the accept race relies on:
// the apply function runs under the trip's critical section only when the
// current status equals from, and nothing is written otherwise.
type Store interface {
	CreateTrip(ctx context.Context, t *models.Trip) error
	GetTrip(ctx context.Context, id string) (*models.Trip, error)
	CompareAndSwap(ctx context.Context, id string, from models.TripStatus, apply func(*models.Trip)) (*models.Trip, bool, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	SetEmergency(ctx context.Context, id string) error
	SaveRating(ctx context.Context, r *models.Rating) error
	SaveSample(ctx context.Context, s *models.LocationSample) error
	SaveEmergency(ctx context.Context, e *models.EmergencyEvent) error
}

// MemoryStore keeps everything in process. Each trip carries its own mutex,
// so accept races on different trips never contend with each other.
type MemoryStore struct {
	mu      sync.RWMutex
	trips   map[string]*tripEntry
	ratings map[string]models.Rating
	samples []models.LocationSample
	events  []models.EmergencyEvent
}

type tripEntry struct {
	mu sync.Mutex
	t  models.Trip
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trips:   make(map[string]*tripEntry),
		ratings: make(map[string]models.Rating),
	}
}

func (m *MemoryStore) CreateTrip(ctx context.Context, t *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[t.ID]; ok {
		return fmt.Errorf("%w: trip %s already exists", ErrValidation, t.ID)
	}
	m.trips[t.ID] = &tripEntry{t: *t}
	return nil
}

func (m *MemoryStore) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	m.mu.RLock()
	e, ok := m.trips[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.t
	return &t, nil
}

func (m *MemoryStore) CompareAndSwap(ctx context.Context, id string, from models.TripStatus, apply func(*models.Trip)) (*models.Trip, bool, error) {
	m.mu.RLock()
	e, ok := m.trips[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.t.Status != from {
		t := e.t
		return &t, false, nil
	}
	apply(&e.t)
	t := e.t
	return &t, true, nil
}

func (m *MemoryStore) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, e := range m.trips {
		e.mu.Lock()
		if e.t.Status == models.StatusPending && e.t.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
		e.mu.Unlock()
	}
	return ids, nil
}

func (m *MemoryStore) SetEmergency(ctx context.Context, id string) error {
	m.mu.RLock()
	e, ok := m.trips[id]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	e.t.Emergency = true
	e.mu.Unlock()
	return nil
}

func (m *MemoryStore) SaveRating(ctx context.Context, r *models.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := r.TripID + "/" + r.RaterID
	if _, ok := m.ratings[key]; ok {
		return ErrAlreadyRated
	}
	m.ratings[key] = *r
	return nil
}

func (m *MemoryStore) SaveSample(ctx context.Context, s *models.LocationSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, *s)
	return nil
}

func (m *MemoryStore) SaveEmergency(ctx context.Context, e *models.EmergencyEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *e)
	return nil
}

// Samples returns the recorded trail for a trip in append order.
func (m *MemoryStore) Samples(tripID string) []models.LocationSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.LocationSample
	for _, s := range m.samples {
		if s.TripID == tripID {
			out = append(out, s)
		}
	}
	return out
}

// Emergencies returns the recorded emergency events for a trip.
func (m *MemoryStore) Emergencies(tripID string) []models.EmergencyEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.EmergencyEvent
	for _, e := range m.events {
		if e.TripID == tripID {
			out = append(out, e)
		}
	}
	return out
}

// NewID returns a random 16-hex-char identifier.
func NewID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
