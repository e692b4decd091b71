package pricing

import (
	"sort"
	"sync"
	"time"

	"github.com/example/trip-dispatch/internal/models"
)

// ConfigSource supplies the pricing config active at a given instant.
type ConfigSource interface {
	Active(at time.Time) models.PricingConfig
}

// StaticSource holds immutable config snapshots and serves the most recent
// one whose EffectiveAt is not in the future.
type StaticSource struct {
	mu      sync.RWMutex
	configs []models.PricingConfig
}

func NewStaticSource(configs ...models.PricingConfig) *StaticSource {
	s := &StaticSource{}
	for _, c := range configs {
		s.Add(c)
	}
	return s
}

// Add registers a new snapshot. Existing snapshots are never mutated.
func (s *StaticSource) Add(cfg models.PricingConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append(s.configs, cfg)
	sort.Slice(s.configs, func(i, j int) bool {
		return s.configs[i].EffectiveAt.Before(s.configs[j].EffectiveAt)
	})
}

func (s *StaticSource) Active(at time.Time) models.PricingConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := DefaultConfig()
	for _, c := range s.configs {
		if !c.EffectiveAt.After(at) {
			active = c
		}
	}
	return active
}

// DefaultConfig is the fallback tariff used when no snapshot is configured.
// Amounts are in hundredths of the currency unit, like all Money values.
func DefaultConfig() models.PricingConfig {
	return models.PricingConfig{
		Base:              30000,
		PerKm:             5000,
		MinFare:           40000,
		NightMultiplier:   1.5,
		WeekendMultiplier: 1.2,
	}
}
