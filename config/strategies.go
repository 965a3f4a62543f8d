package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// StrategySpec is one strategy entry in the strategies file.
type StrategySpec struct {
	ID                 string  `yaml:"id"`
	Account            string  `yaml:"account"`
	Name               string  `yaml:"name"`
	SlugTemplate       string  `yaml:"slug_template"`
	IntervalSeconds    int64   `yaml:"interval_seconds"`
	WindowStartSeconds int64   `yaml:"window_start_seconds"`
	WindowEndSeconds   int64   `yaml:"window_end_seconds"`
	MinPrice           float64 `yaml:"min_price"`
	MaxPrice           float64 `yaml:"max_price"`
	AmountMode         string  `yaml:"amount_mode"`
	AmountValue        float64 `yaml:"amount_value"`
	MinSpreadMode      string  `yaml:"min_spread_mode"`
	MinSpreadValue     float64 `yaml:"min_spread_value"`
	Symbol             string  `yaml:"symbol"`
	Enabled            *bool   `yaml:"enabled"`
}

// IsEnabled treats a missing enabled key as true.
func (s *StrategySpec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type strategiesFile struct {
	Strategies []StrategySpec `yaml:"strategies"`
}

// LoadStrategies reads and validates the strategies file.
func LoadStrategies(path string) ([]StrategySpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read strategies file: %w", err)
	}
	var f strategiesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse strategies file: %w", err)
	}
	for i := range f.Strategies {
		spec := &f.Strategies[i]
		if spec.MinSpreadMode == "" {
			spec.MinSpreadMode = "NONE"
		}
		if result := spec.Validate(); !result.Valid {
			return nil, &ConfigValidationError{Errors: result.Errors}
		}
	}
	return f.Strategies, nil
}

// StrategiesObserver is notified when the strategy set is reloaded.
type StrategiesObserver interface {
	OnStrategiesUpdate(specs []StrategySpec)
}

// LiveStrategies is a thread-safe holder for the loaded strategy set that
// supports hot-reload from the strategies file.
type LiveStrategies struct {
	path string

	mu    sync.RWMutex
	specs []StrategySpec

	obsMu     sync.RWMutex
	observers []StrategiesObserver

	lastUpdated time.Time
}

// NewLiveStrategies loads the strategies file and returns a holder bound
// to it for later reloads.
func NewLiveStrategies(path string) (*LiveStrategies, error) {
	specs, err := LoadStrategies(path)
	if err != nil {
		return nil, err
	}
	return &LiveStrategies{
		path:        path,
		specs:       specs,
		lastUpdated: time.Now(),
	}, nil
}

// Get returns a copy of the current strategy specs.
func (ls *LiveStrategies) Get() []StrategySpec {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	out := make([]StrategySpec, len(ls.specs))
	copy(out, ls.specs)
	return out
}

// AddObserver registers an observer for strategy reloads.
func (ls *LiveStrategies) AddObserver(o StrategiesObserver) {
	ls.obsMu.Lock()
	defer ls.obsMu.Unlock()
	ls.observers = append(ls.observers, o)
}

// Reload re-reads the strategies file, swaps the set atomically and
// notifies observers. A file that fails to load or validate leaves the
// current set untouched.
func (ls *LiveStrategies) Reload() error {
	specs, err := LoadStrategies(ls.path)
	if err != nil {
		return err
	}

	ls.mu.Lock()
	ls.specs = specs
	ls.lastUpdated = time.Now()
	ls.mu.Unlock()

	ls.obsMu.RLock()
	observers := make([]StrategiesObserver, len(ls.observers))
	copy(observers, ls.observers)
	ls.obsMu.RUnlock()

	// Notify outside the lock to avoid deadlocks.
	for _, o := range observers {
		o.OnStrategiesUpdate(specs)
	}
	return nil
}

// LastUpdated returns when the strategy set last changed.
func (ls *LiveStrategies) LastUpdated() time.Time {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.lastUpdated
}
