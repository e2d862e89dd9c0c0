package availability

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"reserva/internal/model"
)

// ErrUnresolved is returned when a decision is requested before any config was loaded.
var ErrUnresolved = errors.New("availability config not loaded")

// Loader fetches an availability config from some source.
type Loader interface {
	LoadAvailability(ctx context.Context) (*Config, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (*Config, error)

func (f LoaderFunc) LoadAvailability(ctx context.Context) (*Config, error) {
	return f(ctx)
}

// Store holds the active config and resolves dates against it.
type Store struct {
	mu          sync.RWMutex
	cfg         *Config
	cutoffHour  int
	loc         *time.Location
	now         func() time.Time
	subscribers []func(*Config)
	logger      *zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithCutoffHour overrides the same-day cutoff hour.
func WithCutoffHour(hour int) Option {
	return func(s *Store) {
		if hour > 0 && hour <= 24 {
			s.cutoffHour = hour
		}
	}
}

// WithLocation sets the venue time zone used for "today".
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(logger *zerolog.Logger, opts ...Option) *Store {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "availability").Logger()
	s := &Store{
		cutoffHour: DefaultCutoffHour,
		loc:        time.Local,
		now:        time.Now,
		logger:     &l,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load fetches the config from loader. On failure the default config is used
// and the error is only logged.
func (s *Store) Load(ctx context.Context, loader Loader) {
	cfg, err := loader.LoadAvailability(ctx)
	if err == nil && cfg == nil {
		err = errors.New("loader returned no config")
	}
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("availability config unavailable, using defaults")
		cfg = DefaultConfig()
	}
	s.Set(cfg)
}

// Set replaces the active config and notifies subscribers.
func (s *Store) Set(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	subs := append([]func(*Config){}, s.subscribers...)
	s.mu.Unlock()

	s.logger.Info().
		Int("exceptions", len(cfg.Exceptions)).
		Int("blocked_dates", len(cfg.BlockedDates)).
		Msg("availability config applied")

	for _, fn := range subs {
		fn(cfg)
	}
}

// Config returns the active config or nil.
func (s *Store) Config() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Loaded reports whether a config is present.
func (s *Store) Loaded() bool {
	return s.Config() != nil
}

// Subscribe registers fn to run after every config change.
func (s *Store) Subscribe(fn func(*Config)) {
	s.mu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.mu.Unlock()
}

// Now returns the current time in the venue time zone.
func (s *Store) Now() time.Time {
	return s.now().In(s.loc)
}

// Resolve returns the decision for date against the active config.
func (s *Store) Resolve(date model.Date) (Decision, error) {
	cfg := s.Config()
	if cfg == nil {
		return Decision{}, ErrUnresolved
	}
	return resolve(date, s.Now(), cfg, s.cutoffHour), nil
}
