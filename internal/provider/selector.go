// Package provider decides which AI backend may serve an operation.
//
// Remote availability is a credential check with no network traffic. Local
// availability comes from a LocalProbe of the on-device runtime. Every probe
// failure is reported as an unavailable capability with a reason; nothing in
// this package returns an error or panics to its caller.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"fontlens/internal/settings"
)

// State is the availability of one provider mode.
type State string

const (
	StateNotChecked  State = "not_checked"
	StateAvailable   State = "available"
	StateUnavailable State = "unavailable"
	StateDownloading State = "downloading"
)

// Capability is the derived availability of a mode.
type Capability struct {
	Mode   settings.Mode `json:"mode"`
	State  State         `json:"state"`
	Reason string        `json:"reason,omitempty"`
}

// Validation tells the caller whether mode can be used now, and if not,
// whether switching to remote is worth trying.
type Validation struct {
	Valid          bool   `json:"valid"`
	Error          string `json:"error,omitempty"`
	ShouldFallback bool   `json:"should_fallback"`
}

// Decision is the mode an operation will run in.
type Decision struct {
	Operation  Operation     `json:"operation"`
	Mode       settings.Mode `json:"mode"`
	FellBack   bool          `json:"fell_back"`
	Validation Validation    `json:"validation"`
}

// Preferences is the part of the settings store the selector reads.
type Preferences interface {
	Mode(ctx context.Context) settings.Mode
	HasAPIKey(ctx context.Context) bool
}

// Selector derives capabilities fresh on every call. It keeps the last
// result per mode for display only.
type Selector struct {
	prefs  Preferences
	probe  LocalProbe
	logger *slog.Logger

	fallbacks metric.Int64Counter

	mu   sync.RWMutex
	last map[settings.Mode]Capability
}

// Option configures a Selector.
type Option func(*Selector)

// WithMeter sets the meter for the fallback counter.
func WithMeter(m metric.Meter) Option {
	return func(s *Selector) {
		c, err := m.Int64Counter("fontlens_provider_fallbacks_total",
			metric.WithDescription("Operations switched to remote by availability or compatibility"))
		if err == nil {
			s.fallbacks = c
		}
	}
}

// NewSelector creates a Selector. probe may be nil, in which case Local is
// always unavailable.
func NewSelector(prefs Preferences, probe LocalProbe, logger *slog.Logger, opts ...Option) *Selector {
	s := &Selector{
		prefs:  prefs,
		probe:  probe,
		logger: logger.With(slog.String("component", "provider_selector")),
		last: map[settings.Mode]Capability{
			settings.ModeRemote: {Mode: settings.ModeRemote, State: StateNotChecked},
			settings.ModeLocal:  {Mode: settings.ModeLocal, State: StateNotChecked},
		},
	}
	WithMeter(otel.Meter("fontlens/provider"))(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CapabilitiesOf derives the current availability of mode.
func (s *Selector) CapabilitiesOf(ctx context.Context, mode settings.Mode) Capability {
	var c Capability
	switch mode {
	case settings.ModeRemote:
		c = s.remote(ctx)
	case settings.ModeLocal:
		c = s.local(ctx)
	default:
		return Capability{Mode: mode, State: StateUnavailable, Reason: fmt.Sprintf("unknown provider mode %q", mode)}
	}
	s.mu.Lock()
	s.last[mode] = c
	s.mu.Unlock()
	return c
}

// Last returns the most recent result for mode without probing. Modes never
// checked report not_checked.
func (s *Selector) Last(mode settings.Mode) Capability {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.last[mode]; ok {
		return c
	}
	return Capability{Mode: mode, State: StateNotChecked}
}

func (s *Selector) remote(ctx context.Context) (c Capability) {
	c = Capability{Mode: settings.ModeRemote}
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "credential check panicked", slog.Any("panic", r))
			c.State, c.Reason = StateUnavailable, "could not read the remote API key"
		}
	}()
	if s.prefs == nil || !s.prefs.HasAPIKey(ctx) {
		c.State, c.Reason = StateUnavailable, "no remote API key is configured"
		return c
	}
	c.State = StateAvailable
	return c
}

func (s *Selector) local(ctx context.Context) (c Capability) {
	c = Capability{Mode: settings.ModeLocal}
	if s.probe == nil {
		c.State, c.Reason = StateUnavailable, "on-device AI is not supported on this system"
		return c
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "local probe panicked", slog.Any("panic", r))
			c.State, c.Reason = StateUnavailable, "on-device AI check failed unexpectedly"
		}
	}()

	avail, err := s.probe.Availability(ctx)
	if err != nil {
		s.logger.DebugContext(ctx, "local probe failed", slog.String("error", err.Error()))
		c.State, c.Reason = StateUnavailable, "on-device AI could not be reached: "+err.Error()
		return c
	}
	switch avail {
	case AvailabilityReady:
		c.State = StateAvailable
	case AvailabilityDownloading:
		c.State, c.Reason = StateDownloading, "the on-device model is still downloading"
	case AvailabilityNo:
		c.State, c.Reason = StateUnavailable, "on-device AI is disabled or unsupported"
	default:
		c.State, c.Reason = StateUnavailable, fmt.Sprintf("on-device AI reported %q", avail)
	}
	return c
}

// Validate checks whether mode can serve a request now. Local that is not
// ready asks the caller to fall back; remote without a key has nowhere to go.
func (s *Selector) Validate(ctx context.Context, mode settings.Mode) Validation {
	c := s.CapabilitiesOf(ctx, mode)
	if c.State == StateAvailable {
		return Validation{Valid: true}
	}
	switch mode {
	case settings.ModeLocal:
		return Validation{Error: c.Reason, ShouldFallback: true}
	case settings.ModeRemote:
		return Validation{Error: "Remote AI needs an API key. Add one in settings to continue."}
	default:
		return Validation{Error: c.Reason}
	}
}

// Resolve picks the mode op will run in. An empty preferred mode reads the
// saved preference. Remote-only operations and unusable Local both resolve
// to remote, marked FellBack.
func (s *Selector) Resolve(ctx context.Context, op Operation, preferred settings.Mode) Decision {
	if preferred == "" {
		preferred = s.preferred(ctx)
	} else if m, err := settings.ParseMode(string(preferred)); err == nil {
		preferred = m
	} else {
		preferred = settings.ModeRemote
	}

	if preferred == settings.ModeLocal && RequiresRemote(op) {
		s.fellBack(ctx, op, "remote_only")
		return Decision{Operation: op, Mode: settings.ModeRemote, FellBack: true, Validation: s.Validate(ctx, settings.ModeRemote)}
	}

	v := s.Validate(ctx, preferred)
	if !v.Valid && v.ShouldFallback {
		s.fellBack(ctx, op, "local_unavailable")
		return Decision{Operation: op, Mode: settings.ModeRemote, FellBack: true, Validation: s.Validate(ctx, settings.ModeRemote)}
	}
	return Decision{Operation: op, Mode: preferred, Validation: v}
}

func (s *Selector) preferred(ctx context.Context) (mode settings.Mode) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "reading provider preference panicked", slog.Any("panic", r))
			mode = settings.ModeRemote
		}
	}()
	if s.prefs == nil {
		return settings.ModeRemote
	}
	return s.prefs.Mode(ctx)
}

func (s *Selector) fellBack(ctx context.Context, op Operation, reason string) {
	s.logger.InfoContext(ctx, "operation routed to remote",
		slog.String("operation", string(op)), slog.String("reason", reason))
	if s.fallbacks != nil {
		s.fallbacks.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", string(op)),
			attribute.String("reason", reason)))
	}
}
