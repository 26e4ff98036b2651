// Package device derives the per-install fingerprint used for license seat
// accounting. The fingerprint is a stable hex sha256, not a security identity.
package device

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Strategy names which path produced the fingerprint.
type Strategy string

const (
	StrategyHardware Strategy = "hardware"
	StrategyFallback Strategy = "fallback"
)

// Identity computes the device fingerprint once per process.
type Identity struct {
	source SignalSource
	logger *slog.Logger

	once        sync.Once
	fingerprint string
	strategy    Strategy
	components  []string
}

// Option configures an Identity.
type Option func(*Identity)

// WithSignalSource replaces the primary hardware source.
func WithSignalSource(src SignalSource) Option {
	return func(i *Identity) { i.source = src }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Identity) { i.logger = l }
}

// NewIdentity creates an Identity backed by HardwareSignals unless overridden.
func NewIdentity(opts ...Option) *Identity {
	i := &Identity{
		source: HardwareSignals{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With(slog.String("component", "device_identity"))
	return i
}

// Fingerprint returns the device fingerprint. The first call computes it; later
// calls return the cached value. It never fails.
func (i *Identity) Fingerprint(ctx context.Context) string {
	i.once.Do(func() { i.compute(ctx) })
	return i.fingerprint
}

// Strategy reports which path produced the fingerprint.
func (i *Identity) Strategy(ctx context.Context) Strategy {
	i.Fingerprint(ctx)
	return i.strategy
}

// Components returns the names of the signals that fed the fingerprint, in
// hash order. Values are never exposed.
func (i *Identity) Components(ctx context.Context) []string {
	i.Fingerprint(ctx)
	out := make([]string, len(i.components))
	copy(out, i.components)
	return out
}

func (i *Identity) compute(ctx context.Context) {
	start := time.Now()
	signals, err := i.primary(ctx)
	if err == nil && len(signals) == 0 {
		err = ErrNoHardwareSignals
	}
	if err != nil {
		i.logger.WarnContext(ctx, "hardware fingerprint unavailable, using fallback",
			slog.String("error", err.Error()))
		signals = fallbackSignals()
		i.strategy = StrategyFallback
	} else {
		i.strategy = StrategyHardware
	}

	i.fingerprint = hashSignals(signals)
	i.components = make([]string, 0, len(signals))
	for _, s := range signals {
		i.components = append(i.components, s.Name)
	}

	i.logger.InfoContext(ctx, "device fingerprint computed",
		slog.String("fingerprint_prefix", i.fingerprint[:12]),
		slog.String("strategy", string(i.strategy)),
		slog.Duration("duration", time.Since(start)),
	)
}

// primary runs the signal source, converting a panic into an error.
func (i *Identity) primary(ctx context.Context) (signals []Signal, err error) {
	if i.source == nil {
		return nil, ErrNoHardwareSignals
	}
	defer func() {
		if r := recover(); r != nil {
			signals, err = nil, fmt.Errorf("signal source panicked: %v", r)
		}
	}()
	return i.source.Signals(ctx)
}

func hashSignals(signals []Signal) string {
	values := make([]string, len(signals))
	for n, s := range signals {
		values[n] = s.Value
	}
	sum := sha256.Sum256([]byte(strings.Join(values, "|")))
	return hex.EncodeToString(sum[:])
}

// fallbackSignals are coarse values that are always readable.
func fallbackSignals() []Signal {
	// Fixed reference date so DST does not change the zone name.
	zone, _ := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.Local).Zone()
	signals := []Signal{
		{Name: "tag", Value: "fallback:"},
		{Name: "os", Value: runtime.GOOS},
		{Name: "platform", Value: runtime.GOARCH},
		{Name: "cpu_count", Value: strconv.Itoa(runtime.NumCPU())},
		{Name: "timezone", Value: zone},
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		signals = append(signals, Signal{Name: "hostname", Value: host})
	}
	return signals
}
