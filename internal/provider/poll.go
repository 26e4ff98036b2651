package provider

import (
	"context"
	"time"

	"fontlens/internal/config"
	"fontlens/internal/settings"
)

// Poll re-derives the Local capability every interval while it reports
// downloading, calling onUpdate with each result. It returns the last
// capability once Local is ready or unavailable, or when ctx is done.
func Poll(ctx context.Context, s *Selector, interval time.Duration, onUpdate func(Capability)) Capability {
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		c := s.CapabilitiesOf(ctx, settings.ModeLocal)
		notify(ctx, s, onUpdate, c)
		if c.State != StateDownloading {
			return c
		}
		select {
		case <-ctx.Done():
			return c
		case <-ticker.C:
		}
	}
}

func notify(ctx context.Context, s *Selector, onUpdate func(Capability), c Capability) {
	if onUpdate == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "poll callback panicked", "panic", r)
		}
	}()
	onUpdate(c)
}
