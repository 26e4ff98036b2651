package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"time"

	"fontlens/internal/config"
)

// Availability is what the on-device runtime reports about its model.
type Availability string

const (
	AvailabilityReady       Availability = "ready"
	AvailabilityDownloading Availability = "downloading"
	AvailabilityNo          Availability = "no"
)

// LocalProbe asks the on-device runtime whether its model can be used.
type LocalProbe interface {
	Availability(ctx context.Context) (Availability, error)
}

// ProbeFunc adapts a function to LocalProbe.
type ProbeFunc func(ctx context.Context) (Availability, error)

// Availability implements LocalProbe.
func (f ProbeFunc) Availability(ctx context.Context) (Availability, error) { return f(ctx) }

// HTTPProbe queries the runtime's availability endpoint, which answers
// {"available":"ready|downloading|no"}. A refused connection or a 404 means
// the runtime is absent and reads as "no".
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

// NewHTTPProbe builds a probe from provider config.
func NewHTTPProbe(cfg config.ProviderConfig) *HTTPProbe {
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	url := cfg.LocalProbeURL
	if url == "" {
		url = config.DefaultLocalProbeURL
	}
	return &HTTPProbe{URL: url, Client: &http.Client{Timeout: timeout}}
}

type availabilityReply struct {
	Available *string `json:"available"`
}

// Availability implements LocalProbe.
func (p *HTTPProbe) Availability(ctx context.Context) (Availability, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return "", fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return AvailabilityNo, nil
		}
		return "", fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return AvailabilityNo, nil
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("probe returned status %d", resp.StatusCode)
	}

	var reply availabilityReply
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&reply); err != nil {
		return "", fmt.Errorf("decoding probe reply: %w", err)
	}
	if reply.Available == nil {
		return "", errors.New("probe reply has no availability field")
	}
	switch a := Availability(*reply.Available); a {
	case AvailabilityReady, AvailabilityDownloading, AvailabilityNo:
		return a, nil
	default:
		return "", fmt.Errorf("unknown availability %q", a)
	}
}
