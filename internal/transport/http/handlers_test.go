package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"fontlens/internal/cache"
	"fontlens/internal/config"
	"fontlens/internal/device"
	licenseErrors "fontlens/internal/errors"
	"fontlens/internal/kvstore"
	"fontlens/internal/license"
	"fontlens/internal/provider"
	"fontlens/internal/settings"
	"fontlens/internal/shared/testutil"
	"fontlens/internal/websocket"
)

type fakeLicense struct {
	mu            sync.Mutex
	status        license.ValidationResult
	activated     []string
	deactivateErr error
}

func (f *fakeLicense) Status() license.ValidationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeLicense) setState(s license.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = license.ValidationResult{Valid: s.Grants(), State: s}
}

func (f *fakeLicense) failDeactivate(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivateErr = err
}

func (f *fakeLicense) activations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.activated...)
}

func (f *fakeLicense) Activate(_ context.Context, key string) license.ValidationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activated = append(f.activated, key)
	if key == "GOOD-KEY-0001" {
		f.status = license.ValidationResult{Valid: true, State: license.StateValid, Tier: "pro"}
		return f.status
	}
	return license.ValidationResult{
		State:       f.status.State,
		Code:        licenseErrors.CodeKeyNotFound,
		Message:     licenseErrors.MessageFor(licenseErrors.CodeKeyNotFound),
		Remediation: licenseErrors.RemediationFor(licenseErrors.CodeKeyNotFound),
	}
}

func (f *fakeLicense) Deactivate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deactivateErr != nil {
		return f.deactivateErr
	}
	f.status = license.ValidationResult{State: license.StateInvalid}
	return nil
}

func (f *fakeLicense) GetInfo(context.Context) (*license.Info, error) {
	seats := 3
	return &license.Info{LicenseKey: "GOOD****0001", MaxDevices: &seats}, nil
}

func (f *fakeLicense) Health() license.ComponentHealth {
	st := f.Status()
	status := license.HealthStatusDegraded
	if st.State == license.StateValid {
		status = license.HealthStatusHealthy
	}
	return license.ComponentHealth{Status: status, Metadata: map[string]interface{}{"state": string(st.State)}}
}

type fakeDevice struct{}

func (fakeDevice) Fingerprint(context.Context) string { return strings.Repeat("ab", 32) }

func (fakeDevice) Strategy(context.Context) device.Strategy { return device.StrategyHardware }

func (fakeDevice) Components(context.Context) []string { return []string{"mac", "hostname", "cpu"} }

type harness struct {
	srv     *httptest.Server
	license *fakeLicense
	cache   *cache.Cache
	probe   *probeState
}

type probeState struct {
	mu    sync.Mutex
	avail provider.Availability
}

func (p *probeState) Availability(context.Context) (provider.Availability, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.avail, nil
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	// Connection goroutines may log after the test returns, so records are
	// buffered without t.Log.
	logger := slog.New(testutil.NewBufferedSlogHandler(nil))

	cfg := config.Default()
	cfg.Security.RateLimit.Enabled = false
	cfg.Provider.PollInterval = 10 * time.Millisecond

	kv := kvstore.NewMemory(0)
	meter := metricnoop.NewMeterProvider().Meter("test")
	prefs := settings.New(kv, cfg.Provider, logger)
	probe := &probeState{avail: provider.AvailabilityNo}
	h := &harness{
		license: &fakeLicense{status: license.ValidationResult{State: license.StateUnvalidated}},
		cache:   cache.New(kv, cfg.Cache, logger, cache.WithMeter(meter)),
		probe:   probe,
	}

	router, err := NewRouter(cfg, Dependencies{
		License:  h.license,
		Settings: prefs,
		Cache:    h.cache,
		Device:   fakeDevice{},
		Selector: provider.NewSelector(prefs, probe, logger, provider.WithMeter(meter)),
		Metrics:  http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics\n")) }),
		Tracer:   tracenoop.NewTracerProvider().Tracer("test"),
		Meter:    meter,
		Logger:   logger,
	})
	require.NoError(t, err)
	h.srv = httptest.NewServer(router)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var req *http.Request
	var err error
	if body == "" {
		req, err = http.NewRequest(method, h.srv.URL+path, nil)
	} else {
		req, err = http.NewRequest(method, h.srv.URL+path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var raw any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
		if m, ok := raw.(map[string]any); ok {
			out = m
		} else {
			out = map[string]any{"items": raw}
		}
	}
	return resp, out
}

func TestHealthIsUngated(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, config.AppVersion, body["version"])
	assert.Contains(t, body["components"], "license")
}

func TestGatedRoutesRequireLicense(t *testing.T) {
	h := newHarness(t)

	for _, path := range []string{"/api/provider/capabilities", "/api/settings/provider", "/api/cache/stats"} {
		resp, body := h.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode, path)
		assert.Equal(t, "LICENSE_REQUIRED", body["error_code"], path)
		assert.Equal(t, "unvalidated", body["state"], path)
	}

	h.license.setState(license.StateOfflineGrace)
	resp, _ := h.do(t, http.MethodGet, "/api/cache/stats", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestActivate(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodPost, "/api/license/activate", `{"license_key":"GOOD-KEY-0001"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "valid", body["state"])

	resp, body = h.do(t, http.MethodPost, "/api/license/activate", `{"license_key":"MISSING-KEY-9"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "KEY_NOT_FOUND", body["code"])
	assert.NotEmpty(t, body["remediation"])
}

func TestActivateRejectsBadBodies(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"empty", "", http.StatusBadRequest, "INVALID_REQUEST"},
		{"malformed", `{"license_key":`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing key", `{}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"bad characters", `{"license_key":"not a key!"}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"unknown field", `{"license_key":"GOOD-KEY-0001","tier":"pro"}`, http.StatusBadRequest, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/api/license/activate", strings.NewReader(tt.body))
			require.NoError(t, err)
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, body["error_code"])
		})
	}
	assert.Empty(t, h.license.activations())
}

func TestDeactivate(t *testing.T) {
	h := newHarness(t)
	h.license.setState(license.StateValid)

	resp, body := h.do(t, http.MethodPost, "/api/license/deactivate", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "invalid", body["state"])

	h.license.failDeactivate(licenseErrors.NewError(licenseErrors.CodeNotConfigured, nil))
	resp, body = h.do(t, http.MethodPost, "/api/license/deactivate", "")
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	assert.Equal(t, "NOT_CONFIGURED", body["error_code"])
	assert.NotEmpty(t, body["remediation"])
}

func TestLicenseInfo(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodGet, "/api/license/info", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "GOOD****0001", body["license_key"])
	assert.EqualValues(t, 3, body["max_devices"])
}

func TestProviderSettingsNeverExposeKey(t *testing.T) {
	h := newHarness(t)
	h.license.setState(license.StateValid)

	resp, body := h.do(t, http.MethodGet, "/api/settings/provider", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "remote", body["mode"])
	assert.Equal(t, false, body["has_api_key"])

	resp, body = h.do(t, http.MethodPut, "/api/settings/provider", `{"mode":"local","api_key":"sk-secret-value"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "local", body["mode"])
	assert.Equal(t, true, body["has_api_key"])
	assert.NotContains(t, body, "api_key")

	resp, body = h.do(t, http.MethodPut, "/api/settings/provider", `{"mode":"cloud"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", body["error_code"])

	resp, body = h.do(t, http.MethodPut, "/api/settings/provider", `{"api_key":""}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["has_api_key"])
	assert.Equal(t, "local", body["mode"])
}

func TestCapabilitiesAndResolve(t *testing.T) {
	h := newHarness(t)
	h.license.setState(license.StateValid)

	resp, body := h.do(t, http.MethodGet, "/api/provider/capabilities", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items, ok := body["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Equal(t, "unavailable", items[0].(map[string]any)["state"], "remote without a key")

	h.probe.mu.Lock()
	h.probe.avail = provider.AvailabilityReady
	h.probe.mu.Unlock()
	resp, body = h.do(t, http.MethodGet, "/api/provider/capabilities?mode=local", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "available", body["state"])

	resp, _ = h.do(t, http.MethodGet, "/api/provider/capabilities?mode=cloud", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = h.do(t, http.MethodGet, "/api/provider/resolve?operation=analyze_image&mode=local", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "remote", body["mode"])
	assert.Equal(t, true, body["fell_back"])

	resp, body = h.do(t, http.MethodGet, "/api/provider/resolve?operation=compare_fonts&mode=local", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "local", body["mode"])
	assert.Equal(t, false, body["fell_back"])

	resp, body = h.do(t, http.MethodGet, "/api/provider/resolve?operation=render_poster", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", body["error_code"])
}

func TestValidateMode(t *testing.T) {
	h := newHarness(t)
	h.license.setState(license.StateValid)

	resp, body := h.do(t, http.MethodPost, "/api/provider/validate", `{"mode":"local"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, true, body["should_fallback"])

	resp, body = h.do(t, http.MethodPost, "/api/provider/validate", `{"mode":"remote"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, false, body["should_fallback"])
}

func TestCacheStatsAndClear(t *testing.T) {
	h := newHarness(t)
	h.license.setState(license.StateValid)
	ctx := context.Background()
	h.cache.Put(ctx, cache.MakeKey(cache.KindGoogleFont, cache.GoogleFontIdentity("Inter", "regular")), map[string]string{"family": "Inter"})
	h.cache.Put(ctx, cache.MakeKey(cache.KindGoogleFont, cache.GoogleFontIdentity("Lora", "italic")), map[string]string{"family": "Lora"})

	resp, body := h.do(t, http.MethodGet, "/api/cache/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["count"])

	resp, body = h.do(t, http.MethodDelete, "/api/cache", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["removed"])

	_, body = h.do(t, http.MethodGet, "/api/cache/stats", "")
	assert.EqualValues(t, 0, body["count"])
}

func TestDeviceShowsPrefixOnly(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodGet, "/api/device", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "abababababab", body["fingerprint"])
	assert.Equal(t, "hardware", body["strategy"])
}

func TestUnknownRouteIsProblem(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "/api/nope", body["instance"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLocalCapabilityStream(t *testing.T) {
	h := newHarness(t)
	h.license.setState(license.StateValid)
	h.probe.mu.Lock()
	h.probe.avail = provider.AvailabilityDownloading
	h.probe.mu.Unlock()

	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(h.srv.URL, "http")+"/ws/provider/local", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first websocket.Message
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "capability", first.Type)
	assert.Equal(t, "downloading", first.Data.(map[string]any)["state"])

	h.probe.mu.Lock()
	h.probe.avail = provider.AvailabilityReady
	h.probe.mu.Unlock()

	var last websocket.Message
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, gorillaws.IsCloseError(err, gorillaws.CloseNormalClosure), "got %v", err)
			break
		}
		require.NoError(t, json.Unmarshal(raw, &last))
	}
	assert.Equal(t, "available", last.Data.(map[string]any)["state"])
}

func TestLocalCapabilityStreamIsGated(t *testing.T) {
	h := newHarness(t)

	_, resp, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(h.srv.URL, "http")+"/ws/provider/local", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}
