package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fontlens/internal/config"
	"fontlens/internal/settings"
	"fontlens/internal/shared/testutil"
)

type fakePrefs struct {
	mode   settings.Mode
	hasKey bool
}

func (f fakePrefs) Mode(context.Context) settings.Mode { return f.mode }
func (f fakePrefs) HasAPIKey(context.Context) bool     { return f.hasKey }

func probeReturning(a Availability, err error) LocalProbe {
	return ProbeFunc(func(context.Context) (Availability, error) { return a, err })
}

func newSelector(t *testing.T, prefs Preferences, probe LocalProbe) *Selector {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	return NewSelector(prefs, probe, logger)
}

func TestRemoteCapabilityIsCredentialCheck(t *testing.T) {
	ctx := context.Background()

	s := newSelector(t, fakePrefs{hasKey: true}, nil)
	assert.Equal(t, StateAvailable, s.CapabilitiesOf(ctx, settings.ModeRemote).State)

	s = newSelector(t, fakePrefs{}, nil)
	c := s.CapabilitiesOf(ctx, settings.ModeRemote)
	assert.Equal(t, StateUnavailable, c.State)
	assert.NotEmpty(t, c.Reason)

	s = newSelector(t, nil, nil)
	assert.Equal(t, StateUnavailable, s.CapabilitiesOf(ctx, settings.ModeRemote).State)
}

func TestLocalCapabilityStates(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name  string
		probe LocalProbe
		want  State
	}{
		{"ready", probeReturning(AvailabilityReady, nil), StateAvailable},
		{"downloading", probeReturning(AvailabilityDownloading, nil), StateDownloading},
		{"no", probeReturning(AvailabilityNo, nil), StateUnavailable},
		{"unknown answer", probeReturning("maybe", nil), StateUnavailable},
		{"probe error", probeReturning("", errors.New("api missing")), StateUnavailable},
		{"nil probe", nil, StateUnavailable},
		{"probe panics", ProbeFunc(func(context.Context) (Availability, error) { panic("boom") }), StateUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newSelector(t, fakePrefs{}, tc.probe)
			var c Capability
			require.NotPanics(t, func() { c = s.CapabilitiesOf(ctx, settings.ModeLocal) })
			assert.Equal(t, tc.want, c.State)
			if tc.want != StateAvailable {
				assert.NotEmpty(t, c.Reason)
			}
		})
	}
}

func TestLastReportsNotCheckedUntilProbed(t *testing.T) {
	s := newSelector(t, fakePrefs{}, probeReturning(AvailabilityReady, nil))
	assert.Equal(t, StateNotChecked, s.Last(settings.ModeLocal).State)

	s.CapabilitiesOf(context.Background(), settings.ModeLocal)
	assert.Equal(t, StateAvailable, s.Last(settings.ModeLocal).State)
}

func TestValidate(t *testing.T) {
	ctx := context.Background()

	s := newSelector(t, fakePrefs{}, probeReturning(AvailabilityNo, nil))
	v := s.Validate(ctx, settings.ModeLocal)
	assert.False(t, v.Valid)
	assert.True(t, v.ShouldFallback, "local unavailable may fall back to remote")

	v = s.Validate(ctx, settings.ModeRemote)
	assert.False(t, v.Valid)
	assert.False(t, v.ShouldFallback, "remote without a key has no fallback")
	assert.NotEmpty(t, v.Error)

	s = newSelector(t, fakePrefs{hasKey: true}, probeReturning(AvailabilityDownloading, nil))
	v = s.Validate(ctx, settings.ModeLocal)
	assert.False(t, v.Valid)
	assert.True(t, v.ShouldFallback)
	assert.Equal(t, Validation{Valid: true}, s.Validate(ctx, settings.ModeRemote))

	assert.False(t, s.Validate(ctx, settings.Mode("hybrid")).Valid)
}

func TestCompatibilityTable(t *testing.T) {
	assert.True(t, RequiresRemote(OpAnalyzeFontFile))
	assert.True(t, RequiresRemote(OpAnalyzeImage))
	assert.False(t, RequiresRemote(OpAnalyzeGoogleFont))
	assert.False(t, RequiresRemote(OpCompareFonts))
	assert.False(t, RequiresRemote(OpSuggestPairings))
	assert.True(t, RequiresRemote(Operation("render_glyphs")), "unknown operations are remote-only")

	modes := AllowedModes(OpCompareFonts)
	modes[0] = "tampered"
	assert.Equal(t, []settings.Mode{settings.ModeRemote, settings.ModeLocal}, AllowedModes(OpCompareFonts))
	assert.Len(t, Operations(), 5)
}

func TestResolveForcesRemoteForImageOperations(t *testing.T) {
	probeCalls := 0
	probe := ProbeFunc(func(context.Context) (Availability, error) {
		probeCalls++
		return AvailabilityReady, nil
	})
	s := newSelector(t, fakePrefs{mode: settings.ModeLocal, hasKey: true}, probe)

	d := s.Resolve(context.Background(), OpAnalyzeImage, "")
	assert.Equal(t, settings.ModeRemote, d.Mode)
	assert.True(t, d.FellBack)
	assert.True(t, d.Validation.Valid)
	assert.Zero(t, probeCalls, "local is never considered for image payloads")
}

func TestResolveFallsBackFromUnavailableLocal(t *testing.T) {
	s := newSelector(t, fakePrefs{mode: settings.ModeRemote, hasKey: true}, probeReturning(AvailabilityDownloading, nil))

	d := s.Resolve(context.Background(), OpCompareFonts, settings.ModeLocal)
	assert.Equal(t, settings.ModeRemote, d.Mode)
	assert.True(t, d.FellBack)
	assert.True(t, d.Validation.Valid)
}

func TestResolveUsesSavedPreference(t *testing.T) {
	s := newSelector(t, fakePrefs{mode: settings.ModeLocal}, probeReturning(AvailabilityReady, nil))

	d := s.Resolve(context.Background(), OpSuggestPairings, "")
	assert.Equal(t, settings.ModeLocal, d.Mode)
	assert.False(t, d.FellBack)
	assert.True(t, d.Validation.Valid)
}

func TestResolveRemoteWithoutKeyDoesNotFallBack(t *testing.T) {
	s := newSelector(t, fakePrefs{mode: settings.ModeRemote}, probeReturning(AvailabilityReady, nil))

	d := s.Resolve(context.Background(), OpCompareFonts, "")
	assert.Equal(t, settings.ModeRemote, d.Mode)
	assert.False(t, d.FellBack)
	assert.False(t, d.Validation.Valid)
}

func TestPollUntilReady(t *testing.T) {
	var n atomic.Int32
	probe := ProbeFunc(func(context.Context) (Availability, error) {
		if n.Add(1) < 3 {
			return AvailabilityDownloading, nil
		}
		return AvailabilityReady, nil
	})
	s := newSelector(t, fakePrefs{}, probe)

	var updates []State
	final := Poll(context.Background(), s, time.Millisecond, func(c Capability) { updates = append(updates, c.State) })

	assert.Equal(t, StateAvailable, final.State)
	assert.Equal(t, []State{StateDownloading, StateDownloading, StateAvailable}, updates)
}

func TestPollStopsOnCancel(t *testing.T) {
	s := newSelector(t, fakePrefs{}, probeReturning(AvailabilityDownloading, nil))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Capability, 1)
	go func() { done <- Poll(ctx, s, time.Hour, nil) }()
	cancel()

	select {
	case c := <-done:
		assert.Equal(t, StateDownloading, c.State)
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not stop after cancel")
	}
}

func TestPollSurvivesCallbackPanic(t *testing.T) {
	s := newSelector(t, fakePrefs{}, probeReturning(AvailabilityNo, nil))
	assert.NotPanics(t, func() {
		c := Poll(context.Background(), s, time.Millisecond, func(Capability) { panic("ui gone") })
		assert.Equal(t, StateUnavailable, c.State)
	})
}

func TestHTTPProbe(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	status, reply := http.StatusOK, `{"available":"downloading"}`
	set := func(code int, body string) {
		mu.Lock()
		status, reply = code, body
		mu.Unlock()
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	defer srv.Close()

	p := NewHTTPProbe(config.ProviderConfig{LocalProbeURL: srv.URL, ProbeTimeout: time.Second})
	a, err := p.Availability(ctx)
	require.NoError(t, err)
	assert.Equal(t, AvailabilityDownloading, a)

	set(http.StatusNotFound, "")
	a, err = p.Availability(ctx)
	require.NoError(t, err)
	assert.Equal(t, AvailabilityNo, a, "missing API reads as no")

	set(http.StatusOK, `{"available":"perhaps"}`)
	_, err = p.Availability(ctx)
	assert.Error(t, err)

	set(http.StatusOK, `{}`)
	_, err = p.Availability(ctx)
	assert.Error(t, err)

	set(http.StatusInternalServerError, "")
	_, err = p.Availability(ctx)
	assert.Error(t, err)
}

func TestHTTPProbeConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := &HTTPProbe{URL: url, Client: &http.Client{Timeout: time.Second}}
	a, err := p.Availability(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AvailabilityNo, a)
}
