package performance

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"

	"fontlens/internal/cache"
	"fontlens/internal/config"
	"fontlens/internal/kvstore"
	"fontlens/internal/license"
	"fontlens/internal/middleware"
)

type grantedStatus struct{}

func (grantedStatus) Status() license.ValidationResult {
	return license.ValidationResult{Valid: true, State: license.StateValid}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// BenchmarkLicenseGate measures the per-request cost of the gate on an
// allowed request. The gate reads in-memory state only.
func BenchmarkLicenseGate(b *testing.B) {
	gate := middleware.NewLicenseGate(grantedStatus{}, quietLogger(), metricnoop.NewMeterProvider().Meter("bench"))
	h := gate.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/cache/stats", nil)

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			h.ServeHTTP(httptest.NewRecorder(), req)
		}
	})
}

func BenchmarkMakeKeyFontFile(b *testing.B) {
	data := bytes.Repeat([]byte{0x00, 0x01, 0x00, 0x00}, 64*1024)
	b.ReportAllocs()
	b.SetBytes(int64(len(data)))
	for b.Loop() {
		_ = cache.MakeKey(cache.KindFile, cache.FileIdentity("Inter-Regular.ttf", data))
	}
}

func BenchmarkCacheGetHit(b *testing.B) {
	ctx := context.Background()
	c := cache.New(kvstore.NewMemory(0), config.CacheConfig{TTL: time.Hour, SchemaVersion: 1}, quietLogger(),
		cache.WithMeter(metricnoop.NewMeterProvider().Meter("bench")))
	key := cache.MakeKey(cache.KindGoogleFont, cache.GoogleFontIdentity("Inter", "regular"))
	c.Put(ctx, key, map[string]any{"family": "Inter", "classification": "sans-serif", "confidence": 0.93})
	_, ok := c.Get(ctx, key)
	require.True(b, ok)

	b.ReportAllocs()
	for b.Loop() {
		if _, ok := c.Get(ctx, key); !ok {
			b.Fatal("unexpected miss")
		}
	}
}

func BenchmarkCachePutUnderQuota(b *testing.B) {
	ctx := context.Background()
	// Quota small enough that puts regularly trigger reclamation.
	c := cache.New(kvstore.NewMemory(64*1024), config.CacheConfig{TTL: time.Hour, SchemaVersion: 1}, quietLogger(),
		cache.WithMeter(metricnoop.NewMeterProvider().Meter("bench")))
	payload := map[string]string{"analysis": string(bytes.Repeat([]byte("x"), 2048))}

	b.ReportAllocs()
	i := 0
	for b.Loop() {
		c.Put(ctx, cache.MakeKey(cache.KindImage, []byte{byte(i), byte(i >> 8), byte(i >> 16)}), payload)
		i++
	}
}
