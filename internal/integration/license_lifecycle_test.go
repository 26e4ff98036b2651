package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"fontlens/internal/config"
	"fontlens/internal/device"
	licenseErrors "fontlens/internal/errors"
	"fontlens/internal/kvstore"
	"fontlens/internal/license"
	"fontlens/internal/licenseapi"
	"fontlens/internal/shared/testutil"
)

// authority is a scripted stand-in for the remote license service.
type authority struct {
	mu         sync.Mutex
	down       bool
	revoked    bool
	jwtExpired bool
	seats      map[string]bool
	calls      map[string]int
}

func newAuthority() *authority {
	return &authority{seats: map[string]bool{}, calls: map[string]int{}}
}

func (a *authority) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	fn := filepath.Base(r.URL.Path)
	a.calls[fn]++
	if a.down {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	if a.jwtExpired {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"PGRST301","details":null,"hint":null,"message":"JWT expired"}`))
		return
	}

	var args map[string]string
	_ = json.NewDecoder(r.Body).Decode(&args)
	reply := map[string]any{"success": true}
	switch fn {
	case "validate_license":
		if a.revoked {
			reply = map[string]any{"success": false, "error": "license inactive"}
			break
		}
		a.seats[args["p_device_fingerprint"]] = true
		reply["max_devices"] = 2
		reply["current_devices"] = len(a.seats)
		reply["tier"] = "studio"
	case "deactivate_device":
		delete(a.seats, args["p_device_fingerprint"])
	case "get_license_info":
		reply["is_active"] = !a.revoked
		reply["max_devices"] = 2
		reply["current_devices"] = len(a.seats)
		devices := make([]map[string]string, 0, len(a.seats))
		for fp := range a.seats {
			devices = append(devices, map[string]string{"device_fingerprint": fp})
		}
		reply["devices"] = devices
	default:
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reply)
}

func (a *authority) set(fn func(a *authority)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a)
}

func (a *authority) count(fn string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[fn]
}

// LicenseLifecycleSuite drives a license through activation, restarts,
// offline grace, revocation and deactivation against a SQLite store that
// survives each simulated restart.
type LicenseLifecycleSuite struct {
	suite.Suite
	authority *authority
	server    *httptest.Server
	dbPath    string
	clock     *testutil.Clock
	logger    *slog.Logger
	cfg       config.EntitlementConfig

	store kvstore.Store
}

func (s *LicenseLifecycleSuite) SetupTest() {
	s.authority = newAuthority()
	s.server = httptest.NewServer(s.authority)
	s.dbPath = filepath.Join(s.T().TempDir(), "fontlens.db")
	s.clock = testutil.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	s.cfg = config.EntitlementConfig{
		URL:                  s.server.URL,
		APIKey:               "anon",
		SealSecret:           "integration-secret",
		Timeout:              2 * time.Second,
		RetryBackoff:         time.Millisecond,
		RevalidationInterval: config.RevalidationInterval,
		OfflineGraceCeiling:  config.OfflineGraceCeiling,
	}
}

func (s *LicenseLifecycleSuite) TearDownTest() {
	if s.store != nil {
		s.Require().NoError(s.store.Close())
		s.store = nil
	}
	s.server.Close()
}

// boot simulates a process start: a fresh store handle, client and manager.
func (s *LicenseLifecycleSuite) boot() *license.Manager {
	ctx := context.Background()
	if s.store != nil {
		s.Require().NoError(s.store.Close())
	}
	store, err := kvstore.OpenSQLite(ctx, s.dbPath, 0, s.logger)
	s.Require().NoError(err)
	s.store = store

	client, err := licenseapi.New(s.cfg, s.logger)
	s.Require().NoError(err)
	identity := device.NewIdentity(
		device.WithLogger(s.logger),
		device.WithSignalSource(device.SignalSourceFunc(func(context.Context) ([]device.Signal, error) {
			return []device.Signal{{Name: "mac", Value: "00:11:22:33:44:55"}, {Name: "hostname", Value: "studio-mac"}}, nil
		})),
	)
	m, err := license.NewManager(s.cfg, client, identity, store, s.logger, license.WithClock(s.clock.Now))
	s.Require().NoError(err)
	return m
}

func (s *LicenseLifecycleSuite) TestActivateThenRestartUsesStoredRecord() {
	ctx := context.Background()
	m := s.boot()
	s.Equal(license.StateInvalid, m.CheckOnStartup(ctx).State, "no record yet")

	res := m.Activate(ctx, " abcd-efgh-ijkl ")
	s.Require().True(res.Valid)
	s.Equal("studio", res.Tier)
	s.Equal(1, s.authority.count("validate_license"))

	s.clock.Advance(24 * time.Hour)
	m = s.boot()
	res = m.CheckOnStartup(ctx)
	s.Equal(license.StateValid, res.State)
	s.Equal(1, s.authority.count("validate_license"), "fresh record needs no network")
}

func (s *LicenseLifecycleSuite) TestOfflineGraceThenLockout() {
	ctx := context.Background()
	s.Require().True(s.boot().Activate(ctx, "ABCD-EFGH-IJKL").Valid)
	s.authority.set(func(a *authority) { a.down = true })

	s.clock.Advance(8 * 24 * time.Hour)
	res := s.boot().CheckOnStartup(ctx)
	s.Equal(license.StateOfflineGrace, res.State)
	s.True(res.State.Grants())

	s.clock.Advance(23 * 24 * time.Hour)
	res = s.boot().CheckOnStartup(ctx)
	s.Equal(license.StateInvalid, res.State)
	s.Equal(licenseErrors.CodeOffline, res.Code)

	s.authority.set(func(a *authority) { a.down = false })
	res = s.boot().CheckOnStartup(ctx)
	s.Equal(license.StateValid, res.State, "record kept through offline lockout")
}

func (s *LicenseLifecycleSuite) TestExpiredServiceCredentialKeepsRecord() {
	ctx := context.Background()
	s.Require().True(s.boot().Activate(ctx, "ABCD-EFGH-IJKL").Valid)
	s.authority.set(func(a *authority) { a.jwtExpired = true })

	s.clock.Advance(8 * 24 * time.Hour)
	res := s.boot().CheckOnStartup(ctx)
	s.Equal(license.StateOfflineGrace, res.State)
	_, err := s.store.Get(ctx, config.LicenseRecordKey)
	s.Require().NoError(err, "record survives a rejected service credential")

	s.authority.set(func(a *authority) { a.jwtExpired = false })
	s.Equal(license.StateValid, s.boot().CheckOnStartup(ctx).State)
}

func (s *LicenseLifecycleSuite) TestRevalidationRefreshesRecord() {
	ctx := context.Background()
	s.Require().True(s.boot().Activate(ctx, "ABCD-EFGH-IJKL").Valid)

	s.clock.Advance(8 * 24 * time.Hour)
	s.Equal(license.StateValid, s.boot().CheckOnStartup(ctx).State)
	s.Equal(2, s.authority.count("validate_license"))

	s.clock.Advance(24 * time.Hour)
	s.Equal(license.StateValid, s.boot().CheckOnStartup(ctx).State)
	s.Equal(2, s.authority.count("validate_license"), "validated_at was refreshed")
}

func (s *LicenseLifecycleSuite) TestRevocationDeletesRecord() {
	ctx := context.Background()
	s.Require().True(s.boot().Activate(ctx, "ABCD-EFGH-IJKL").Valid)
	s.authority.set(func(a *authority) { a.revoked = true })

	s.clock.Advance(8 * 24 * time.Hour)
	res := s.boot().CheckOnStartup(ctx)
	s.Equal(license.StateInvalid, res.State)
	s.Equal(licenseErrors.CodeKeyInactive, res.Code)

	_, err := s.store.Get(ctx, config.LicenseRecordKey)
	s.ErrorIs(err, kvstore.ErrNotFound)
}

func (s *LicenseLifecycleSuite) TestInfoAndDeactivate() {
	ctx := context.Background()
	m := s.boot()
	s.Require().True(m.Activate(ctx, "ABCD-EFGH-IJKL").Valid)

	info, err := m.GetInfo(ctx)
	s.Require().NoError(err)
	s.Equal("ABCD****IJKL", info.LicenseKey)
	s.Require().Len(info.Devices, 1)
	s.True(info.Devices[0].Current)

	s.Require().NoError(m.Deactivate(ctx))
	s.Equal(license.StateInvalid, m.Status().State)
	_, err = m.GetInfo(ctx)
	s.ErrorIs(err, licenseErrors.ErrKeyNotFound)

	res := s.boot().CheckOnStartup(ctx)
	s.Equal(license.StateInvalid, res.State)
	s.Empty(res.Code, "no record after deactivation")
}

func TestLicenseLifecycleSuite(t *testing.T) {
	suite.Run(t, new(LicenseLifecycleSuite))
}
