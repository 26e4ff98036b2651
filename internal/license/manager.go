package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"fontlens/internal/config"
	licenseErrors "fontlens/internal/errors"
	"fontlens/internal/infrastructure"
	"fontlens/internal/kvstore"
	"fontlens/internal/licenseapi"
	"fontlens/internal/security"
)

// Manager runs activation, the startup check and deactivation against the
// remote authority and the sealed local record.
type Manager struct {
	rpc     RPC
	device  Fingerprinter
	records *recordStore
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics
	now     func() time.Time

	revalidateAfter time.Duration
	graceCeiling    time.Duration

	startup singleflight.Group

	mu     sync.RWMutex
	status ValidationResult
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMeter sets the meter for entitlement metrics.
func WithMeter(meter metric.Meter) Option {
	return func(m *Manager) { m.metrics = newMetrics(meter) }
}

// NewManager creates a manager. A nil rpc puts the manager in not-configured
// mode: every operation answers NOT_CONFIGURED without network access.
func NewManager(cfg config.EntitlementConfig, rpc RPC, device Fingerprinter, kv kvstore.Store, logger *slog.Logger, opts ...Option) (*Manager, error) {
	if device == nil {
		return nil, errors.New("device identity is required")
	}
	if kv == nil {
		return nil, errors.New("kv store is required")
	}
	records, err := newRecordStore(kv, cfg.SealSecret)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		rpc:             rpc,
		device:          device,
		records:         records,
		logger:          infrastructure.WithComponent(logger, "license_manager"),
		tracer:          otel.Tracer("fontlens/license"),
		metrics:         newMetrics(otel.Meter("fontlens/license")),
		now:             time.Now,
		revalidateAfter: cfg.RevalidationInterval,
		graceCeiling:    cfg.OfflineGraceCeiling,
		status:          ValidationResult{State: StateUnvalidated},
	}
	if m.revalidateAfter <= 0 {
		m.revalidateAfter = config.RevalidationInterval
	}
	if m.graceCeiling <= 0 {
		m.graceCeiling = config.OfflineGraceCeiling
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Configured reports whether a remote authority is wired.
func (m *Manager) Configured() bool { return m.rpc != nil }

// Status returns the last verdict.
func (m *Manager) Status() ValidationResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) state() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.State
}

func (m *Manager) setStatus(res ValidationResult) ValidationResult {
	m.mu.Lock()
	m.status = res
	m.mu.Unlock()
	return res
}

// Activate validates key for this device and persists the record on success.
// A failed activation leaves the state as it was.
func (m *Manager) Activate(ctx context.Context, key string) ValidationResult {
	started := time.Now()
	ctx, span := m.tracer.Start(ctx, "license.Activate")
	defer span.End()

	key = normalizeKey(key)
	res := m.activate(ctx, key)

	span.SetAttributes(attribute.String("license.state", string(res.State)), attribute.String("license.code", string(res.Code)))
	m.metrics.activation(ctx, res, started)
	m.logResult(ctx, "activate", key, res)
	return res
}

func (m *Manager) activate(ctx context.Context, key string) ValidationResult {
	if m.rpc == nil {
		return failure(licenseErrors.CodeNotConfigured, m.state())
	}
	if key == "" {
		return failure(licenseErrors.CodeKeyNotFound, m.state())
	}

	fp := m.device.Fingerprint(ctx)
	reply, err := m.rpc.Validate(ctx, key, fp)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		m.logger.WarnContext(ctx, "license validation request failed", slog.String("error", err.Error()))
		return failure(codeForError(err), m.state())
	}
	if !reply.OK() {
		return failure(verdictCode(reply.ErrorText()), m.state())
	}

	now := m.now()
	if expired(reply.ExpiresAt, now) {
		return failure(licenseErrors.CodeKeyExpired, m.state())
	}

	rec := &Record{
		LicenseKey:        key,
		DeviceFingerprint: fp,
		ValidatedAt:       now,
		ExpiresAt:         reply.ExpiresAt,
		MaxDevices:        reply.MaxDevices,
		Tier:              deref(reply.Tier),
	}
	if err := m.records.save(ctx, rec); err != nil {
		m.metrics.recordFailure(ctx, "save")
		m.logger.ErrorContext(ctx, "failed to persist license record", slog.String("error", err.Error()))
		return failure(licenseErrors.CodeUnknown, m.state())
	}

	res := validFromRecord(rec, StateValid)
	res.CurrentDevices = reply.CurrentDevices
	return m.setStatus(res)
}

// CheckOnStartup decides the entitlement state for this process. Concurrent
// callers share one evaluation.
func (m *Manager) CheckOnStartup(ctx context.Context) ValidationResult {
	v, _, _ := m.startup.Do("startup", func() (any, error) {
		started := time.Now()
		ctx, span := m.tracer.Start(ctx, "license.CheckOnStartup")
		defer span.End()

		res, path, key := m.checkOnStartup(ctx)

		span.SetAttributes(attribute.String("license.state", string(res.State)), attribute.String("license.path", path))
		m.metrics.check(ctx, res, path, started)
		m.logResult(ctx, "startup_check", key, res)
		return res, nil
	})
	return v.(ValidationResult)
}

// checkOnStartup returns the verdict, the decision path for metrics and the
// stored key for logging.
func (m *Manager) checkOnStartup(ctx context.Context) (ValidationResult, string, string) {
	if m.rpc == nil {
		return m.setStatus(failure(licenseErrors.CodeNotConfigured, StateInvalid)), "not_configured", ""
	}

	rec, err := m.records.load(ctx)
	switch {
	case errors.Is(err, errNoRecord):
		return m.setStatus(ValidationResult{State: StateInvalid}), "no_record", ""
	case errors.Is(err, errCorruptRecord):
		m.logger.WarnContext(ctx, "discarding corrupt license record", slog.String("error", err.Error()))
		if cerr := m.records.clear(ctx); cerr != nil {
			m.metrics.recordFailure(ctx, "clear")
			m.logger.ErrorContext(ctx, "failed to delete corrupt license record", slog.String("error", cerr.Error()))
		}
		return m.setStatus(failure(licenseErrors.CodeUnknown, StateInvalid)), "corrupt", ""
	case err != nil:
		m.metrics.recordFailure(ctx, "load")
		m.logger.ErrorContext(ctx, "failed to read license record", slog.String("error", err.Error()))
		return m.setStatus(failure(licenseErrors.CodeUnknown, StateInvalid)), "store_error", ""
	}

	now := m.now()
	fp := m.device.Fingerprint(ctx)
	sameDevice := security.SecureCompare([]byte(rec.DeviceFingerprint), []byte(fp))
	age := now.Sub(rec.ValidatedAt)

	if sameDevice && age >= 0 && age < m.revalidateAfter && !expired(rec.ExpiresAt, now) {
		return m.setStatus(validFromRecord(rec, StateValid)), "cached", rec.LicenseKey
	}

	m.logger.InfoContext(ctx, "revalidating license",
		slog.Duration("record_age", age),
		slog.Bool("same_device", sameDevice))

	reply, err := m.rpc.Validate(ctx, rec.LicenseKey, fp)
	var code licenseErrors.Code
	switch {
	case err != nil:
		infrastructure.RecordError(ctx, err)
		m.logger.WarnContext(ctx, "license revalidation failed", slog.String("error", err.Error()))
		code = codeForError(err)
	case reply.OK() && expired(reply.ExpiresAt, now):
		code = licenseErrors.CodeKeyExpired
	case reply.OK():
		refreshed := &Record{
			LicenseKey:        rec.LicenseKey,
			DeviceFingerprint: fp,
			ValidatedAt:       now,
			ExpiresAt:         reply.ExpiresAt,
			MaxDevices:        reply.MaxDevices,
			Tier:              deref(reply.Tier),
		}
		if err := m.records.save(ctx, refreshed); err != nil {
			m.metrics.recordFailure(ctx, "save")
			m.logger.ErrorContext(ctx, "failed to refresh license record", slog.String("error", err.Error()))
		}
		res := validFromRecord(refreshed, StateValid)
		res.CurrentDevices = reply.CurrentDevices
		return m.setStatus(res), "remote", rec.LicenseKey
	default:
		code = verdictCode(reply.ErrorText())
	}

	if code.KeyVerdict() {
		if cerr := m.records.clear(ctx); cerr != nil {
			m.metrics.recordFailure(ctx, "clear")
			m.logger.ErrorContext(ctx, "failed to delete rejected license record", slog.String("error", cerr.Error()))
		}
		return m.setStatus(failure(code, StateInvalid)), "rejected", rec.LicenseKey
	}

	// Not a verdict about the key: fall back to the last confirmation. The
	// record is left as is so the next startup tries again.
	if expired(rec.ExpiresAt, now) {
		return m.setStatus(failure(licenseErrors.CodeKeyExpired, StateInvalid)), "expired", rec.LicenseKey
	}
	if sameDevice && age >= 0 && age < m.graceCeiling {
		return m.setStatus(validFromRecord(rec, StateOfflineGrace)), "grace", rec.LicenseKey
	}
	return m.setStatus(failure(code, StateInvalid)), "offline", rec.LicenseKey
}

// Deactivate releases this device's seat and clears the record. On failure
// the state is unchanged and a typed *errors.Error is returned.
func (m *Manager) Deactivate(ctx context.Context) error {
	started := time.Now()
	ctx, span := m.tracer.Start(ctx, "license.Deactivate")
	defer span.End()

	key, err := m.deactivate(ctx)
	code := "ok"
	level, result := slog.LevelInfo, "success"
	if err != nil {
		code = string(licenseErrors.CodeOf(err))
		level, result = slog.LevelWarn, "failure"
		infrastructure.RecordError(ctx, err)
	}
	m.metrics.deactivation(ctx, code, started)

	attrs := []slog.Attr{slog.String("code", code)}
	if key != "" {
		attrs = append(attrs, slog.String("license_key", maskLicenseKey(key)), slog.String("license_hash", hashLicenseKey(key)))
	}
	m.logAction(ctx, level, "deactivate", result, attrs...)
	return err
}

func (m *Manager) deactivate(ctx context.Context) (string, error) {
	if m.rpc == nil {
		return "", licenseErrors.NewError(licenseErrors.CodeNotConfigured, nil)
	}
	rec, err := m.loadForRemote(ctx)
	if err != nil {
		return "", err
	}

	// The seat is held under the fingerprint recorded at activation.
	fp := rec.DeviceFingerprint
	if fp == "" {
		fp = m.device.Fingerprint(ctx)
	}
	reply, err := m.rpc.Deactivate(ctx, rec.LicenseKey, fp)
	if err != nil {
		return rec.LicenseKey, licenseErrors.NewError(codeForError(err), err)
	}
	if !reply.OK() {
		code := licenseErrors.ParseCode(reply.ErrorText())
		return rec.LicenseKey, licenseErrors.NewError(code, fmt.Errorf("deactivation rejected: %s", reply.ErrorText()))
	}

	// The seat is released. A record that cannot be deleted would be
	// revalidated on the next startup, so the state only flips once it is gone.
	if err := m.records.clear(ctx); err != nil {
		m.metrics.recordFailure(ctx, "clear")
		m.logger.ErrorContext(ctx, "seat released but license record could not be deleted", slog.String("error", err.Error()))
		return rec.LicenseKey, licenseErrors.NewError(licenseErrors.CodeUnknown, fmt.Errorf("seat released, local record kept: %w", err))
	}
	m.setStatus(ValidationResult{State: StateInvalid})
	return rec.LicenseKey, nil
}

// GetInfo reads seat usage for the stored key. It never changes the state.
func (m *Manager) GetInfo(ctx context.Context) (*Info, error) {
	ctx, span := m.tracer.Start(ctx, "license.GetInfo")
	defer span.End()

	if m.rpc == nil {
		return nil, licenseErrors.NewError(licenseErrors.CodeNotConfigured, nil)
	}
	rec, err := m.loadForRemote(ctx)
	if err != nil {
		return nil, err
	}

	reply, err := m.rpc.Info(ctx, rec.LicenseKey)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		return nil, licenseErrors.NewError(codeForError(err), err)
	}
	if !reply.OK() {
		return nil, licenseErrors.NewError(licenseErrors.ParseCode(reply.ErrorText()), fmt.Errorf("info rejected: %s", reply.ErrorText()))
	}

	current := m.device.Fingerprint(ctx)
	info := &Info{
		LicenseKey:     maskLicenseKey(rec.LicenseKey),
		Active:         reply.IsActive,
		MaxDevices:     reply.MaxDevices,
		CurrentDevices: reply.CurrentDevices,
		ExpiresAt:      reply.ExpiresAt,
		Tier:           deref(reply.Tier),
		Devices:        make([]DeviceInfo, 0, len(reply.Devices)),
	}
	for _, d := range reply.Devices {
		fp := deref(d.Fingerprint)
		info.Devices = append(info.Devices, DeviceInfo{
			Fingerprint: shortFingerprint(fp),
			Current:     fp != "" && security.SecureCompare([]byte(fp), []byte(current)),
			ActivatedAt: d.ActivatedAt,
			LastSeenAt:  d.LastSeenAt,
		})
	}
	return info, nil
}

// loadForRemote loads the record for an operation that needs the stored key.
func (m *Manager) loadForRemote(ctx context.Context) (*Record, error) {
	rec, err := m.records.load(ctx)
	switch {
	case errors.Is(err, errNoRecord):
		return nil, licenseErrors.NewError(licenseErrors.CodeKeyNotFound, nil)
	case errors.Is(err, errCorruptRecord):
		if cerr := m.records.clear(ctx); cerr != nil {
			m.logger.ErrorContext(ctx, "failed to delete corrupt license record", slog.String("error", cerr.Error()))
		}
		return nil, licenseErrors.NewError(licenseErrors.CodeKeyNotFound, err)
	case err != nil:
		return nil, licenseErrors.NewError(licenseErrors.CodeUnknown, err)
	}
	return rec, nil
}

func normalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

func failure(code licenseErrors.Code, state State) ValidationResult {
	return ValidationResult{
		Code:        code,
		Message:     licenseErrors.MessageFor(code),
		Remediation: licenseErrors.RemediationFor(code),
		State:       state,
	}
}

func validFromRecord(rec *Record, state State) ValidationResult {
	validatedAt := rec.ValidatedAt
	return ValidationResult{
		Valid:       true,
		State:       state,
		MaxDevices:  rec.MaxDevices,
		ExpiresAt:   rec.ExpiresAt,
		Tier:        rec.Tier,
		ValidatedAt: &validatedAt,
	}
}

// codeForError maps an RPC error. Transport failures are OFFLINE. Everything
// else, including a rejected request, is UNKNOWN_ERROR: only the error field
// of a well-formed reply speaks about the key.
func codeForError(err error) licenseErrors.Code {
	switch {
	case errors.Is(err, licenseapi.ErrUnreachable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return licenseErrors.CodeOffline
	default:
		return licenseErrors.CodeUnknown
	}
}

// verdictCode reads a reply's error field. It keeps key verdicts and folds
// everything else into UNKNOWN_ERROR.
func verdictCode(s string) licenseErrors.Code {
	if code := licenseErrors.ParseCode(s); code.KeyVerdict() {
		return code
	}
	return licenseErrors.CodeUnknown
}

func expired(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && !expiresAt.After(now)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
