package license

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fontlens/internal/config"
	"fontlens/internal/kvstore"
	"fontlens/internal/security"
)

const recordPurpose = "license-record"

var (
	errNoRecord      = errors.New("no license record")
	errCorruptRecord = errors.New("license record corrupt")
)

// recordStore persists the sealed LicenseRecord under a single key.
type recordStore struct {
	kv     kvstore.Store
	sealer *security.Sealer
}

func newRecordStore(kv kvstore.Store, secret string) (*recordStore, error) {
	sealer, err := security.NewSealer([]byte(secret), recordPurpose)
	if err != nil {
		return nil, fmt.Errorf("failed to create record sealer: %w", err)
	}
	return &recordStore{kv: kv, sealer: sealer}, nil
}

// load returns errNoRecord when nothing is stored and errCorruptRecord when
// the stored bytes cannot be opened or decoded. Other errors come from the
// store itself.
func (s *recordStore) load(ctx context.Context) (*Record, error) {
	raw, err := s.kv.Get(ctx, config.LicenseRecordKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, errNoRecord
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read license record: %w", err)
	}

	plain, err := s.sealer.Open(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptRecord, err)
	}
	var rec Record
	if err := json.Unmarshal(plain, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptRecord, err)
	}
	if strings.TrimSpace(rec.LicenseKey) == "" || rec.ValidatedAt.IsZero() {
		return nil, fmt.Errorf("%w: missing key or validation time", errCorruptRecord)
	}
	return &rec, nil
}

func (s *recordStore) save(ctx context.Context, rec *Record) error {
	plain, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode license record: %w", err)
	}
	sealed, err := s.sealer.Seal(plain)
	if err != nil {
		return fmt.Errorf("failed to seal license record: %w", err)
	}
	if err := s.kv.Set(ctx, config.LicenseRecordKey, sealed); err != nil {
		return fmt.Errorf("failed to write license record: %w", err)
	}
	return nil
}

func (s *recordStore) clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, config.LicenseRecordKey); err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return fmt.Errorf("failed to delete license record: %w", err)
	}
	return nil
}
