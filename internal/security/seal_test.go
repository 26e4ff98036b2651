package security

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"license record", []byte(`{"license_key":"FL-ABCD-1234","device_fingerprint":"ab12"}`)},
		{"empty", []byte{}},
		{"large", bytes.Repeat([]byte{0x5a}, 64*1024)},
	}

	s, err := NewSealer([]byte("deployment-secret"), "license_record")
	if err != nil {
		t.Fatalf("NewSealer() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := s.Seal(tt.plaintext)
			if err != nil {
				t.Fatalf("Seal() error: %v", err)
			}
			if len(tt.plaintext) > 8 && bytes.Contains(sealed, tt.plaintext[:8]) {
				t.Error("sealed output contains plaintext")
			}

			got, err := s.Open(sealed)
			if err != nil {
				t.Fatalf("Open() error: %v", err)
			}
			if !bytes.Equal(got, tt.plaintext) {
				t.Errorf("Open() = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	s, _ := NewSealer(nil, "license_record")
	a, _ := s.Seal([]byte("same"))
	b, _ := s.Seal([]byte("same"))
	if bytes.Equal(a, b) {
		t.Error("two seals of the same plaintext are identical")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	s, _ := NewSealer([]byte("k"), "license_record")
	sealed, _ := s.Seal([]byte("payload"))

	flipped := append([]byte(nil), sealed...)
	flipped[len(flipped)-1] ^= 0x01
	if _, err := s.Open(flipped); !errors.Is(err, ErrTampered) {
		t.Errorf("Open(flipped) error = %v, want ErrTampered", err)
	}

	if _, err := s.Open(sealed[:5]); !errors.Is(err, ErrSealedTooShort) {
		t.Errorf("Open(short) error = %v, want ErrSealedTooShort", err)
	}

	badVersion := append([]byte(nil), sealed...)
	badVersion[0] = 9
	if _, err := s.Open(badVersion); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("Open(version 9) error = %v, want ErrUnsupportedVersion", err)
	}
}

func TestKeysAreBoundToSecretAndPurpose(t *testing.T) {
	a, _ := NewSealer([]byte("secret-a"), "license_record")
	b, _ := NewSealer([]byte("secret-b"), "license_record")
	c, _ := NewSealer([]byte("secret-a"), "settings")

	sealed, _ := a.Seal([]byte("payload"))
	if _, err := b.Open(sealed); !errors.Is(err, ErrTampered) {
		t.Errorf("other secret opened record: %v", err)
	}
	if _, err := c.Open(sealed); !errors.Is(err, ErrTampered) {
		t.Errorf("other purpose opened record: %v", err)
	}
}

func TestNewSealerRequiresPurpose(t *testing.T) {
	if _, err := NewSealer([]byte("k"), ""); err == nil {
		t.Error("expected error for empty purpose")
	}
}

func TestSecureCompare(t *testing.T) {
	if !SecureCompare([]byte("abc"), []byte("abc")) {
		t.Error("equal slices compared unequal")
	}
	if SecureCompare([]byte("abc"), []byte("abd")) {
		t.Error("different slices compared equal")
	}
}
