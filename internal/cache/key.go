package cache

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"fontlens/internal/config"
)

// Kind names the input family a key was derived from.
type Kind string

const (
	KindFile       Kind = "file"
	KindGoogleFont Kind = "google_font"
	KindImage      Kind = "image"
)

const (
	fileSampleSize  = 4 << 10
	imageSamples    = 16
	imageSampleSize = 256
)

// MakeKey returns fontlens_cache_<kind>_<16 hex digits of xxhash64(identity)>.
func MakeKey(kind Kind, identity []byte) string {
	return fmt.Sprintf("%s%s_%016x", config.CacheKeyPrefix, kind, xxhash.Sum64(identity))
}

// FileIdentity is the name, size and the first and last 4 KiB of an uploaded
// font file. Files of 8 KiB or less contribute all their bytes once.
func FileIdentity(name string, data []byte) []byte {
	out := make([]byte, 0, len(name)+9+2*fileSampleSize)
	out = append(out, name...)
	out = append(out, 0)
	out = binary.BigEndian.AppendUint64(out, uint64(len(data)))
	if len(data) <= 2*fileSampleSize {
		return append(out, data...)
	}
	out = append(out, data[:fileSampleSize]...)
	return append(out, data[len(data)-fileSampleSize:]...)
}

// ImageIdentity is the size plus 16 evenly spaced 256-byte samples of an image.
func ImageIdentity(data []byte) []byte {
	out := binary.BigEndian.AppendUint64(make([]byte, 0, 8+imageSamples*imageSampleSize), uint64(len(data)))
	if len(data) <= imageSamples*imageSampleSize {
		return append(out, data...)
	}
	stride := (len(data) - imageSampleSize) / (imageSamples - 1)
	for i := 0; i < imageSamples; i++ {
		off := i * stride
		out = append(out, data[off:off+imageSampleSize]...)
	}
	return out
}

// GoogleFontIdentity is the normalized family name and variant of a catalog font.
func GoogleFontIdentity(family, variant string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(family)) + "\x00" + strings.TrimSpace(variant))
}
