package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// Common errors for cache operations
var (
	// ErrItemTooLarge is returned when an item exceeds the cache capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrNotFound is returned when an archived entry does not exist
	ErrNotFound = errors.New("entry not found")

	// ErrCorrupted is returned when archived data cannot be decoded
	ErrCorrupted = errors.New("archive data corrupted")
)

// Stats holds cache performance metrics
type Stats struct {
	Capacity  int64   `json:"capacity"`   // Maximum capacity in bytes
	Size      int64   `json:"size"`       // Current size in bytes
	ItemCount int64   `json:"item_count"` // Number of items
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"` // hits / (hits + misses)

	LastEvict time.Time `json:"last_evict,omitzero"`
}

func (s *Stats) updateHitRate() {
	if s.Hits+s.Misses > 0 {
		s.HitRate = float64(s.Hits) / float64(s.Hits+s.Misses)
	}
}

// Config holds configuration for both stores
type Config struct {
	// Preview cache
	MemoryCapacity int64 // Bytes

	// Log archive
	ArchiveCapacity  int64         // Bytes on disk
	ArchivePath      string        // Directory for archive files
	CompressionLevel int           // Zstd level (1-22, default 3)
	TTL              time.Duration // Age after which archived logs are pruned
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		MemoryCapacity:   32 * 1024 * 1024,  // 32MB
		ArchiveCapacity:  256 * 1024 * 1024, // 256MB
		CompressionLevel: 3,
		TTL:              30 * 24 * time.Hour,
	}
}

// PreviewKey derives the cache key of a voice preview.
func PreviewKey(engine, speaker, text string) string {
	h := sha256.New()
	for _, part := range []string{engine, speaker, text} {
		h.Write([]byte(strings.TrimSpace(part)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
