package cache

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const indexFile = "archive.index"

// ArchiveMeta describes an archived conversion log.
type ArchiveMeta struct {
	ID       string    `json:"id"`
	Source   string    `json:"source"`
	Engine   string    `json:"engine"`
	Speaker  string    `json:"speaker"`
	Status   string    `json:"status"`
	Artifact string    `json:"artifact,omitempty"`
	Finished time.Time `json:"finished"`
	Lines    int       `json:"lines"`

	Size         int64 `json:"size"`          // Size on disk (compressed)
	OriginalSize int64 `json:"original_size"` // Uncompressed log size
}

// archiveEntry is the gob-encoded index record.
type archiveEntry struct {
	Meta     ArchiveMeta
	FilePath string
}

// LogArchive stores finished conversion logs on disk, zstd-compressed,
// with a gob index. The oldest logs are evicted once capacity is reached.
type LogArchive struct {
	basePath string
	capacity int64
	size     int64

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	index map[string]*archiveEntry

	mu    sync.RWMutex
	stats Stats
}

// NewLogArchive opens or creates an archive in basePath.
func NewLogArchive(basePath string, capacity int64, compressionLevel int) (*LogArchive, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	if compressionLevel <= 0 {
		compressionLevel = 3
	}

	a := &LogArchive{
		basePath: basePath,
		capacity: capacity,
		index:    make(map[string]*archiveEntry),
		stats:    Stats{Capacity: capacity},
	}

	var err error
	a.encoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	a.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	if err := a.loadIndex(); err != nil {
		// Non-fatal: start with an empty index
		a.index = make(map[string]*archiveEntry)
	}
	a.calculateSize()

	return a, nil
}

// Put archives lines under meta.ID, replacing any earlier log with that ID.
func (a *LogArchive) Put(meta ArchiveMeta, lines []string) error {
	if meta.ID == "" || strings.ContainsAny(meta.ID, `/\.`) {
		return fmt.Errorf("invalid archive ID %q", meta.ID)
	}

	raw := []byte(strings.Join(lines, "\n"))
	data := a.encoder.EncodeAll(raw, nil)

	a.mu.Lock()
	defer a.mu.Unlock()

	diskSize := int64(len(data))
	if diskSize > a.capacity {
		return ErrItemTooLarge
	}

	if existing, ok := a.index[meta.ID]; ok {
		a.removeEntry(existing)
	}
	for a.size+diskSize > a.capacity && len(a.index) > 0 {
		a.evictOldest()
	}

	path := filepath.Join(a.basePath, meta.ID+".log.zst")
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write archive file: %w", err)
	}

	meta.Lines = len(lines)
	meta.Size = diskSize
	meta.OriginalSize = int64(len(raw))
	if meta.Finished.IsZero() {
		meta.Finished = time.Now()
	}

	a.index[meta.ID] = &archiveEntry{Meta: meta, FilePath: path}
	a.size += diskSize

	return a.saveIndex()
}

// Get returns the archived lines and metadata for id.
func (a *LogArchive) Get(id string) ([]string, ArchiveMeta, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.index[id]
	if !ok {
		a.stats.Misses++
		return nil, ArchiveMeta{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	data, err := os.ReadFile(entry.FilePath)
	if err != nil {
		// File missing, drop it from the index
		a.removeEntry(entry)
		a.stats.Misses++
		return nil, ArchiveMeta{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	raw, err := a.decoder.DecodeAll(data, nil)
	if err != nil {
		a.removeEntry(entry)
		a.stats.Misses++
		return nil, ArchiveMeta{}, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	a.stats.Hits++
	if len(raw) == 0 {
		return []string{}, entry.Meta, nil
	}
	return strings.Split(string(raw), "\n"), entry.Meta, nil
}

// Meta returns the metadata for id without reading the log.
func (a *LogArchive) Meta(id string) (ArchiveMeta, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	entry, ok := a.index[id]
	if !ok {
		return ArchiveMeta{}, false
	}
	return entry.Meta, true
}

// List returns the metadata of every archived log, newest first.
func (a *LogArchive) List() []ArchiveMeta {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]ArchiveMeta, 0, len(a.index))
	for _, entry := range a.index {
		out = append(out, entry.Meta)
	}
	slices.SortFunc(out, func(x, y ArchiveMeta) int {
		return y.Finished.Compare(x.Finished)
	})
	return out
}

// Delete removes an archived log.
func (a *LogArchive) Delete(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.index[id]
	if !ok {
		return nil
	}
	a.removeEntry(entry)
	return a.saveIndex()
}

// RemoveOlderThan removes logs finished before cutoff.
func (a *LogArchive) RemoveOlderThan(cutoff time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for _, entry := range a.index {
		if entry.Meta.Finished.Before(cutoff) {
			a.removeEntry(entry)
			removed++
		}
	}
	if removed > 0 {
		_ = a.saveIndex()
	}
	return removed
}

// Stats returns archive statistics.
func (a *LogArchive) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := a.stats
	stats.Size = a.size
	stats.ItemCount = int64(len(a.index))
	stats.updateHitRate()
	return stats
}

// Close saves the index and releases the codec.
func (a *LogArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.saveIndex()
	a.decoder.Close()
	return errors.Join(err, a.encoder.Close())
}

// removeEntry must be called with the lock held.
func (a *LogArchive) removeEntry(entry *archiveEntry) {
	_ = os.Remove(entry.FilePath)
	delete(a.index, entry.Meta.ID)
	a.size -= entry.Meta.Size
}

// evictOldest drops the log finished earliest (must be called with lock held).
func (a *LogArchive) evictOldest() {
	var oldest *archiveEntry
	for _, entry := range a.index {
		if oldest == nil || entry.Meta.Finished.Before(oldest.Meta.Finished) {
			oldest = entry
		}
	}
	if oldest != nil {
		a.removeEntry(oldest)
		a.stats.Evictions++
		a.stats.LastEvict = time.Now()
	}
}

func (a *LogArchive) loadIndex() error {
	file, err := os.Open(filepath.Join(a.basePath, indexFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil // No index file yet
		}
		return err
	}
	defer file.Close() //nolint:errcheck

	return gob.NewDecoder(file).Decode(&a.index)
}

func (a *LogArchive) saveIndex() error {
	indexPath := filepath.Join(a.basePath, indexFile)
	tempPath := indexPath + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	err = gob.NewEncoder(file).Encode(a.index)
	closeErr := file.Close()

	if err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		_ = os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, indexPath)
}

func (a *LogArchive) calculateSize() {
	a.size = 0
	for _, entry := range a.index {
		a.size += entry.Meta.Size
	}
}

// writeFileAtomic writes to a temp file first, then renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		_ = os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, path)
}
