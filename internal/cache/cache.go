// Package cache persists audit reports content-addressed by target.
// Layout: one index.json document of entry metadata plus one payload file
// per entry, all under a root directory created on first use. The index is
// single-writer; cross-process writers are out of scope.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pagescope/internal/engine"
	"pagescope/internal/report"
)

// ErrNotFound means an indexed payload is missing from disk.
var ErrNotFound = errors.New("cached report not found")

// IOError wraps a persistence read/write failure. It is surfaced to the
// caller, never swallowed, and never auto-retried.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("cache %s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

const indexFile = "index.json"

// Entry is the indexed metadata for one stored report.
type Entry struct {
	ID          string        `json:"id"`
	Target      engine.Target `json:"target"`
	CreatedAt   time.Time     `json:"created_at"`
	ContentHash string        `json:"content_hash"`
	Payload     string        `json:"payload"`
}

// Age returns how long ago the entry was stored.
func (e Entry) Age() time.Duration { return time.Since(e.CreatedAt) }

// Cache is a bounded, freshness-aware report store.
type Cache struct {
	dir        string
	maxEntries int
	maxAge     time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	entries []Entry
	loaded  bool
}

// New creates a cache rooted at dir, keeping at most maxEntries live
// entries and excluding entries older than maxAge from lookups. The
// directory is created on first use, not here.
func New(dir string, maxEntries int, maxAge time.Duration, logger *zap.Logger) *Cache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{dir: dir, maxEntries: maxEntries, maxAge: maxAge, logger: logger}
}

// Hash computes the stable content hash of a target: sha256 over the URL,
// device and sorted category set.
func Hash(t engine.Target) string {
	sum := sha256.Sum256([]byte(t.Key()))
	return hex.EncodeToString(sum[:])
}

// Find returns the freshest live entry for the exact target with age at
// most maxAge. A miss is (zero, false), never an error.
func (c *Cache) Find(t engine.Target, maxAge time.Duration) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(); err != nil {
		c.logger.Warn("cache index unreadable, treating as miss", zap.Error(err))
		return Entry{}, false
	}

	hash := Hash(t)
	var best *Entry
	for i := range c.entries {
		e := &c.entries[i]
		if e.ContentHash != hash {
			continue
		}
		age := e.Age()
		if age > maxAge {
			continue
		}
		if c.maxAge > 0 && age > c.maxAge {
			continue
		}
		if best == nil || e.CreatedAt.After(best.CreatedAt) {
			best = e
		}
	}
	if best == nil {
		return Entry{}, false
	}
	return *best, true
}

// Insert persists a report for the target. Any prior entry with the same
// content hash is superseded; eviction then drops stale entries and trims
// to the configured maximum, keeping the most recent.
func (c *Cache) Insert(t engine.Target, rep *report.Report) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(); err != nil {
		return Entry{}, &IOError{Op: "load index", Err: err}
	}

	payload, err := json.Marshal(rep)
	if err != nil {
		return Entry{}, &IOError{Op: "encode report", Err: err}
	}

	entry := Entry{
		ID:          uuid.NewString(),
		Target:      engine.Target{URL: t.URL, Device: t.Device, Categories: t.SortedCategories()},
		CreatedAt:   time.Now(),
		ContentHash: Hash(t),
	}
	entry.Payload = entry.ID + ".json"

	if err := os.WriteFile(filepath.Join(c.dir, entry.Payload), payload, 0o644); err != nil {
		return Entry{}, &IOError{Op: "write payload", Err: err}
	}

	// At most one live entry per hash: supersede the prior one.
	kept := c.entries[:0]
	for _, e := range c.entries {
		if e.ContentHash == entry.ContentHash {
			c.removePayload(e)
			continue
		}
		kept = append(kept, e)
	}
	c.entries = append(kept, entry)
	c.evict()

	if err := c.persistIndex(); err != nil {
		return Entry{}, &IOError{Op: "write index", Err: err}
	}
	c.logger.Debug("report cached",
		zap.String("entry", entry.ID),
		zap.String("url", t.URL),
		zap.Int("entries", len(c.entries)))
	return entry, nil
}

// Load reads and decodes the payload of an indexed entry.
func (c *Cache) Load(e Entry) (*report.Report, error) {
	data, err := os.ReadFile(filepath.Join(c.dir, e.Payload))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("entry %s: %w", e.ID, ErrNotFound)
		}
		return nil, &IOError{Op: "read payload", Err: err}
	}
	rep, err := report.Parse(data)
	if err != nil {
		return nil, &IOError{Op: "decode payload", Err: err}
	}
	return rep, nil
}

// Get returns the indexed entry with the given ID.
func (c *Cache) Get(id string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(); err != nil {
		return Entry{}, false
	}
	for _, e := range c.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Entries returns a snapshot of the live index, newest first.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(); err != nil {
		return nil
	}
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// evict drops entries past the TTL, then trims to maxEntries keeping the
// most recent by timestamp. Caller holds the mutex.
func (c *Cache) evict() {
	if c.maxAge > 0 {
		kept := c.entries[:0]
		for _, e := range c.entries {
			if e.Age() > c.maxAge {
				c.removePayload(e)
				continue
			}
			kept = append(kept, e)
		}
		c.entries = kept
	}
	if len(c.entries) <= c.maxEntries {
		return
	}
	sort.Slice(c.entries, func(i, j int) bool {
		return c.entries[i].CreatedAt.After(c.entries[j].CreatedAt)
	})
	for _, e := range c.entries[c.maxEntries:] {
		c.removePayload(e)
	}
	c.entries = c.entries[:c.maxEntries]
}

func (c *Cache) removePayload(e Entry) {
	if err := os.Remove(filepath.Join(c.dir, e.Payload)); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("evicted payload not removed",
			zap.String("entry", e.ID),
			zap.Error(err))
	}
}

// ensureLoaded reads the index once and creates the root directory.
// Caller holds the mutex.
func (c *Cache) ensureLoaded() error {
	if c.loaded {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(c.dir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			c.loaded = true
			return nil
		}
		return err
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	c.entries = entries
	c.loaded = true
	return nil
}

// persistIndex writes the whole index document. Caller holds the mutex.
func (c *Cache) persistIndex() error {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, indexFile), data, 0o644)
}
