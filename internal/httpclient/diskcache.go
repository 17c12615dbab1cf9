package httpclient

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// diskCache persists JSON payloads keyed by SHA-1 of the cache key. Entries
// older than maxAge are treated as absent and lazily removed.
type diskCache struct {
	dir    string
	maxAge time.Duration
}

type diskEntry struct {
	Key      string  `json:"key"`
	StoredAt float64 `json:"stored_at"`
	Payload  any     `json:"payload"`
}

func newDiskCache(dir string, maxAge time.Duration) *diskCache {
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	return &diskCache{dir: dir, maxAge: maxAge}
}

func (d *diskCache) path(key string) string {
	sum := sha1.Sum([]byte(key))
	return filepath.Join(d.dir, hex.EncodeToString(sum[:])+".json")
}

func (d *diskCache) load(key string) (any, bool) {
	raw, err := os.ReadFile(d.path(key))
	if err != nil {
		return nil, false
	}

	var entry diskEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		_ = os.Remove(d.path(key))
		return nil, false
	}
	if entry.Key != key {
		return nil, false
	}
	storedAt := time.Unix(0, int64(entry.StoredAt*float64(time.Second)))
	if time.Since(storedAt) > d.maxAge {
		_ = os.Remove(d.path(key))
		return nil, false
	}
	return entry.Payload, true
}

func (d *diskCache) store(key string, payload any) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return
	}
	entry := diskEntry{
		Key:      key,
		StoredAt: float64(time.Now().UnixNano()) / float64(time.Second),
		Payload:  payload,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}

	// Write-then-rename keeps readers from observing partial files.
	tmp, err := os.CreateTemp(d.dir, ".cache-*.tmp")
	if err != nil {
		return
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return
	}
	if err := os.Rename(tmpName, d.path(key)); err != nil {
		_ = os.Remove(tmpName)
	}
}
