package client

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	tus "github.com/eventials/go-tus"
)

// Fingerprint identifies a local file across runs for resumable uploads.
func Fingerprint(name string, size int64, modTime time.Time) string {
	sum := sha256.Sum256([]byte(name + "|" + strconv.FormatInt(size, 10) + "|" + strconv.FormatInt(modTime.UnixNano(), 10)))
	return hex.EncodeToString(sum[:])
}

// FingerprintStore maps fingerprints to resumable upload URLs. It satisfies
// tus.Store. With a path it persists to a JSON file so uploads resume
// across process restarts.
type FingerprintStore struct {
	mu   sync.Mutex
	path string
	urls map[string]string
}

var _ tus.Store = (*FingerprintStore)(nil)

// NewMemoryFingerprintStore keeps fingerprints for the life of the process.
func NewMemoryFingerprintStore() *FingerprintStore {
	return &FingerprintStore{urls: map[string]string{}}
}

// OpenFingerprintStore loads path, creating it on first write.
func OpenFingerprintStore(path string) (*FingerprintStore, error) {
	fs := &FingerprintStore{path: path, urls: map[string]string{}}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read fingerprint store: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fs.urls); err != nil {
			return nil, fmt.Errorf("failed to parse fingerprint store %s: %w", path, err)
		}
	}
	return fs, nil
}

func (fs *FingerprintStore) Get(fingerprint string) (string, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	url, ok := fs.urls[fingerprint]
	return url, ok
}

func (fs *FingerprintStore) Set(fingerprint, url string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.urls[fingerprint] = url
	fs.flush()
}

func (fs *FingerprintStore) Delete(fingerprint string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.urls, fingerprint)
	fs.flush()
}

func (fs *FingerprintStore) Close() {}

// flush writes atomically through a temp file. tus.Store has no error
// returns, so a failed write only costs resumability.
func (fs *FingerprintStore) flush() {
	if fs.path == "" {
		return
	}
	raw, err := json.MarshalIndent(fs.urls, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(fs.path), 0o755); err != nil {
		return
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return
	}
	_ = os.Rename(tmp, fs.path)
}
