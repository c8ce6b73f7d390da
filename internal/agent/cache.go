package agent

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// CachePolicy controls where the password-derived KEK lives between
// agent sessions.
type CachePolicy string

const (
	// PolicySession keeps the KEK in memory only; every new session
	// starts at no_local_secret.
	PolicySession CachePolicy = "session"
	// PolicyPersist writes the KEK to a mode-0600 file so later
	// sessions can unlock without re-entering the password.
	PolicyPersist CachePolicy = "persist"
)

// Valid reports whether p is a recognised policy.
func (p CachePolicy) Valid() bool {
	return p == PolicySession || p == PolicyPersist
}

// KEKCache persists the derived KEK across sessions under the persist
// policy. The cached KEK is equivalent to the password for as long as
// it stays valid, hence the restrictive file mode.
type KEKCache struct {
	path string
}

// NewKEKCache places the cache file under dir.
func NewKEKCache(dir string) *KEKCache {
	return &KEKCache{path: filepath.Join(dir, "kek.cache")}
}

type cacheFile struct {
	Username string `json:"username"`
	KEK      string `json:"kek"`
}

// Load returns the cached KEK for username, or nil when no cache
// exists or it belongs to a different identity.
func (c *KEKCache) Load(username string) ([]byte, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read kek cache: %w", err)
	}
	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse kek cache: %w", err)
	}
	if f.Username != username {
		return nil, nil
	}
	kek, err := base64.StdEncoding.DecodeString(f.KEK)
	if err != nil {
		return nil, fmt.Errorf("failed to decode kek cache: %w", err)
	}
	return kek, nil
}

// Save writes the KEK for username, replacing any previous cache.
func (c *KEKCache) Save(username string, kek []byte) error {
	b, err := json.Marshal(cacheFile{
		Username: username,
		KEK:      base64.StdEncoding.EncodeToString(kek),
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.path, b, 0600); err != nil {
		return fmt.Errorf("failed to write kek cache: %w", err)
	}
	return nil
}

// Clear removes the cache file. Missing files are not an error.
func (c *KEKCache) Clear() error {
	err := os.Remove(c.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear kek cache: %w", err)
	}
	return nil
}
