package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// VersionCache remembers the last change request version this client saw.
// Entries live under ~/.changerequest/cache/versions/<id>. Mutating commands
// send the cached version so the server rejects writes based on stale reads.
type VersionCache struct {
	root string
}

// NewVersionCache constructs a cache rooted at the default cache location.
func NewVersionCache() (*VersionCache, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	return newVersionCacheWithRoot(filepath.Join(home, ".changerequest", "cache"))
}

func newVersionCacheWithRoot(root string) (*VersionCache, error) {
	versionsDir := filepath.Join(root, "versions")
	if err := os.MkdirAll(versionsDir, 0o755); err != nil {
		return nil, err
	}

	return &VersionCache{root: root}, nil
}

func (c *VersionCache) versionPath(id string) string {
	return filepath.Join(c.root, "versions", id)
}

// Lookup returns the cached version for a change request, if any.
func (c *VersionCache) Lookup(id string) (int64, bool, error) {
	if id == "" {
		return 0, false, errors.New("missing change request id for cache lookup")
	}

	data, err := os.ReadFile(c.versionPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cache entry for %s: %w", id, err)
	}
	return version, true, nil
}

// Store records the version last seen for a change request.
func (c *VersionCache) Store(id string, version int64) error {
	if id == "" {
		return errors.New("missing change request id for cache write")
	}

	return os.WriteFile(c.versionPath(id), []byte(strconv.FormatInt(version, 10)), 0o644)
}

// Forget drops the cached version of a change request.
func (c *VersionCache) Forget(id string) error {
	err := os.Remove(c.versionPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
