// Package refcache implements the hash-verified reference data cache shared
// by every run context. Files are fetched to a temporary location, verified
// against an expected SHA-256 digest, and only then published atomically to
// their deterministic path, so concurrent resolutions of the same key can
// never corrupt the published file.
package refcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mckenziephagen/mindboggle/internal/ctxlog"
)

// IntegrityError reports fetched content whose digest does not match the
// expected hash. No file is left at the deterministic path when this is
// returned.
type IntegrityError struct {
	Key  string
	Want string
	Got  string
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("hash mismatch for %s: want %s, got %s", e.Key, e.Want, e.Got)
}

// Cache resolves reference files under a single root directory.
type Cache struct {
	root   string
	client *http.Client
}

// ResolveRoot picks the cache root directory: the value of the named
// environment variable if set, else the fallback. The variable name itself
// comes from configuration.
func ResolveRoot(envVar, fallback string) string {
	if envVar != "" {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	return fallback
}

// Open creates a cache rooted at dir, creating the directory if absent.
func Open(dir string) (*Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache root must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}
	return &Cache{root: dir, client: &http.Client{}}, nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string { return c.root }

// Path returns the deterministic local path for a key. A key maps to exactly
// one path for the lifetime of the cache directory.
func (c *Cache) Path(key string) string {
	return filepath.Join(c.root, filepath.Base(key))
}

// Resolve returns the local path for key, fetching from url on a miss. A hit
// (existing file with matching digest) performs no network access. On a miss
// the content is fetched into a temporary file in the cache directory,
// verified, and renamed into place; a digest mismatch yields IntegrityError
// and leaves nothing at the deterministic path. An empty expectedHash skips
// verification: any existing file is a hit and fetched content is accepted
// as-is.
func (c *Cache) Resolve(ctx context.Context, key, url, expectedHash string) (string, error) {
	logger := ctxlog.FromContext(ctx).With("key", key)
	local := c.Path(key)

	if digest, err := fileDigest(local); err == nil {
		if digestMatches(digest, expectedHash) {
			logger.Debug("Reference cache hit.", "path", local)
			return local, nil
		}
		logger.Warn("Cached reference file has wrong digest, refetching.", "path", local)
	}

	logger.Info("Fetching reference data.", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create fetch request for %s: %w", key, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch of %s failed with status: %s", key, resp.Status)
	}

	tmp, err := os.CreateTemp(c.root, filepath.Base(key)+".fetch-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary fetch file: %w", err)
	}
	tmpName := tmp.Name()

	hasher := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(tmp, hasher), resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if copyErr == nil {
			copyErr = closeErr
		}
		return "", fmt.Errorf("failed to write fetched content for %s: %w", key, copyErr)
	}

	got := hex.EncodeToString(hasher.Sum(nil))
	if !digestMatches(got, expectedHash) {
		os.Remove(tmpName)
		return "", &IntegrityError{Key: key, Want: strings.ToLower(expectedHash), Got: got}
	}

	// Atomic publish; a concurrent resolver racing us lands on the same
	// verified content.
	if err := os.Rename(tmpName, local); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to publish %s: %w", key, err)
	}

	logger.Debug("Reference data cached.", "path", local)
	return local, nil
}

// fileDigest returns the SHA-256 hex digest of an existing file.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func digestMatches(got, want string) bool {
	if want == "" {
		return true
	}
	return strings.EqualFold(got, want)
}
