// Package artifacts archives run logs outside the control-plane
// database. Executors return full logs once a run is terminal; the
// archive keeps the bytes and the run record keeps only the URI.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned for a URI with no stored object.
	ErrNotFound = errors.New("artifacts: object not found")
	// ErrForeignURI is returned when a URI does not belong to this
	// archive (wrong scheme, bucket or base directory).
	ErrForeignURI = errors.New("artifacts: uri not owned by this archive")
)

// Archive stores immutable log blobs under caller-chosen keys and
// addresses them by URI afterwards.
type Archive interface {
	// Put stores data under key and returns the object's URI. Writing
	// the same key twice overwrites; log content for a terminal run
	// never changes, so this is safe.
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get retrieves the object a previous Put returned the URI for.
	Get(ctx context.Context, uri string) ([]byte, error)
	// Exists reports whether the URI resolves to a stored object.
	Exists(ctx context.Context, uri string) (bool, error)
	// Delete removes the object. Deleting an absent object is not an
	// error.
	Delete(ctx context.Context, uri string) error
}

// RunLogKey builds the canonical archive key for one run's logs.
func RunLogKey(tenantID, planID, runID string) string {
	return fmt.Sprintf("%s/%s/%s.log", sanitize(tenantID), sanitize(planID), sanitize(runID))
}

// sanitize keeps keys flat enough that no ID can escape its segment.
func sanitize(part string) string {
	part = strings.ReplaceAll(part, "/", "_")
	part = strings.ReplaceAll(part, "\\", "_")
	return strings.ReplaceAll(part, "..", "_")
}

// FileArchive is a filesystem-backed Archive for single-node and
// development deployments.
type FileArchive struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileArchive creates an archive rooted at baseDir, creating it if
// needed.
func NewFileArchive(baseDir string) (*FileArchive, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("artifacts: resolve base dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: ensure base dir: %w", err)
	}
	return &FileArchive{baseDir: abs}, nil
}

func (a *FileArchive) Put(ctx context.Context, key string, data []byte) (string, error) {
	path, err := a.resolve(key)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("artifacts: ensure key dir: %w", err)
	}
	// Write to temp, then rename, so readers never see partial logs.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("artifacts: write log blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("artifacts: commit log blob: %w", err)
	}
	return "file://" + path, nil
}

func (a *FileArchive) Get(ctx context.Context, uri string) ([]byte, error) {
	path, err := a.pathFromURI(uri)
	if err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	if err != nil {
		return nil, fmt.Errorf("artifacts: read log blob: %w", err)
	}
	return data, nil
}

func (a *FileArchive) Exists(ctx context.Context, uri string) (bool, error) {
	path, err := a.pathFromURI(uri)
	if err != nil {
		return false, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("artifacts: stat log blob: %w", err)
}

func (a *FileArchive) Delete(ctx context.Context, uri string) error {
	path, err := a.pathFromURI(uri)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("artifacts: delete log blob: %w", err)
	}
	return nil
}

// resolve maps a key to an absolute path and rejects anything that
// would land outside the base directory.
func (a *FileArchive) resolve(key string) (string, error) {
	if key == "" {
		return "", errors.New("artifacts: empty key")
	}
	path := filepath.Join(a.baseDir, filepath.FromSlash(key))
	if !strings.HasPrefix(path, a.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("artifacts: key %q escapes archive root", key)
	}
	return path, nil
}

func (a *FileArchive) pathFromURI(uri string) (string, error) {
	path, ok := strings.CutPrefix(uri, "file://")
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrForeignURI, uri)
	}
	if !strings.HasPrefix(path, a.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrForeignURI, uri)
	}
	return path, nil
}
