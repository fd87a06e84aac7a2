// Package inventory implements the content-addressed store of downloaded
// archives and unpacked tool trees that every other component consults
// before going to the network.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"github.com/volta-toolchain/volta/internal/errs"
	"github.com/volta-toolchain/volta/internal/layout"
)

// pollInterval and maxWait bound how long a loser of the stage race waits
// on the winner's publish before giving up with ConcurrentFetchTimeout.
const (
	pollInterval = 200 * time.Millisecond
	maxWait      = 120 * time.Second
)

// Store is the content-addressed inventory for one tool kind namespace.
// It is safe for concurrent use within a process; cross-process exclusion
// during stage/publish is provided by a flock-guarded lock directory.
type Store struct {
	layout *layout.Layout
}

// New returns a Store rooted at l.
func New(l *layout.Layout) *Store {
	return &Store{layout: l}
}

// Has reports whether (kind, version)'s unpacked root carries a ready
// marker. A directory without the marker is treated as absent, even if
// it contains files — it may be a crashed, partial publish.
func (s *Store) Has(kind, version string) bool {
	_, err := os.Stat(s.layout.ReadyMarker(kind, version))
	return err == nil
}

// ArchivePath returns the deterministic path the downloaded archive for
// (kind, version) is stored at, given its file extension (e.g. ".tar.gz").
func (s *Store) ArchivePath(kind, version, ext string) string {
	return s.layout.ArchivePath(kind, version, ext)
}

// HasArchive reports whether the archive for (kind, version, ext) has
// already been downloaded, letting the fetcher skip straight to decode.
func (s *Store) HasArchive(kind, version, ext string) bool {
	_, err := os.Stat(s.ArchivePath(kind, version, ext))
	return err == nil
}

// Handle is an exclusive, in-progress staging reservation for (kind,
// version). It must be published or abandoned; an abandoned Handle's
// staging directory is garbage the next Stage call will clear.
type Handle struct {
	kind, version string
	stagingDir    string
	store         *Store
	fileLock      *flock.Flock
}

// Dir is the staging directory the caller should unpack into.
func (h *Handle) Dir() string { return h.stagingDir }

// Stage reserves a staging directory for an in-progress fetch of (kind,
// version). Concurrent callers for the same key race on a flock-guarded
// lock directory: the winner gets an exclusive Handle; losers block,
// polling for the ready marker with bounded backoff, until either the
// marker appears (Stage then returns ErrAlreadyPublished so the caller
// can skip straight to use) or maxWait elapses (ConcurrentFetchTimeout).
func (s *Store) Stage(ctx context.Context, kind, version string) (*Handle, error) {
	lockDir := s.layout.StagingLockDir(kind, version)
	if err := layout.EnsureDir(filepath.Dir(lockDir)); err != nil {
		return nil, fmt.Errorf("failed to create lock parent: %w", err)
	}

	fl := flock.New(lockDir)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire staging lock for %s@%s: %w", kind, version, err)
	}

	if !locked {
		if err := s.waitForPeer(ctx, kind, version); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyPublished
	}

	stagingDir := s.layout.StagingDir(kind, version)
	// Losers from a prior crashed attempt may have left a partial
	// directory without a ready marker; it is garbage, clear it.
	if err := os.RemoveAll(stagingDir); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("failed to clear stale staging directory: %w", err)
	}
	if err := layout.EnsureDir(stagingDir); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	return &Handle{kind: kind, version: version, stagingDir: stagingDir, store: s, fileLock: fl}, nil
}

// ErrAlreadyPublished is returned by Stage when a peer published (kind,
// version) while the caller was waiting for the lock.
var ErrAlreadyPublished = errors.New("inventory: already published by a concurrent fetch")

// waitForPeer polls the ready marker with bounded, jittered backoff until
// it appears or maxWait elapses.
func (s *Store) waitForPeer(ctx context.Context, kind, version string) error {
	deadline := time.Now().Add(maxWait)
	for {
		if s.Has(kind, version) {
			return nil
		}
		if time.Now().After(deadline) {
			return errs.New(errs.KindConcurrentFetchTimeout, "stage").WithTool(kind, version).
				WithHint("a concurrent fetch did not finish within the wait window; retry")
		}
		jitter := time.Duration(rand.Int64N(int64(pollInterval) / 2))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval + jitter):
		}
	}
}

// Publish atomically renames the staging directory to the final unpacked
// root, then creates the ready marker last. Readers that observe the
// root without the marker treat it as absent, so a crash between rename
// and marker creation leaves a recoverable, garbage-collectible state.
func (h *Handle) Publish() error {
	defer h.fileLock.Unlock()

	root := h.store.layout.ImageRoot(h.kind, h.version)
	if err := layout.EnsureDir(filepath.Dir(root)); err != nil {
		return fmt.Errorf("failed to create image parent: %w", err)
	}

	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("failed to clear existing image root: %w", err)
	}
	if err := os.Rename(h.stagingDir, root); err != nil {
		return fmt.Errorf("failed to publish %s@%s: %w", h.kind, h.version, err)
	}

	marker := h.store.layout.ReadyMarker(h.kind, h.version)
	if err := os.WriteFile(marker, []byte(strconv.FormatInt(time.Now().Unix(), 10)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write ready marker for %s@%s: %w", h.kind, h.version, err)
	}
	return nil
}

// Abandon releases the staging lock without publishing, leaving the
// staging directory for the next Stage call to clear.
func (h *Handle) Abandon() error {
	return h.fileLock.Unlock()
}

// ImageRoot returns the unpacked installation root for (kind, version).
// Callers must check Has first; a root without a ready marker may be a
// stale partial directory from a crashed publish.
func (s *Store) ImageRoot(kind, version string) string {
	return s.layout.ImageRoot(kind, version)
}

// Versions lists every version of kind already published to the local
// inventory (i.e. Has(kind, v) holds), letting the version resolver try
// local candidates before consulting a remote index.
func (s *Store) Versions(kind string) []string {
	entries, err := os.ReadDir(s.layout.ImageKindRoot(kind))
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && s.Has(kind, e.Name()) {
			out = append(out, e.Name())
		}
	}
	return out
}
