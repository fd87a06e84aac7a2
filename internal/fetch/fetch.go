// Package fetch implements the Fetcher: given a tool kind and version,
// locate a download URL via Hooks, download and verify the archive, and
// decode it into the inventory's staging handle.
package fetch

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/volta-toolchain/volta/internal/archive"
	"github.com/volta-toolchain/volta/internal/checksum"
	"github.com/volta-toolchain/volta/internal/errs"
	"github.com/volta-toolchain/volta/internal/hooks"
	"github.com/volta-toolchain/volta/internal/inventory"
	"github.com/volta-toolchain/volta/internal/sigcheck"
)

// sigVerifier is shared by every Fetcher: the sigstore trusted root it
// lazily fetches is the same regardless of which tool kind triggered
// the fetch, so there is no reason to rebuild it per instance.
var sigVerifier = sigcheck.New()

// retryAttempts and retryBaseDelay implement spec.md §4.C's retry
// policy: transient network errors retry with exponential backoff up to
// a fixed ceiling; non-transient HTTP 4xx codes are not retried.
const (
	retryAttempts  = 3
	retryBaseDelay = 500 * time.Millisecond
)

// Distribution names the concrete fetch target: a URL, its archive
// format, and the checksum to verify it against, if any.
type Distribution struct {
	URL              string
	Format           archive.Format
	RawBinaryName    string
	ChecksumAlgo     checksum.Algorithm
	ChecksumExpected string

	// SigstorePolicy is non-nil when the tool kind opted into the
	// sigstore signature layer; the bundle is expected alongside the
	// archive at URL+".sigstore.json", the conventional cosign bundle
	// suffix.
	SigstorePolicy *sigcheck.Policy
}

// Locator resolves a (kind, version) into a Distribution, consulting
// Hooks with a built-in fallback. Implemented per-kind by
// internal/toolchain (each ToolKind knows its own default mirror).
type Locator interface {
	Locate(ctx context.Context, hookCfg *hooks.Config, kind, version string) (Distribution, error)
}

// Fetcher drives the download/verify/decode/publish pipeline.
type Fetcher struct {
	inv    *inventory.Store
	hooks  *hooks.Config
	client *http.Client
}

// New builds a Fetcher over inv, resolving URLs with hookCfg (may be nil).
func New(inv *inventory.Store, hookCfg *hooks.Config) *Fetcher {
	return &Fetcher{inv: inv, hooks: hookCfg, client: http.DefaultClient}
}

// Ensure performs spec.md §4.C's full algorithm for (kind, version): skip
// to decode if the archive is already cached, otherwise resolve a URL via
// loc, download with retry, verify, decode into a staging handle, and
// publish. It is a no-op (no network I/O) if the inventory already has a
// ready, published entry.
func (f *Fetcher) Ensure(ctx context.Context, loc Locator, kind, version string) error {
	if f.inv.Has(kind, version) {
		return nil
	}

	dist, err := loc.Locate(ctx, f.hooks, kind, version)
	if err != nil {
		return err
	}

	ext := extensionFor(dist.Format)
	archivePath := f.inv.ArchivePath(kind, version, ext)

	if !f.inv.HasArchive(kind, version, ext) {
		if err := f.downloadWithRetry(ctx, dist, archivePath); err != nil {
			return err
		}
	}

	handle, err := f.inv.Stage(ctx, kind, version)
	if err != nil {
		if err == inventory.ErrAlreadyPublished {
			return nil
		}
		return err
	}

	if err := f.decode(archivePath, dist, handle.Dir()); err != nil {
		_ = handle.Abandon()
		return err
	}

	return handle.Publish()
}

// EnsureArchive resolves and downloads (kind, version)'s archive without
// staging or decoding it, returning the cached archive path and the
// Distribution it was resolved to. Used by the package install
// lifecycle, which runs the package's own install command against the
// raw tarball rather than a generic decode.
func (f *Fetcher) EnsureArchive(ctx context.Context, loc Locator, kind, version string) (string, Distribution, error) {
	dist, err := loc.Locate(ctx, f.hooks, kind, version)
	if err != nil {
		return "", Distribution{}, err
	}

	ext := extensionFor(dist.Format)
	archivePath := f.inv.ArchivePath(kind, version, ext)

	if !f.inv.HasArchive(kind, version, ext) {
		if err := f.downloadWithRetry(ctx, dist, archivePath); err != nil {
			return "", Distribution{}, err
		}
	}
	return archivePath, dist, nil
}

func (f *Fetcher) decode(archivePath string, dist Distribution, destDir string) error {
	af, err := os.Open(archivePath)
	if err != nil {
		return errs.Wrap(errs.KindFilesystem, "decode", err)
	}
	defer af.Close()

	dec, err := archive.NewDecoder(dist.Format, dist.RawBinaryName)
	if err != nil {
		return errs.Wrap(errs.KindArchiveCorrupt, "decode", err)
	}
	if err := dec.Decode(af, destDir); err != nil {
		return errs.Wrap(errs.KindArchiveCorrupt, "decode", err)
	}
	return nil
}

func (f *Fetcher) downloadWithRetry(ctx context.Context, dist Distribution, destPath string) error {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			backoff := retryBaseDelay * time.Duration(1<<uint(attempt-1))
			jitter := time.Duration(rand.Int64N(int64(backoff) / 2))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}

		err := f.download(ctx, dist, destPath)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		lastErr = err
	}
	return errs.Wrap(errs.KindNetworkError, "download", lastErr)
}

// httpStatusError carries a non-2xx HTTP status so isTransient can tell
// retryable server/network failures from non-transient 4xx rejections.
type httpStatusError struct {
	statusCode int
	url        string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.statusCode, e.url)
}

func isTransient(err error) bool {
	var statusErr *httpStatusError
	if as, ok := err.(*httpStatusError); ok {
		statusErr = as
	}
	if statusErr != nil {
		return statusErr.statusCode >= 500
	}
	if e, ok := err.(*errs.Error); ok {
		return e.Kind == errs.KindNetworkError
	}
	return true
}

func (f *Fetcher) download(ctx context.Context, dist Distribution, destPath string) error {
	switch {
	case strings.HasPrefix(dist.URL, "oci://"):
		return downloadOCI(ctx, dist, destPath)
	case strings.HasPrefix(dist.URL, "git+"):
		return downloadGit(ctx, dist, destPath)
	default:
		return f.downloadHTTP(ctx, dist, destPath)
	}
}

func (f *Fetcher) downloadHTTP(ctx context.Context, dist Distribution, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dist.URL, nil)
	if err != nil {
		return errs.Wrap(errs.KindNetworkError, "download", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindNetworkError, "download", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &httpStatusError{statusCode: resp.StatusCode, url: dist.URL}
	}

	if err := layoutEnsureParent(destPath); err != nil {
		return err
	}

	tmp := destPath + ".downloading"
	out, err := os.Create(tmp)
	if err != nil {
		return errs.Wrap(errs.KindFilesystem, "download", err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.KindNetworkError, "download", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.KindFilesystem, "download", err)
	}

	if dist.SigstorePolicy != nil {
		if err := f.verifySigstore(ctx, dist, tmp); err != nil {
			os.Remove(tmp)
			return err
		}
	}

	if dist.ChecksumExpected != "" {
		if err := checksum.Verify(tmp, dist.ChecksumAlgo, dist.ChecksumExpected); err != nil {
			os.Remove(tmp)
			return errs.Wrap(errs.KindDownloadCorrupt, "download", err)
		}
	}

	if err := os.Rename(tmp, destPath); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.KindFilesystem, "download", err)
	}
	return nil
}

// verifySigstore downloads the detached bundle the sigstore convention
// publishes alongside an archive (archiveURL+".sigstore.json") and checks
// it against the downloaded artifact before the archive is published
// into the inventory.
func (f *Fetcher) verifySigstore(ctx context.Context, dist Distribution, artifactPath string) error {
	bundlePath := artifactPath + ".sigstore.json"
	if err := f.downloadToFile(ctx, dist.URL+".sigstore.json", bundlePath); err != nil {
		return errs.Wrap(errs.KindDownloadCorrupt, "download", err)
	}
	defer os.Remove(bundlePath)

	return sigVerifier.VerifyFile(bundlePath, artifactPath, *dist.SigstorePolicy)
}

func (f *Fetcher) downloadToFile(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &httpStatusError{statusCode: resp.StatusCode, url: url}
	}

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, resp.Body)
	return err
}

func layoutEnsureParent(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.KindFilesystem, "download", err)
	}
	return nil
}

func extensionFor(f archive.Format) string {
	switch f {
	case archive.FormatTarGz:
		return ".tar.gz"
	case archive.FormatTarXz:
		return ".tar.xz"
	case archive.FormatZip:
		return ".zip"
	default:
		return ".bin"
	}
}
