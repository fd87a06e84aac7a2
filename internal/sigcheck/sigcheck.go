// Package sigcheck implements the optional sigstore-based signature
// verification layer SPEC_FULL.md §4.C adds on top of checksum
// verification: a hook can opt a tool kind into checking a detached
// cosign/sigstore bundle before the checksum step runs.
package sigcheck

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/sigstore/sigstore-go/pkg/bundle"
	"github.com/sigstore/sigstore-go/pkg/root"
	"github.com/sigstore/sigstore-go/pkg/tuf"
	sgverify "github.com/sigstore/sigstore-go/pkg/verify"

	"github.com/volta-toolchain/volta/internal/errs"
)

// Policy names the expected signer identity for a tool kind's
// distributions: a keyless OIDC issuer plus a SAN regex matching the CI
// workflow that published the artifact (e.g. a vendor's GitHub Actions
// release job). Hooks files configure this per tool kind; an empty
// Policy means no signer-identity constraint beyond a valid signature.
type Policy struct {
	Issuer   string
	SANRegex string
}

// Verifier checks a detached sigstore bundle against an archive file,
// reusing the public-good Sigstore trusted root (Fulcio + Rekor) the way
// the teacher's SigstoreVerifier does, generalized from one hardcoded
// identity to a caller-supplied Policy since Volta's distributions can
// come from any hooks-configured publisher, not a single GitHub org.
type Verifier struct {
	once           sync.Once
	trustedRoot    *root.LiveTrustedRoot
	trustedRootErr error
}

// New returns a Verifier. The trusted root is fetched lazily on first
// use so tools that never opt into sigstore verification pay no cost.
func New() *Verifier {
	return &Verifier{}
}

func (v *Verifier) getTrustedRoot() (*root.LiveTrustedRoot, error) {
	v.once.Do(func() {
		v.trustedRoot, v.trustedRootErr = root.NewLiveTrustedRoot(tuf.DefaultOptions())
	})
	return v.trustedRoot, v.trustedRootErr
}

// VerifyFile checks that bundlePath contains a valid sigstore signature
// over artifactPath's bytes, matching policy's signer identity when one
// is given. Every verification failure surfaces as
// errs.KindDownloadCorrupt, matching §4.C's "failure of either [checksum or
// signature] is DownloadCorrupt"; an unreadable artifact file is
// errs.KindFilesystem.
func (v *Verifier) VerifyFile(bundlePath, artifactPath string, policy Policy) error {
	trustedRoot, err := v.getTrustedRoot()
	if err != nil {
		return errs.Wrap(errs.KindDownloadCorrupt, "sigcheck", fmt.Errorf("failed to fetch trusted root: %w", err))
	}

	b, err := bundle.LoadJSONFromPath(bundlePath)
	if err != nil {
		return errs.Wrap(errs.KindDownloadCorrupt, "sigcheck", fmt.Errorf("failed to load sigstore bundle: %w", err))
	}

	artifact, err := os.ReadFile(artifactPath)
	if err != nil {
		return errs.Wrap(errs.KindFilesystem, "sigcheck", err)
	}

	verifier, err := sgverify.NewVerifier(
		trustedRoot,
		sgverify.WithSignedCertificateTimestamps(1),
		sgverify.WithTransparencyLog(1),
		sgverify.WithIntegratedTimestamps(1),
	)
	if err != nil {
		return errs.Wrap(errs.KindDownloadCorrupt, "sigcheck", fmt.Errorf("failed to create verifier: %w", err))
	}

	opts := []sgverify.PolicyOption{sgverify.WithArtifact(bytes.NewReader(artifact))}
	if policy.Issuer != "" || policy.SANRegex != "" {
		certIdentity, err := sgverify.NewShortCertificateIdentity(policy.Issuer, "", "", policy.SANRegex)
		if err != nil {
			return errs.Wrap(errs.KindDownloadCorrupt, "sigcheck", fmt.Errorf("invalid signer policy: %w", err))
		}
		opts = append(opts, sgverify.WithCertificateIdentity(certIdentity))
	}

	if _, err := verifier.Verify(b, sgverify.NewPolicy(opts...)); err != nil {
		return errs.Wrap(errs.KindDownloadCorrupt, "sigcheck", fmt.Errorf("signature verification failed: %w", err))
	}
	return nil
}
