package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/volta-toolchain/volta/internal/errs"
)

// downloadOCI pulls a single-platform image referenced by an
// "oci://registry/repo:tag" distribution URL and flattens its topmost
// layer to destPath, for distributions published as OCI artifacts
// instead of plain tarballs (spec.md §4.C transport plurality,
// SPEC_FULL.md §4.C transport 2).
func downloadOCI(ctx context.Context, dist Distribution, destPath string) error {
	ref, err := name.ParseReference(strings.TrimPrefix(dist.URL, "oci://"))
	if err != nil {
		return errs.Wrap(errs.KindNetworkError, "download-oci", err)
	}

	img, err := remote.Image(ref, remote.WithContext(ctx))
	if err != nil {
		return errs.Wrap(errs.KindNetworkError, "download-oci", err)
	}

	layers, err := img.Layers()
	if err != nil {
		return errs.Wrap(errs.KindArchiveCorrupt, "download-oci", err)
	}
	if len(layers) == 0 {
		return errs.New(errs.KindArchiveCorrupt, "download-oci").WithHint(fmt.Sprintf("image %s has no layers", ref))
	}
	topLayer := layers[len(layers)-1]

	rc, err := topLayer.Uncompressed()
	if err != nil {
		return errs.Wrap(errs.KindArchiveCorrupt, "download-oci", err)
	}
	defer rc.Close()

	if err := layoutEnsureParent(destPath); err != nil {
		return err
	}
	tmp := destPath + ".downloading"
	out, err := os.Create(tmp)
	if err != nil {
		return errs.Wrap(errs.KindFilesystem, "download-oci", err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.KindNetworkError, "download-oci", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.KindFilesystem, "download-oci", err)
	}
	return os.Rename(tmp, destPath)
}
