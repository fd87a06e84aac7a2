package toolchain

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volta-toolchain/volta/internal/errs"
	"github.com/volta-toolchain/volta/internal/hooks"
	"github.com/volta-toolchain/volta/internal/inventory"
	"github.com/volta-toolchain/volta/internal/layout"
	"github.com/volta-toolchain/volta/internal/platform"
	"github.com/volta-toolchain/volta/internal/project"
	"github.com/volta-toolchain/volta/internal/semverx"
)

func tarGzFixture(t *testing.T, binaryName, contents string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: binaryName, Mode: 0o755, Size: int64(len(contents))}))
	_, err := tw.Write([]byte(contents))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestManagerFetchRuntimeViaDistroHook(t *testing.T) {
	body := tarGzFixture(t, "node", "#!/bin/sh\necho node\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	l := layout.NewAt(t.TempDir())
	inv := inventory.New(l)
	hooksCfg, err := hooks.Parse([]byte(`{"node": {"distro": {"prefix": "` + srv.URL + `"}}}`))
	require.NoError(t, err)

	mgr := NewManager(l, inv, hooksCfg)
	v, err := mgr.Fetch(context.Background(), platform.KindRuntime, "", semverx.Exact(semverx.MustParseVersion("20.11.0")))
	require.NoError(t, err)
	assert.Equal(t, "20.11.0", v.String())
	assert.True(t, inv.Has("node", "20.11.0"))
}

func TestManagerInstallSetsUserDefault(t *testing.T) {
	body := tarGzFixture(t, "node", "#!/bin/sh\necho node\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	l := layout.NewAt(t.TempDir())
	inv := inventory.New(l)
	hooksCfg, err := hooks.Parse([]byte(`{"node": {"distro": {"prefix": "` + srv.URL + `"}}}`))
	require.NoError(t, err)

	mgr := NewManager(l, inv, hooksCfg)
	v, err := mgr.Install(context.Background(), platform.KindRuntime, semverx.Exact(semverx.MustParseVersion("20.11.0")))
	require.NoError(t, err)
	assert.Equal(t, "20.11.0", v.String())

	pinned, err := platform.LoadDefault(l)
	require.NoError(t, err)
	require.NotNil(t, pinned.Node)
	assert.Equal(t, "20.11.0", *pinned.Node)
}

func TestManagerInstallRejectsPackageKind(t *testing.T) {
	l := layout.NewAt(t.TempDir())
	inv := inventory.New(l)
	mgr := NewManager(l, inv, nil)
	_, err := mgr.Install(context.Background(), platform.KindPackage, semverx.Exact(semverx.MustParseVersion("1.0.0")))
	assert.Error(t, err)
}

func TestManagerPinWritesProjectManifest(t *testing.T) {
	body := tarGzFixture(t, "node", "#!/bin/sh\necho node\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	l := layout.NewAt(t.TempDir())
	inv := inventory.New(l)
	hooksCfg, err := hooks.Parse([]byte(`{"node": {"distro": {"prefix": "` + srv.URL + `"}}}`))
	require.NoError(t, err)

	projectDir := t.TempDir()
	manifestPath := filepath.Join(projectDir, project.ManifestFileName)
	require.NoError(t, os.WriteFile(manifestPath, []byte(`{"name": "demo"}`), 0o644))

	mgr := NewManager(l, inv, hooksCfg)
	v, err := mgr.Pin(context.Background(), projectDir, platform.KindRuntime, semverx.Exact(semverx.MustParseVersion("20.11.0")))
	require.NoError(t, err)
	assert.Equal(t, "20.11.0", v.String())

	pinned, ok, err := project.Read(manifestPath)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, pinned.Node)
	assert.Equal(t, "20.11.0", *pinned.Node)

	var doc map[string]json.RawMessage
	data, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "name")
}

func TestManagerPinFailsOutsideProject(t *testing.T) {
	l := layout.NewAt(t.TempDir())
	inv := inventory.New(l)
	mgr := NewManager(l, inv, nil)

	_, err := mgr.Pin(context.Background(), t.TempDir(), platform.KindRuntime, semverx.Exact(semverx.MustParseVersion("20.11.0")))
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindNotInProject, e.Kind)
}

// seedImageBinary plants an executable file at <kindKey>/<version>/bin/<name>
// in the inventory's unpacked-image tree, standing in for a fetched and
// decoded platform tool without going through the full fetch pipeline.
func seedImageBinary(t *testing.T, inv *inventory.Store, kindKey, version, name string, contents []byte) {
	t.Helper()
	dir := filepath.Join(inv.ImageRoot(kindKey, version), "bin")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), contents, 0o755))
}

func TestInstallPackageFullLifecycle(t *testing.T) {
	l := layout.NewAt(t.TempDir())
	inv := inventory.New(l)

	seedImageBinary(t, inv, KindName(platform.KindRuntime), "20.11.0", "node", []byte("#!/bin/sh\n"))

	npmScript := `#!/bin/sh
set -e
prefix="$4"
mkdir -p "$prefix/lib/node_modules/testcli"
cat > "$prefix/lib/node_modules/testcli/package.json" <<'EOF'
{"name": "testcli", "bin": {"testcli": "bin/testcli.js"}}
EOF
`
	seedImageBinary(t, inv, KindName(platform.KindNpm), "8.0.0", "npm", []byte(npmScript))

	require.NoError(t, os.MkdirAll(l.BinDir(), 0o755))
	require.NoError(t, os.WriteFile(DispatcherPath(l), []byte("#!/bin/sh\n"), 0o755))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake-tarball-content"))
	}))
	defer srv.Close()

	hooksCfg, err := hooks.Parse([]byte(`{"packages": {"distro": {"prefix": "` + srv.URL + `"}}}`))
	require.NoError(t, err)

	mgr := NewManager(l, inv, hooksCfg)
	img := &platform.Image{
		Runtime: platform.Sourced[semverx.Version]{Value: semverx.MustParseVersion("20.11.0"), Origin: platform.SourceDefault},
		Npm:     &platform.Sourced[semverx.Version]{Value: semverx.MustParseVersion("8.0.0"), Origin: platform.SourceDefault},
	}

	rec, err := mgr.InstallPackage(context.Background(), "testcli", semverx.Exact(semverx.MustParseVersion("1.0.0")), img)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", rec.Version)
	assert.Equal(t, []string{"testcli"}, rec.Shims)

	linkTarget, err := os.Readlink(filepath.Join(l.BinDir(), "testcli"))
	require.NoError(t, err)
	assert.Equal(t, DispatcherPath(l), linkTarget)

	loaded, ok, err := LoadPackageRecord(l, "testcli")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, loaded)

	require.NoError(t, mgr.UninstallPackage("testcli"))
	_, ok, err = LoadPackageRecord(l, "testcli")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = os.Lstat(filepath.Join(l.BinDir(), "testcli"))
	assert.True(t, os.IsNotExist(err))
}

func TestInstallPackageRollsBackOnCommandFailure(t *testing.T) {
	l := layout.NewAt(t.TempDir())
	inv := inventory.New(l)

	// No pinned npm: the install command falls back to the copy
	// bundled alongside the runtime, so seed both in node's own bin dir.
	seedImageBinary(t, inv, KindName(platform.KindRuntime), "20.11.0", "node", []byte("#!/bin/sh\n"))
	nodeBinDir := filepath.Join(inv.ImageRoot(KindName(platform.KindRuntime), "20.11.0"), "bin")
	require.NoError(t, os.WriteFile(filepath.Join(nodeBinDir, "npm"), []byte("#!/bin/sh\nexit 1\n"), 0o755))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake-tarball-content"))
	}))
	defer srv.Close()
	hooksCfg, err := hooks.Parse([]byte(`{"packages": {"distro": {"prefix": "` + srv.URL + `"}}}`))
	require.NoError(t, err)

	mgr := NewManager(l, inv, hooksCfg)
	img := &platform.Image{Runtime: platform.Sourced[semverx.Version]{Value: semverx.MustParseVersion("20.11.0"), Origin: platform.SourceDefault}}

	_, err = mgr.InstallPackage(context.Background(), "testcli", semverx.Exact(semverx.MustParseVersion("1.0.0")), img)
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindPackageInstallFailed, e.Kind)

	_, statErr := os.Stat(l.PackagePrefixDir("testcli"))
	assert.True(t, os.IsNotExist(statErr))
}
