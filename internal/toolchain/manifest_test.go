package toolchain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "package.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestExposedBinariesStringBin(t *testing.T) {
	path := writeManifest(t, `{"name": "eslint", "bin": "bin/eslint.js"}`)
	names, err := exposedBinaries(path, "eslint")
	require.NoError(t, err)
	assert.Equal(t, []string{"eslint"}, names)
}

func TestExposedBinariesMapBin(t *testing.T) {
	path := writeManifest(t, `{"name": "foo", "bin": {"foo": "bin/foo.js", "foo-cli": "bin/foo-cli.js"}}`)
	names, err := exposedBinaries(path, "foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"foo", "foo-cli"}, names)
}

func TestExposedBinariesNoBinField(t *testing.T) {
	path := writeManifest(t, `{"name": "foo"}`)
	names, err := exposedBinaries(path, "foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"foo"}, names)
}

func TestExposedBinariesMissingManifest(t *testing.T) {
	_, err := exposedBinaries(filepath.Join(t.TempDir(), "missing.json"), "foo")
	assert.Error(t, err)
}
