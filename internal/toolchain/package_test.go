package toolchain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volta-toolchain/volta/internal/layout"
	"github.com/volta-toolchain/volta/internal/project"
)

func TestPackageRecordRoundTrip(t *testing.T) {
	l := layout.NewAt(t.TempDir())

	_, ok, err := LoadPackageRecord(l, "eslint")
	require.NoError(t, err)
	assert.False(t, ok)

	node := "20.11.0"
	rec := PackageRecord{Version: "8.1.0", PlatformImageUsed: project.PinnedPlatform{Node: &node}, Shims: []string{"eslint"}}
	require.NoError(t, SavePackageRecord(l, "eslint", rec))

	loaded, ok, err := LoadPackageRecord(l, "eslint")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, loaded)

	names, err := ListPackageNames(l)
	require.NoError(t, err)
	assert.Equal(t, []string{"eslint"}, names)

	require.NoError(t, DeletePackageRecord(l, "eslint"))
	_, ok, err = LoadPackageRecord(l, "eslint")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an already-absent record is not an error.
	require.NoError(t, DeletePackageRecord(l, "eslint"))
}

func TestListPackageNamesEmpty(t *testing.T) {
	l := layout.NewAt(t.TempDir())
	names, err := ListPackageNames(l)
	require.NoError(t, err)
	assert.Empty(t, names)
}
