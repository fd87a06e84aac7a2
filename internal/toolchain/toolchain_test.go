package toolchain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/volta-toolchain/volta/internal/platform"
)

func TestKindName(t *testing.T) {
	assert.Equal(t, "node", KindName(platform.KindRuntime))
	assert.Equal(t, "npm", KindName(platform.KindNpm))
	assert.Equal(t, "pnpm", KindName(platform.KindPnpm))
	assert.Equal(t, "yarn", KindName(platform.KindYarn))
	assert.Equal(t, "package", KindName(platform.KindPackage))
}

func TestPackageKindName(t *testing.T) {
	assert.Equal(t, "package/eslint", PackageKindName("eslint"))
}

func TestHooksKind(t *testing.T) {
	assert.Equal(t, "node", hooksKind(platform.KindRuntime))
	assert.Equal(t, "packages", hooksKind(platform.KindPackage))
}
