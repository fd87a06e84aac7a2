package intercept

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyNpmGlobalInstall(t *testing.T) {
	for _, argv := range [][]string{
		{"install", "-g", "eslint"},
		{"i", "--global", "eslint"},
		{"add", "--location=global", "eslint@8.0.0"},
	} {
		c := ClassifyNpm(argv)
		assert.Equal(t, IntentGlobalInstall, c.Intent, "%v", argv)
	}
}

func TestClassifyNpmLocalInstall(t *testing.T) {
	c := ClassifyNpm([]string{"install", "eslint"})
	assert.Equal(t, IntentLocal, c.Intent)
}

func TestClassifyNpmGlobalUninstall(t *testing.T) {
	c := ClassifyNpm([]string{"uninstall", "-g", "eslint"})
	assert.Equal(t, IntentGlobalUninstall, c.Intent)
	assert.Equal(t, []string{"eslint"}, c.Specs)
}

func TestClassifyNpmMixedFlags(t *testing.T) {
	// A bare install with -g plus unrelated flags is still global.
	c := ClassifyNpm([]string{"install", "-g", "--silent", "eslint"})
	assert.Equal(t, IntentGlobalInstall, c.Intent)
	assert.Equal(t, []string{"eslint"}, c.Specs)
}

func TestClassifyNpmLinkBareIsGlobalLink(t *testing.T) {
	c := ClassifyNpm([]string{"link"})
	assert.Equal(t, IntentLink, c.Intent)
}

func TestClassifyNpmLinkWithSpecIsInstall(t *testing.T) {
	c := ClassifyNpm([]string{"link", "some-cli"})
	assert.Equal(t, IntentGlobalInstall, c.Intent)
	assert.Equal(t, []string{"some-cli"}, c.Specs)
}

func TestClassifyNpmDoubleDashStopsParsing(t *testing.T) {
	c := ClassifyNpm([]string{"run", "build", "--", "-g"})
	assert.Equal(t, IntentLocal, c.Intent)
}

func TestClassifyPnpmGlobal(t *testing.T) {
	c := ClassifyPnpm([]string{"add", "-g", "eslint"})
	assert.Equal(t, IntentGlobalInstall, c.Intent)

	c = ClassifyPnpm([]string{"remove", "--global", "eslint"})
	assert.Equal(t, IntentGlobalUninstall, c.Intent)

	c = ClassifyPnpm([]string{"install"})
	assert.Equal(t, IntentLocal, c.Intent)
}

func TestClassifyPnpmLinkGlobal(t *testing.T) {
	c := ClassifyPnpm([]string{"link", "--global"})
	assert.Equal(t, IntentLink, c.Intent)
}

func TestClassifyYarnClassicGlobal(t *testing.T) {
	c := ClassifyYarnClassic([]string{"global", "add", "some-cli"})
	assert.Equal(t, IntentGlobalInstall, c.Intent)
	assert.Equal(t, []string{"some-cli"}, c.Specs)

	c = ClassifyYarnClassic([]string{"global", "remove", "some-cli"})
	assert.Equal(t, IntentGlobalUninstall, c.Intent)

	c = ClassifyYarnClassic([]string{"add", "lodash"})
	assert.Equal(t, IntentLocal, c.Intent)
}

func TestClassifyYarnClassicLinkUnlink(t *testing.T) {
	assert.Equal(t, IntentLink, ClassifyYarnClassic([]string{"link"}).Intent)
	assert.Equal(t, IntentUnlink, ClassifyYarnClassic([]string{"unlink"}).Intent)
}

func TestClassifyYarnBerryAlwaysLocal(t *testing.T) {
	c := ClassifyYarn([]string{"global", "add", "some-cli"}, 3)
	assert.Equal(t, IntentLocal, c.Intent)
}

func TestClassifyYarnDispatchesByMajor(t *testing.T) {
	assert.Equal(t, IntentGlobalInstall, ClassifyYarn([]string{"global", "add", "x"}, 1).Intent)
	assert.Equal(t, IntentLocal, ClassifyYarn([]string{"global", "add", "x"}, 4).Intent)
}

func TestClassifyDispatchesByManagerName(t *testing.T) {
	assert.Equal(t, IntentGlobalInstall, Classify("npm", []string{"install", "-g", "x"}, 0).Intent)
	assert.Equal(t, IntentGlobalInstall, Classify("pnpm", []string{"add", "-g", "x"}, 0).Intent)
	assert.Equal(t, IntentLocal, Classify("yarn", []string{"global", "add", "x"}, 2).Intent)
	assert.Equal(t, IntentLocal, Classify("unknown-manager", []string{"install", "-g", "x"}, 0).Intent)
}
