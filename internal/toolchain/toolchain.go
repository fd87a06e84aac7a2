// Package toolchain implements the per-ToolKind tool lifecycle (spec.md
// §4.G): fetch/install/pin, plus the ToolKind-specific glue that wires
// internal/fetch's Locator and internal/versionresolve's IndexProvider
// to real distribution sources — nodejs.org for the runtime, the public
// npm registry for npm/pnpm/yarn and third-party packages, since all
// four are themselves published as npm packages.
package toolchain

import (
	"runtime"

	"github.com/volta-toolchain/volta/internal/platform"
)

// KindName returns the string kind identifier internal/inventory,
// internal/hooks, and internal/versionresolve key their state by, for a
// platform tool kind. Package kinds are namespaced per-installed-name
// (see PackageKindName) since each third-party CLI has its own
// independent version history.
func KindName(k platform.ToolKind) string {
	switch k {
	case platform.KindRuntime:
		return "node"
	case platform.KindNpm:
		return "npm"
	case platform.KindPnpm:
		return "pnpm"
	case platform.KindYarn:
		return "yarn"
	default:
		return "package"
	}
}

// PackageKindName returns the inventory/layout kind key for a named
// third-party package, e.g. "package/eslint".
func PackageKindName(name string) string {
	return "package/" + name
}

// hooksKind maps a platform tool kind to the top-level key Hooks files
// use (spec.md §6's hooks file schema), which for packages is the
// plural "packages" bucket shared by every third-party CLI rather than
// one bucket per package name.
func hooksKind(k platform.ToolKind) string {
	switch k {
	case platform.KindRuntime:
		return "node"
	case platform.KindNpm:
		return "npm"
	case platform.KindPnpm:
		return "pnpm"
	case platform.KindYarn:
		return "yarn"
	default:
		return "packages"
	}
}

// hostOS and hostArch translate Go's GOOS/GOARCH into the naming
// convention nodejs.org's distribution filenames use.
func hostOS() string {
	switch runtime.GOOS {
	case "darwin":
		return "darwin"
	case "windows":
		return "win"
	default:
		return "linux"
	}
}

func hostArch() string {
	switch runtime.GOARCH {
	case "arm64":
		return "arm64"
	case "386":
		return "x86"
	default:
		return "x64"
	}
}
