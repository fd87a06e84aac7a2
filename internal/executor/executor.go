// Package executor implements spec.md §4.H: turning a shim's invocation
// name and argv into the right child process running with the right
// environment. It is the core's hot path — every `node`, `npm`, or
// package-binary shim dispatches through here — so the bypass fast path
// (Bypass) is kept free of Session construction and the exec-building
// path (Execute) resolves exactly once per invocation, per spec.md's
// ordering guarantee.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/volta-toolchain/volta/internal/errs"
	"github.com/volta-toolchain/volta/internal/intercept"
	"github.com/volta-toolchain/volta/internal/inventory"
	"github.com/volta-toolchain/volta/internal/layout"
	"github.com/volta-toolchain/volta/internal/platform"
	"github.com/volta-toolchain/volta/internal/session"
	"github.com/volta-toolchain/volta/internal/toolchain"
)

// Environment variables the executor consumes directly (spec.md §6).
const (
	EnvBypass         = "VOLTA_BYPASS"
	EnvUnsafeGlobal   = "VOLTA_UNSAFE_GLOBAL"
	EnvPlanOnly       = "VOLTA_PLAN_ONLY"
	EnvRecursionGuard = "_VOLTA_TOOL_RECURSION"
)

// Request describes one shim invocation.
type Request struct {
	// BinName is the invocation name the shim dispatches on
	// (filepath.Base of argv[0]), e.g. "node", "npm", "eslint".
	BinName string
	// Argv is the full argument vector; Argv[1:] is forwarded verbatim
	// to whatever gets exec'd.
	Argv []string
	// Dir is the invocation's working directory: where project lookup
	// starts, and the Link/Unlink target for package-manager shims.
	Dir string
	// Override is the per-invocation platform override (`volta run
	// --node X` equivalent), outranking every other source. Nil if none.
	Override *platform.Image
	// Environ is the inherited environment (typically os.Environ()).
	Environ []string
}

func lookupEnv(environ []string, key string) (string, bool) {
	prefix := key + "="
	for _, kv := range environ {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):], true
		}
	}
	return "", false
}

func envSet(environ []string, key string) bool {
	v, ok := lookupEnv(environ, key)
	return ok && v != ""
}

// Bypass implements spec.md §4.H step 1: when VOLTA_BYPASS is set,
// Volta's own directories are stripped from PATH and binName is exec'd
// from whatever remains, without constructing a Session or touching the
// inventory. Callers should invoke this before building any other
// Volta state — it is the one path the "no non-essential I/O before
// exec" design note (spec.md §9) applies to most strictly.
func Bypass(binName string, argv []string, environ []string, home string) error {
	pathVal, _ := lookupEnv(environ, "PATH")
	residual := stripHomeDirs(splitPathList(pathVal), home)

	bin, ok := findExecutable(binName, residual)
	if !ok {
		return errs.New(errs.KindBypassToolNotFound, "exec").WithTool(binName, "").
			WithHint("unset VOLTA_BYPASS, or install " + binName + " outside Volta")
	}

	env := setEnv(environ, "PATH", strings.Join(residual, string(os.PathListSeparator)))
	return runExec(bin, argv, env)
}

func splitPathList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, string(os.PathListSeparator))
}

func stripHomeDirs(dirs []string, home string) []string {
	if home == "" {
		return dirs
	}
	out := dirs[:0:0]
	for _, d := range dirs {
		if d == home || strings.HasPrefix(d, home+string(os.PathSeparator)) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func findExecutable(name string, dirs []string) (string, bool) {
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return candidate, true
		}
	}
	return "", false
}

func setEnv(environ []string, key, value string) []string {
	prefix := key + "="
	out := make([]string, 0, len(environ)+1)
	replaced := false
	for _, kv := range environ {
		if strings.HasPrefix(kv, prefix) {
			out = append(out, prefix+value)
			replaced = true
			continue
		}
		out = append(out, kv)
	}
	if !replaced {
		out = append(out, prefix+value)
	}
	return out
}

// recursionError builds the RecursionLimit error for a shim observing
// its own name already set in the guard variable.
func recursionError(binName string) error {
	return errs.New(errs.KindRecursionLimit, "exec").WithTool(binName, "").
		WithHint("a shim invoked itself; check for a binary shadowing " + binName + " on PATH")
}

// ToolContext is the result of classifying a shim's BinName (spec.md
// §4.H step 3).
type ToolContext struct {
	Kind        platform.ToolKind
	PackageName string // set only when Kind == KindPackage
}

// classify determines whether binName names a platform tool or an
// installed package's binary.
func classify(l *layout.Layout, binName string) (ToolContext, *toolchain.PackageRecord, error) {
	for _, k := range []platform.ToolKind{platform.KindRuntime, platform.KindNpm, platform.KindPnpm, platform.KindYarn} {
		for _, n := range k.BinaryNames() {
			if n == binName {
				return ToolContext{Kind: k}, nil, nil
			}
		}
	}

	name, rec, ok, err := toolchain.FindPackageOwning(l, binName)
	if err != nil {
		return ToolContext{}, nil, err
	}
	if !ok {
		return ToolContext{}, nil, errs.New(errs.KindNoSuchTool, "exec").WithTool(binName, "").
			WithHint("install it with `volta install " + binName + "`")
	}
	return ToolContext{Kind: platform.KindPackage, PackageName: name}, &rec, nil
}

// isPackageManagerBinary reports whether kind is one of the three
// manager kinds the Global-install interceptor inspects.
func isPackageManagerBinary(kind platform.ToolKind) bool {
	switch kind {
	case platform.KindNpm, platform.KindPnpm, platform.KindYarn:
		return true
	default:
		return false
	}
}

// resolveImage implements spec.md §4.H step 4: runs the Platform
// resolver (E) with the layered stack appropriate to tc — a package
// binary's BinaryOrigin comes from its own installed record, a platform
// tool's Project/Default come from the Session.
func resolveImage(sess *session.Session, tc ToolContext, pkgRec *toolchain.PackageRecord, override *platform.Image) (platform.Image, error) {
	in := platform.Inputs{Override: override}

	if tc.Kind == platform.KindPackage && pkgRec != nil {
		binOrigin, err := platform.BinaryImage(pkgRec.PlatformImageUsed)
		if err != nil {
			return platform.Image{}, err
		}
		in.BinaryOrigin = binOrigin
	}

	if projPinned, ok, err := sess.Project(); err != nil {
		return platform.Image{}, err
	} else if ok {
		projImg, err := platform.ProjectImage(projPinned)
		if err != nil {
			return platform.Image{}, err
		}
		in.Project = projImg
	}

	defPinned, err := sess.DefaultPlatform()
	if err != nil {
		return platform.Image{}, err
	}
	defImg, err := platform.DefaultImage(defPinned)
	if err != nil {
		return platform.Image{}, err
	}
	in.Default = defImg

	return platform.Resolve(in, true)
}

// Execute runs spec.md §4.H steps 2-7 for req against sess. Step 1
// (bypass) must already have been ruled out by the caller (see Bypass)
// before a Session is constructed at all.
func Execute(ctx context.Context, sess *session.Session, req Request) (int, error) {
	environ := req.Environ
	if environ == nil {
		environ = os.Environ()
	}

	// Step 2: recursion guard.
	if v, ok := lookupEnv(environ, EnvRecursionGuard); ok && v == req.BinName {
		err := recursionError(req.BinName)
		return errs.ExitCode(err), err
	}

	l := sess.Layout()

	// Step 3: tool context.
	tc, pkgRec, err := classify(l, req.BinName)
	if err != nil {
		return errs.ExitCode(err), err
	}

	// Step 4: resolve the effective image.
	img, err := resolveImage(sess, tc, pkgRec, req.Override)
	if err != nil {
		return errs.ExitCode(err), err
	}

	hookCfg, err := sess.Hooks()
	if err != nil {
		return errs.ExitCode(err), err
	}
	mgr := toolchain.NewManager(l, sess.Inventory(), hookCfg)

	// Step 5: global-install interception (package-manager shims only).
	if isPackageManagerBinary(tc.Kind) && !envSet(environ, EnvUnsafeGlobal) {
		handled, code, err := maybeIntercept(ctx, mgr, req, img, environ)
		if handled {
			return code, err
		}
	}

	// Steps 6-7: build the child environment and exec.
	return execTool(l, sess.Inventory(), tc, img, req, environ)
}

// maybeIntercept implements spec.md §4.H step 5 plus SPEC_FULL.md's
// VOLTA_PLAN_ONLY addition: classify req's argv via the interceptor
// and, for a global-mutating intent, carry it out through Tool
// lifecycle (G) instead of exec-ing the manager.
func maybeIntercept(ctx context.Context, mgr *toolchain.Manager, req Request, img platform.Image, environ []string) (handled bool, exitCode int, err error) {
	argv := req.Argv
	if len(argv) > 1 {
		argv = argv[1:]
	} else {
		argv = nil
	}

	var yarnMajor uint64
	if req.BinName == "yarn" && img.Yarn != nil {
		yarnMajor = img.Yarn.Value.Major()
	}
	cls := intercept.Classify(req.BinName, argv, yarnMajor)

	planOnly := envSet(environ, EnvPlanOnly)
	if planOnly {
		fmt.Fprintf(os.Stderr, "volta: plan-only: %s %v -> %s %v\n", req.BinName, argv, cls.Intent, cls.Specs)
	}

	switch cls.Intent {
	case intercept.IntentLocal:
		return false, 0, nil
	case intercept.IntentLink:
		if planOnly {
			return true, 0, nil
		}
		if _, err := mgr.LinkLocal(req.Dir, &img); err != nil {
			return true, errs.ExitCode(err), err
		}
		return true, 0, nil
	case intercept.IntentUnlink:
		if planOnly {
			return true, 0, nil
		}
		if len(cls.Specs) == 0 {
			if err := mgr.UnlinkLocal(req.Dir); err != nil {
				return true, errs.ExitCode(err), err
			}
			return true, 0, nil
		}
		for _, spec := range cls.Specs {
			name, _, err := toolchain.SplitPackageSpec(spec)
			if err != nil {
				return true, errs.ExitCode(err), err
			}
			if err := mgr.UninstallPackage(name); err != nil {
				return true, errs.ExitCode(err), err
			}
		}
		return true, 0, nil
	case intercept.IntentGlobalInstall:
		if planOnly {
			return true, 0, nil
		}
		for _, spec := range cls.Specs {
			name, versionSpec, err := toolchain.SplitPackageSpec(spec)
			if err != nil {
				return true, errs.ExitCode(err), err
			}
			if _, err := mgr.InstallPackage(ctx, name, versionSpec, &img); err != nil {
				return true, errs.ExitCode(err), err
			}
		}
		return true, 0, nil
	case intercept.IntentGlobalUninstall:
		if planOnly {
			return true, 0, nil
		}
		for _, spec := range cls.Specs {
			name, _, err := toolchain.SplitPackageSpec(spec)
			if err != nil {
				return true, errs.ExitCode(err), err
			}
			if err := mgr.UninstallPackage(name); err != nil {
				return true, errs.ExitCode(err), err
			}
		}
		return true, 0, nil
	default:
		return false, 0, nil
	}
}

// execTool implements spec.md §4.H steps 6-7: resolve the concrete exec
// target and PATH for tc/img, set the recursion guard, and replace (or
// spawn and forward signals for) the current process.
func execTool(l *layout.Layout, inv *inventory.Store, tc ToolContext, img platform.Image, req Request, environ []string) (int, error) {
	var bin string
	var err error

	if tc.Kind == platform.KindPackage {
		bin = filepath.Join(l.PackagePrefixDir(tc.PackageName), "bin", req.BinName)
		if _, statErr := os.Stat(bin); statErr != nil {
			return errs.ExitCode(errs.Wrap(errs.KindNoSuchTool, "exec", statErr)),
				errs.Wrap(errs.KindNoSuchTool, "exec", statErr).WithTool(req.BinName, "")
		}
	} else {
		bin, err = ResolvePlatformBinary(inv, img, req.BinName)
		if err != nil {
			return errs.ExitCode(err), err
		}
	}

	pathDirs, err := ImagePaths(inv, img)
	if err != nil {
		return errs.ExitCode(err), err
	}

	env := buildChildEnv(environ, pathDirs, req.BinName)

	if err := runExec(bin, req.Argv, env); err != nil {
		return 1, errs.Wrap(errs.KindFilesystem, "exec", err)
	}
	return 0, nil
}

// buildChildEnv prepends pathDirs to PATH and sets the recursion guard
// to binName, preserving every other inherited variable.
func buildChildEnv(environ []string, pathDirs []string, binName string) []string {
	pathVal, _ := lookupEnv(environ, "PATH")
	existing := splitPathList(pathVal)

	merged := make([]string, 0, len(pathDirs)+len(existing))
	seen := make(map[string]bool, len(pathDirs))
	for _, d := range pathDirs {
		if !seen[d] {
			seen[d] = true
			merged = append(merged, d)
		}
	}
	merged = append(merged, existing...)

	env := setEnv(environ, "PATH", strings.Join(merged, string(os.PathListSeparator)))
	env = setEnv(env, EnvRecursionGuard, binName)
	return env
}

// ResolvePlatformBinary locates the concrete binary for a platform-tool
// invocation name (node/npx/npm/pnpm/yarn) inside img's materialized
// inventory entries. A missing npm pin falls back to the copy bundled
// with the runtime tarball, the same one `node` ships alongside.
func ResolvePlatformBinary(inv *inventory.Store, img platform.Image, binName string) (string, error) {
	runtimeKind := toolchain.KindName(platform.KindRuntime)

	switch binName {
	case "node":
		return toolchain.LocateBinary(inv, runtimeKind, img.Runtime.Value.String(), "node")
	case "npx":
		return toolchain.LocateBinary(inv, runtimeKind, img.Runtime.Value.String(), "npx")
	case "npm":
		if img.Npm != nil {
			return toolchain.LocateBinary(inv, toolchain.KindName(platform.KindNpm), img.Npm.Value.String(), "npm")
		}
		return toolchain.LocateBinary(inv, runtimeKind, img.Runtime.Value.String(), "npm")
	case "pnpm":
		if img.Pnpm == nil {
			return "", errs.New(errs.KindNoSuchTool, "exec").WithTool("pnpm", "").
				WithHint("pin a pnpm version in the project manifest or set a user default")
		}
		return toolchain.LocateBinary(inv, toolchain.KindName(platform.KindPnpm), img.Pnpm.Value.String(), "pnpm")
	case "yarn":
		if img.Yarn == nil {
			return "", errs.New(errs.KindNoSuchTool, "exec").WithTool("yarn", "").
				WithHint("pin a yarn version in the project manifest or set a user default")
		}
		return toolchain.LocateBinary(inv, toolchain.KindName(platform.KindYarn), img.Yarn.Value.String(), "yarn")
	default:
		return "", errs.New(errs.KindNoSuchTool, "exec").WithTool(binName, "")
	}
}

// ImagePaths resolves, for each present slot in img, the directory
// containing that tool's binary — the set of directories the Executor
// prepends to the child's PATH so the image's own versions always
// shadow anything else on the system.
func ImagePaths(inv *inventory.Store, img platform.Image) ([]string, error) {
	var dirs []string
	seen := map[string]bool{}

	add := func(kindKey, version, binName string) error {
		p, err := toolchain.LocateBinary(inv, kindKey, version, binName)
		if err != nil {
			return err
		}
		d := filepath.Dir(p)
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
		return nil
	}

	if err := add(toolchain.KindName(platform.KindRuntime), img.Runtime.Value.String(), "node"); err != nil {
		return nil, err
	}
	if img.Npm != nil {
		if err := add(toolchain.KindName(platform.KindNpm), img.Npm.Value.String(), "npm"); err != nil {
			return nil, err
		}
	}
	if img.Pnpm != nil {
		if err := add(toolchain.KindName(platform.KindPnpm), img.Pnpm.Value.String(), "pnpm"); err != nil {
			return nil, err
		}
	}
	if img.Yarn != nil {
		if err := add(toolchain.KindName(platform.KindYarn), img.Yarn.Value.String(), "yarn"); err != nil {
			return nil, err
		}
	}
	return dirs, nil
}

