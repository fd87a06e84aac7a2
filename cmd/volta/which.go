package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/volta-toolchain/volta/internal/executor"
	"github.com/volta-toolchain/volta/internal/platform"
	"github.com/volta-toolchain/volta/internal/session"
	"github.com/volta-toolchain/volta/internal/toolchain"
)

var whichCmd = &cobra.Command{
	Use:   "which <bin-name>",
	Short: "Print the resolved path for a binary under the current project/default platform",
	Args:  cobra.ExactArgs(1),
	RunE:  runWhich,
}

func runWhich(_ *cobra.Command, args []string) error {
	binName := args[0]

	sess, err := newSession()
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	for _, k := range []platform.ToolKind{platform.KindRuntime, platform.KindNpm, platform.KindPnpm, platform.KindYarn} {
		for _, n := range k.BinaryNames() {
			if n == binName {
				return whichPlatformTool(sess, binName)
			}
		}
	}

	name, _, ok, err := toolchain.FindPackageOwning(sess.Layout(), binName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no installed tool or package exposes %q", binName)
	}
	fmt.Println(filepath.Join(sess.Layout().PackagePrefixDir(name), "bin", binName))
	return nil
}

func whichPlatformTool(sess *session.Session, binName string) error {
	img, err := resolveProjectOrDefaultImage(sess)
	if err != nil {
		return err
	}
	path, err := executor.ResolvePlatformBinary(sess.Inventory(), img, binName)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

// resolveProjectOrDefaultImage runs the same layered resolution the
// Executor does for a platform-tool invocation, minus any per-invocation
// override or package binary-origin layer.
func resolveProjectOrDefaultImage(sess *session.Session) (platform.Image, error) {
	var in platform.Inputs

	if pinned, ok, err := sess.Project(); err != nil {
		return platform.Image{}, err
	} else if ok {
		projImg, err := platform.ProjectImage(pinned)
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
