//go:build !windows

package executor

import "syscall"

// canExecReplace is true wherever syscall.Exec can replace the current
// process image in place.
const canExecReplace = true

// runExec replaces the current process image with bin, argv, env. On
// success it never returns.
func runExec(bin string, argv []string, env []string) error {
	return syscall.Exec(bin, argv, env)
}
