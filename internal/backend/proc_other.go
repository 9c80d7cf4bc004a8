//go:build !unix

package backend

import "os/exec"

// killProcessGroup keeps exec's default of killing only the direct child.
func killProcessGroup(cmd *exec.Cmd) {}
