//go:build !unix

package runner

import "os/exec"

func isolate(*exec.Cmd) {}
