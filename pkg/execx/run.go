// Package execx runs stage commands as child processes with inherited
// standard streams and normalized exit codes.
package execx

import (
	"context"
	"os"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Result carries the child's exit code and the raw error from os/exec.
type Result struct {
	Code int
	Err  error
}

// Run spawns name with args, wiring the child to the caller's stdin, stdout
// and stderr, and waits for it to exit. A process that could not be started
// reports code 1 with the underlying error; a context deadline reports 124.
func Run(ctx context.Context, name string, args ...string) Result {
	log.Debugf("+ %s", strings.Join(append([]string{name}, args...), " "))

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	return Result{Code: exitCode(ctx, err), Err: err}
}

func exitCode(ctx context.Context, err error) int {
	if err == nil {
		return 0
	}
	if ctx.Err() == context.DeadlineExceeded {
		return 124
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return 1
}
