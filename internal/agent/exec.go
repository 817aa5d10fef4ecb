package agent

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"runtime"
)

// ExecRunner runs local commands with a direct argument vector. There is no
// shell in the path, so argument values are never re-parsed.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (int, string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			err = nil
		} else {
			exitCode = -1
		}
	}
	return exitCode, stdout.String(), stderr.String(), err
}

func osName() string   { return runtime.GOOS }
func archName() string { return runtime.GOARCH }
