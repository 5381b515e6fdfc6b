// Package toolexec runs external helper binaries with timeout handling and
// stderr capture shared by the pipeline's subprocess stages.
package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrTimedOut reports a subprocess killed because it exceeded its allotted
// duration.
var ErrTimedOut = errors.New("command timed out")

// ToolError reports a subprocess that exited non-zero, carrying its captured
// standard error stream for diagnosis.
type ToolError struct {
	Tool   string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed: %v: %s", e.Tool, e.Err, strings.TrimSpace(e.Stderr))
	}
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Run executes a command, capturing stdout and stderr separately. A zero
// timeout means the command only honors ctx. On deadline expiry the process
// is killed and ErrTimedOut is returned.
func Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		// The expired deadline may belong to the caller's context rather
		// than the per-command timeout.
		if timeout > 0 {
			return stdout.Bytes(), fmt.Errorf("%s: %w after %v", name, ErrTimedOut, timeout)
		}
		return stdout.Bytes(), fmt.Errorf("%s: %w", name, ErrTimedOut)
	}

	if err != nil {
		return stdout.Bytes(), &ToolError{Tool: name, Stderr: stderr.String(), Err: err}
	}

	return stdout.Bytes(), nil
}
