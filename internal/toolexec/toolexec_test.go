package toolexec

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesStdout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires POSIX shell utilities")
	}

	out, err := Run(context.Background(), 0, "echo", "hello")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if strings.TrimSpace(string(out)) != "hello" {
		t.Errorf("Expected stdout %q, got %q", "hello", strings.TrimSpace(string(out)))
	}
}

func TestRunNonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires POSIX shell utilities")
	}

	_, err := Run(context.Background(), 0, "sh", "-c", "echo oops >&2; exit 3")
	if err == nil {
		t.Fatal("Expected error for non-zero exit")
	}

	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("Expected *ToolError, got %T: %v", err, err)
	}
	if !strings.Contains(toolErr.Stderr, "oops") {
		t.Errorf("Expected captured stderr to contain %q, got %q", "oops", toolErr.Stderr)
	}
}

func TestRunTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires POSIX shell utilities")
	}

	start := time.Now()
	_, err := Run(context.Background(), 50*time.Millisecond, "sleep", "5")
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if !errors.Is(err, ErrTimedOut) {
		t.Errorf("Expected ErrTimedOut, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Expected the subprocess to be killed promptly, took %v", elapsed)
	}
}

func TestRunCallerDeadline(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires POSIX shell utilities")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Run(ctx, 0, "sleep", "5")
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("Expected ErrTimedOut, got %v", err)
	}
	if strings.Contains(err.Error(), "after 0s") {
		t.Errorf("Expected no duration in the message when only the caller's deadline applies, got %q", err)
	}
}

func TestRunTimeoutMessageNamesDuration(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires POSIX shell utilities")
	}

	_, err := Run(context.Background(), 50*time.Millisecond, "sleep", "5")
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if !strings.Contains(err.Error(), "after 50ms") {
		t.Errorf("Expected the per-command timeout in the message, got %q", err)
	}
}

func TestRunMissingBinary(t *testing.T) {
	_, err := Run(context.Background(), 0, "definitely-not-a-real-binary-12345")
	if err == nil {
		t.Fatal("Expected error for missing binary")
	}
	if errors.Is(err, ErrTimedOut) {
		t.Error("Missing binary must not be reported as a timeout")
	}
}
