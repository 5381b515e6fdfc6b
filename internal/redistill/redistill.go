// Package redistill drives an external Ghostscript pass that recompresses
// the whole document with a named quality preset.
package redistill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"pdfslim/internal/config"
	"pdfslim/internal/toolexec"
)

// Ghostscript executable candidates, gs on Unix and the console binaries on
// Windows.
var candidates = []string{"gs", "gswin64c", "gswin64c.exe", "gswin32c.exe"}

var (
	// ErrNotInstalled reports that no Ghostscript binary is on PATH.
	ErrNotInstalled = errors.New("ghostscript not found; install it or disable use_external_tool")
	// ErrInvalidPreset reports a quality preset outside the fixed enumeration.
	ErrInvalidPreset = errors.New("invalid ghostscript quality preset")
)

// Tool abstracts executable discovery and subprocess invocation so tests can
// run the stage without a real Ghostscript installation.
type Tool interface {
	Locate() (string, error)
	Invoke(ctx context.Context, bin string, args []string, timeout time.Duration) error
}

type ghostscript struct{}

func (ghostscript) Locate() (string, error) {
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", ErrNotInstalled
}

func (ghostscript) Invoke(ctx context.Context, bin string, args []string, timeout time.Duration) error {
	_, err := toolexec.Run(ctx, timeout, bin, args...)
	return err
}

// Redistiller runs the external re-distillation stage.
type Redistiller struct {
	preset  config.Preset
	timeout time.Duration
	tool    Tool
	logger  *slog.Logger
}

// New creates a re-distiller using the system Ghostscript installation.
func New(preset config.Preset, timeout time.Duration, logger *slog.Logger) *Redistiller {
	return NewWithTool(preset, timeout, ghostscript{}, logger)
}

// NewWithTool creates a re-distiller with a custom tool implementation.
func NewWithTool(preset config.Preset, timeout time.Duration, tool Tool, logger *slog.Logger) *Redistiller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redistiller{
		preset:  config.Preset(strings.ToLower(string(preset))),
		timeout: timeout,
		tool:    tool,
		logger:  logger,
	}
}

// Name returns the stage tag used for intermediate artifacts.
func (r *Redistiller) Name() string {
	return "gs_" + string(r.preset)
}

// Run recompresses inPath into outPath with the configured preset.
func (r *Redistiller) Run(ctx context.Context, inPath, outPath string) error {
	if !config.ValidPreset(r.preset) {
		return fmt.Errorf("%w: %q", ErrInvalidPreset, r.preset)
	}

	bin, err := r.tool.Locate()
	if err != nil {
		return err
	}

	args := []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		fmt.Sprintf("-dPDFSETTINGS=/%s", r.preset),
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		"-sOutputFile=" + outPath,
		inPath,
	}

	r.logger.Debug("invoking ghostscript", "bin", bin, "preset", r.preset, "in", inPath)
	if err := r.tool.Invoke(ctx, bin, args, r.timeout); err != nil {
		return fmt.Errorf("ghostscript: %w", err)
	}

	// Ghostscript can exit zero without producing output for some inputs.
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("ghostscript did not create output file: %w", err)
	}

	return nil
}
