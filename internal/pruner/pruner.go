// Package pruner removes objects unreachable from page content by delegating
// to the pdfcpu command line tool.
package pruner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"pdfslim/internal/toolexec"
)

// ErrUnavailable reports that the pdfcpu CLI is not installed. Pruning is
// opt-in, so a missing binary is a hard failure rather than a silent skip.
var ErrUnavailable = errors.New("pdfcpu CLI not found in PATH")

// DefaultTimeout bounds a single pruning run.
const DefaultTimeout = 2 * time.Minute

// Pruner runs the unreferenced-object pruning stage.
type Pruner struct {
	logger   *slog.Logger
	lookPath func(file string) (string, error)
}

// New creates a pruner stage instance.
func New(logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		logger:   logger,
		lookPath: exec.LookPath,
	}
}

// Name returns the stage tag used for intermediate artifacts.
func (p *Pruner) Name() string {
	return "prune"
}

// Run rewrites inPath to outPath with unreferenced objects dropped.
func (p *Pruner) Run(ctx context.Context, inPath, outPath string) error {
	bin, err := p.lookPath("pdfcpu")
	if err != nil {
		return fmt.Errorf("%w (install pdfcpu or disable remove_unreferenced)", ErrUnavailable)
	}

	// pdfcpu optimize removes duplicate and unreferenced objects and
	// compresses streams: pdfcpu optimize inFile outFile
	if _, err := toolexec.Run(ctx, DefaultTimeout, bin, "optimize", inPath, outPath); err != nil {
		return fmt.Errorf("pdfcpu optimize: %w", err)
	}

	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("pdfcpu did not create output file: %w", err)
	}

	p.logger.Debug("pruned unreferenced objects", "in", inPath, "out", outPath)
	return nil
}
