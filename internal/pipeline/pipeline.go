// Package pipeline chains the compression stages and publishes the final
// artifact. Every stage reads one file and writes another; the pipeline owns
// the intermediate artifacts and guarantees the caller's input and the final
// output path are never left in a broken state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"pdfslim/internal/config"
	"pdfslim/internal/optimizer"
	"pdfslim/internal/pruner"
	"pdfslim/internal/redistill"
	"pdfslim/internal/toolexec"
)

// Stage transforms the document at inPath into outPath. Stages never modify
// inPath.
type Stage interface {
	Name() string
	Run(ctx context.Context, inPath, outPath string) error
}

// Result summarizes one successful compression run.
type Result struct {
	InputPath      string
	OutputPath     string
	OriginalSize   int64
	CompressedSize int64
	// SavedPercent is the size reduction relative to the original,
	// negative when the output grew.
	SavedPercent float64
	Stages       []string
	Duration     time.Duration
}

// Recorder receives the result of each successful run. Recording failures
// are logged, never surfaced to the caller.
type Recorder interface {
	Record(ctx context.Context, r Result) error
}

type Pipeline struct {
	cfg      config.CompressionConfig
	logger   *slog.Logger
	stages   []Stage
	recorder Recorder
}

// New assembles the stage chain for cfg: the structural optimizer always
// runs, the pruner and the external re-distiller only when requested.
func New(cfg config.CompressionConfig, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	stages := []Stage{optimizer.New(cfg, logger)}
	if cfg.RemoveUnreferenced {
		stages = append(stages, pruner.New(logger))
	}
	if cfg.UseExternalTool {
		stages = append(stages, redistill.New(cfg.ExternalToolQuality, cfg.ExternalToolTimeout, logger))
	}
	return &Pipeline{cfg: cfg, logger: logger, stages: stages}
}

// NewWithStages builds a pipeline around an explicit stage chain.
func NewWithStages(cfg config.CompressionConfig, logger *slog.Logger, stages ...Stage) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, logger: logger, stages: stages}
}

// SetRecorder registers a sink for run results.
func (p *Pipeline) SetRecorder(r Recorder) {
	p.recorder = r
}

// Compress runs the stage chain on inputPath and publishes the result at
// outputPath. On failure the failing stage's input artifact is left on disk
// for inspection and outputPath is untouched; the caller's input file is
// never modified or deleted.
func (p *Pipeline) Compress(ctx context.Context, inputPath, outputPath string) (Result, error) {
	start := time.Now()

	info, err := os.Stat(inputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, fmt.Errorf("%w: %s", ErrNotFound, inputPath)
		}
		return Result{}, fmt.Errorf("%w: %w", ErrIO, err)
	}
	if err := p.cfg.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrIO, err)
		}
	}

	p.logger.Info("compression starting",
		"input", inputPath, "output", outputPath, "size", info.Size())

	current := inputPath
	var ran []string
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			p.removeIntermediate(current, inputPath)
			return Result{}, err
		}

		artifact := StagePath(outputPath, stage.Name())
		stageStart := time.Now()
		if err := stage.Run(ctx, current, artifact); err != nil {
			os.Remove(artifact)
			return Result{}, p.classify(stage.Name(), current, err)
		}
		p.removeIntermediate(current, inputPath)
		current = artifact
		ran = append(ran, stage.Name())

		if out, err := os.Stat(artifact); err == nil {
			p.logger.Info("stage finished", "stage", stage.Name(),
				"size", out.Size(), "duration", time.Since(stageStart))
		}
	}

	if err := moveFile(current, outputPath); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrIO, newStageError("publish", outputPath, err))
	}

	outInfo, err := os.Stat(outputPath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrIO, err)
	}

	res := Result{
		InputPath:      inputPath,
		OutputPath:     outputPath,
		OriginalSize:   info.Size(),
		CompressedSize: outInfo.Size(),
		SavedPercent:   savedPercent(info.Size(), outInfo.Size()),
		Stages:         ran,
		Duration:       time.Since(start),
	}

	p.logger.Info("compression finished",
		"output", outputPath,
		"original_size", res.OriginalSize,
		"compressed_size", res.CompressedSize,
		"saved_percent", fmt.Sprintf("%.1f", res.SavedPercent),
		"duration", res.Duration)

	if p.recorder != nil {
		if err := p.recorder.Record(ctx, res); err != nil {
			p.logger.Warn("run not recorded", "error", err)
		}
	}
	return res, nil
}

// removeIntermediate deletes a superseded stage artifact; the caller's input
// is never touched.
func (p *Pipeline) removeIntermediate(path, inputPath string) {
	if path == inputPath {
		return
	}
	if err := os.Remove(path); err != nil {
		p.logger.Warn("intermediate artifact not removed", "path", path, "error", err)
	}
}

// classify maps a stage failure onto the pipeline error taxonomy.
func (p *Pipeline) classify(stage, path string, err error) error {
	serr := newStageError(stage, path, err)

	switch {
	case errors.Is(err, context.Canceled):
		return serr
	case errors.Is(err, toolexec.ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, serr)
	case errors.Is(err, pruner.ErrUnavailable),
		errors.Is(err, redistill.ErrNotInstalled),
		errors.Is(err, redistill.ErrInvalidPreset):
		return fmt.Errorf("%w: %w", ErrConfiguration, serr)
	}

	var toolErr *toolexec.ToolError
	if errors.As(err, &toolErr) {
		return fmt.Errorf("%w: %w", ErrExternalTool, serr)
	}
	return fmt.Errorf("%w: %w", ErrIO, serr)
}

func savedPercent(original, compressed int64) float64 {
	if original <= 0 {
		return 0
	}
	return (1 - float64(compressed)/float64(original)) * 100
}
