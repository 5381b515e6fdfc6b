// Package cli wires the compression pipeline into a cobra command tree.
// Settings come from flags, a config file and PDFSLIM_* environment
// variables, in that order of precedence.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pdfslim/internal/config"
	"pdfslim/internal/history"
	"pdfslim/internal/pipeline"
)

const envPrefix = "PDFSLIM"

// Execute runs the command tree and returns its error.
func Execute() error {
	return newRootCmd().Execute()
}

type rootOptions struct {
	cfgFile     string
	historyPath string
	noHistory   bool
	verbose     bool
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "pdfslim <input.pdf> <output.pdf>",
		Short: "Shrink PDF files",
		Long: `pdfslim rewrites a PDF through a multi-stage compression pipeline:
images are downsampled and re-encoded, fonts subset, metadata stripped and
forms flattened, optionally followed by object pruning and a Ghostscript
re-distillation pass.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(v, cmd, opts.cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompress(cmd.Context(), v, opts, args[0], args[1])
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.cfgFile, "config", "", "config file (default $HOME/.pdfslim.yaml)")
	pf.StringVar(&opts.historyPath, "history-db", defaultHistoryPath(), "compression history database")
	pf.BoolVar(&opts.noHistory, "no-history", false, "do not record this run in the history database")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	defaults := config.Default()
	f := cmd.Flags()
	f.Int("image-quality", defaults.ImageQuality, "JPEG quality for recompressed images (0-100)")
	f.Int("dpi-threshold", defaults.DPIThreshold, "only downsample images above this effective DPI")
	f.Int("dpi-target", defaults.DPITarget, "target DPI for downsampled images")
	f.Bool("grayscale", defaults.ToGrayscale, "convert images to grayscale")
	f.Bool("remove-metadata", defaults.RemoveMetadata, "strip metadata, thumbnails and attachments")
	f.Bool("subset-fonts", defaults.SubsetFonts, "subset embedded fonts")
	f.Bool("remove-images", defaults.RemoveImages, "remove all images")
	f.Bool("flatten-forms", defaults.FlattenForms, "flatten interactive forms")
	f.Bool("remove-annotations", defaults.RemoveAnnotations, "remove annotations")
	f.Bool("prune", defaults.RemoveUnreferenced, "prune unreferenced objects with the pdfcpu CLI")
	f.Bool("gs", defaults.UseExternalTool, "re-distill through Ghostscript after the structural pass")
	f.String("gs-quality", string(defaults.ExternalToolQuality), "Ghostscript preset (screen, ebook, printer, prepress, default)")
	f.Duration("gs-timeout", defaults.ExternalToolTimeout, "Ghostscript time limit (0 means none)")

	for key, flag := range map[string]string{
		"image_quality":         "image-quality",
		"dpi_threshold":         "dpi-threshold",
		"dpi_target":            "dpi-target",
		"to_grayscale":          "grayscale",
		"remove_metadata":       "remove-metadata",
		"subset_fonts":          "subset-fonts",
		"remove_images":         "remove-images",
		"flatten_forms":         "flatten-forms",
		"remove_annotations":    "remove-annotations",
		"remove_unreferenced":   "prune",
		"use_external_tool":     "gs",
		"external_tool_quality": "gs-quality",
		"external_tool_timeout": "gs-timeout",
	} {
		if err := v.BindPFlag(key, f.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	cmd.AddCommand(newHistoryCmd(opts))
	return cmd
}

// loadConfig points viper at the config file and environment.
func loadConfig(v *viper.Viper, cmd *cobra.Command, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(".pdfslim")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && (errors.As(err, &notFound) || os.IsNotExist(err)) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "using config file:", v.ConfigFileUsed())
	return nil
}

func runCompress(ctx context.Context, v *viper.Viper, opts *rootOptions, inputPath, outputPath string) error {
	cfg := config.Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("parse configuration: %w", err)
	}

	logger := newLogger(opts.verbose)
	p := pipeline.New(cfg, logger)

	if !opts.noHistory {
		if err := os.MkdirAll(filepath.Dir(opts.historyPath), 0o755); err != nil {
			logger.Warn("history disabled", "error", err)
		} else if store, err := history.Open(opts.historyPath); err != nil {
			logger.Warn("history disabled", "error", err)
		} else {
			defer store.Close()
			p.SetRecorder(store)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := p.Compress(ctx, inputPath, outputPath)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s -> %s (%.1f%% saved, %s)\n",
		res.OutputPath,
		humanBytes(res.OriginalSize),
		humanBytes(res.CompressedSize),
		res.SavedPercent,
		res.Duration.Round(10*time.Millisecond))
	return nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".pdfslim", "history.db")
	}
	return filepath.Join(home, ".pdfslim", "history.db")
}
