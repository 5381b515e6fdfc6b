// Package optimizer implements the in-process document rewriting stage: it
// parses a PDF, applies the configured structural passes (metadata scrub,
// font subsetting, image recompression or removal, form flattening,
// annotation removal) and serializes the result with unreferenced objects
// garbage collected.
package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"pdfslim/internal/config"
)

type Optimizer struct {
	cfg    config.CompressionConfig
	logger *slog.Logger
}

func New(cfg config.CompressionConfig, logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{cfg: cfg, logger: logger}
}

func (o *Optimizer) Name() string { return "optimize" }

// Run rewrites the document at inPath into outPath. A document that cannot
// be parsed or written fails the stage; a failing structural pass is logged
// and skipped, the remaining passes still run.
func (o *Optimizer) Run(ctx context.Context, inPath, outPath string) error {
	f, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	conf.WriteObjectStream = true

	pdfCtx, err := api.ReadContext(f, conf)
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		return fmt.Errorf("validate document: %w", err)
	}

	doc := &document{ctx: pdfCtx, logger: o.logger}

	type pass struct {
		name    string
		enabled bool
		run     func() error
	}
	passes := []pass{
		{"scrub_metadata", o.cfg.RemoveMetadata, doc.scrubMetadata},
		{"subset_fonts", o.cfg.SubsetFonts, doc.subsetFonts},
		{"recompress_images", !o.cfg.RemoveImages, func() error { return doc.recompressImages(o.cfg) }},
		{"remove_images", o.cfg.RemoveImages, doc.removeImages},
		{"flatten_forms", o.cfg.FlattenForms, doc.flattenForms},
		{"remove_annotations", o.cfg.RemoveAnnotations, doc.removeAnnotations},
	}
	for _, p := range passes {
		if !p.enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.run(); err != nil {
			o.logger.Warn("structural pass skipped", "pass", p.name, "error", err)
		}
	}

	if err := pdfcpu.OptimizeXRefTable(pdfCtx); err != nil {
		o.logger.Warn("object garbage collection skipped", "error", err)
	}

	if err := api.WriteContextFile(pdfCtx, outPath); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

// removeAnnotations drops every annotation from every page. Flattening, when
// enabled, has already painted the widget appearances it wants to keep.
func (d *document) removeAnnotations() error {
	return d.eachPage(func(_ int, pageDict types.Dict, _ *model.InheritedPageAttrs) error {
		delete(pageDict, "Annots")
		return nil
	})
}
