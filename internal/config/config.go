package config

import (
	"fmt"
	"strings"
	"time"
)

// Preset is a Ghostscript quality preset passed to the re-distillation stage.
type Preset string

const (
	PresetScreen   Preset = "screen"
	PresetEbook    Preset = "ebook"
	PresetPrinter  Preset = "printer"
	PresetPrepress Preset = "prepress"
	PresetDefault  Preset = "default"
)

// Presets lists every valid quality preset.
var Presets = []Preset{PresetScreen, PresetEbook, PresetPrinter, PresetPrepress, PresetDefault}

// ValidPreset reports whether p belongs to the fixed preset enumeration.
// Matching is case-insensitive; "EBOOK" names the same preset as "ebook".
func ValidPreset(p Preset) bool {
	lower := Preset(strings.ToLower(string(p)))
	for _, q := range Presets {
		if lower == q {
			return true
		}
	}
	return false
}

// CompressionConfig controls every stage of the compression pipeline.
// It is created once per compression request and never mutated.
type CompressionConfig struct {
	// JPEG quality for recompressed images (0-100).
	ImageQuality int `json:"image_quality" mapstructure:"image_quality"`
	// Only downsample images whose effective DPI exceeds this threshold.
	DPIThreshold int `json:"dpi_threshold" mapstructure:"dpi_threshold"`
	// Target DPI for downsampled images.
	DPITarget int `json:"dpi_target" mapstructure:"dpi_target"`
	// Convert images to grayscale before recompressing.
	ToGrayscale bool `json:"to_grayscale" mapstructure:"to_grayscale"`
	// Strip metadata, thumbnails and attachments.
	RemoveMetadata bool `json:"remove_metadata" mapstructure:"remove_metadata"`
	// Subset embedded fonts so only used glyphs remain.
	SubsetFonts bool `json:"subset_fonts" mapstructure:"subset_fonts"`
	// Remove all images completely (text and vector only).
	RemoveImages bool `json:"remove_images" mapstructure:"remove_images"`
	// Flatten interactive form fields into static content.
	FlattenForms bool `json:"flatten_forms" mapstructure:"flatten_forms"`
	// Delete annotations (comments, highlights, etc.).
	RemoveAnnotations bool `json:"remove_annotations" mapstructure:"remove_annotations"`
	// Run the external re-distillation tool after the structural pass.
	UseExternalTool bool `json:"use_external_tool" mapstructure:"use_external_tool"`
	// Quality preset for the external tool.
	ExternalToolQuality Preset `json:"external_tool_quality" mapstructure:"external_tool_quality"`
	// Maximum runtime for the external tool; zero means no limit.
	ExternalToolTimeout time.Duration `json:"external_tool_timeout" mapstructure:"external_tool_timeout"`
	// Prune objects unreachable from page content (requires the pdfcpu CLI).
	RemoveUnreferenced bool `json:"remove_unreferenced" mapstructure:"remove_unreferenced"`
}

// Default returns the documented default configuration.
func Default() CompressionConfig {
	return CompressionConfig{
		ImageQuality:        60,
		DPIThreshold:        100,
		DPITarget:           72,
		ToGrayscale:         false,
		RemoveMetadata:      true,
		SubsetFonts:         true,
		RemoveImages:        false,
		FlattenForms:        true,
		RemoveAnnotations:   true,
		UseExternalTool:     false,
		ExternalToolQuality: PresetEbook,
		RemoveUnreferenced:  false,
	}
}

// Validate checks numeric ranges and the preset enumeration.
// RemoveImages=true deliberately does not reject quality/DPI/grayscale
// settings; they are accepted and ignored.
func (c CompressionConfig) Validate() error {
	if c.ImageQuality < 0 || c.ImageQuality > 100 {
		return fmt.Errorf("image quality must be in [0,100], got %d", c.ImageQuality)
	}
	if c.DPIThreshold < 0 {
		return fmt.Errorf("dpi threshold must be non-negative, got %d", c.DPIThreshold)
	}
	if c.DPITarget < 0 {
		return fmt.Errorf("dpi target must be non-negative, got %d", c.DPITarget)
	}
	if c.ExternalToolTimeout < 0 {
		return fmt.Errorf("external tool timeout must be non-negative, got %v", c.ExternalToolTimeout)
	}
	if !ValidPreset(c.ExternalToolQuality) {
		return fmt.Errorf("invalid quality preset: %q", c.ExternalToolQuality)
	}
	return nil
}
