package redistill

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pdfslim/internal/config"
	"pdfslim/internal/toolexec"
)

// fakeTool records the invocation instead of running Ghostscript.
type fakeTool struct {
	locateErr  error
	invokeErr  error
	createsOut bool

	gotBin     string
	gotArgs    []string
	gotTimeout time.Duration
}

func (f *fakeTool) Locate() (string, error) {
	if f.locateErr != nil {
		return "", f.locateErr
	}
	return "/usr/bin/gs", nil
}

func (f *fakeTool) Invoke(ctx context.Context, bin string, args []string, timeout time.Duration) error {
	f.gotBin = bin
	f.gotArgs = args
	f.gotTimeout = timeout
	if f.invokeErr != nil {
		return f.invokeErr
	}
	if f.createsOut {
		// Output path is carried in the -sOutputFile flag.
		for _, a := range args {
			if len(a) > len("-sOutputFile=") && a[:len("-sOutputFile=")] == "-sOutputFile=" {
				os.WriteFile(a[len("-sOutputFile="):], []byte("%PDF-1.4\n"), 0644)
			}
		}
	}
	return nil
}

func TestRunBuildsGhostscriptArgs(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pdf")
	out := filepath.Join(dir, "out.pdf")
	os.WriteFile(in, []byte("%PDF-1.4\n"), 0644)

	tool := &fakeTool{createsOut: true}
	r := NewWithTool(config.PresetEbook, 30*time.Second, tool, nil)

	if err := r.Run(context.Background(), in, out); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	want := []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		"-dPDFSETTINGS=/ebook",
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		"-sOutputFile=" + out,
		in,
	}
	if len(tool.gotArgs) != len(want) {
		t.Fatalf("Expected %d args, got %d: %v", len(want), len(tool.gotArgs), tool.gotArgs)
	}
	for i, a := range want {
		if tool.gotArgs[i] != a {
			t.Errorf("Arg %d: expected %q, got %q", i, a, tool.gotArgs[i])
		}
	}
	if tool.gotTimeout != 30*time.Second {
		t.Errorf("Expected timeout to be forwarded, got %v", tool.gotTimeout)
	}
}

func TestRunUppercasePresetNormalized(t *testing.T) {
	tool := &fakeTool{createsOut: true}
	r := NewWithTool("SCREEN", 0, tool, nil)

	if r.Name() != "gs_screen" {
		t.Errorf("Expected stage name gs_screen, got %q", r.Name())
	}
}

func TestRunInvalidPreset(t *testing.T) {
	tool := &fakeTool{}
	r := NewWithTool("ultra", 0, tool, nil)

	err := r.Run(context.Background(), "in.pdf", "out.pdf")
	if !errors.Is(err, ErrInvalidPreset) {
		t.Fatalf("Expected ErrInvalidPreset, got %v", err)
	}
	if tool.gotBin != "" {
		t.Error("Expected no invocation for an invalid preset")
	}
}

func TestRunGhostscriptMissing(t *testing.T) {
	tool := &fakeTool{locateErr: ErrNotInstalled}
	r := NewWithTool(config.PresetEbook, 0, tool, nil)

	err := r.Run(context.Background(), "in.pdf", "out.pdf")
	if !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("Expected ErrNotInstalled, got %v", err)
	}
}

func TestRunToolFailurePropagatesStderr(t *testing.T) {
	toolErr := &toolexec.ToolError{Tool: "gs", Stderr: "GPL Ghostscript: invalid file", Err: errors.New("exit status 1")}
	tool := &fakeTool{invokeErr: toolErr}
	r := NewWithTool(config.PresetScreen, 0, tool, nil)

	err := r.Run(context.Background(), "in.pdf", "out.pdf")
	if err == nil {
		t.Fatal("Expected error")
	}

	var got *toolexec.ToolError
	if !errors.As(err, &got) {
		t.Fatalf("Expected wrapped *ToolError, got %v", err)
	}
	if got.Stderr != "GPL Ghostscript: invalid file" {
		t.Errorf("Expected diagnostic text to survive wrapping, got %q", got.Stderr)
	}
}

func TestRunNoOutputFile(t *testing.T) {
	dir := t.TempDir()
	tool := &fakeTool{createsOut: false}
	r := NewWithTool(config.PresetEbook, 0, tool, nil)

	err := r.Run(context.Background(), filepath.Join(dir, "in.pdf"), filepath.Join(dir, "out.pdf"))
	if err == nil {
		t.Fatal("Expected error when no output file is produced")
	}
}
