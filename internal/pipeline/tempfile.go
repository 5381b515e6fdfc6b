package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// StagePath derives the intermediate artifact path for a stage. The name is
// built from the output path's stem, the process id and a stage tag, so
// concurrent runs targeting different outputs never collide and the real
// output path is never touched before the final publish.
func StagePath(outputPath, tag string) string {
	dir := filepath.Dir(outputPath)
	stem := strings.TrimSuffix(filepath.Base(outputPath), filepath.Ext(outputPath))
	return filepath.Join(dir, fmt.Sprintf("%s_%d_%s.pdf", stem, os.Getpid(), tag))
}

// moveFile renames src onto dst, falling back to copy-and-delete when the
// rename crosses filesystems. The copy lands in a sibling temp file first so
// dst never holds a partially written document.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	tmp := dst + ".part"
	if err := copyFile(src, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}
	return destFile.Sync()
}
