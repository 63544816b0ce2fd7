package saver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CreateFileBasename derives the output path (without extension) for a
// prediction made from sourcePath.
//
// Every extension is stripped from the source filename, so "img.nii.gz"
// yields the stem "img". The output goes to
//
//	outputRoot/<source dir>/<stem>/<stem>_<postfix>
//
// where <source dir> is the source directory relative to dataRoot. Without a
// data root it is empty, so same-stem sources from different directories map
// to the same path. The directory is created if needed. dataRoot must be an
// ancestor of the source directory; otherwise the result contains ".."
// segments and may leave outputRoot.
func CreateFileBasename(postfix, sourcePath, outputRoot, dataRoot string) (string, error) {
	dir := filepath.Dir(sourcePath)
	stem := stripExtensions(filepath.Base(sourcePath))

	rel, err := relativeDir(dir, dataRoot)
	if err != nil {
		return "", fmt.Errorf("%w: %s relative to %s: %w", ErrFilesystem, dir, dataRoot, err)
	}

	subfolder := filepath.Join(outputRoot, rel, stem)
	if err := os.MkdirAll(subfolder, 0755); err != nil {
		return "", fmt.Errorf("%w: %w", ErrFilesystem, err)
	}

	return filepath.Join(subfolder, stem+"_"+postfix), nil
}

// stripExtensions removes suffixes until none remain.
func stripExtensions(name string) string {
	for {
		stem, ext := splitExt(name)
		if ext == "" {
			return stem
		}
		name = stem
	}
}

// splitExt splits off the last extension. Leading dots belong to the name,
// so ".hidden" has no extension.
func splitExt(name string) (string, string) {
	i := strings.LastIndex(name, ".")
	if i <= 0 || strings.TrimLeft(name[:i], ".") == "" {
		return name, ""
	}
	return name[:i], name[i:]
}

func relativeDir(dir, dataRoot string) (string, error) {
	if dataRoot == "" {
		return "", nil
	}

	if filepath.IsAbs(dir) != filepath.IsAbs(dataRoot) {
		var err error
		if dir, err = filepath.Abs(dir); err != nil {
			return "", err
		}
		if dataRoot, err = filepath.Abs(dataRoot); err != nil {
			return "", err
		}
	}
	return filepath.Rel(dataRoot, dir)
}
