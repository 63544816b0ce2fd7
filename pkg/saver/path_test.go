package saver

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestCreateFileBasenameExamples covers the documented derivations
func TestCreateFileBasenameExamples(t *testing.T) {
	out := t.TempDir()

	tests := []struct {
		name     string
		source   string
		dataRoot string
		want     string
	}{
		{"no data root", "/data/pt1/img.nii.gz", "", filepath.Join(out, "img", "img_seg")},
		{"relative source without data root", filepath.Join("..", "x", "img.nii.gz"), "", filepath.Join(out, "img", "img_seg")},
		{"data root", "/data/pt1/img.nii.gz", "/data", filepath.Join(out, "pt1", "img", "img_seg")},
		{"single extension", "/data/pt1/scan.nii", "/data", filepath.Join(out, "pt1", "scan", "scan_seg")},
		{"multi extension", "/data/a.b.nii.gz", "/data", filepath.Join(out, "a", "a_seg")},
		{"no extension", "/data/pt2/volume", "/data", filepath.Join(out, "pt2", "volume", "volume_seg")},
		{"hidden file", "/data/.mask.nii", "/data", filepath.Join(out, ".mask", ".mask_seg")},
		{"bare filename", "img.nii.gz", "", filepath.Join(out, "img", "img_seg")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CreateFileBasename("seg", tt.source, out, tt.dataRoot)
			if err != nil {
				t.Fatalf("CreateFileBasename failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
			info, err := os.Stat(filepath.Dir(got))
			if err != nil || !info.IsDir() {
				t.Errorf("Expected directory %s to exist", filepath.Dir(got))
			}
		})
	}
}

// TestStripExtensions verifies repeated suffix removal
func TestStripExtensions(t *testing.T) {
	tests := map[string]string{
		"img.nii.gz":   "img",
		"a.b.nii.gz":   "a",
		"img.nii":      "img",
		"img":          "img",
		".hidden":      ".hidden",
		".hidden.nii":  ".hidden",
		"..a":          "..a",
		"trailing.":    "trailing",
		"x.tar.gz.bak": "x",
	}
	for in, want := range tests {
		if got := stripExtensions(in); got != want {
			t.Errorf("stripExtensions(%q): expected %q, got %q", in, want, got)
		}
	}
}

// TestCreateFileBasenameDeterministic verifies repeated calls agree and the
// directory side effect is idempotent
func TestCreateFileBasenameDeterministic(t *testing.T) {
	out := t.TempDir()

	first, err := CreateFileBasename("seg", "/data/pt1/img.nii.gz", out, "/data")
	if err != nil {
		t.Fatalf("First call failed: %v", err)
	}
	second, err := CreateFileBasename("seg", "/data/pt1/img.nii.gz", out, "/data")
	if err != nil {
		t.Fatalf("Second call failed: %v", err)
	}
	if first != second {
		t.Errorf("Expected identical paths, got %s and %s", first, second)
	}

	entries, err := os.ReadDir(filepath.Join(out, "pt1"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "img" {
		t.Errorf("Expected a single img directory, got %v", entries)
	}
}

// TestCreateFileBasenamePreservesStructure verifies same-named files in
// different directories do not collide
func TestCreateFileBasenamePreservesStructure(t *testing.T) {
	out := t.TempDir()

	a, err := CreateFileBasename("seg", "/data/pt1/img.nii.gz", out, "/data")
	if err != nil {
		t.Fatalf("CreateFileBasename failed: %v", err)
	}
	b, err := CreateFileBasename("seg", "/data/pt2/img.nii.gz", out, "/data")
	if err != nil {
		t.Fatalf("CreateFileBasename failed: %v", err)
	}
	if a == b {
		t.Errorf("Expected distinct paths, both were %s", a)
	}
	if !strings.Contains(a, filepath.Join("pt1", "img")) || !strings.Contains(b, filepath.Join("pt2", "img")) {
		t.Errorf("Expected subdirectories to be preserved: %s, %s", a, b)
	}
}

// TestCreateFileBasenameNoDataRootStaysInside verifies that without a data
// root the source directory never influences the output location
func TestCreateFileBasenameNoDataRootStaysInside(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")

	sources := []string{
		filepath.Join("..", "x", "img.nii.gz"),
		filepath.Join("..", "..", "..", "img.nii"),
		"/data/pt1/img.nii.gz",
		"/data/pt2/img.nii",
	}
	want := filepath.Join(out, "img", "img_seg")
	for _, src := range sources {
		got, err := CreateFileBasename("seg", src, out, "")
		if err != nil {
			t.Fatalf("CreateFileBasename(%s) failed: %v", src, err)
		}
		if got != want {
			t.Errorf("CreateFileBasename(%s): expected %s, got %s", src, want, got)
		}
		if !strings.HasPrefix(got, out+string(filepath.Separator)) {
			t.Errorf("Expected %s to stay under %s", got, out)
		}
	}
}

// TestCreateFileBasenameNonAncestor documents the escape edge case
func TestCreateFileBasenameNonAncestor(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")

	got, err := CreateFileBasename("seg", "/elsewhere/img.nii", out, "/data")
	if err != nil {
		t.Fatalf("CreateFileBasename failed: %v", err)
	}
	if strings.HasPrefix(got, out+string(filepath.Separator)) {
		t.Errorf("Expected path outside %s, got %s", out, got)
	}
}

// TestCreateFileBasenameMkdirFailure verifies filesystem errors are classified
func TestCreateFileBasenameMkdirFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	_, err := CreateFileBasename("seg", "/data/img.nii", blocker, "/data")
	if !errors.Is(err, ErrFilesystem) {
		t.Errorf("Expected ErrFilesystem, got %v", err)
	}
}
