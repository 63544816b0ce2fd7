package visualization

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"mriseg/internal/models"
)

// createTestVolume builds a volume where each z slice holds a unique value
func createTestVolume(width, height, depth int) *models.Volume {
	vol := models.NewVolume(models.Float32, width, height, depth)
	for z := 0; z < depth; z++ {
		value := float64(z) / float64(depth)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				vol.Set(value, x, y, z)
			}
		}
	}
	return vol
}

// TestNewViewer verifies argument validation
func TestNewViewer(t *testing.T) {
	if _, err := NewViewer(createTestVolume(4, 4, 2), 255); err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}
	if _, err := NewViewer(models.NewVolume(models.Float32, 4, 4), 255); err == nil {
		t.Error("Expected error for 2-D volume")
	}
}

// TestExtractSlice verifies that slices are correctly extracted from the volume
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 8, 5
	viewer, err := NewViewer(createTestVolume(width, height, depth), 255)
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}

	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}

		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d", width, height, bounds.Dx(), bounds.Dy())
		}

		expected := uint8(float64(z) / float64(depth) * 255)
		if got := img.GrayAt(width/2, height/2).Y; got != expected {
			t.Errorf("Z slice %d: expected value %d, got %d", z, expected, got)
		}
	}

	img, err := viewer.ExtractSlice("x", 3)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if img.Bounds().Dx() != depth || img.Bounds().Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %v", depth, height, img.Bounds())
	}

	img, err = viewer.ExtractSlice("Y", 0)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if img.Bounds().Dx() != width || img.Bounds().Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %v", width, depth, img.Bounds())
	}
}

// TestExtractSliceErrors verifies out-of-range and unknown axes
func TestExtractSliceErrors(t *testing.T) {
	viewer, _ := NewViewer(createTestVolume(4, 4, 4), 1)

	tests := []struct {
		axis string
		pos  int
	}{
		{"z", -1},
		{"z", 4},
		{"x", 10},
		{"w", 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%d", tt.axis, tt.pos), func(t *testing.T) {
			if _, err := viewer.ExtractSlice(tt.axis, tt.pos); err == nil {
				t.Errorf("Expected error for axis %s position %d", tt.axis, tt.pos)
			}
		})
	}
}

// TestSaveSliceSequence verifies one JPEG per slice
func TestSaveSliceSequence(t *testing.T) {
	viewer, _ := NewViewer(createTestVolume(6, 5, 4), 255)
	dir := filepath.Join(t.TempDir(), "slices")

	if err := viewer.SaveSliceSequence("z", dir); err != nil {
		t.Fatalf("SaveSliceSequence failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 4 {
		t.Errorf("Expected 4 slices, got %d", len(entries))
	}
	if _, err := os.Stat(filepath.Join(dir, "slice_z_000.jpg")); err != nil {
		t.Errorf("Expected slice_z_000.jpg: %v", err)
	}

	if err := viewer.SaveSliceSequence("q", dir); err == nil {
		t.Error("Expected error for invalid axis")
	}
}
