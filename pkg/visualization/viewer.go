package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"mriseg/internal/models"
)

// Viewer extracts 2-D grayscale slices from the first three dimensions of a
// volume, for previews of predictions and inputs.
type Viewer struct {
	// volume holds the data being viewed
	volume *models.Volume

	// scale multiplies voxel values before they are clamped to 0..255
	scale float64
}

// NewViewer creates a viewer. Values are multiplied by scale before display,
// so probabilities in 0..1 want a scale of 255.
func NewViewer(volume *models.Volume, scale float64) (*Viewer, error) {
	if err := volume.Check(); err != nil {
		return nil, err
	}
	if len(volume.Shape) < 3 {
		return nil, fmt.Errorf("viewer needs a 3-D volume, got shape %v", volume.Shape)
	}
	return &Viewer{volume: volume, scale: scale}, nil
}

func (v *Viewer) extent(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return v.volume.Shape[0], nil
	case "y", "Y":
		return v.volume.Shape[1], nil
	case "z", "Z":
		return v.volume.Shape[2], nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// ExtractSlice extracts a 2-D slice perpendicular to axis at position.
// An x slice is laid out with z across and y down, a y slice with x across
// and z down, and a z slice with x across and y down.
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	limit, err := v.extent(axis)
	if err != nil {
		return nil, err
	}
	if position >= limit {
		return nil, fmt.Errorf("position %d exceeds %s extent %d", position, axis, limit)
	}

	nx, ny, nz := v.volume.Shape[0], v.volume.Shape[1], v.volume.Shape[2]
	var img *image.Gray

	switch axis {
	case "x", "X":
		img = image.NewGray(image.Rect(0, 0, nz, ny))
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				img.SetGray(z, y, v.pixel(position, y, z))
			}
		}
	case "y", "Y":
		img = image.NewGray(image.Rect(0, 0, nx, nz))
		for z := 0; z < nz; z++ {
			for x := 0; x < nx; x++ {
				img.SetGray(x, z, v.pixel(x, position, z))
			}
		}
	default:
		img = image.NewGray(image.Rect(0, 0, nx, ny))
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				img.SetGray(x, y, v.pixel(x, y, position))
			}
		}
	}

	return img, nil
}

func (v *Viewer) pixel(x, y, z int) color.Gray {
	return color.Gray{Y: uint8(models.Uint8.Cast(v.volume.At(x, y, z) * v.scale))}
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	if err := jpeg.Encode(file, img, &jpeg.Options{Quality: 90}); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	maxPos, err := v.extent(axis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
