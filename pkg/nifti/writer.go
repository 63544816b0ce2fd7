package nifti

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"gonum.org/v1/gonum/mat"

	"mriseg/internal/models"
	"mriseg/pkg/orientation"
)

// Writer writes volumes as NIfTI-1 files. Paths ending in .gz are gzipped.
type Writer struct {
	// Description is stored in the header's descrip field
	Description string
}

// NewWriter returns a Writer tagging files with description.
func NewWriter(description string) *Writer {
	return &Writer{Description: description}
}

// WriteVolume writes vol to path using aff as the voxel-to-world transform.
// When revertCanonical is set, vol is assumed to be in canonical RAS+ order
// and is moved back to the voxel order aff describes. An empty dtype keeps
// the volume's own element type (float32 if that is unset too).
func (w *Writer) WriteVolume(vol *models.Volume, aff *mat.Dense, path string, revertCanonical bool, dtype models.DType) error {
	if err := vol.Check(); err != nil {
		return err
	}
	if aff == nil {
		return fmt.Errorf("nil affine")
	}
	if r, c := aff.Dims(); r != 4 || c != 4 {
		return fmt.Errorf("affine must be 4x4, got %dx%d", r, c)
	}

	if dtype == "" {
		dtype = vol.DType
	}
	if dtype == "" {
		dtype = models.Float32
	}

	data := vol
	if revertCanonical {
		var err error
		if data, err = orientation.RevertCanonical(vol, aff); err != nil {
			return fmt.Errorf("failed to revert canonical orientation: %w", err)
		}
	}

	h, err := newHeader(data.Shape, dtype, aff, w.Description)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := encode(f, path, h, data.Data, dtype); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func encode(f io.Writer, path string, h *Header, values []float64, dtype models.DType) error {
	bw := bufio.NewWriter(f)
	var out io.Writer = bw
	var gz *gzip.Writer
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz = gzip.NewWriter(bw)
		out = gz
	}

	if err := binary.Write(out, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	// Empty extension block
	if _, err := out.Write([]byte{0, 0, 0, 0}); err != nil {
		return fmt.Errorf("failed to write extension flag: %w", err)
	}
	if _, err := out.Write(encodeValues(values, dtype)); err != nil {
		return fmt.Errorf("failed to write voxel data: %w", err)
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to finish gzip stream: %w", err)
		}
	}
	return bw.Flush()
}

func encodeValues(values []float64, dtype models.DType) []byte {
	order := binary.LittleEndian
	var buf []byte
	switch dtype {
	case models.Uint8:
		buf = make([]byte, len(values))
		for i, v := range values {
			buf[i] = uint8(dtype.Cast(v))
		}
	case models.Int16:
		buf = make([]byte, 2*len(values))
		for i, v := range values {
			order.PutUint16(buf[2*i:], uint16(int16(dtype.Cast(v))))
		}
	case models.Int32:
		buf = make([]byte, 4*len(values))
		for i, v := range values {
			order.PutUint32(buf[4*i:], uint32(int32(dtype.Cast(v))))
		}
	case models.Float32:
		buf = make([]byte, 4*len(values))
		for i, v := range values {
			order.PutUint32(buf[4*i:], math.Float32bits(float32(v)))
		}
	case models.Float64:
		buf = make([]byte, 8*len(values))
		for i, v := range values {
			order.PutUint64(buf[8*i:], math.Float64bits(v))
		}
	}
	return buf
}
