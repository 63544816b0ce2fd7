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
)

// Image is a decoded NIfTI file.
type Image struct {
	Header *Header
	Volume *models.Volume
	Affine *mat.Dense
}

// Reader loads NIfTI files. Its Affine method satisfies the saver's
// orientation provider so only headers are read when borrowing metadata.
type Reader struct{}

// NewReader returns a Reader.
func NewReader() *Reader { return &Reader{} }

// Affine reads only the header of path and returns its voxel-to-world transform.
func (r *Reader) Affine(path string) (*mat.Dense, error) {
	h, err := ReadHeader(path)
	if err != nil {
		return nil, err
	}
	return h.Affine(), nil
}

// Read loads the full image at path.
func (r *Reader) Read(path string) (*Image, error) { return Read(path) }

// openStream opens path, transparently decompressing .gz files.
func openStream(path string) (io.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	br := bufio.NewReader(f)
	if !strings.HasSuffix(strings.ToLower(path), ".gz") {
		return br, f.Close, nil
	}
	gz, err := gzip.NewReader(br)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	closer := func() error {
		gz.Close()
		return f.Close()
	}
	return gz, closer, nil
}

// ReadHeader decodes the header of the file at path.
func ReadHeader(path string) (*Header, error) {
	r, closeFn, err := openStream(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	h, _, err := decodeHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

// Read loads the header, voxel data and affine of the file at path.
// Voxel values are scaled by scl_slope/scl_inter when a slope is present.
func Read(path string) (*Image, error) {
	r, closeFn, err := openStream(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	h, order, err := decodeHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	shape, err := h.Shape()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	dtype, err := h.DType()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	// Skip the extension block up to the start of the voxel data
	skip := int64(h.VoxOffset) - headerSize
	if skip > 0 {
		if _, err := io.CopyN(io.Discard, r, skip); err != nil {
			return nil, fmt.Errorf("failed to seek voxel data in %s: %w", path, err)
		}
	}

	vol := models.NewVolume(dtype, shape...)
	_, bitpix, err := datatypeCode(dtype)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	width := int(bitpix) / 8
	buf := make([]byte, vol.Len()*width)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read voxel data of %s: %w", path, err)
	}
	decodeValues(buf, vol.Data, dtype, order)

	if slope := float64(h.SclSlope); slope != 0 && !math.IsNaN(slope) && (slope != 1 || h.SclInter != 0) {
		inter := float64(h.SclInter)
		for i, v := range vol.Data {
			vol.Data[i] = v*slope + inter
		}
		vol.DType = models.Float32
	}

	return &Image{Header: h, Volume: vol, Affine: h.Affine()}, nil
}

func decodeValues(buf []byte, dst []float64, dtype models.DType, order binary.ByteOrder) {
	switch dtype {
	case models.Uint8:
		for i := range dst {
			dst[i] = float64(buf[i])
		}
	case models.Int16:
		for i := range dst {
			dst[i] = float64(int16(order.Uint16(buf[2*i:])))
		}
	case models.Int32:
		for i := range dst {
			dst[i] = float64(int32(order.Uint32(buf[4*i:])))
		}
	case models.Float32:
		for i := range dst {
			dst[i] = float64(math.Float32frombits(order.Uint32(buf[4*i:])))
		}
	case models.Float64:
		for i := range dst {
			dst[i] = math.Float64frombits(order.Uint64(buf[8*i:]))
		}
	}
}
