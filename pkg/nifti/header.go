// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and .nii.gz).
package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"mriseg/internal/models"
)

const (
	headerSize = 348
	voxOffset  = 352
)

// NIfTI datatype codes
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
)

// Transform codes for qform_code / sform_code
const (
	XformUnknown     = 0
	XformScannerAnat = 1
	XformAlignedAnat = 2
)

// Header is the 348-byte NIfTI-1 header. Field order and sizes match the
// on-disk layout so it can be decoded with encoding/binary directly.
type Header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DbName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XyztUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// decodeHeader parses a raw header and reports the byte order it was written in.
func decodeHeader(raw []byte) (*Header, binary.ByteOrder, error) {
	if len(raw) < headerSize {
		return nil, nil, fmt.Errorf("short header: %d bytes", len(raw))
	}

	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(raw) == headerSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(raw) == headerSize:
		order = binary.BigEndian
	default:
		return nil, nil, fmt.Errorf("not a NIfTI-1 header")
	}

	h := &Header{}
	if err := binary.Read(bytes.NewReader(raw[:headerSize]), order, h); err != nil {
		return nil, nil, fmt.Errorf("failed to decode header: %w", err)
	}
	if string(h.Magic[:3]) != "n+1" {
		return nil, nil, fmt.Errorf("unsupported NIfTI magic %q", h.Magic[:3])
	}
	return h, order, nil
}

// Shape returns the array dimensions declared in the header.
func (h *Header) Shape() ([]int, error) {
	n := int(h.Dim[0])
	if n < 1 || n > 7 {
		return nil, fmt.Errorf("invalid dimension count %d", n)
	}
	shape := make([]int, n)
	for i := range shape {
		shape[i] = int(h.Dim[i+1])
		if shape[i] <= 0 {
			return nil, fmt.Errorf("invalid extent %d for dimension %d", shape[i], i)
		}
	}
	return shape, nil
}

// DType maps the header datatype code to a volume element type. The bitpix
// field must agree with the datatype.
func (h *Header) DType() (models.DType, error) {
	var dtype models.DType
	switch h.Datatype {
	case dtUint8:
		dtype = models.Uint8
	case dtInt16:
		dtype = models.Int16
	case dtInt32:
		dtype = models.Int32
	case dtFloat32:
		dtype = models.Float32
	case dtFloat64:
		dtype = models.Float64
	default:
		return "", fmt.Errorf("unsupported NIfTI datatype %d", h.Datatype)
	}
	if _, bitpix, _ := datatypeCode(dtype); h.Bitpix != bitpix {
		return "", fmt.Errorf("bitpix %d does not match %s datatype (%d)", h.Bitpix, dtype, bitpix)
	}
	return dtype, nil
}

// Affine returns the voxel-to-world transform. The sform is preferred, then
// the qform, then a plain scaling by the voxel sizes.
func (h *Header) Affine() *mat.Dense {
	switch {
	case h.SformCode > 0:
		return mat.NewDense(4, 4, []float64{
			float64(h.SrowX[0]), float64(h.SrowX[1]), float64(h.SrowX[2]), float64(h.SrowX[3]),
			float64(h.SrowY[0]), float64(h.SrowY[1]), float64(h.SrowY[2]), float64(h.SrowY[3]),
			float64(h.SrowZ[0]), float64(h.SrowZ[1]), float64(h.SrowZ[2]), float64(h.SrowZ[3]),
			0, 0, 0, 1,
		})
	case h.QformCode > 0:
		return h.qformAffine()
	}

	aff := mat.NewDiagDense(4, []float64{
		nonZero(float64(h.Pixdim[1])),
		nonZero(float64(h.Pixdim[2])),
		nonZero(float64(h.Pixdim[3])),
		1,
	})
	return mat.DenseCopyOf(aff)
}

// qformAffine builds the affine from the quaternion representation.
func (h *Header) qformAffine() *mat.Dense {
	b := float64(h.QuaternB)
	c := float64(h.QuaternC)
	d := float64(h.QuaternD)
	a := 1.0 - (b*b + c*c + d*d)
	if a < 1e-7 {
		// Rounding pushed the quaternion off the unit sphere
		s := 1.0 / math.Sqrt(b*b+c*c+d*d)
		b, c, d = b*s, c*s, d*s
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	qfac := float64(h.Pixdim[0])
	if qfac == 0 {
		qfac = 1
	}
	zx := nonZero(float64(h.Pixdim[1]))
	zy := nonZero(float64(h.Pixdim[2]))
	zz := nonZero(float64(h.Pixdim[3])) * qfac

	return mat.NewDense(4, 4, []float64{
		(a*a + b*b - c*c - d*d) * zx, 2 * (b*c - a*d) * zy, 2 * (b*d + a*c) * zz, float64(h.QoffsetX),
		2 * (b*c + a*d) * zx, (a*a + c*c - b*b - d*d) * zy, 2 * (c*d - a*b) * zz, float64(h.QoffsetY),
		2 * (b*d - a*c) * zx, 2 * (c*d + a*b) * zy, (a*a + d*d - c*c - b*b) * zz, float64(h.QoffsetZ),
		0, 0, 0, 1,
	})
}

// Description returns the descrip field as a string.
func (h *Header) Description() string {
	return string(bytes.TrimRight(h.Descrip[:], "\x00"))
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return math.Abs(v)
}

func datatypeCode(dtype models.DType) (code, bitpix int16, err error) {
	switch dtype {
	case models.Uint8:
		return dtUint8, 8, nil
	case models.Int16:
		return dtInt16, 16, nil
	case models.Int32:
		return dtInt32, 32, nil
	case models.Float32:
		return dtFloat32, 32, nil
	case models.Float64:
		return dtFloat64, 64, nil
	}
	return 0, 0, fmt.Errorf("unsupported dtype %q", dtype)
}

// newHeader builds a header for writing a volume of the given shape and type.
func newHeader(shape []int, dtype models.DType, aff mat.Matrix, descrip string) (*Header, error) {
	if len(shape) < 1 || len(shape) > 7 {
		return nil, fmt.Errorf("cannot write %d-dimensional volume", len(shape))
	}
	code, bitpix, err := datatypeCode(dtype)
	if err != nil {
		return nil, err
	}

	h := &Header{
		SizeofHdr: headerSize,
		Regular:   'r',
		Datatype:  code,
		Bitpix:    bitpix,
		VoxOffset: voxOffset,
		SclSlope:  1,
		XyztUnits: 2 | 8, // mm, seconds
		SformCode: XformAlignedAnat,
	}
	h.Dim[0] = int16(len(shape))
	for i, s := range shape {
		if s > math.MaxInt16 {
			return nil, fmt.Errorf("extent %d exceeds NIfTI-1 limit", s)
		}
		h.Dim[i+1] = int16(s)
	}
	for i := range h.Pixdim {
		h.Pixdim[i] = 1
	}
	for j := 0; j < 3; j++ {
		norm := 0.0
		for i := 0; i < 3; i++ {
			norm += aff.At(i, j) * aff.At(i, j)
		}
		h.Pixdim[j+1] = float32(math.Sqrt(norm))
	}
	for j := 0; j < 4; j++ {
		h.SrowX[j] = float32(aff.At(0, j))
		h.SrowY[j] = float32(aff.At(1, j))
		h.SrowZ[j] = float32(aff.At(2, j))
	}
	copy(h.Descrip[:79], descrip)
	copy(h.Magic[:], "n+1\x00")

	return h, nil
}
