package models

import (
	"fmt"
	"math"
)

// DType names the element type a volume is stored or written as.
// The zero value means "keep whatever the volume already carries".
type DType string

const (
	Uint8   DType = "uint8"
	Int16   DType = "int16"
	Int32   DType = "int32"
	Float32 DType = "float32"
	Float64 DType = "float64"
)

// Valid reports whether d is a known element type or unset.
func (d DType) Valid() bool {
	switch d {
	case "", Uint8, Int16, Int32, Float32, Float64:
		return true
	}
	return false
}

// Cast converts a single value to the range and precision of d.
// Integer types truncate toward zero and clamp to their range.
func (d DType) Cast(v float64) float64 {
	switch d {
	case Uint8:
		return clampTrunc(v, 0, math.MaxUint8)
	case Int16:
		return clampTrunc(v, math.MinInt16, math.MaxInt16)
	case Int32:
		return clampTrunc(v, math.MinInt32, math.MaxInt32)
	case Float32:
		return float64(float32(v))
	}
	return v
}

func clampTrunc(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Trunc(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Tensor is anything that can be materialized as a host-resident volume.
// Accelerator-backed predictions copy their data out; a Volume returns itself.
type Tensor interface {
	ToHost() (*Volume, error)
}

// Volume is an N-dimensional numeric buffer.
type Volume struct {
	// Data holds the values with the first index varying fastest,
	// which is the on-disk order of NIfTI files
	Data []float64

	// Shape is the extent of each dimension
	Shape []int

	// DType is the element type the data represents
	DType DType
}

// NewVolume allocates a zero-filled volume of the given shape.
func NewVolume(dtype DType, shape ...int) *Volume {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return &Volume{
		Data:  make([]float64, n),
		Shape: append([]int(nil), shape...),
		DType: dtype,
	}
}

// ToHost implements Tensor.
func (v *Volume) ToHost() (*Volume, error) {
	if v == nil {
		return nil, fmt.Errorf("nil volume")
	}
	if err := v.Check(); err != nil {
		return nil, err
	}
	return v, nil
}

// Check verifies that the data length matches the shape.
func (v *Volume) Check() error {
	n := 1
	for _, s := range v.Shape {
		if s <= 0 {
			return fmt.Errorf("invalid shape %v", v.Shape)
		}
		n *= s
	}
	if n != len(v.Data) {
		return fmt.Errorf("shape %v needs %d values, have %d", v.Shape, n, len(v.Data))
	}
	return nil
}

// Len returns the number of elements.
func (v *Volume) Len() int { return len(v.Data) }

// Index maps a logical index to an offset into Data.
func (v *Volume) Index(idx ...int) int {
	off, stride := 0, 1
	for d, i := range idx {
		off += i * stride
		stride *= v.Shape[d]
	}
	return off
}

// At returns the value at the logical index.
func (v *Volume) At(idx ...int) float64 { return v.Data[v.Index(idx...)] }

// Set stores a value at the logical index.
func (v *Volume) Set(val float64, idx ...int) { v.Data[v.Index(idx...)] = val }

// Clone returns a deep copy.
func (v *Volume) Clone() *Volume {
	return &Volume{
		Data:  append([]float64(nil), v.Data...),
		Shape: append([]int(nil), v.Shape...),
		DType: v.DType,
	}
}

// AsType returns a copy cast to dtype. An unset dtype keeps the current one.
func (v *Volume) AsType(dtype DType) *Volume {
	out := v.Clone()
	if dtype == "" || dtype == v.DType {
		return out
	}
	for i, x := range out.Data {
		out.Data[i] = dtype.Cast(x)
	}
	out.DType = dtype
	return out
}
