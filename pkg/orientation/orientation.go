// Package orientation derives voxel-axis orientation from an affine and moves
// volumes between a file's native voxel order and the canonical RAS+ order.
package orientation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"mriseg/internal/models"
)

// Axis describes where one voxel axis points in world space.
type Axis struct {
	// World is the world axis index: 0 = x (R), 1 = y (A), 2 = z (S)
	World int

	// Flip is +1 when increasing voxel index moves toward the positive
	// world direction, -1 otherwise
	Flip int
}

// Orientation holds one Axis per spatial voxel axis.
type Orientation [3]Axis

// Canonical is the RAS+ orientation.
var Canonical = Orientation{{0, 1}, {1, 1}, {2, 1}}

// FromAffine computes the orientation of a 4x4 (or 3x3) voxel-to-world affine.
//
// The rotation/zoom block is normalized column-wise, replaced by its closest
// orthogonal matrix (U·Vᵀ from the SVD) and each voxel axis is then assigned
// to the world axis it is most aligned with, in voxel-axis order.
func FromAffine(aff mat.Matrix) (Orientation, error) {
	var o Orientation
	if aff == nil {
		return o, fmt.Errorf("nil affine")
	}
	r, c := aff.Dims()
	if r < 3 || c < 3 {
		return o, fmt.Errorf("affine must be at least 3x3, got %dx%d", r, c)
	}

	rs := mat.NewDense(3, 3, nil)
	for j := 0; j < 3; j++ {
		norm := 0.0
		for i := 0; i < 3; i++ {
			norm += aff.At(i, j) * aff.At(i, j)
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			norm = 1
		}
		for i := 0; i < 3; i++ {
			rs.Set(i, j, aff.At(i, j)/norm)
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(rs, mat.SVDFull); !ok {
		return o, fmt.Errorf("failed to factorize affine")
	}
	var u, v, rot mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// Singular values near zero mean the affine is degenerate along some axis
	values := svd.Values(nil)
	tol := values[0] * 3 * 1e-6
	for _, s := range values {
		if s <= tol {
			return o, fmt.Errorf("affine is singular")
		}
	}
	rot.Mul(&u, v.T())

	used := [3]bool{}
	for j := 0; j < 3; j++ {
		best, bestVal := -1, 0.0
		for i := 0; i < 3; i++ {
			if used[i] {
				continue
			}
			if a := math.Abs(rot.At(i, j)); a > bestVal {
				best, bestVal = i, a
			}
		}
		if best < 0 {
			return o, fmt.Errorf("voxel axis %d has no world direction", j)
		}
		used[best] = true
		flip := 1
		if rot.At(best, j) < 0 {
			flip = -1
		}
		o[j] = Axis{World: best, Flip: flip}
	}

	return o, nil
}

// AxisCodes returns the conventional three-letter code, e.g. "RAS" or "LPS".
func (o Orientation) AxisCodes() string {
	pos := [3]byte{'R', 'A', 'S'}
	neg := [3]byte{'L', 'P', 'I'}
	codes := make([]byte, 3)
	for j, a := range o {
		if a.Flip > 0 {
			codes[j] = pos[a.World]
		} else {
			codes[j] = neg[a.World]
		}
	}
	return string(codes)
}

// IsCanonical reports whether o is RAS+.
func (o Orientation) IsCanonical() bool { return o == Canonical }

// RevertCanonical takes a volume laid out in canonical RAS+ order and returns
// it in the native voxel order described by aff. Dimensions past the third
// are carried through untouched.
func RevertCanonical(vol *models.Volume, aff mat.Matrix) (*models.Volume, error) {
	o, err := FromAffine(aff)
	if err != nil {
		return nil, err
	}
	return reorient(vol, o, false)
}

// ToCanonical takes a volume in the native voxel order described by aff and
// returns it in canonical RAS+ order.
func ToCanonical(vol *models.Volume, aff mat.Matrix) (*models.Volume, error) {
	o, err := FromAffine(aff)
	if err != nil {
		return nil, err
	}
	return reorient(vol, o, true)
}

// reorient copies between native order (indexed by voxel axis j) and
// canonical order (indexed by world axis o[j].World). toCanonical selects
// which side vol is on.
func reorient(vol *models.Volume, o Orientation, toCanonical bool) (*models.Volume, error) {
	if err := vol.Check(); err != nil {
		return nil, err
	}
	if len(vol.Shape) < 3 {
		return nil, fmt.Errorf("reorientation needs at least 3 dimensions, got %d", len(vol.Shape))
	}
	if o.IsCanonical() {
		return vol.Clone(), nil
	}

	// Native extents
	var native, canon [3]int
	if toCanonical {
		copy(native[:], vol.Shape[:3])
		for j, a := range o {
			canon[a.World] = native[j]
		}
	} else {
		copy(canon[:], vol.Shape[:3])
		for j, a := range o {
			native[j] = canon[a.World]
		}
	}

	outShape := append([]int(nil), vol.Shape...)
	if toCanonical {
		copy(outShape[:3], canon[:])
	} else {
		copy(outShape[:3], native[:])
	}
	out := &models.Volume{
		Data:  make([]float64, len(vol.Data)),
		Shape: outShape,
		DType: vol.DType,
	}

	spatial := native[0] * native[1] * native[2]
	frames := len(vol.Data) / spatial

	var v, c [3]int
	for v[2] = 0; v[2] < native[2]; v[2]++ {
		for v[1] = 0; v[1] < native[1]; v[1]++ {
			for v[0] = 0; v[0] < native[0]; v[0]++ {
				for j, a := range o {
					if a.Flip > 0 {
						c[a.World] = v[j]
					} else {
						c[a.World] = native[j] - 1 - v[j]
					}
				}
				nIdx := v[0] + native[0]*(v[1]+native[1]*v[2])
				cIdx := c[0] + canon[0]*(c[1]+canon[1]*c[2])
				for t := 0; t < frames; t++ {
					if toCanonical {
						out.Data[cIdx+t*spatial] = vol.Data[nIdx+t*spatial]
					} else {
						out.Data[nIdx+t*spatial] = vol.Data[cIdx+t*spatial]
					}
				}
			}
		}
	}

	return out, nil
}
