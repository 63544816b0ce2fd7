package transforms

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"mriseg/internal/models"
)

// IntensityNormalizer subtracts and divides selected volumes by fixed
// statistics, or by their own mean and standard deviation when none are given.
//
// Fixed statistics are either scalars (length 1) or per-channel values for
// channel-last data, in which case their length must match the last dimension.
type IntensityNormalizer struct {
	keys       []string
	subtrahend []float64
	divisor    []float64
	dtype      models.DType
}

// NewIntensityNormalizer validates its arguments. subtrahend and divisor must
// be set together and have the same length.
func NewIntensityNormalizer(keys []string, subtrahend, divisor []float64, dtype models.DType) (*IntensityNormalizer, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: keys must be set", ErrConfiguration)
	}
	if (subtrahend == nil) != (divisor == nil) {
		return nil, fmt.Errorf("%w: subtrahend and divisor must be set as a pair", ErrConfiguration)
	}
	if len(subtrahend) != len(divisor) {
		return nil, fmt.Errorf("%w: subtrahend has %d values, divisor %d", ErrConfiguration, len(subtrahend), len(divisor))
	}
	if subtrahend != nil && len(subtrahend) == 0 {
		return nil, fmt.Errorf("%w: empty subtrahend and divisor", ErrConfiguration)
	}
	for i, d := range divisor {
		if d == 0 {
			return nil, fmt.Errorf("%w: divisor[%d] is zero", ErrConfiguration, i)
		}
	}
	if !dtype.Valid() {
		return nil, fmt.Errorf("%w: unknown dtype %q", ErrConfiguration, dtype)
	}

	return &IntensityNormalizer{
		keys:       append([]string(nil), keys...),
		subtrahend: append([]float64(nil), subtrahend...),
		divisor:    append([]float64(nil), divisor...),
		dtype:      dtype,
	}, nil
}

// Apply normalizes each configured key in place and returns data.
func (n *IntensityNormalizer) Apply(data Data) (Data, error) {
	if data == nil {
		return nil, fmt.Errorf("data must be a keyed collection")
	}

	for _, key := range n.keys {
		img, ok := data[key]
		if !ok || img == nil {
			return nil, fmt.Errorf("%w: %q", ErrMissingKey, key)
		}
		if err := img.Check(); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}

		if len(n.subtrahend) > 0 {
			if err := n.applyFixed(img); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
		} else {
			normalizeByStats(img.Data)
		}

		if n.dtype != "" && n.dtype != img.DType {
			img = img.AsType(n.dtype)
		}
		data[key] = img
	}

	return data, nil
}

func (n *IntensityNormalizer) applyFixed(img *models.Volume) error {
	if len(n.subtrahend) == 1 {
		floats.AddConst(-n.subtrahend[0], img.Data)
		floats.Scale(1/n.divisor[0], img.Data)
		return nil
	}

	channels := img.Shape[len(img.Shape)-1]
	if channels != len(n.subtrahend) {
		return fmt.Errorf("%d channel statistics for %d channels", len(n.subtrahend), channels)
	}

	// Channel-last: the channel is the slowest-varying index
	stride := img.Len() / channels
	for c := 0; c < channels; c++ {
		block := img.Data[c*stride : (c+1)*stride]
		floats.AddConst(-n.subtrahend[c], block)
		floats.Scale(1/n.divisor[c], block)
	}
	return nil
}

// normalizeByStats centres values on zero and scales to unit population
// standard deviation. Constant inputs are only centred.
func normalizeByStats(values []float64) {
	if len(values) == 0 {
		return
	}
	mean, variance := stat.PopMeanVariance(values, nil)
	std := math.Sqrt(variance)
	floats.AddConst(-mean, values)
	if std > 0 {
		floats.Scale(1/std, values)
	}
}
