// Package transforms holds keyed data transforms applied to named volumes
// before they reach a model.
package transforms

import (
	"errors"
	"fmt"

	"mriseg/internal/models"
)

var (
	// ErrConfiguration reports an invalid transform configuration
	ErrConfiguration = errors.New("invalid transform configuration")

	// ErrMissingKey reports that a configured key is absent from the data
	ErrMissingKey = errors.New("key not found in data")
)

// Data maps names such as "image" or "label" to volumes.
type Data map[string]*models.Volume

// Transform modifies a keyed collection of volumes.
type Transform interface {
	Apply(data Data) (Data, error)
}

// Compose chains transforms, applying them in order.
type Compose []Transform

// Apply runs every transform, stopping at the first error.
func (c Compose) Apply(data Data) (Data, error) {
	var err error
	for i, t := range c {
		if data, err = t.Apply(data); err != nil {
			return nil, fmt.Errorf("transform %d: %w", i, err)
		}
	}
	return data, nil
}
