// Package saver writes segmentation predictions to disk as volumetric images,
// one file per batch item, mirroring the layout of the source files.
package saver

import (
	"fmt"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"

	"mriseg/internal/models"
	"mriseg/pkg/engine"
	"mriseg/pkg/logging"
)

// Collision policies
const (
	Overwrite = "overwrite"
	Refuse    = "error"
)

// OutputSpec configures where and how predictions are written. It is
// validated once by New and never changes afterwards.
type OutputSpec struct {
	// OutputRoot is the directory every output path is built under
	OutputRoot string

	// Postfix is appended to the stem after an underscore
	Postfix string

	// Ext is appended to the derived path, e.g. ".nii.gz"
	Ext string

	// DType is the element type written; empty keeps each prediction's own
	DType models.DType

	// DataRoot, when set, is the common ancestor of all source files and is
	// stripped so the output tree mirrors the input tree
	DataRoot string

	// OnCollision is Overwrite (default) or Refuse
	OnCollision string
}

// DefaultOutputSpec returns the defaults: current directory, float32, "seg", ".nii.gz".
func DefaultOutputSpec() OutputSpec {
	return OutputSpec{
		OutputRoot:  "./",
		Postfix:     "seg",
		Ext:         ".nii.gz",
		DType:       models.Float32,
		OnCollision: Overwrite,
	}
}

// Validate reports configuration errors wrapped in ErrConfiguration.
func (s OutputSpec) Validate() error {
	if s.Postfix == "" {
		return fmt.Errorf("%w: empty postfix", ErrConfiguration)
	}
	if strings.ContainsAny(s.Postfix, `/\`) {
		return fmt.Errorf("%w: postfix %q contains a path separator", ErrConfiguration, s.Postfix)
	}
	if s.Ext != "" && (!strings.HasPrefix(s.Ext, ".") || strings.ContainsAny(s.Ext, `/\`)) {
		return fmt.Errorf("%w: extension %q must start with a dot", ErrConfiguration, s.Ext)
	}
	if !s.DType.Valid() {
		return fmt.Errorf("%w: unknown dtype %q", ErrConfiguration, s.DType)
	}
	switch s.OnCollision {
	case "", Overwrite, Refuse:
	default:
		return fmt.Errorf("%w: unknown collision policy %q", ErrConfiguration, s.OnCollision)
	}
	return nil
}

// OrientationProvider returns the voxel-to-world affine of a source file.
type OrientationProvider interface {
	Affine(path string) (*mat.Dense, error)
}

// VolumeWriter writes a volume with the given affine. When revertCanonical is
// set the volume is in canonical order and must be written back in the
// affine's native voxel order.
type VolumeWriter interface {
	WriteVolume(vol *models.Volume, aff *mat.Dense, path string, revertCanonical bool, dtype models.DType) error
}

// SegmentationSaver writes batches of predictions next to a mirror of their
// source layout. It is not safe for concurrent use.
type SegmentationSaver struct {
	spec     OutputSpec
	provider OrientationProvider
	writer   VolumeWriter
	logger   *logging.Logger

	// written records every path produced by this saver
	written map[string]bool
	order   []string
}

// New validates spec and returns a saver. A nil logger discards output.
func New(spec OutputSpec, provider OrientationProvider, writer VolumeWriter, logger *logging.Logger) (*SegmentationSaver, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if provider == nil || writer == nil {
		return nil, fmt.Errorf("%w: orientation provider and writer are required", ErrConfiguration)
	}
	if spec.OutputRoot == "" {
		spec.OutputRoot = "./"
	}
	if spec.OnCollision == "" {
		spec.OnCollision = Overwrite
	}
	return &SegmentationSaver{
		spec:     spec,
		provider: provider,
		writer:   writer,
		logger:   logger,
		written:  make(map[string]bool),
	}, nil
}

// Spec returns the saver's configuration.
func (s *SegmentationSaver) Spec() OutputSpec { return s.spec }

// OutputPath derives the full output path for sourcePath, creating its
// directory.
func (s *SegmentationSaver) OutputPath(sourcePath string) (string, error) {
	base, err := CreateFileBasename(s.spec.Postfix, sourcePath, s.spec.OutputRoot, s.spec.DataRoot)
	if err != nil {
		return "", err
	}
	return base + s.spec.Ext, nil
}

// WriteBatch writes predictions[i] using the orientation of sourcePaths[i].
// Items are written in order; the first failure aborts the call and files
// already written stay on disk. It returns the paths written.
func (s *SegmentationSaver) WriteBatch(predictions []models.Tensor, sourcePaths []string) ([]string, error) {
	if len(predictions) != len(sourcePaths) {
		return nil, fmt.Errorf("%w: %d predictions but %d source filenames",
			ErrMissingMetadata, len(predictions), len(sourcePaths))
	}

	paths := make([]string, 0, len(predictions))
	for i, pred := range predictions {
		src := sourcePaths[i]

		if pred == nil {
			return paths, fmt.Errorf("item %d (%s): nil prediction", i, src)
		}
		vol, err := pred.ToHost()
		if err != nil {
			return paths, fmt.Errorf("item %d: failed to materialize prediction: %w", i, err)
		}

		aff, err := s.provider.Affine(src)
		if err != nil {
			return paths, fmt.Errorf("%w: item %d (%s): %w", ErrSourceRead, i, src, err)
		}

		path, err := s.OutputPath(src)
		if err != nil {
			return paths, fmt.Errorf("item %d (%s): %w", i, src, err)
		}

		if s.written[filepath.Clean(path)] && s.spec.OnCollision == Refuse {
			return paths, fmt.Errorf("%w: item %d (%s) maps to %s", ErrPathCollision, i, src, path)
		}

		dtype := s.spec.DType
		if dtype == "" {
			dtype = vol.DType
		}
		if err := s.writer.WriteVolume(vol, aff, path, true, dtype); err != nil {
			return paths, fmt.Errorf("%w: item %d: writing %s: %w", ErrFilesystem, i, path, err)
		}

		if !s.written[filepath.Clean(path)] {
			s.written[filepath.Clean(path)] = true
			s.order = append(s.order, path)
		}
		paths = append(paths, path)
		s.logger.Info("saved: %s", path)
	}

	return paths, nil
}

// HandleBatch writes outputs for batch, taking source paths from the
// batch's filename_or_obj metadata. Nothing is written if that field is
// missing.
func (s *SegmentationSaver) HandleBatch(batch models.Batch, outputs []models.Tensor) ([]string, error) {
	filenames, ok := batch.Filenames()
	if !ok {
		return nil, fmt.Errorf("%w: batch has no %q string list", ErrMissingMetadata, models.FilenameKey)
	}
	return s.WriteBatch(outputs, filenames)
}

// Attach registers the saver to run after every engine iteration.
func (s *SegmentationSaver) Attach(e *engine.Engine) {
	e.AddEventHandler(engine.IterationCompleted, func(e *engine.Engine) error {
		_, err := s.HandleBatch(e.State.Batch, e.State.Output)
		return err
	})
}

// Written returns every distinct path written so far, in first-write order.
func (s *SegmentationSaver) Written() []string {
	return append([]string(nil), s.order...)
}
