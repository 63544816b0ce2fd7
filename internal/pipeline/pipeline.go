// Package pipeline runs the end-to-end flow behind the CLI: discover source
// volumes, normalize them, predict a segmentation and save it next to a
// mirror of the input layout.
package pipeline

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"mriseg/internal/models"
	"mriseg/pkg/config"
	"mriseg/pkg/engine"
	"mriseg/pkg/logging"
	"mriseg/pkg/nifti"
	"mriseg/pkg/orientation"
	"mriseg/pkg/saver"
	"mriseg/pkg/transforms"
	"mriseg/pkg/visualization"
)

// Result summarizes a run.
type Result struct {
	// Sources lists the input volumes in processing order
	Sources []string

	// Written lists every segmentation file produced
	Written []string

	// Iterations is the number of batches processed
	Iterations int
}

// Run processes every volume under cfg.Input.Dir.
func Run(cfg *config.Config, logger *logging.Logger) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Input.Dir == "" {
		return nil, fmt.Errorf("input directory is required")
	}

	sources, err := Discover(cfg.Input.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to discover volumes: %w", err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no NIfTI volumes found in %s", cfg.Input.Dir)
	}
	logger.Info("Found %d volumes in %s", len(sources), cfg.Input.Dir)

	var normalizer transforms.Transform
	if cfg.Normalize.Enabled {
		var sub, div []float64
		if len(cfg.Normalize.Subtrahend) > 0 || len(cfg.Normalize.Divisor) > 0 {
			sub, div = cfg.Normalize.Subtrahend, cfg.Normalize.Divisor
		}
		n, err := transforms.NewIntensityNormalizer(cfg.Normalize.Keys, sub, div, cfg.Normalize.DType)
		if err != nil {
			return nil, err
		}
		normalizer = n
	}

	// Mirror the input tree unless told otherwise; without a data root
	// same-named scans from sibling folders would share an output path
	dataRoot := cfg.Output.DataRoot
	if dataRoot == "" {
		dataRoot = cfg.Input.Dir
	}
	spec := saver.OutputSpec{
		OutputRoot:  cfg.Output.Path,
		Postfix:     cfg.Output.Postfix,
		Ext:         cfg.Output.Ext,
		DType:       cfg.Output.DType,
		DataRoot:    dataRoot,
		OnCollision: cfg.Output.OnCollision,
	}
	segSaver, err := saver.New(spec, nifti.NewReader(), nifti.NewWriter("mriseg "+cfg.Output.Postfix), logger)
	if err != nil {
		return nil, err
	}

	p := &predictor{
		key:        cfg.Input.Key,
		threshold:  cfg.Predict.Threshold,
		normalizer: normalizer,
	}

	e := engine.New()
	segSaver.Attach(e)

	if cfg.Summary.Enabled {
		writer, err := visualization.NewDirWriter(cfg.Summary.LogDir)
		if err != nil {
			return nil, err
		}
		attachSummaries(e, writer, cfg, logger)
	}
	if cfg.Summary.SlicesDir != "" {
		attachSlices(e, cfg.Summary.SlicesDir, logger)
	}

	batches := Batches(sources, cfg.Predict.BatchSize)
	if err := e.Run(batches, p.step); err != nil {
		return nil, err
	}

	return &Result{
		Sources:    sources,
		Written:    segSaver.Written(),
		Iterations: e.State.Iteration,
	}, nil
}

// Batches groups sources into batches of at most size items.
func Batches(sources []string, size int) []models.Batch {
	if size <= 0 {
		size = 1
	}
	var batches []models.Batch
	for start := 0; start < len(sources); start += size {
		end := min(start+size, len(sources))
		batches = append(batches, models.NewBatch(sources[start:end]...))
	}
	return batches
}

// Discover walks dir and returns every .nii and .nii.gz file, ordered by the
// number embedded in the file name and then by path.
func Discover(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := strings.ToLower(d.Name())
		if strings.HasSuffix(name, ".nii") || strings.HasSuffix(name, ".nii.gz") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Scans are usually numbered; keep that order within each directory
	sort.SliceStable(files, func(i, j int) bool {
		di, dj := filepath.Dir(files[i]), filepath.Dir(files[j])
		if di != dj {
			return di < dj
		}
		ni, nj := extractNumber(files[i]), extractNumber(files[j])
		if ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})

	return files, nil
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	numStr := ""
	for _, c := range filepath.Base(filename) {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}

	if numStr != "" {
		num, err := strconv.Atoi(numStr)
		if err == nil {
			return num
		}
	}
	return 0
}

// predictor is a stand-in model: it normalizes the input and marks voxels
// above a threshold.
type predictor struct {
	key        string
	threshold  float64
	normalizer transforms.Transform
}

func (p *predictor) step(batch models.Batch) ([]models.Tensor, error) {
	names, ok := batch.Filenames()
	if !ok {
		return nil, fmt.Errorf("%w: batch has no source list", saver.ErrMissingMetadata)
	}

	outputs := make([]models.Tensor, len(names))
	for i, name := range names {
		img, err := nifti.Read(name)
		if err != nil {
			return nil, err
		}
		canon, err := orientation.ToCanonical(img.Volume, img.Affine)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		data := transforms.Data{p.key: canon}
		if p.normalizer != nil {
			if data, err = p.normalizer.Apply(data); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
		}
		outputs[i] = Threshold(data[p.key], p.threshold)
	}
	return outputs, nil
}

// Threshold returns a uint8 mask with 1 where vol exceeds t.
func Threshold(vol *models.Volume, t float64) *models.Volume {
	mask := models.NewVolume(models.Uint8, vol.Shape...)
	for i, v := range vol.Data {
		if v > t {
			mask.Data[i] = 1
		}
	}
	return mask
}

func attachSummaries(e *engine.Engine, w visualization.SummaryWriter, cfg *config.Config, logger *logging.Logger) {
	step := int64(0)
	e.AddEventHandler(engine.IterationCompleted, func(e *engine.Engine) error {
		names, _ := e.State.Batch.Filenames()
		for i, out := range e.State.Output {
			vol, err := out.ToHost()
			if err != nil {
				return err
			}
			tag := "prediction"
			if i < len(names) {
				tag += "/" + stem(names[i])
			}
			opts := visualization.DefaultGIFOptions()
			opts.MaxOut = cfg.Summary.MaxOut
			opts.ScaleFactor = cfg.Summary.ScaleFactor
			opts.FrameSize = cfg.Summary.FrameSize
			opts.AnimationAxis, opts.ImageAxes = 3, [2]int{2, 1}
			s, err := visualization.MakeAnimatedGIFSummary(tag, withChannel(vol), opts)
			if err != nil {
				logger.Warning("Skipping summary for %s: %v", tag, err)
				continue
			}
			if err := w.AddSummary(s, step); err != nil {
				return err
			}
			step++
		}
		return nil
	})
}

func attachSlices(e *engine.Engine, dir string, logger *logging.Logger) {
	e.AddEventHandler(engine.IterationCompleted, func(e *engine.Engine) error {
		names, _ := e.State.Batch.Filenames()
		for i, out := range e.State.Output {
			vol, err := out.ToHost()
			if err != nil {
				return err
			}
			viewer, err := visualization.NewViewer(vol, 255)
			if err != nil {
				logger.Warning("Skipping slices: %v", err)
				continue
			}
			sub := fmt.Sprintf("item_%03d", i)
			if i < len(names) {
				sub = stem(names[i])
			}
			if err := viewer.SaveSliceSequence("z", filepath.Join(dir, sub)); err != nil {
				logger.Warning("Failed to save slices for %s: %v", sub, err)
			}
		}
		return nil
	})
}

// withChannel views an (x, y, z, ...) volume as a single-channel tensor.
func withChannel(vol *models.Volume) *models.Volume {
	return &models.Volume{Data: vol.Data, Shape: append([]int{1}, vol.Shape...), DType: vol.DType}
}

func stem(path string) string {
	name := filepath.Base(path)
	for {
		ext := filepath.Ext(name)
		if ext == "" || ext == name {
			return name
		}
		name = strings.TrimSuffix(name, ext)
	}
}
