// Package visualization turns volumes into images for inspection: single
// slices for previews and animated GIF summaries for a training dashboard.
package visualization

import (
	"fmt"
	"image"
	"image/color"

	"mriseg/internal/models"
)

// SummaryImage is an encoded image plus the metadata dashboards expect.
type SummaryImage struct {
	Height       int
	Width        int
	Colorspace   int
	EncodedImage []byte
}

// SummaryValue tags one image.
type SummaryValue struct {
	Tag   string
	Image *SummaryImage
}

// Summary groups the values produced for one tensor.
type Summary struct {
	Values []SummaryValue
}

// SummaryWriter records summaries against a global step.
type SummaryWriter interface {
	AddSummary(s *Summary, step int64) error
}

// GIFOptions controls MakeAnimatedGIFSummary.
type GIFOptions struct {
	// MaxOut caps how many channels become animations
	MaxOut int

	// AnimationAxis is the axis frames are taken along (default 1)
	AnimationAxis int

	// ImageAxes are the (row, column) axes of each frame (default 2, 3)
	ImageAxes [2]int

	// OtherIndices fixes the index of any further axis (default 0)
	OtherIndices map[int]int

	// ScaleFactor multiplies values before the uint8 cast; use 255 for data in
	// 0..1. Zero means 1.
	ScaleFactor float64

	// FrameSize resizes frames to this width when non-zero
	FrameSize uint
}

// DefaultGIFOptions returns options for CDHW tensors.
func DefaultGIFOptions() GIFOptions {
	return GIFOptions{
		MaxOut:        3,
		AnimationAxis: 1,
		ImageAxes:     [2]int{2, 3},
		ScaleFactor:   1,
	}
}

// MakeAnimatedGIFSummary builds one animated GIF per channel (axis 0) of
// tensor, up to opts.MaxOut. Tags are "<tag>/image" when MaxOut is 1 and
// "<tag>/image/<i>" otherwise.
func MakeAnimatedGIFSummary(tag string, tensor *models.Volume, opts GIFOptions) (*Summary, error) {
	if tensor == nil {
		return nil, fmt.Errorf("nil tensor")
	}
	if err := tensor.Check(); err != nil {
		return nil, err
	}
	dims := len(tensor.Shape)
	if dims < 4 {
		return nil, fmt.Errorf("expected at least 4 dimensions (CDHW), got %d", dims)
	}
	if opts.MaxOut <= 0 {
		return nil, fmt.Errorf("maxOut must be positive, got %d", opts.MaxOut)
	}
	if opts.ScaleFactor == 0 {
		opts.ScaleFactor = 1
	}
	if opts.AnimationAxis == 0 && opts.ImageAxes == [2]int{} {
		opts.AnimationAxis, opts.ImageAxes = 1, [2]int{2, 3}
	}
	anim, rowAx, colAx := opts.AnimationAxis, opts.ImageAxes[0], opts.ImageAxes[1]
	for _, ax := range []int{anim, rowAx, colAx} {
		if ax <= 0 || ax >= dims {
			return nil, fmt.Errorf("axis %d out of range for %d dimensions", ax, dims)
		}
	}
	if anim == rowAx || anim == colAx || rowAx == colAx {
		return nil, fmt.Errorf("animation and image axes must differ")
	}

	// Fixed indices for axes that are neither channel, animation nor image
	base := make([]int, dims)
	for ax := 1; ax < dims; ax++ {
		if ax == anim || ax == rowAx || ax == colAx {
			continue
		}
		idx := opts.OtherIndices[ax]
		if idx < 0 || idx >= tensor.Shape[ax] {
			return nil, fmt.Errorf("index %d out of range for axis %d", idx, ax)
		}
		base[ax] = idx
	}

	suffix := "/image"
	channels := min(opts.MaxOut, tensor.Shape[0])
	summary := &Summary{}

	for c := 0; c < channels; c++ {
		idx := append([]int(nil), base...)
		idx[0] = c

		frames := make([]*image.Gray, tensor.Shape[anim])
		for f := range frames {
			idx[anim] = f
			frame := image.NewGray(image.Rect(0, 0, tensor.Shape[colAx], tensor.Shape[rowAx]))
			for r := 0; r < tensor.Shape[rowAx]; r++ {
				idx[rowAx] = r
				for col := 0; col < tensor.Shape[colAx]; col++ {
					idx[colAx] = col
					v := models.Uint8.Cast(tensor.At(idx...) * opts.ScaleFactor)
					frame.SetGray(col, r, color.Gray{Y: uint8(v)})
				}
			}
			frames[f] = frame
		}

		encoded, h, w, err := EncodeAnimatedGIF(frames, opts.FrameSize)
		if err != nil {
			return nil, err
		}

		name := tag + suffix
		if opts.MaxOut != 1 {
			name = fmt.Sprintf("%s%s/%d", tag, suffix, c)
		}
		summary.Values = append(summary.Values, SummaryValue{
			Tag: name,
			Image: &SummaryImage{
				Height:       h,
				Width:        w,
				Colorspace:   1,
				EncodedImage: encoded,
			},
		})
	}

	return summary, nil
}

// AddAnimatedGIF summarizes a CDHW tensor and hands it to writer.
func AddAnimatedGIF(writer SummaryWriter, tag string, tensor *models.Volume, maxOut int, scaleFactor float64, step int64) error {
	opts := DefaultGIFOptions()
	opts.MaxOut = maxOut
	opts.ScaleFactor = scaleFactor

	s, err := MakeAnimatedGIFSummary(tag, tensor, opts)
	if err != nil {
		return err
	}
	return writer.AddSummary(s, step)
}

// AddAnimatedGIFNoChannels is AddAnimatedGIF for a DHW tensor.
func AddAnimatedGIFNoChannels(writer SummaryWriter, tag string, tensor *models.Volume, maxOut int, scaleFactor float64, step int64) error {
	if err := tensor.Check(); err != nil {
		return err
	}
	withChannel := &models.Volume{
		Data:  tensor.Data,
		Shape: append([]int{1}, tensor.Shape...),
		DType: tensor.DType,
	}
	return AddAnimatedGIF(writer, tag, withChannel, maxOut, scaleFactor, step)
}
