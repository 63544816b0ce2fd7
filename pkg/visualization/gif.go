package visualization

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"

	"github.com/nfnt/resize"
)

var grayPalette = func() color.Palette {
	p := make(color.Palette, 256)
	for i := range p {
		p[i] = color.Gray{Y: uint8(i)}
	}
	return p
}()

// EncodeAnimatedGIF encodes frames as a looping animated GIF. When size is
// non-zero every frame is resized so its width is size, keeping the aspect ratio.
func EncodeAnimatedGIF(frames []*image.Gray, size uint) ([]byte, int, int, error) {
	if len(frames) == 0 {
		return nil, 0, 0, fmt.Errorf("no frames to encode")
	}

	anim := &gif.GIF{LoopCount: 0}
	for _, frame := range frames {
		var src image.Image = frame
		if size > 0 {
			src = resize.Resize(size, 0, frame, resize.NearestNeighbor)
		}
		anim.Image = append(anim.Image, toPaletted(src))
		anim.Delay = append(anim.Delay, 0)
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to encode gif: %w", err)
	}

	b := anim.Image[0].Bounds()
	return buf.Bytes(), b.Dy(), b.Dx(), nil
}

func toPaletted(img image.Image) *image.Paletted {
	b := img.Bounds()
	out := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), grayPalette)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			out.SetColorIndex(x-b.Min.X, y-b.Min.Y, g.Y)
		}
	}
	return out
}
