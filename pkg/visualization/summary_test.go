package visualization

import (
	"bytes"
	"image/color"
	"image/gif"
	"os"
	"path/filepath"
	"testing"

	"mriseg/internal/models"
)

// cdhw builds a C x D x H x W tensor with values in 0..1
func cdhw(c, d, h, w int) *models.Volume {
	vol := models.NewVolume(models.Float32, c, d, h, w)
	for i := range vol.Data {
		vol.Data[i] = float64(i%10) / 10
	}
	return vol
}

// memWriter keeps summaries in memory
type memWriter struct {
	summaries []*Summary
	steps     []int64
}

func (m *memWriter) AddSummary(s *Summary, step int64) error {
	m.summaries = append(m.summaries, s)
	m.steps = append(m.steps, step)
	return nil
}

// TestMakeAnimatedGIFSummary verifies tags, frame counts and dimensions
func TestMakeAnimatedGIFSummary(t *testing.T) {
	opts := DefaultGIFOptions()
	opts.MaxOut = 2
	opts.ScaleFactor = 255

	s, err := MakeAnimatedGIFSummary("pred", cdhw(3, 5, 6, 7), opts)
	if err != nil {
		t.Fatalf("MakeAnimatedGIFSummary failed: %v", err)
	}

	if len(s.Values) != 2 {
		t.Fatalf("Expected 2 values (maxOut), got %d", len(s.Values))
	}
	for i, want := range []string{"pred/image/0", "pred/image/1"} {
		if s.Values[i].Tag != want {
			t.Errorf("Expected tag %s, got %s", want, s.Values[i].Tag)
		}
	}

	img := s.Values[0].Image
	if img.Height != 6 || img.Width != 7 || img.Colorspace != 1 {
		t.Errorf("Unexpected image metadata %+v", img)
	}

	anim, err := gif.DecodeAll(bytes.NewReader(img.EncodedImage))
	if err != nil {
		t.Fatalf("Failed to decode gif: %v", err)
	}
	if len(anim.Image) != 5 {
		t.Errorf("Expected 5 frames, got %d", len(anim.Image))
	}
	if anim.LoopCount != 0 {
		t.Errorf("Expected infinite loop, got %d", anim.LoopCount)
	}
}

// TestMakeAnimatedGIFSummarySingle verifies the single-output tag
func TestMakeAnimatedGIFSummarySingle(t *testing.T) {
	opts := DefaultGIFOptions()
	opts.MaxOut = 1

	s, err := MakeAnimatedGIFSummary("label", cdhw(2, 3, 4, 4), opts)
	if err != nil {
		t.Fatalf("MakeAnimatedGIFSummary failed: %v", err)
	}
	if len(s.Values) != 1 || s.Values[0].Tag != "label/image" {
		t.Errorf("Expected a single label/image value, got %+v", s.Values)
	}
}

// TestMakeAnimatedGIFSummaryZeroScale verifies an unset scale factor keeps
// values instead of blacking out every frame
func TestMakeAnimatedGIFSummaryZeroScale(t *testing.T) {
	vol := models.NewVolume(models.Uint8, 1, 2, 3, 3)
	for i := range vol.Data {
		vol.Data[i] = 200
	}

	s, err := MakeAnimatedGIFSummary("raw", vol, GIFOptions{MaxOut: 1})
	if err != nil {
		t.Fatalf("MakeAnimatedGIFSummary failed: %v", err)
	}
	anim, err := gif.DecodeAll(bytes.NewReader(s.Values[0].Image.EncodedImage))
	if err != nil {
		t.Fatalf("Failed to decode gif: %v", err)
	}
	for f, frame := range anim.Image {
		g := color.GrayModel.Convert(frame.At(1, 1)).(color.Gray)
		if g.Y != 200 {
			t.Errorf("Frame %d: expected gray 200, got %d", f, g.Y)
		}
	}

	if _, err := MakeAnimatedGIFSummary("nil", nil, GIFOptions{MaxOut: 1}); err == nil {
		t.Error("Expected error for nil tensor")
	}
}

// TestMakeAnimatedGIFSummaryResize verifies frames are resized
func TestMakeAnimatedGIFSummaryResize(t *testing.T) {
	opts := DefaultGIFOptions()
	opts.FrameSize = 16

	s, err := MakeAnimatedGIFSummary("img", cdhw(1, 2, 4, 8), opts)
	if err != nil {
		t.Fatalf("MakeAnimatedGIFSummary failed: %v", err)
	}
	img := s.Values[0].Image
	if img.Width != 16 || img.Height != 8 {
		t.Errorf("Expected 16x8 frames, got %dx%d", img.Width, img.Height)
	}
}

// TestMakeAnimatedGIFSummaryOtherIndices verifies extra axes are fixed
func TestMakeAnimatedGIFSummaryOtherIndices(t *testing.T) {
	opts := DefaultGIFOptions()
	opts.OtherIndices = map[int]int{4: 1}

	vol := models.NewVolume(models.Float32, 1, 2, 3, 3, 2)
	if _, err := MakeAnimatedGIFSummary("t", vol, opts); err != nil {
		t.Fatalf("MakeAnimatedGIFSummary failed: %v", err)
	}

	opts.OtherIndices = map[int]int{4: 5}
	if _, err := MakeAnimatedGIFSummary("t", vol, opts); err == nil {
		t.Error("Expected error for out-of-range index")
	}
}

// TestMakeAnimatedGIFSummaryErrors verifies input validation
func TestMakeAnimatedGIFSummaryErrors(t *testing.T) {
	opts := DefaultGIFOptions()
	if _, err := MakeAnimatedGIFSummary("t", models.NewVolume(models.Float32, 2, 2, 2), opts); err == nil {
		t.Error("Expected error for 3-D tensor")
	}

	opts.MaxOut = 0
	if _, err := MakeAnimatedGIFSummary("t", cdhw(1, 2, 2, 2), opts); err == nil {
		t.Error("Expected error for zero maxOut")
	}

	opts = DefaultGIFOptions()
	opts.ImageAxes = [2]int{1, 3}
	if _, err := MakeAnimatedGIFSummary("t", cdhw(1, 2, 2, 2), opts); err == nil {
		t.Error("Expected error for overlapping axes")
	}
}

// TestAddAnimatedGIFNoChannels verifies DHW tensors gain a channel axis
func TestAddAnimatedGIFNoChannels(t *testing.T) {
	w := &memWriter{}
	vol := models.NewVolume(models.Float32, 4, 3, 5)

	if err := AddAnimatedGIFNoChannels(w, "seg", vol, 3, 255, 42); err != nil {
		t.Fatalf("AddAnimatedGIFNoChannels failed: %v", err)
	}
	if len(w.summaries) != 1 || w.steps[0] != 42 {
		t.Fatalf("Expected one summary at step 42, got %d", len(w.summaries))
	}
	values := w.summaries[0].Values
	if len(values) != 1 || values[0].Tag != "seg/image/0" {
		t.Errorf("Unexpected values %+v", values)
	}
	if values[0].Image.Height != 3 || values[0].Image.Width != 5 {
		t.Errorf("Expected 3x5 frames, got %dx%d", values[0].Image.Height, values[0].Image.Width)
	}
}

// TestDirWriter verifies files and manifest entries
func TestDirWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "runs")
	w, err := NewDirWriter(dir)
	if err != nil {
		t.Fatalf("NewDirWriter failed: %v", err)
	}

	if err := AddAnimatedGIF(w, "pred", cdhw(2, 3, 4, 4), 2, 255, 1); err != nil {
		t.Fatalf("AddAnimatedGIF failed: %v", err)
	}
	if err := AddAnimatedGIF(w, "../escape", cdhw(1, 3, 4, 4), 1, 255, 2); err != nil {
		t.Fatalf("AddAnimatedGIF failed: %v", err)
	}

	entries, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 manifest entries, got %d", len(entries))
	}

	first := entries[0]
	if first.Tag != "pred/image/0" || first.Step != 1 || first.File != "pred/image/0/step_000001.gif" {
		t.Errorf("Unexpected first entry %+v", first)
	}
	if first.Width != 4 || first.Height != 4 {
		t.Errorf("Unexpected dimensions %dx%d", first.Width, first.Height)
	}
	if entries[2].File != "escape/image/step_000002.gif" {
		t.Errorf("Expected tag to stay inside log dir, got %s", entries[2].File)
	}

	for _, e := range entries {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(e.File))); err != nil {
			t.Errorf("Expected %s to exist: %v", e.File, err)
		}
	}
}
