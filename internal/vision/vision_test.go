package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"testing"
)

func TestIdenticalFramesScoreZero(t *testing.T) {
	d := NewChangeDetector()
	a := Solid(640, 360, color.RGBA{R: 40, G: 80, B: 120, A: 255})
	if got := d.Score(a, a); got != 0 {
		t.Errorf("score = %v, want 0", got)
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	d := NewChangeDetector()
	a := Solid(640, 360, color.White)
	b := Solid(640, 360, color.White)
	draw.Draw(b, image.Rect(0, 0, 320, 360), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)

	first := d.Score(a, b)
	for i := 0; i < 3; i++ {
		if got := d.Score(a, b); got != first {
			t.Fatalf("score changed between runs: %v vs %v", first, got)
		}
	}
	if first < 45 || first > 55 {
		t.Errorf("half-changed frame scored %v, want about 50", first)
	}
}

func TestSizeMismatchIsResized(t *testing.T) {
	d := NewChangeDetector()
	a := Solid(1920, 1080, color.Gray{Y: 100})
	b := Solid(1280, 720, color.Gray{Y: 100})
	if got := d.Score(a, b); got != 0 {
		t.Errorf("same content at different sizes scored %v", got)
	}
}

func TestNoiseBelowThresholdIgnored(t *testing.T) {
	d := NewChangeDetector()
	a := Solid(320, 180, color.Gray{Y: 100})
	b := Solid(320, 180, color.Gray{Y: 110})
	if got := d.Score(a, b); got != 0 {
		t.Errorf("small brightness shift scored %v", got)
	}
	c := Solid(320, 180, color.Gray{Y: 200})
	if got := d.Score(a, c); got != 100 {
		t.Errorf("full change scored %v, want 100", got)
	}
}

func TestNilFrameScoresZero(t *testing.T) {
	if got := NewChangeDetector().Score(nil, Solid(10, 10, color.White)); got != 0 {
		t.Errorf("got %v", got)
	}
}

func TestEncodeDecodeJPEG(t *testing.T) {
	img := Solid(64, 48, color.RGBA{R: 200, A: 255})
	data, err := EncodeJPEG(img, 0)
	if err != nil {
		t.Fatal(err)
	}
	back, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if back.Bounds().Dx() != 64 || back.Bounds().Dy() != 48 {
		t.Errorf("bounds = %v", back.Bounds())
	}
}

func TestResizeKeepsAspect(t *testing.T) {
	out := Resize(Solid(1920, 1080, color.White), 320, 320)
	if b := out.Bounds(); b.Dx() != 320 || b.Dy() != 180 {
		t.Errorf("bounds = %v, want 320x180", b)
	}
	small := Solid(100, 100, color.White)
	if Resize(small, 320, 320) != image.Image(small) {
		t.Error("small image should be returned unchanged")
	}
}
