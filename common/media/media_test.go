package media

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.viam.com/test"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestToJPEGFromPNG(t *testing.T) {
	var buf bytes.Buffer
	test.That(t, png.Encode(&buf, solidImage(64, 48, color.RGBA{10, 200, 30, 255})), test.ShouldBeNil)

	out, size, err := ToJPEG(buf.Bytes())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, size, test.ShouldResemble, image.Point{X: 64, Y: 48})

	_, format, err := image.DecodeConfig(bytes.NewReader(out))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, format, test.ShouldEqual, "jpeg")
}

// withOrientation inserts an EXIF APP1 segment with the given orientation
// tag right after the JPEG SOI marker.
func withOrientation(jpegData []byte, orientation byte) []byte {
	exif := []byte{
		0xFF, 0xE1, 0x00, 0x22,
		'E', 'x', 'i', 'f', 0x00, 0x00,
		'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00,
		0x01, 0x00,
		0x12, 0x01, 0x03, 0x00, 0x01, 0x00, 0x00, 0x00, orientation, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	out := append([]byte{}, jpegData[:2]...)
	out = append(out, exif...)
	return append(out, jpegData[2:]...)
}

func TestToJPEGKeepsStoredSize(t *testing.T) {
	plain, err := EncodeJPEG(solidImage(32, 24, color.RGBA{200, 10, 10, 255}))
	test.That(t, err, test.ShouldBeNil)
	rotated := withOrientation(plain, 6)

	stored, err := Size(rotated)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stored, test.ShouldResemble, image.Point{X: 32, Y: 24})

	_, size, err := ToJPEG(rotated)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, size, test.ShouldResemble, stored)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode(nil)
	test.That(t, errors.Is(err, ErrEmptyImage), test.ShouldBeTrue)

	_, err = Decode([]byte("not an image"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to decode image")
}

func TestResizeJPEGMatchesTarget(t *testing.T) {
	src, err := EncodeJPEG(solidImage(320, 320, color.White))
	test.That(t, err, test.ShouldBeNil)

	for _, size := range []image.Point{{640, 480}, {100, 50}, {320, 320}} {
		out, err := ResizeJPEG(src, size)
		test.That(t, err, test.ShouldBeNil)
		got, err := Size(out)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldResemble, size)
	}

	_, err = ResizeJPEG(src, image.Point{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCaptureOverlayKeepsSizeAndSource(t *testing.T) {
	src := solidImage(200, 100, color.RGBA{0, 0, 255, 255})
	out := CaptureOverlay(src, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	test.That(t, out.Bounds().Size(), test.ShouldResemble, image.Point{X: 200, Y: 100})
	// the label area changed, the source did not
	test.That(t, out.At(6, 6), test.ShouldNotResemble, src.At(6, 6))
	test.That(t, src.At(6, 6), test.ShouldResemble, color.RGBA{0, 0, 255, 255})
	test.That(t, out.At(190, 90), test.ShouldResemble, src.At(190, 90))
}

func TestCaptureOverlayJPEG(t *testing.T) {
	frame, err := EncodeJPEG(solidImage(160, 120, color.Black))
	test.That(t, err, test.ShouldBeNil)

	out, err := CaptureOverlayJPEG(frame, time.Now())
	test.That(t, err, test.ShouldBeNil)
	size, err := Size(out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, size, test.ShouldResemble, image.Point{X: 160, Y: 120})
}

func TestSpooler(t *testing.T) {
	dir := t.TempDir()
	s := Spooler{Dir: dir}

	upload, err := s.SpoolUpload(strings.NewReader("raw upload"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, filepath.Dir(upload), test.ShouldEqual, dir)
	test.That(t, filepath.Ext(upload), test.ShouldEqual, ".mp4")
	data, err := os.ReadFile(upload)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual, "raw upload")

	path, got, err := s.PersistResult(strings.NewReader("processed"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(got), test.ShouldEqual, "processed")
	test.That(t, path, test.ShouldNotEqual, upload)

	test.That(t, Remove(upload, path, ""), test.ShouldBeNil)
	_, err = os.Stat(upload)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
	// removing twice is fine
	test.That(t, Remove(upload), test.ShouldBeNil)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestSpoolerCleansUpOnError(t *testing.T) {
	dir := t.TempDir()
	_, err := Spooler{Dir: dir}.SpoolUpload(failingReader{})
	test.That(t, err, test.ShouldNotBeNil)

	entries, err := os.ReadDir(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, entries, test.ShouldBeEmpty)
}

func TestDrawDetections(t *testing.T) {
	src := solidImage(120, 80, color.Black)
	box := CenterBox(image.Pt(120, 80))
	test.That(t, box, test.ShouldResemble, image.Rect(30, 20, 90, 60))

	out := DrawDetections(src, []Detection{{Class: "person", Confidence: 0.87, Box: box}})
	test.That(t, out.Bounds().Size(), test.ShouldResemble, image.Point{X: 120, Y: 80})

	// the box edge is drawn, the far corner untouched
	r, g, _, _ := out.At(60, 20).RGBA()
	test.That(t, g, test.ShouldBeGreaterThan, r)
	test.That(t, out.At(118, 78), test.ShouldResemble, src.At(118, 78))
	test.That(t, src.At(60, 20), test.ShouldResemble, color.RGBA{0, 0, 0, 255})
}
