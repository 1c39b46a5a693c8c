// Package media holds the image and file plumbing shared by the detection
// flows: decoding uploads, re-encoding to JPEG, resizing backend output and
// spooling videos through temporary files.
package media

import (
	"bytes"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// JPEGQuality is used for every JPEG this service encodes.
const JPEGQuality = 90

// ErrEmptyImage is returned for zero-length image payloads.
var ErrEmptyImage = errors.New("empty image data")

// Decode reads a JPEG or PNG image as stored. EXIF orientation is ignored,
// so sizes are the raw pixel dimensions of the upload.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode image")
	}
	return img, nil
}

// EncodeJPEG writes img as JPEG into a new byte slice.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteJPEG(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteJPEG writes img as JPEG to w.
func WriteJPEG(w io.Writer, img image.Image) error {
	if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return errors.Wrap(err, "failed to encode JPEG")
	}
	return nil
}

// ToJPEG decodes any supported upload and re-encodes it as JPEG, returning
// the JPEG bytes together with the decoded image's size.
func ToJPEG(data []byte) ([]byte, image.Point, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, image.Point{}, err
	}
	out, err := EncodeJPEG(img)
	if err != nil {
		return nil, image.Point{}, err
	}
	return out, img.Bounds().Size(), nil
}

// ResizeTo scales img to exactly size. The aspect ratio is not preserved:
// the backend may return a different resolution and the result must line up
// with the original upload.
func ResizeTo(img image.Image, size image.Point) (image.Image, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.Errorf("invalid target size %dx%d", size.X, size.Y)
	}
	if img.Bounds().Size() == size {
		return img, nil
	}
	return imaging.Resize(img, size.X, size.Y, imaging.Lanczos), nil
}

// ResizeJPEG decodes data, resizes it to size, and returns the JPEG encoding.
func ResizeJPEG(data []byte, size image.Point) ([]byte, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	resized, err := ResizeTo(img, size)
	if err != nil {
		return nil, err
	}
	return EncodeJPEG(resized)
}

// Size returns the pixel dimensions of an encoded image without decoding the
// pixel data.
func Size(data []byte) (image.Point, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Point{}, errors.Wrap(err, "failed to read image header")
	}
	return image.Point{X: cfg.Width, Y: cfg.Height}, nil
}
