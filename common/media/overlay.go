package media

import (
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/fogleman/gg"
)

// CaptureOverlay returns a copy of img with the capture time stamped in the
// top-left corner. The input image is not modified.
func CaptureOverlay(img image.Image, capturedAt time.Time) image.Image {
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)

	// gg falls back to its built-in 7x13 face when no font is loaded.
	ctx := gg.NewContextForRGBA(rgba)
	label := "captured " + capturedAt.Format("2006-01-02 15:04:05")

	textWidth, textHeight := ctx.MeasureString(label)
	ctx.SetColor(color.RGBA{0, 0, 0, 160})
	ctx.DrawRectangle(4, 4, textWidth+12, textHeight+10)
	ctx.Fill()

	drawTextWithOutline(ctx, label, 10, 9+textHeight, color.RGBA{255, 255, 255, 255}, color.RGBA{0, 0, 0, 255})
	return rgba
}

// CaptureOverlayJPEG decodes a JPEG frame, stamps it, and re-encodes it.
func CaptureOverlayJPEG(frame []byte, capturedAt time.Time) ([]byte, error) {
	img, err := Decode(frame)
	if err != nil {
		return nil, err
	}
	return EncodeJPEG(CaptureOverlay(img, capturedAt))
}

func drawTextWithOutline(ctx *gg.Context, text string, x, y float64, textColor, outlineColor color.RGBA) {
	offsets := []struct{ dx, dy float64 }{
		{-1, -1}, {-1, 0}, {-1, 1},
		{0, -1}, {0, 1},
		{1, -1}, {1, 0}, {1, 1},
	}

	ctx.SetColor(outlineColor)
	for _, offset := range offsets {
		ctx.DrawString(text, x+offset.dx, y+offset.dy)
	}

	ctx.SetColor(textColor)
	ctx.DrawString(text, x, y)
}
