package media

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/fogleman/gg"
)

// Detection is one labelled box in pixel coordinates.
type Detection struct {
	Class      string
	Confidence float64
	Box        image.Rectangle
}

var boxColor = color.RGBA{0, 255, 0, 255}

// DrawDetections returns a copy of img with every detection outlined and
// labelled.
func DrawDetections(img image.Image, detections []Detection) image.Image {
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)

	ctx := gg.NewContextForRGBA(rgba)
	for _, det := range detections {
		r := det.Box.Canon()
		ctx.SetColor(boxColor)
		ctx.SetLineWidth(3)
		ctx.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
		ctx.Stroke()

		label := fmt.Sprintf("%s %.2f", det.Class, det.Confidence)
		y := float64(r.Min.Y) - 4
		if y < 12 {
			y = float64(r.Min.Y) + 14
		}
		drawTextWithOutline(ctx, label, float64(r.Min.X)+2, y, boxColor, color.RGBA{0, 0, 0, 255})
	}
	return rgba
}

// CenterBox is a box covering the middle half of an image of the given size.
func CenterBox(size image.Point) image.Rectangle {
	return image.Rect(size.X/4, size.Y/4, size.X*3/4, size.Y*3/4)
}
