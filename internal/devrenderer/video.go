// ABOUTME: Test pattern frames for the development renderer
// ABOUTME: Draws colour bars with a progress strip and encodes them as PNG
package devrenderer

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

var bars = []color.RGBA{
	{192, 192, 192, 255},
	{192, 192, 0, 255},
	{0, 192, 192, 255},
	{0, 192, 0, 255},
	{192, 0, 192, 255},
	{192, 0, 0, 255},
	{0, 0, 192, 255},
	{16, 16, 16, 255},
}

var encoder = png.Encoder{CompressionLevel: png.BestSpeed}

// drawFrame renders colour bars; the bottom strip fills once per second
func drawFrame(width, height int, frame int64, framerate int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	strip := height / 10
	for i, c := range bars {
		x0 := i * width / len(bars)
		x1 := (i + 1) * width / len(bars)
		draw.Draw(img, image.Rect(x0, 0, x1, height-strip), &image.Uniform{c}, image.Point{}, draw.Src)
	}

	draw.Draw(img, image.Rect(0, height-strip, width, height), &image.Uniform{color.Black}, image.Point{}, draw.Src)
	progress := int(frame%int64(framerate)+1) * width / framerate
	draw.Draw(img, image.Rect(0, height-strip, progress, height), &image.Uniform{color.White}, image.Point{}, draw.Src)

	return img
}

// encodeFrame renders and PNG-encodes one frame
func encodeFrame(width, height int, frame int64, framerate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := encoder.Encode(&buf, drawFrame(width, height, frame, framerate)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
