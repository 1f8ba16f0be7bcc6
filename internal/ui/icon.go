package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

var iconBytes = renderIcon(22)

// renderIcon draws a filled play triangle on a transparent square.
func renderIcon(size int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	fg := color.NRGBA{R: 0xf2, G: 0x6b, B: 0x1d, A: 0xff}

	margin := size / 5
	height := size - 2*margin
	for y := 0; y < height; y++ {
		half := y
		if y > height/2 {
			half = height - y
		}
		for x := 0; x <= half*2 && margin+x < size; x++ {
			img.SetNRGBA(margin+x, margin+y, fg)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
