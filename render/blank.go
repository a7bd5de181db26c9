package render

import (
	"image"
	"image/color"
)

// IsBlank reports whether a raster is visually empty. The measure is the
// mean absolute difference between adjacent pixels, horizontally and
// vertically, on the grayscale image; real content produces edges that push
// the mean well above any plausible threshold, while scanner noise on an
// empty page stays close to zero.
func IsBlank(img image.Image, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultBlankThreshold
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 2 || h < 2 {
		return true
	}

	// Sample large rasters on a grid. Blankness is a global property; a
	// few hundred thousand probes decide it as reliably as every pixel.
	step := 1
	for (w/step)*(h/step) > 512*512 {
		step++
	}

	gray := grayAt(img)
	var sum float64
	var n int
	for y := b.Min.Y; y < b.Max.Y-step; y += step {
		for x := b.Min.X; x < b.Max.X-step; x += step {
			g := gray(x, y)
			dx := g - gray(x+step, y)
			if dx < 0 {
				dx = -dx
			}
			dy := g - gray(x, y+step)
			if dy < 0 {
				dy = -dy
			}
			sum += dx + dy
			n += 2
		}
	}
	if n == 0 {
		return true
	}
	return sum/float64(n) < threshold
}

func grayAt(img image.Image) func(x, y int) float64 {
	switch im := img.(type) {
	case *image.Gray:
		return func(x, y int) float64 {
			return float64(im.GrayAt(x, y).Y)
		}
	default:
		return func(x, y int) float64 {
			return float64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
		}
	}
}
