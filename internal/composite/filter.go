package composite

import (
	"image"
	"math"

	"github.com/cwrk-planet/booth-service/internal/domain"
)

func applyFilter(img *image.RGBA, f domain.Filter) {
	switch f {
	case domain.FilterNone:
	case domain.FilterNoir:
		noir(img)
	case domain.FilterWarm:
		shift(img, 20, -10)
	default:
		shift(img, 15, -8)
		vignette(img)
	}
}

func noir(img *image.RGBA) {
	for i := 0; i+3 < len(img.Pix); i += 4 {
		r, g, b := float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])
		y := clamp8(0.299*r + 0.587*g + 0.114*b)
		img.Pix[i], img.Pix[i+1], img.Pix[i+2] = y, y, y
	}
}

// shift adds dr to red and db to blue, saturating at the channel bounds.
func shift(img *image.RGBA, dr, db int) {
	for i := 0; i+3 < len(img.Pix); i += 4 {
		img.Pix[i] = clampInt(int(img.Pix[i]) + dr)
		img.Pix[i+2] = clampInt(int(img.Pix[i+2]) + db)
	}
}

// vignette darkens towards the corners, never below 30% brightness.
func vignette(img *image.RGBA) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	cx, cy := float64(w)/2, float64(h)/2
	for y := 0; y < h; y++ {
		dy := (float64(y) - cy) / cy
		for x := 0; x < w; x++ {
			dx := (float64(x) - cx) / cx
			m := 1 - math.Sqrt(dx*dx+dy*dy)*0.6
			m = math.Max(0.3, math.Min(1, m))
			i := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			img.Pix[i] = uint8(float64(img.Pix[i]) * m)
			img.Pix[i+1] = uint8(float64(img.Pix[i+1]) * m)
			img.Pix[i+2] = uint8(float64(img.Pix[i+2]) * m)
		}
	}
}

func clamp8(v float64) uint8 {
	return clampInt(int(math.Round(v)))
}

func clampInt(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
