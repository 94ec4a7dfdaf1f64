package composite

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	stddraw "image/draw"
	"image/jpeg"
	_ "image/png"
	"math"

	"github.com/cwrk-planet/booth-service/internal/domain"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	tileSize     = 900
	dividerWidth = 4
	borderSide   = 24
	borderBottom = 72

	DefaultJPEGQuality = 92

	// MaxPixels bounds the declared size of a capture before it is decoded.
	MaxPixels = 40_000_000
)

var ErrImageTooLarge = errors.New("image too large")

var (
	dividerColor = color.RGBA{255, 255, 255, 255}
	frameColor   = color.RGBA{250, 250, 250, 255}
)

// Decode reads a JPEG, PNG or WebP capture. The header is checked against
// MaxPixels first so an oversized image fails without being allocated.
func Decode(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Render fits both captures into square tiles, applies the filter, joins them
// along the layout axis and frames the result.
func Render(a, b image.Image, cfg domain.RenderConfig) *image.RGBA {
	ta := fit(a)
	tb := fit(b)
	applyFilter(ta, cfg.Filter)
	applyFilter(tb, cfg.Filter)

	var canvas *image.RGBA
	if cfg.Layout == domain.LayoutVertical {
		canvas = image.NewRGBA(image.Rect(0, 0, tileSize, 2*tileSize+dividerWidth))
		stddraw.Draw(canvas, canvas.Bounds(), &image.Uniform{dividerColor}, image.Point{}, stddraw.Src)
		stddraw.Draw(canvas, image.Rect(0, 0, tileSize, tileSize), ta, image.Point{}, stddraw.Src)
		stddraw.Draw(canvas, image.Rect(0, tileSize+dividerWidth, tileSize, 2*tileSize+dividerWidth), tb, image.Point{}, stddraw.Src)
	} else {
		canvas = image.NewRGBA(image.Rect(0, 0, 2*tileSize+dividerWidth, tileSize))
		stddraw.Draw(canvas, canvas.Bounds(), &image.Uniform{dividerColor}, image.Point{}, stddraw.Src)
		stddraw.Draw(canvas, image.Rect(0, 0, tileSize, tileSize), ta, image.Point{}, stddraw.Src)
		stddraw.Draw(canvas, image.Rect(tileSize+dividerWidth, 0, 2*tileSize+dividerWidth, tileSize), tb, image.Point{}, stddraw.Src)
	}

	return frame(canvas)
}

// Encode writes img as JPEG.
func Encode(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// fit letterboxes src into a black square tile, preserving aspect ratio.
func fit(src image.Image) *image.RGBA {
	tile := image.NewRGBA(image.Rect(0, 0, tileSize, tileSize))
	stddraw.Draw(tile, tile.Bounds(), &image.Uniform{color.RGBA{0, 0, 0, 255}}, image.Point{}, stddraw.Src)

	sb := src.Bounds()
	w, h := sb.Dx(), sb.Dy()
	if w == 0 || h == 0 {
		return tile
	}
	scale := math.Min(float64(tileSize)/float64(w), float64(tileSize)/float64(h))
	nw, nh := int(float64(w)*scale), int(float64(h)*scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	ox, oy := (tileSize-nw)/2, (tileSize-nh)/2
	draw.ApproxBiLinear.Scale(tile, image.Rect(ox, oy, ox+nw, oy+nh), src, sb, draw.Src, nil)
	return tile
}

func frame(canvas *image.RGBA) *image.RGBA {
	b := canvas.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx()+2*borderSide, b.Dy()+2*borderSide+borderBottom))
	stddraw.Draw(out, out.Bounds(), &image.Uniform{frameColor}, image.Point{}, stddraw.Src)
	stddraw.Draw(out, image.Rect(borderSide, borderSide, borderSide+b.Dx(), borderSide+b.Dy()), canvas, b.Min, stddraw.Src)
	return out
}
