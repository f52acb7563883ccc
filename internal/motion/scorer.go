// Package motion turns frame pairs into movement scores and movement scores
// into confirmed alerts.
package motion

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"golang.org/x/image/draw"
)

// Score is the movement level derived from one frame pair, tagged with the
// capture timestamp of the newer frame.
type Score struct {
	Level     float64
	Timestamp time.Time
}

// Scorer computes a movement level from two consecutive grayscale frames.
// Implementations must be pure: identical inputs always yield the same score.
type Scorer interface {
	Score(previous, current *image.Gray) (float64, error)
}

// DiffScorer scores movement by absolute frame differencing: the difference
// image is smoothed, binarized, and segmented into connected regions; the
// score is the total area of regions at least MinContourArea pixels large.
type DiffScorer struct {
	// MinContourArea filters out speckle regions (pixels of the analysis
	// image, which is downscaled from the capture resolution).
	MinContourArea int
	// DiffThreshold is the binarization cutoff for the smoothed
	// difference image.
	DiffThreshold uint8
}

// NewDiffScorer applies the stock tuning for unset fields.
func NewDiffScorer(minContourArea int) *DiffScorer {
	return &DiffScorer{
		MinContourArea: minContourArea,
		DiffThreshold:  25,
	}
}

// Score implements Scorer. A nil previous frame (the first frame of a
// stream) scores zero.
func (s *DiffScorer) Score(previous, current *image.Gray) (float64, error) {
	if previous == nil {
		return 0, nil
	}
	if current == nil {
		return 0, fmt.Errorf("current frame is nil")
	}
	if !previous.Bounds().Eq(current.Bounds()) {
		// Resolution changed mid-stream (source reconnect); treat as no
		// movement rather than comparing mismatched grids.
		return 0, nil
	}

	diff := absDiff(previous, current)
	smoothed := boxBlur3(diff)
	mask := threshold(smoothed, s.DiffThreshold)

	total := 0
	for _, area := range regionAreas(mask) {
		if area >= s.MinContourArea {
			total += area
		}
	}
	return float64(total), nil
}

// Contours returns the areas of all connected changed regions between two
// frames, unfiltered. Exposed for tuning tools and tests.
func (s *DiffScorer) Contours(previous, current *image.Gray) []int {
	if previous == nil || current == nil || !previous.Bounds().Eq(current.Bounds()) {
		return nil
	}
	return regionAreas(threshold(boxBlur3(absDiff(previous, current)), s.DiffThreshold))
}

// absDiff returns |a-b| per pixel.
func absDiff(a, b *image.Gray) *image.Gray {
	bounds := a.Bounds()
	out := image.NewGray(bounds)
	for i := range a.Pix {
		d := int(a.Pix[i]) - int(b.Pix[i])
		if d < 0 {
			d = -d
		}
		out.Pix[i] = uint8(d)
	}
	return out
}

// boxBlur3 applies a 3x3 mean filter to suppress single-pixel sensor noise
// before thresholding.
func boxBlur3(img *image.Gray) *image.Gray {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := image.NewGray(bounds)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum, n := 0, 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					sum += int(img.Pix[ny*img.Stride+nx])
					n++
				}
			}
			out.Pix[y*out.Stride+x] = uint8(sum / n)
		}
	}
	return out
}

// threshold binarizes the image in place to 0/255 and returns it.
func threshold(img *image.Gray, cutoff uint8) *image.Gray {
	for i, p := range img.Pix {
		if p >= cutoff {
			img.Pix[i] = 255
		} else {
			img.Pix[i] = 0
		}
	}
	return img
}

// regionAreas labels 4-connected regions of set pixels and returns each
// region's area. The mask is consumed: visited pixels are cleared.
func regionAreas(mask *image.Gray) []int {
	w, h := mask.Bounds().Dx(), mask.Bounds().Dy()
	var areas []int
	var stack []int

	for start := 0; start < w*h; start++ {
		y, x := start/w, start%w
		if mask.Pix[y*mask.Stride+x] == 0 {
			continue
		}

		// Flood fill from this seed.
		area := 0
		mask.Pix[y*mask.Stride+x] = 0
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			py, px := p/w, p%w
			area++

			for _, d := range [4][2]int{{0, -1}, {0, 1}, {-1, 0}, {1, 0}} {
				nx, ny := px+d[1], py+d[0]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				if mask.Pix[ny*mask.Stride+nx] != 0 {
					mask.Pix[ny*mask.Stride+nx] = 0
					stack = append(stack, ny*w+nx)
				}
			}
		}
		areas = append(areas, area)
	}
	return areas
}

// Luma decodes a JPEG frame into a half-resolution grayscale image ready for
// scoring. Halving matches the analysis resolution the capture side was
// tuned against and keeps per-frame work bounded.
func Luma(jpegData []byte) (*image.Gray, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx()/2, b.Dy()/2
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(out, out.Bounds(), img, b, draw.Src, nil)
	return out, nil
}
