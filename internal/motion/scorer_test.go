package motion

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grayImage(w, h int, fill uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = fill
	}
	return img
}

// paintRect sets a rectangle of pixels to the given value.
func paintRect(img *image.Gray, x0, y0, x1, y1 int, v uint8) {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
}

func TestScoreFirstFrameIsZero(t *testing.T) {
	t.Parallel()

	s := NewDiffScorer(10)
	level, err := s.Score(nil, grayImage(32, 32, 0))
	require.NoError(t, err)
	assert.Zero(t, level)
}

func TestScoreIdenticalFramesIsZero(t *testing.T) {
	t.Parallel()

	s := NewDiffScorer(10)
	a := grayImage(32, 32, 128)
	b := grayImage(32, 32, 128)
	level, err := s.Score(a, b)
	require.NoError(t, err)
	assert.Zero(t, level)
}

func TestScoreCountsLargeRegions(t *testing.T) {
	t.Parallel()

	s := NewDiffScorer(40)
	prev := grayImage(64, 64, 0)
	cur := grayImage(64, 64, 0)
	// One 10x10 moving blob, well above the area floor.
	paintRect(cur, 20, 20, 30, 30, 255)

	level, err := s.Score(prev, cur)
	require.NoError(t, err)
	// The blur feathers the edges, so the region is at least the painted
	// area and not wildly larger.
	assert.GreaterOrEqual(t, level, float64(100))
	assert.Less(t, level, float64(200))
}

func TestScoreFiltersSpeckle(t *testing.T) {
	t.Parallel()

	s := NewDiffScorer(40)
	prev := grayImage(64, 64, 0)
	cur := grayImage(64, 64, 0)
	// Isolated 2x2 dots: each survives blurring poorly and sits far below
	// the 40-pixel contour floor.
	paintRect(cur, 4, 4, 6, 6, 255)
	paintRect(cur, 40, 40, 42, 42, 255)

	level, err := s.Score(prev, cur)
	require.NoError(t, err)
	assert.Zero(t, level)
}

func TestScoreDeterministic(t *testing.T) {
	t.Parallel()

	s := NewDiffScorer(20)
	prev := grayImage(48, 48, 10)
	cur := grayImage(48, 48, 10)
	paintRect(cur, 8, 8, 24, 24, 200)

	first, err := s.Score(prev, cur)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := s.Score(prev, cur)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestScoreMismatchedBoundsIsZero(t *testing.T) {
	t.Parallel()

	s := NewDiffScorer(10)
	level, err := s.Score(grayImage(32, 32, 0), grayImage(16, 16, 255))
	require.NoError(t, err)
	assert.Zero(t, level)
}

func TestRegionAreasSeparatesComponents(t *testing.T) {
	t.Parallel()

	mask := grayImage(16, 16, 0)
	paintRect(mask, 0, 0, 3, 3, 255)   // area 9
	paintRect(mask, 8, 8, 12, 10, 255) // area 8
	paintRect(mask, 15, 15, 16, 16, 255)

	areas := regionAreas(mask)
	assert.ElementsMatch(t, []int{9, 8, 1}, areas)
}

func TestLumaHalvesResolution(t *testing.T) {
	t.Parallel()

	src := image.NewRGBA(image.Rect(0, 0, 64, 48))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, src, nil))

	gray, err := Luma(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 32, gray.Bounds().Dx())
	assert.Equal(t, 24, gray.Bounds().Dy())

	_, err = Luma([]byte("not a jpeg"))
	assert.Error(t, err)
}
