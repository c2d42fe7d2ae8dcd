package engine

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

var opaqueRed = image.NewUniform(color.NRGBA{R: 255, A: 255})

func alphaAt(img *image.RGBA, x, y int) uint8 {
	return img.RGBAAt(x, y).A
}

func TestCanvasDisc(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 20, 20))
	cv := newCanvas(dst)
	cv.disc(10, 10, 5)
	cv.draw(opaqueRed)

	assert.Equal(t, uint8(255), alphaAt(dst, 10, 10))
	assert.Equal(t, uint8(0), alphaAt(dst, 1, 1))
	assert.Equal(t, uint8(0), alphaAt(dst, 10, 17))
}

func TestCanvasOverlappingShapesUnion(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 20, 20))
	cv := newCanvas(dst)
	cv.rect(image.Rect(2, 2, 12, 12))
	// Same square with the opposite winding.
	cv.path([]pt{{8, 8}, {8, 18}, {18, 18}, {18, 8}}, true)
	cv.draw(opaqueRed)

	assert.Equal(t, uint8(255), alphaAt(dst, 10, 10), "overlap stays filled")
	assert.Equal(t, uint8(255), alphaAt(dst, 15, 15))
	assert.Equal(t, uint8(0), alphaAt(dst, 15, 4))
}

func TestCanvasPolygonHole(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 20, 20))
	cv := newCanvas(dst)
	cv.polygon([][]pt{
		{{0, 0}, {20, 0}, {20, 20}, {0, 20}},
		{{5, 5}, {15, 5}, {15, 15}, {5, 15}},
	})
	cv.draw(opaqueRed)

	assert.Equal(t, uint8(0), alphaAt(dst, 10, 10))
	assert.Equal(t, uint8(255), alphaAt(dst, 2, 2))
}

func TestCanvasStrokeCaps(t *testing.T) {
	line := []pt{{5, 10}, {15, 10}}

	butt := image.NewRGBA(image.Rect(0, 0, 20, 20))
	cv := newCanvas(butt)
	cv.stroke(line, strokeStyle{width: 4})
	cv.draw(opaqueRed)
	assert.Equal(t, uint8(255), alphaAt(butt, 10, 9))
	assert.Equal(t, uint8(255), alphaAt(butt, 10, 11))
	assert.Equal(t, uint8(0), alphaAt(butt, 10, 13))
	assert.Equal(t, uint8(0), alphaAt(butt, 16, 10), "butt cap ends at the vertex")

	square := image.NewRGBA(image.Rect(0, 0, 20, 20))
	cv = newCanvas(square)
	cv.stroke(line, strokeStyle{width: 4, cap: "square"})
	cv.draw(opaqueRed)
	assert.Equal(t, uint8(255), alphaAt(square, 16, 10), "square cap extends by half the width")
	assert.Equal(t, uint8(255), alphaAt(square, 3, 10))
}

func TestCanvasClosedStrokeLeavesInterior(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 20, 20))
	cv := newCanvas(dst)
	cv.stroke([]pt{{4, 4}, {16, 4}, {16, 16}, {4, 16}}, strokeStyle{width: 2, join: "miter", closed: true})
	cv.draw(opaqueRed)

	assert.Equal(t, uint8(0), alphaAt(dst, 10, 10))
	assert.Equal(t, uint8(255), alphaAt(dst, 10, 3))
	assert.Equal(t, uint8(255), alphaAt(dst, 10, 4))
	assert.Equal(t, uint8(255), alphaAt(dst, 4, 4), "corner is joined")
}

func TestOffsetLine(t *testing.T) {
	out := offsetLine([]pt{{0, 0}, {10, 0}, {10, 0}}, 2)
	assert.Equal(t, []pt{{0, 2}, {10, 2}}, out)
	assert.Equal(t, []pt{{1, 1}}, offsetLine([]pt{{1, 1}}, 3))
}
