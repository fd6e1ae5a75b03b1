//go:build !mupdf

package pdfdoc

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/vector"
	"seehuhn.de/go/geom/matrix"
	"seehuhn.de/go/pdf"
	"seehuhn.de/go/pdf/reader"
)

// curveSteps is the number of line segments used to flatten a Bézier curve.
const curveSteps = 16

// rasterState is unused by the vector rasterizer.
type rasterState struct{}

func (h *Handle) closeRaster() {}

// rasterize paints the page's vector content (paths with gray, RGB or CMYK
// fill and stroke colors) onto a white canvas. Text and images are skipped;
// build with -tags mupdf for full fidelity.
func (h *Handle) rasterize(_ int, dict pdf.Dict, scale float64) (img *image.RGBA, err error) {
	box := h.mediaBox(dict)
	w := int(math.Ceil((box.URx - box.LLx) * scale))
	ht := int(math.Ceil((box.URy - box.LLy) * scale))
	if w <= 0 || ht <= 0 {
		return nil, fmt.Errorf("empty page box %v", box)
	}

	img = image.NewRGBA(image.Rect(0, 0, w, ht))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	// user space -> device pixels, y flipped
	device := matrix.Translate(-box.LLx, -box.LLy).Mul(matrix.Scale(scale, -scale)).Mul(matrix.Translate(0, float64(ht)))

	p := &painter{
		dst:    img,
		device: device,
		gs:     gstate{ctm: matrix.Identity, fill: color.RGBA{A: 255}, stroke: color.RGBA{A: 255}, lineWidth: 1},
	}

	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("content stream: %v", r)
		}
	}()

	rd := reader.New(h.g, nil)
	rd.EveryOp = p.op
	if err := rd.ParsePage(dict, matrix.Identity); err != nil {
		return nil, err
	}
	return img, nil
}

type gstate struct {
	ctm       matrix.Matrix
	fill      color.RGBA
	stroke    color.RGBA
	lineWidth float64
}

type point struct{ x, y float64 }

// painter interprets path construction and painting operators.
type painter struct {
	dst    *image.RGBA
	device matrix.Matrix
	gs     gstate
	stack  []gstate

	subpaths [][]point // device space
	start    point     // user space start of current subpath
	current  point     // user space current point
	closed   []bool
}

func apply(m matrix.Matrix, x, y float64) point {
	return point{x*m[0] + y*m[2] + m[4], x*m[1] + y*m[3] + m[5]}
}

func (p *painter) toDevice(x, y float64) point {
	return apply(p.gs.ctm.Mul(p.device), x, y)
}

func (p *painter) op(op string, args []pdf.Object) error {
	nums := numbers(args)
	switch op {
	case "q":
		p.stack = append(p.stack, p.gs)
	case "Q":
		if n := len(p.stack); n > 0 {
			p.gs = p.stack[n-1]
			p.stack = p.stack[:n-1]
		}
	case "cm":
		if len(nums) == 6 {
			m := matrix.Matrix{nums[0], nums[1], nums[2], nums[3], nums[4], nums[5]}
			p.gs.ctm = m.Mul(p.gs.ctm)
		}
	case "w":
		if len(nums) == 1 {
			p.gs.lineWidth = nums[0]
		}

	case "g":
		if c, ok := grayColor(nums); ok {
			p.gs.fill = c
		}
	case "G":
		if c, ok := grayColor(nums); ok {
			p.gs.stroke = c
		}
	case "rg":
		if c, ok := rgbColor(nums); ok {
			p.gs.fill = c
		}
	case "RG":
		if c, ok := rgbColor(nums); ok {
			p.gs.stroke = c
		}
	case "k":
		if c, ok := cmykColor(nums); ok {
			p.gs.fill = c
		}
	case "K":
		if c, ok := cmykColor(nums); ok {
			p.gs.stroke = c
		}

	case "m":
		if len(nums) == 2 {
			p.moveTo(nums[0], nums[1])
		}
	case "l":
		if len(nums) == 2 {
			p.lineTo(nums[0], nums[1])
		}
	case "c":
		if len(nums) == 6 {
			p.curveTo(nums[0], nums[1], nums[2], nums[3], nums[4], nums[5])
		}
	case "v":
		if len(nums) == 4 {
			p.curveTo(p.current.x, p.current.y, nums[0], nums[1], nums[2], nums[3])
		}
	case "y":
		if len(nums) == 4 {
			p.curveTo(nums[0], nums[1], nums[2], nums[3], nums[2], nums[3])
		}
	case "re":
		if len(nums) == 4 {
			x, y, w, h := nums[0], nums[1], nums[2], nums[3]
			p.moveTo(x, y)
			p.lineTo(x+w, y)
			p.lineTo(x+w, y+h)
			p.lineTo(x, y+h)
			p.closePath()
		}
	case "h":
		p.closePath()

	case "f", "F", "f*":
		p.fill()
		p.endPath()
	case "S":
		p.strokePath()
		p.endPath()
	case "s":
		p.closePath()
		p.strokePath()
		p.endPath()
	case "B", "B*":
		p.fill()
		p.strokePath()
		p.endPath()
	case "b", "b*":
		p.closePath()
		p.fill()
		p.strokePath()
		p.endPath()
	case "n":
		p.endPath()
	}
	return nil
}

func (p *painter) moveTo(x, y float64) {
	p.start = point{x, y}
	p.current = p.start
	p.subpaths = append(p.subpaths, []point{p.toDevice(x, y)})
	p.closed = append(p.closed, false)
}

func (p *painter) lineTo(x, y float64) {
	if len(p.subpaths) == 0 {
		p.moveTo(x, y)
		return
	}
	p.current = point{x, y}
	last := len(p.subpaths) - 1
	p.subpaths[last] = append(p.subpaths[last], p.toDevice(x, y))
}

func (p *painter) curveTo(x1, y1, x2, y2, x3, y3 float64) {
	if len(p.subpaths) == 0 {
		p.moveTo(x1, y1)
	}
	x0, y0 := p.current.x, p.current.y
	for i := 1; i <= curveSteps; i++ {
		t := float64(i) / curveSteps
		mt := 1 - t
		a, b, c, d := mt*mt*mt, 3*mt*mt*t, 3*mt*t*t, t*t*t
		p.lineTo(a*x0+b*x1+c*x2+d*x3, a*y0+b*y1+c*y2+d*y3)
	}
}

func (p *painter) closePath() {
	if len(p.subpaths) == 0 {
		return
	}
	p.closed[len(p.closed)-1] = true
	p.current = p.start
}

func (p *painter) endPath() {
	p.subpaths = p.subpaths[:0]
	p.closed = p.closed[:0]
}

func (p *painter) newRasterizer() *vector.Rasterizer {
	b := p.dst.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.DrawOp = draw.Over
	return z
}

func (p *painter) fill() {
	z := p.newRasterizer()
	drawn := false
	for _, sp := range p.subpaths {
		if len(sp) < 3 {
			continue
		}
		z.MoveTo(float32(sp[0].x), float32(sp[0].y))
		for _, pt := range sp[1:] {
			z.LineTo(float32(pt.x), float32(pt.y))
		}
		z.ClosePath()
		drawn = true
	}
	if drawn {
		z.Draw(p.dst, p.dst.Bounds(), image.NewUniform(p.gs.fill), image.Point{})
	}
}

// strokePath draws each segment as a quadrilateral of the current line
// width. All quads share one orientation so overlaps at joins accumulate.
func (p *painter) strokePath() {
	m := p.gs.ctm.Mul(p.device)
	half := p.gs.lineWidth * math.Sqrt(math.Abs(m[0]*m[3]-m[1]*m[2])) / 2
	half = math.Max(half, 0.5)

	z := p.newRasterizer()
	drawn := false
	for i, sp := range p.subpaths {
		pts := sp
		if p.closed[i] && len(sp) > 1 {
			pts = append(append([]point(nil), sp...), sp[0])
		}
		for j := 1; j < len(pts); j++ {
			a, b := pts[j-1], pts[j]
			dx, dy := b.x-a.x, b.y-a.y
			l := math.Hypot(dx, dy)
			if l == 0 {
				continue
			}
			nx, ny := -dy/l*half, dx/l*half
			z.MoveTo(float32(a.x+nx), float32(a.y+ny))
			z.LineTo(float32(b.x+nx), float32(b.y+ny))
			z.LineTo(float32(b.x-nx), float32(b.y-ny))
			z.LineTo(float32(a.x-nx), float32(a.y-ny))
			z.ClosePath()
			drawn = true
		}
	}
	if drawn {
		z.Draw(p.dst, p.dst.Bounds(), image.NewUniform(p.gs.stroke), image.Point{})
	}
}

func numbers(args []pdf.Object) []float64 {
	out := make([]float64, 0, len(args))
	for _, a := range args {
		switch x := a.(type) {
		case pdf.Integer:
			out = append(out, float64(x))
		case pdf.Real:
			out = append(out, float64(x))
		}
	}
	return out
}

func unit(v float64) uint8 {
	return uint8(math.Round(math.Min(math.Max(v, 0), 1) * 255))
}

func grayColor(n []float64) (color.RGBA, bool) {
	if len(n) != 1 {
		return color.RGBA{}, false
	}
	g := unit(n[0])
	return color.RGBA{g, g, g, 255}, true
}

func rgbColor(n []float64) (color.RGBA, bool) {
	if len(n) != 3 {
		return color.RGBA{}, false
	}
	return color.RGBA{unit(n[0]), unit(n[1]), unit(n[2]), 255}, true
}

func cmykColor(n []float64) (color.RGBA, bool) {
	if len(n) != 4 {
		return color.RGBA{}, false
	}
	k := 1 - n[3]
	return color.RGBA{unit((1 - n[0]) * k), unit((1 - n[1]) * k), unit((1 - n[2]) * k), 255}, true
}
