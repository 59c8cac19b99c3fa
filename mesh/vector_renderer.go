package mesh

import (
	"image/color"
	"image/png"
	"io"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"github.com/ungerik/go3d/float64/vec3"
)

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha
// This is needed for the canvas library which expects premultiplied RGBA
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// VectorRenderer draws scene items as filled triangles, painted back to front.
// One canvas unit is one output pixel.
type VectorRenderer struct {
	Items      []SceneItem
	Size       float64 // Edge length of the square output
	View       string  // ViewFront or ViewSide
	Padding    float64
	MinArea    float64 // Projected triangles smaller than this (canvas units squared) are skipped
	Resolution canvas.Resolution
	Legend     bool
}

// NewVectorRenderer creates a vector renderer with default settings
func NewVectorRenderer(items []SceneItem) *VectorRenderer {
	return &VectorRenderer{
		Items:      items,
		Size:       DefaultRenderSize,
		View:       ViewFront,
		Padding:    30,
		MinArea:    0.01,
		Resolution: canvas.DPMM(1.0),
		Legend:     true,
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// canvasTriangle is one projected, shaded triangle ready to paint
type canvasTriangle struct {
	ring  orb.Ring
	depth float64
	color color.NRGBA
}

// RenderToSVG writes the scene as an SVG to the provided writer
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	svgRenderer := svg.New(w, r.Size, r.Size, nil)
	r.renderToCanvas(svgRenderer)
	return svgRenderer.Close()
}

// RenderToPNG writes the scene as a PNG to the provided writer
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	rast := rasterizer.New(r.Size, r.Size, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast)
	return png.Encode(w, rast)
}

// viewport returns the projected bounds of every item, padded so the scene fits
// in Size with Padding on the longest side
func (r *VectorRenderer) viewport() (orb.Bound, bool) {
	var b orb.Bound
	first := true
	for _, it := range r.Items {
		if it.Mesh == nil {
			continue
		}
		for _, v := range it.Mesh.Vertices {
			p := project(r.View, v)
			pt := orb.Point{p[0], p[1]}
			if first {
				b = pt.Bound()
				first = false
			} else {
				b = b.Extend(pt)
			}
		}
	}
	return b, !first
}

// triangles projects every face into canvas coordinates and sorts them back to front
func (r *VectorRenderer) triangles() []canvasTriangle {
	b, ok := r.viewport()
	if !ok {
		return nil
	}
	span := math.Max(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1])
	if span < 1e-9 {
		span = 1e-9
	}
	usable := math.Max(1, r.Size-2*r.Padding)
	scale := usable / span
	center := b.Center()
	half := r.Size / 2

	toCanvas := func(p vec3.T) orb.Point {
		// canvas y grows upward like world y
		return orb.Point{half + (p[0]-center[0])*scale, half + (p[1]-center[1])*scale}
	}

	var tris []canvasTriangle
	for _, it := range r.Items {
		if it.Mesh == nil || it.Color.A == 0 {
			continue
		}
		m := it.Mesh
		for _, f := range m.Faces {
			if f[0] < 0 || f[1] < 0 || f[2] < 0 || f[0] >= len(m.Vertices) || f[1] >= len(m.Vertices) || f[2] >= len(m.Vertices) {
				continue
			}
			pa := project(r.View, m.Vertices[f[0]])
			pb := project(r.View, m.Vertices[f[1]])
			pc := project(r.View, m.Vertices[f[2]])

			a, bb, c := toCanvas(pa), toCanvas(pb), toCanvas(pc)
			ring := orb.Ring{a, bb, c, a}
			if math.Abs(planar.Area(ring)) < r.MinArea {
				continue
			}

			e1 := vec3.Sub(&pb, &pa)
			e2 := vec3.Sub(&pc, &pa)
			tris = append(tris, canvasTriangle{
				ring:  ring,
				depth: (pa[2] + pb[2] + pc[2]) / 3,
				color: shadeColor(it.Color, vec3.Cross(&e1, &e2)),
			})
		}
	}

	sort.SliceStable(tris, func(i, j int) bool { return tris[i].depth < tris[j].depth })
	return tris
}

// renderToCanvas paints the background, the triangles and the legend
func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(BackgroundColor)}
	bgStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	renderer.RenderPath(canvas.Rectangle(r.Size, r.Size), bgStyle, canvas.Identity)

	for _, tri := range r.triangles() {
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: nrgbaToRGBA(tri.color)}
		style.Stroke = canvas.Paint{Color: canvas.Transparent}

		cp := &canvas.Path{}
		cp.MoveTo(tri.ring[0][0], tri.ring[0][1])
		cp.LineTo(tri.ring[1][0], tri.ring[1][1])
		cp.LineTo(tri.ring[2][0], tri.ring[2][1])
		cp.Close()
		renderer.RenderPath(cp, style, canvas.Identity)
	}

	if r.Legend {
		r.renderLegend(renderer)
	}
}

// renderLegend draws one swatch per labeled item in the top-left corner.
// Text needs a loaded font face in tdewolff/canvas, so only swatches are drawn.
func (r *VectorRenderer) renderLegend(renderer canvasRenderer) {
	y := r.Size - 20
	for _, it := range r.Items {
		if it.Label == "" {
			continue
		}
		swatch := it.Color
		swatch.A = 255

		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: nrgbaToRGBA(swatch)}
		style.Stroke = canvas.Paint{Color: canvas.Black}
		style.StrokeWidth = 0.5

		renderer.RenderPath(canvas.Rectangle(12, 12).Translate(10, y), style, canvas.Identity)
		y -= 18
	}
}
