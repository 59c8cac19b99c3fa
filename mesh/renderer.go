package mesh

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"sort"

	"github.com/HugoSmits86/nativewebp"
	"github.com/ungerik/go3d/float64/vec3"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Projection views
const (
	ViewFront = "front" // camera on +z looking toward -z
	ViewSide  = "side"  // camera on +x looking toward -x
)

// DefaultRenderSize is the output edge length in pixels
const DefaultRenderSize = 800

// Scene colors
var (
	BodyColor       = color.NRGBA{255, 218, 185, 255} // Peach
	GarmentColor    = color.NRGBA{100, 150, 255, 150} // Translucent blue
	BackgroundColor = color.NRGBA{240, 240, 240, 255}
	TextColor       = color.NRGBA{0, 0, 0, 255}
)

// SceneItem is one mesh drawn with a flat color. Alpha below 255 draws it translucent.
type SceneItem struct {
	Mesh  *Mesh
	Color color.NRGBA
	Label string
}

// FitScene returns the body and fitted garment of a result as scene items
func FitScene(res *FitResult) []SceneItem {
	if res == nil {
		return nil
	}
	var items []SceneItem
	if res.Body != nil {
		items = append(items, SceneItem{Mesh: res.Body, Color: BodyColor, Label: labelOr(res.Body.Name, "body")})
	}
	if res.Garment != nil {
		items = append(items, SceneItem{Mesh: res.Garment, Color: GarmentColor, Label: labelOr(res.Garment.Name, "garment")})
	}
	return items
}

// HasDrawableContent reports whether any item has at least one face to draw
func HasDrawableContent(items []SceneItem) bool {
	for _, it := range items {
		if it.Mesh != nil && len(it.Mesh.Faces) > 0 && it.Color.A > 0 {
			return true
		}
	}
	return false
}

func labelOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// project maps a world point to screen-plane x/y (y up) and a depth that grows toward the camera
func project(view string, v vec3.T) vec3.T {
	if view == ViewSide {
		return vec3.T{-v[2], v[1], v[0]}
	}
	return vec3.T{v[0], v[1], v[2]}
}

// screenFrame maps projected coordinates onto a square image, preserving aspect ratio
type screenFrame struct {
	size    int
	scale   float64
	centerX float64
	centerY float64
}

// newScreenFrame fits the projected bounds of all items into size pixels with padding
func newScreenFrame(items []SceneItem, view string, size, padding int) screenFrame {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, it := range items {
		if it.Mesh == nil {
			continue
		}
		for _, v := range it.Mesh.Vertices {
			p := project(view, v)
			minX, maxX = math.Min(minX, p[0]), math.Max(maxX, p[0])
			minY, maxY = math.Min(minY, p[1]), math.Max(maxY, p[1])
		}
	}
	if math.IsInf(minX, 1) {
		return screenFrame{size: size, scale: 1}
	}

	span := math.Max(maxX-minX, maxY-minY)
	if span < 1e-9 {
		span = 1e-9
	}
	usable := size - 2*padding
	if usable < 1 {
		usable = 1
	}
	return screenFrame{
		size:    size,
		scale:   float64(usable) / span,
		centerX: (minX + maxX) / 2,
		centerY: (minY + maxY) / 2,
	}
}

// toPixel converts a projected point to continuous pixel coordinates (y down)
func (f screenFrame) toPixel(p vec3.T) (float64, float64) {
	half := float64(f.size) / 2
	return half + (p[0]-f.centerX)*f.scale, half - (p[1]-f.centerY)*f.scale
}

// lightDir is the view-space direction toward the key light
var lightDir = func() vec3.T {
	v := vec3.T{0.3, 0.5, 1}
	return *v.Normalize()
}()

// shadeColor applies two-sided Lambert shading with an ambient floor
func shadeColor(c color.NRGBA, normal vec3.T) color.NRGBA {
	l := normal.Length()
	if l < 1e-12 {
		return c
	}
	ndl := math.Abs(vec3.Dot(&normal, &lightDir)) / l
	shade := 0.45 + 0.55*ndl
	return color.NRGBA{
		R: uint8(math.Min(255, float64(c.R)*shade)),
		G: uint8(math.Min(255, float64(c.G)*shade)),
		B: uint8(math.Min(255, float64(c.B)*shade)),
		A: c.A,
	}
}

// RasterRenderer draws scene items with an orthographic projection, a z-buffer
// and flat shading. Opaque items are drawn first; each translucent item is then
// resolved to its nearest visible surface and blended over the result.
type RasterRenderer struct {
	Items      []SceneItem
	Title      string
	Size       int    // Output edge length in pixels
	View       string // ViewFront or ViewSide
	Padding    int
	Background color.NRGBA
	Legend     bool
}

// NewRasterRenderer creates a renderer with default settings
func NewRasterRenderer(items []SceneItem, title string) *RasterRenderer {
	return &RasterRenderer{
		Items:      items,
		Title:      title,
		Size:       DefaultRenderSize,
		View:       ViewFront,
		Padding:    30,
		Background: BackgroundColor,
		Legend:     true,
	}
}

// fragment is the nearest surface sample of one item at one pixel
type fragment struct {
	depth float64
	color color.NRGBA
}

// Render creates the image
func (r *RasterRenderer) Render() *image.NRGBA {
	size := r.Size
	if size <= 0 {
		size = DefaultRenderSize
	}
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = r.Background.R, r.Background.G, r.Background.B, r.Background.A
	}

	frame := newScreenFrame(r.Items, r.View, size, r.Padding)

	zbuf := make([]float64, size*size)
	for i := range zbuf {
		zbuf[i] = math.Inf(-1)
	}

	// opaque pass writes straight into the image
	for _, it := range r.Items {
		if it.Mesh == nil || it.Color.A < 255 {
			continue
		}
		r.rasterize(it, frame, func(idx int, depth float64, c color.NRGBA) {
			if depth > zbuf[idx] {
				zbuf[idx] = depth
				img.Pix[idx*4], img.Pix[idx*4+1], img.Pix[idx*4+2], img.Pix[idx*4+3] = c.R, c.G, c.B, 255
			}
		})
	}

	// translucent items, back to front by mean depth
	var translucent []SceneItem
	for _, it := range r.Items {
		if it.Mesh != nil && it.Color.A < 255 && it.Color.A > 0 {
			translucent = append(translucent, it)
		}
	}
	sort.SliceStable(translucent, func(i, j int) bool {
		return meanDepth(translucent[i].Mesh, r.View) < meanDepth(translucent[j].Mesh, r.View)
	})
	for _, it := range translucent {
		front := make(map[int]fragment)
		r.rasterize(it, frame, func(idx int, depth float64, c color.NRGBA) {
			if depth <= zbuf[idx] {
				return
			}
			if f, ok := front[idx]; !ok || depth > f.depth {
				front[idx] = fragment{depth: depth, color: c}
			}
		})
		for idx, f := range front {
			bg := color.NRGBA{img.Pix[idx*4], img.Pix[idx*4+1], img.Pix[idx*4+2], img.Pix[idx*4+3]}
			c := blendColors(bg, f.color)
			img.Pix[idx*4], img.Pix[idx*4+1], img.Pix[idx*4+2], img.Pix[idx*4+3] = c.R, c.G, c.B, c.A
		}
	}

	if r.Title != "" {
		w := font.MeasureString(basicfont.Face7x13, r.Title).Ceil()
		drawText(img, (size-w)/2, 18, r.Title, TextColor)
	}
	if r.Legend {
		r.drawLegend(img)
	}
	return img
}

// rasterize calls plot for every pixel center covered by a triangle of the item
func (r *RasterRenderer) rasterize(it SceneItem, frame screenFrame, plot func(idx int, depth float64, c color.NRGBA)) {
	m := it.Mesh
	proj := make([]vec3.T, len(m.Vertices))
	px := make([]float64, len(m.Vertices))
	py := make([]float64, len(m.Vertices))
	for i, v := range m.Vertices {
		proj[i] = project(r.View, v)
		px[i], py[i] = frame.toPixel(proj[i])
	}

	size := frame.size
	for _, f := range m.Faces {
		a, b, c := f[0], f[1], f[2]
		if a < 0 || b < 0 || c < 0 || a >= len(proj) || b >= len(proj) || c >= len(proj) {
			continue
		}
		e1 := vec3.Sub(&proj[b], &proj[a])
		e2 := vec3.Sub(&proj[c], &proj[a])
		col := shadeColor(it.Color, vec3.Cross(&e1, &e2))

		x0, y0, x1, y1, x2, y2 := px[a], py[a], px[b], py[b], px[c], py[c]
		det := (y1-y2)*(x0-x2) + (x2-x1)*(y0-y2)
		if math.Abs(det) < 1e-12 {
			continue
		}

		minX := int(math.Max(0, math.Floor(math.Min(x0, math.Min(x1, x2)))))
		maxX := int(math.Min(float64(size-1), math.Ceil(math.Max(x0, math.Max(x1, x2)))))
		minY := int(math.Max(0, math.Floor(math.Min(y0, math.Min(y1, y2)))))
		maxY := int(math.Min(float64(size-1), math.Ceil(math.Max(y0, math.Max(y1, y2)))))

		for y := minY; y <= maxY; y++ {
			cy := float64(y) + 0.5
			for x := minX; x <= maxX; x++ {
				cx := float64(x) + 0.5
				w0 := ((y1-y2)*(cx-x2) + (x2-x1)*(cy-y2)) / det
				w1 := ((y2-y0)*(cx-x2) + (x0-x2)*(cy-y2)) / det
				w2 := 1 - w0 - w1
				if w0 < 0 || w1 < 0 || w2 < 0 {
					continue
				}
				depth := w0*proj[a][2] + w1*proj[b][2] + w2*proj[c][2]
				plot(y*size+x, depth, col)
			}
		}
	}
}

func meanDepth(m *Mesh, view string) float64 {
	if len(m.Vertices) == 0 {
		return 0
	}
	var sum float64
	for _, v := range m.Vertices {
		sum += project(view, v)[2]
	}
	return sum / float64(len(m.Vertices))
}

// EncodePNG renders and writes a PNG
func (r *RasterRenderer) EncodePNG(w io.Writer) error {
	return png.Encode(w, r.Render())
}

// EncodeWebP renders and writes a lossless WebP
func (r *RasterRenderer) EncodeWebP(w io.Writer) error {
	return nativewebp.Encode(w, r.Render(), nil)
}

// SavePNG saves the rendered image to a file
func (r *RasterRenderer) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return r.EncodePNG(f)
}

// blendColors performs alpha blending of fg over an opaque background
func blendColors(bg, fg color.NRGBA) color.NRGBA {
	alpha := float64(fg.A) / 255.0
	invAlpha := 1.0 - alpha

	return color.NRGBA{
		R: uint8(float64(fg.R)*alpha + float64(bg.R)*invAlpha),
		G: uint8(float64(fg.G)*alpha + float64(bg.G)*invAlpha),
		B: uint8(float64(fg.B)*alpha + float64(bg.B)*invAlpha),
		A: 255,
	}
}

// drawSquare draws a filled square with its top-left corner at x, y
func drawSquare(img *image.NRGBA, x, y, size int, c color.NRGBA) {
	b := img.Bounds()
	for dy := 0; dy < size; dy++ {
		for dx := 0; dx < size; dx++ {
			if p := (image.Point{X: x + dx, Y: y + dy}); p.In(b) {
				img.SetNRGBA(p.X, p.Y, c)
			}
		}
	}
}

// drawLegend adds a color swatch and label per item in the top-left corner
func (r *RasterRenderer) drawLegend(img *image.NRGBA) {
	y := 36
	for _, it := range r.Items {
		if it.Label == "" {
			continue
		}
		swatch := it.Color
		swatch.A = 255
		drawSquare(img, 10, y-10, 12, swatch)
		drawText(img, 28, y, it.Label, TextColor)
		y += 18
	}
}

// drawText renders text onto an image at the specified baseline position
func drawText(img *image.NRGBA, x, y int, text string, c color.NRGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
