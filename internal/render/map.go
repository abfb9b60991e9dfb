// Package render draws spatial cell maps using fogleman/gg.
package render

import (
	"bytes"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"

	"github.com/phenomap/server/internal/nn"
	"github.com/phenomap/server/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	Width           int
	Height          int
	PointRadius     float64
	DefaultColormap string
}

// MapRenderer renders cell maps from point data.
type MapRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
	colormaps   map[string]colormap.Colormap
}

// NewMapRenderer creates a new map renderer.
func NewMapRenderer(cfg Config) *MapRenderer {
	if cfg.Width <= 0 {
		cfg.Width = 800
	}
	if cfg.Height <= 0 {
		cfg.Height = 600
	}
	if cfg.PointRadius <= 0 {
		cfg.PointRadius = 2.0
	}
	if cfg.DefaultColormap == "" {
		cfg.DefaultColormap = "viridis"
	}

	r := &MapRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.Width, cfg.Height)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
		colormaps: make(map[string]colormap.Colormap),
	}

	// Initialize colormaps
	r.colormaps["viridis"] = colormap.Viridis
	r.colormaps["plasma"] = colormap.Plasma
	r.colormaps["inferno"] = colormap.Inferno
	r.colormaps["magma"] = colormap.Magma
	r.colormaps["seurat"] = colormap.Seurat
	r.colormaps["categorical"] = colormap.Categorical

	return r
}

// viewport maps data coordinates to canvas pixels. Y is not flipped: cell
// seg positions follow image convention with Y growing downward.
type viewport struct {
	minX, minY float64
	scale      float64
	offX, offY float64
}

func (r *MapRenderer) fit(points ...[]nn.Point) viewport {
	const margin = 20.0

	first := true
	var minX, minY, maxX, maxY float64
	for _, set := range points {
		for _, p := range set {
			if first {
				minX, maxX = p.X, p.X
				minY, maxY = p.Y, p.Y
				first = false
				continue
			}
			if p.X < minX {
				minX = p.X
			}
			if p.X > maxX {
				maxX = p.X
			}
			if p.Y < minY {
				minY = p.Y
			}
			if p.Y > maxY {
				maxY = p.Y
			}
		}
	}
	if first {
		return viewport{scale: 1}
	}

	spanX := maxX - minX
	spanY := maxY - minY
	if spanX <= 0 {
		spanX = 1
	}
	if spanY <= 0 {
		spanY = 1
	}

	w := float64(r.config.Width) - 2*margin
	h := float64(r.config.Height) - 2*margin
	scale := w / spanX
	if s := h / spanY; s < scale {
		scale = s
	}

	return viewport{
		minX:  minX,
		minY:  minY,
		scale: scale,
		offX:  margin + (w-spanX*scale)/2,
		offY:  margin + (h-spanY*scale)/2,
	}
}

func (v viewport) px(x, y float64) (float64, float64) {
	return v.offX + (x-v.minX)*v.scale, v.offY + (y-v.minY)*v.scale
}

// RenderPhenotypeMap draws every point colored by its phenotype. Points
// without a color entry are drawn gray.
func (r *MapRenderer) RenderPhenotypeMap(points []nn.Point, phenotype func(id int64) string, colors map[string]string) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.White)
	dc.Clear()

	if len(points) == 0 {
		return r.encodeContext(dc)
	}

	v := r.fit(points)
	fallback := color.RGBA{R: 160, G: 160, B: 160, A: 255}

	for _, p := range points {
		c := color.Color(fallback)
		if hex, ok := colors[phenotype(p.ID)]; ok {
			if parsed, ok := colormap.ParseHex(hex); ok {
				c = parsed
			}
		}
		px, py := v.px(p.X, p.Y)
		dc.SetColor(c)
		dc.DrawCircle(px, py, r.config.PointRadius)
		dc.Fill()
	}

	return r.encodeContext(dc)
}

// RenderMarkerMap draws every point colored by a numeric marker value mapped
// through a linear colormap. Points without a value are drawn gray.
func (r *MapRenderer) RenderMarkerMap(points []nn.Point, value func(id int64) (float64, bool), minV, maxV float64, colormapName string) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.White)
	dc.Clear()

	if len(points) == 0 {
		return r.encodeContext(dc)
	}

	cmap, ok := r.colormaps[colormapName]
	if !ok {
		cmap = r.colormaps[r.config.DefaultColormap]
	}

	span := maxV - minV
	if span == 0 {
		span = 1
	}

	v := r.fit(points)
	fallback := color.RGBA{R: 200, G: 200, B: 200, A: 255}

	for _, p := range points {
		px, py := v.px(p.X, p.Y)
		if val, ok := value(p.ID); ok {
			dc.SetColor(cmap.At((val - minV) / span))
		} else {
			dc.SetColor(fallback)
		}
		dc.DrawCircle(px, py, r.config.PointRadius)
		dc.Fill()
	}

	return r.encodeContext(dc)
}

// RenderNearestMap draws the from and to point sets and a line segment for
// every matched nearest-neighbor row.
func (r *MapRenderer) RenderNearestMap(from, to []nn.Point, rel nn.Relation, fromHex, toHex string) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.White)
	dc.Clear()

	if len(from) == 0 && len(to) == 0 {
		return r.encodeContext(dc)
	}

	v := r.fit(from, to)

	fromColor := color.RGBA{R: 214, G: 39, B: 40, A: 255}
	if c, ok := colormap.ParseHex(fromHex); ok {
		fromColor = c
	}
	toColor := color.RGBA{R: 31, G: 119, B: 180, A: 255}
	if c, ok := colormap.ParseHex(toHex); ok {
		toColor = c
	}

	// Lines first so points draw on top of them.
	dc.SetColor(color.RGBA{R: 120, G: 120, B: 120, A: 255})
	dc.SetLineWidth(1)
	for _, row := range rel {
		if !row.Matched() {
			continue
		}
		x1, y1 := v.px(row.FromX, row.FromY)
		x2, y2 := v.px(*row.ToX, *row.ToY)
		dc.DrawLine(x1, y1, x2, y2)
		dc.Stroke()
	}

	dc.SetColor(toColor)
	for _, p := range to {
		px, py := v.px(p.X, p.Y)
		dc.DrawCircle(px, py, r.config.PointRadius)
		dc.Fill()
	}
	dc.SetColor(fromColor)
	for _, p := range from {
		px, py := v.px(p.X, p.Y)
		dc.DrawCircle(px, py, r.config.PointRadius)
		dc.Fill()
	}

	return r.encodeContext(dc)
}

func (r *MapRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
