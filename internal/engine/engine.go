// Package engine is the reference map scene: a pure-Go, CPU rasterizing
// engine for GeoJSON and raster sources with background resource loading.
package engine

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"reflect"
	"slices"
	"time"

	"github.com/MeKo-Tech/renderdiff/internal/composite"
	"github.com/MeKo-Tech/renderdiff/internal/mbtiles"
	"github.com/MeKo-Tech/renderdiff/internal/scene"
	"github.com/MeKo-Tech/renderdiff/internal/style"
	"github.com/MeKo-Tech/renderdiff/internal/tile"
	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Config holds the scene's collaborators.
type Config struct {
	Logger *slog.Logger
	// Clock drives paint transitions. Nil uses the real clock.
	Clock clockwork.Clock
	// Workers bounds concurrent resource loads.
	Workers int
	// LoadWait bounds how long RunOnce waits for an outstanding load.
	LoadWait time.Duration
}

const defaultLoadWait = 5 * time.Millisecond

// imageRef is an image from the image table or the style sprite.
type imageRef struct {
	pixels     *image.RGBA
	pixelRatio float64
	sdf        bool
}

// Map implements scene.Scene. It is driven from a single goroutine; only
// resource loads run in the background.
type Map struct {
	opts   scene.Options
	cfg    Config
	logger *slog.Logger
	clock  clockwork.Clock
	loader *loader

	style   *style.Style
	sources map[string]*sourceState
	layers  []*layerState

	images        map[string]scene.Image
	sprite        map[string]scene.Image
	spriteGen     uint64
	spritePending bool
	icons         map[iconKey]*image.RGBA
	warned        map[string]bool

	center        orb.Point
	zoom          float64
	bearing       float64
	cameraMutated bool

	styleTransition    style.Transition
	transitionOverride *style.Transition

	gen    uint64
	closed bool
}

var _ scene.Scene = (*Map)(nil)

// New creates an empty scene with no style loaded.
func New(opts scene.Options, cfg Config) (*Map, error) {
	if opts.PixelRatio <= 0 {
		opts.PixelRatio = 1
	}
	if w, h := opts.PhysicalSize(); w <= 0 || h <= 0 {
		return nil, fmt.Errorf("scene size %dx%d: %w", opts.Size.Width, opts.Size.Height, scene.ErrInvalidImageSize)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.LoadWait <= 0 {
		cfg.LoadWait = defaultLoadWait
	}

	m := &Map{
		opts:            opts,
		cfg:             cfg,
		logger:          cfg.Logger,
		clock:           cfg.Clock,
		sources:         map[string]*sourceState{},
		images:          map[string]scene.Image{},
		icons:           map[iconKey]*image.RGBA{},
		warned:          map[string]bool{},
		styleTransition: style.DefaultTransition,
	}
	m.loader = newLoader(cfg.Workers, m.log())
	return m, nil
}

func (m *Map) log() *slog.Logger {
	if m.logger != nil {
		return m.logger
	}
	return slog.Default()
}

func (m *Map) nextGen() uint64 {
	m.gen++
	return m.gen
}

// transition returns the default transition for paint changes.
func (m *Map) transition() style.Transition {
	if m.transitionOverride != nil {
		return *m.transitionOverride
	}
	return m.styleTransition
}

// image looks a name up in the image table, then in the sprite.
func (m *Map) image(name string) (imageRef, bool) {
	img, ok := m.images[name]
	if !ok {
		img, ok = m.sprite[name]
	}
	if !ok || img.Pixels == nil {
		return imageRef{}, false
	}
	pr := img.PixelRatio
	if pr <= 0 {
		pr = 1
	}
	return imageRef{pixels: img.Pixels, pixelRatio: pr, sdf: img.SDF}, true
}

func (m *Map) transform() *transform {
	w, h := m.opts.PhysicalSize()
	return &transform{
		width:       float64(w),
		height:      float64(h),
		pixelRatio:  m.opts.PixelRatio,
		center:      m.center,
		zoom:        m.zoom,
		bearing:     m.bearing,
		axonometric: m.opts.Axonometric,
		xSkew:       m.opts.XSkew,
		ySkew:       m.opts.YSkew,
	}
}

func (m *Map) layer(id string) (int, *layerState) {
	for i, ls := range m.layers {
		if ls.layer.ID == id {
			return i, ls
		}
	}
	return -1, nil
}

// LoadStyle replaces sources, layers and images with those of a new style.
func (m *Map) LoadStyle(data []byte) error {
	if m.closed {
		return scene.ErrSceneClosed
	}
	s, err := style.Parse(data)
	if err != nil {
		return fmt.Errorf("load style: %w", err)
	}
	for _, w := range s.Warnings {
		m.log().Warn("Skipping style entry", "error", w)
	}

	for _, st := range m.sources {
		st.close()
	}
	m.style = s
	m.sources = make(map[string]*sourceState, len(s.Sources))
	m.layers = make([]*layerState, 0, len(s.Layers))
	m.images = map[string]scene.Image{}
	m.sprite = nil
	clear(m.icons)
	clear(m.warned)
	m.styleTransition = s.Transition

	if !m.cameraMutated {
		if s.Center != nil {
			m.center = *s.Center
		}
		if s.Zoom != nil {
			m.zoom = *s.Zoom
		}
		if s.Bearing != nil {
			m.bearing = *s.Bearing
		}
	}

	for _, l := range s.Layers {
		m.layers = append(m.layers, newLayerState(l.Clone()))
	}
	for id, spec := range s.Sources {
		st := newSourceState(spec, m.nextGen())
		m.sources[id] = st
		m.requestSource(st)
	}

	m.spriteGen = m.nextGen()
	m.spritePending = false
	if s.Sprite != "" {
		m.spritePending = true
		base, pr := s.Sprite, m.opts.PixelRatio
		m.loader.submit(job{kind: jobSprite, gen: m.spriteGen}, func(ctx context.Context) (any, error) {
			return loadSprite(base, pr)
		})
	}

	m.log().Debug("Style loaded", "name", s.Name, "sources", len(m.sources), "layers", len(m.layers))
	return nil
}

// requestSource starts the source's initial load, or marks it loaded when
// there is nothing to fetch up front.
func (m *Map) requestSource(st *sourceState) {
	if st.spec.Type == style.SourceVector {
		m.log().Warn("Vector sources are not rendered", "source", st.spec.ID)
	}
	fn := loadSourceFunc(st.spec)
	if fn == nil {
		st.loaded = true
		return
	}
	m.loader.submit(job{kind: jobSource, source: st.spec.ID, gen: st.gen}, fn)
}

// SetTransition overrides the style's default transition, including for
// styles loaded later.
func (m *Map) SetTransition(t style.Transition) {
	m.transitionOverride = &t
}

func (m *Map) JumpTo(c scene.Camera) {
	if c.Center != nil {
		m.center = *c.Center
	}
	if c.Zoom != nil {
		m.zoom = *c.Zoom
	}
	if c.Bearing != nil {
		m.bearing = *c.Bearing
	}
	m.cameraMutated = true
}

func (m *Map) AddImage(img scene.Image) {
	if img.Pixels == nil || img.Pixels.Bounds().Empty() {
		m.log().Warn("Ignoring empty image", "image", img.Name)
		return
	}
	m.images[img.Name] = img
	clear(m.icons)
	delete(m.warned, img.Name)
}

func (m *Map) AddLayer(l *style.Layer, before string) error {
	if m.style == nil {
		return scene.ErrStyleNotLoaded
	}
	if _, ls := m.layer(l.ID); ls != nil {
		return fmt.Errorf("add layer %s: %w", l.ID, scene.ErrDuplicateLayer)
	}
	at := len(m.layers)
	if before != "" {
		i, _ := m.layer(before)
		if i < 0 {
			return fmt.Errorf("add layer %s before %s: %w", l.ID, before, scene.ErrLayerNotFound)
		}
		at = i
	}
	m.layers = slices.Insert(m.layers, at, newLayerState(l.Clone()))
	return nil
}

func (m *Map) RemoveLayer(id string) error {
	if m.style == nil {
		return scene.ErrStyleNotLoaded
	}
	i, _ := m.layer(id)
	if i < 0 {
		return fmt.Errorf("remove layer %s: %w", id, scene.ErrLayerNotFound)
	}
	m.layers = slices.Delete(m.layers, i, i+1)
	return nil
}

func (m *Map) AddSource(src *style.Source) error {
	if m.style == nil {
		return scene.ErrStyleNotLoaded
	}
	if _, ok := m.sources[src.ID]; ok {
		return fmt.Errorf("add source %s: %w", src.ID, scene.ErrDuplicateSource)
	}
	st := newSourceState(src, m.nextGen())
	m.sources[src.ID] = st
	m.requestSource(st)
	return nil
}

func (m *Map) RemoveSource(id string) error {
	if m.style == nil {
		return scene.ErrStyleNotLoaded
	}
	st, ok := m.sources[id]
	if !ok {
		return fmt.Errorf("remove source %s: %w", id, scene.ErrSourceNotFound)
	}
	for _, ls := range m.layers {
		if ls.layer.Source == id {
			return fmt.Errorf("remove source %s used by layer %s: %w", id, ls.layer.ID, scene.ErrSourceInUse)
		}
	}
	st.close()
	delete(m.sources, id)
	return nil
}

func (m *Map) findLayer(id string) (*layerState, error) {
	if m.style == nil {
		return nil, scene.ErrStyleNotLoaded
	}
	_, ls := m.layer(id)
	if ls == nil {
		return nil, fmt.Errorf("layer %s: %w", id, scene.ErrLayerNotFound)
	}
	return ls, nil
}

func (m *Map) SetFilter(layerID string, f *style.Filter) error {
	ls, err := m.findLayer(layerID)
	if err != nil {
		return err
	}
	ls.layer.Filter = f
	return nil
}

// SetPaintProperty sets or, with a nil value, resets a paint property.
// Changed numeric and color values animate with the property's transition.
func (m *Map) SetPaintProperty(layerID, name string, value any) error {
	ls, err := m.findLayer(layerID)
	if err != nil {
		return err
	}
	if err := style.ValidateProperty(ls.layer.Type, name, value, false); err != nil {
		return err
	}

	before := ls.layer.Value(name)
	prev, hadAnim := ls.anims[name]
	m.startTransition(ls, name)
	if value == nil {
		delete(ls.layer.Paint, name)
	} else {
		ls.layer.Paint[name] = value
	}

	if reflect.DeepEqual(before, ls.layer.Value(name)) {
		if hadAnim {
			ls.anims[name] = prev
		} else {
			delete(ls.anims, name)
		}
	}
	return nil
}

func (m *Map) SetLayoutProperty(layerID, name string, value any) error {
	ls, err := m.findLayer(layerID)
	if err != nil {
		return err
	}
	if err := style.ValidateProperty(ls.layer.Type, name, value, true); err != nil {
		return err
	}
	if value == nil {
		delete(ls.layer.Layout, name)
	} else {
		ls.layer.Layout[name] = value
	}
	return nil
}

// RunOnce requests the tiles the camera needs and applies completed loads.
func (m *Map) RunOnce() {
	if m.closed || m.style == nil {
		return
	}
	m.requestTiles()
	for _, r := range m.loader.drain(m.cfg.LoadWait) {
		m.apply(r)
	}
	m.requestTiles()
}

// requestTiles computes the covering of every raster source drawn by a
// visible layer and submits loads for tiles not yet cached.
func (m *Map) requestTiles() {
	used := map[string]bool{}
	for _, ls := range m.layers {
		l := ls.layer
		if l.Type == style.LayerRaster && l.Visible() && l.InZoomRange(m.zoom) {
			used[l.Source] = true
		}
	}

	tr := m.transform()
	for id, st := range m.sources {
		if st.spec.Type != style.SourceRaster || !st.loaded || st.err != nil {
			continue
		}
		if !used[id] {
			st.wanted = nil
			continue
		}
		st.wanted = tile.Cover(tr.visibleBound(), rasterZoom(st.spec, m.zoom))
		for _, c := range st.wanted {
			if _, ok := st.tiles[c]; ok || st.pending[c] {
				continue
			}
			st.pending[c] = true
			m.loader.submit(job{kind: jobTile, source: id, gen: st.gen, coords: c}, loadTileFunc(st.spec, st.reader, c))
		}
	}
}

// apply folds one completed load into the scene. Loads for sources that were
// removed or replaced since they started are dropped.
func (m *Map) apply(r loadResult) {
	if r.kind == jobSprite {
		if r.gen != m.spriteGen {
			return
		}
		m.spritePending = false
		if r.err != nil {
			m.log().Warn("Failed to load sprite", "error", r.err)
			return
		}
		m.sprite = r.value.(map[string]scene.Image)
		clear(m.icons)
		return
	}

	st, ok := m.sources[r.source]
	if !ok || st.gen != r.gen {
		if reader, isReader := r.value.(*mbtiles.Reader); isReader {
			reader.Close()
		}
		return
	}

	switch r.kind {
	case jobSource:
		m.applySource(st, r)
	case jobTile:
		delete(st.pending, r.coords)
		if r.err != nil {
			m.log().Warn("Failed to load tile", "source", r.source, "tile", r.coords.String(), "error", r.err)
			st.tiles[r.coords] = nil
			return
		}
		st.tiles[r.coords] = r.value.(*image.RGBA)
	}
}

func (m *Map) applySource(st *sourceState, r loadResult) {
	st.loaded = true
	if r.err != nil {
		st.err = r.err
		m.log().Warn("Failed to load source", "source", r.source, "error", r.err)
		return
	}

	switch v := r.value.(type) {
	case []*geojson.Feature:
		st.features = v
	case *mbtiles.Reader:
		st.reader = v
		if meta, err := v.Metadata(); err == nil && meta.MaxZoom > 0 {
			spec := *st.spec
			spec.MinZoom, spec.MaxZoom = meta.MinZoom, meta.MaxZoom
			st.spec = &spec
		}
	case *tileJSON:
		spec := *st.spec
		spec.Tiles = v.Tiles
		spec.TMS = v.Scheme == "tms"
		if v.MinZoom != nil {
			spec.MinZoom = *v.MinZoom
		}
		if v.MaxZoom != nil {
			spec.MaxZoom = *v.MaxZoom
		}
		st.spec = &spec
	}
	m.log().Debug("Source loaded", "source", r.source, "took", r.took)
}

// IsFullyLoaded reports whether the style, sprite, sources and wanted tiles
// have loaded and no paint transition is running.
func (m *Map) IsFullyLoaded() bool {
	if m.closed {
		return false
	}
	if m.style == nil {
		return true
	}
	if m.spritePending || m.loader.outstanding > 0 {
		return false
	}
	for _, st := range m.sources {
		if !st.complete() {
			return false
		}
	}
	return !m.transitioning()
}

// Render paints every visible layer bottom to top into a new frame.
func (m *Map) Render() (*image.RGBA, error) {
	if m.closed {
		return nil, scene.ErrSceneClosed
	}
	w, h := m.opts.PhysicalSize()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("render %dx%d: %w", w, h, scene.ErrInvalidImageSize)
	}
	frame := image.NewRGBA(image.Rect(0, 0, w, h))
	if m.style == nil {
		return frame, nil
	}

	tr := m.transform()
	pl := newPlacer()
	var overdraw *composite.Overdraw
	if m.opts.Debug.Has(scene.DebugOverdraw) {
		overdraw = composite.NewOverdraw(frame.Bounds())
	}

	buf := image.NewRGBA(frame.Bounds())
	for _, ls := range m.layers {
		if !ls.layer.Visible() || !ls.layer.InZoomRange(m.zoom) {
			continue
		}
		clear(buf.Pix)
		opacity := m.paintLayer(buf, ls, tr, pl)
		if opacity <= 0 {
			continue
		}
		composite.Over(frame, buf, opacity)
		if overdraw != nil {
			overdraw.Add(buf)
		}
	}

	return m.drawDebug(frame, tr, pl, overdraw), nil
}

// Close stops background loads and releases sources. It is safe to call twice.
func (m *Map) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	m.loader.close()
	for _, st := range m.sources {
		st.close()
	}
	// Loads that finished during shutdown may still hold readers.
	for _, r := range m.loader.take() {
		if reader, ok := r.value.(*mbtiles.Reader); ok {
			reader.Close()
		}
	}
	return nil
}
