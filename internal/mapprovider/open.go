package mapprovider

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/lox/ubikemap/internal/geo"
	"github.com/lox/ubikemap/internal/metrics"
	"github.com/lox/ubikemap/internal/models"
	"github.com/lox/ubikemap/internal/proximity"
)

const (
	OpenName = "open"

	DefaultTileURL     = "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"
	DefaultAttribution = `&copy; <a href="https://www.openstreetmap.org/copyright">OpenStreetMap</a> contributors`
)

// Open renders OpenStreetMap tiles with PNG markers drawn locally. It needs no
// credentials and is the fallback when Commercial cannot start.
type Open struct {
	*canvas
	tileURL     string
	attribution string
	geolocator  *Geolocator
	icons       gcache.Cache

	mu      sync.Mutex
	backend *Backend
	faces   *faces

	drawMu sync.Mutex // font.Face is not safe for concurrent use
}

type faces struct {
	count font.Face
	small font.Face
}

func NewOpen(tileURL, attribution string, geolocator *Geolocator) *Open {
	if tileURL == "" {
		tileURL = DefaultTileURL
	}
	if attribution == "" {
		attribution = DefaultAttribution
	}
	return &Open{
		canvas:      newCanvas(OpenName),
		tileURL:     tileURL,
		attribution: attribution,
		geolocator:  geolocator,
		icons:       gcache.New(iconCacheSize).LRU().Expiration(iconCacheTTL).Build(),
	}
}

func (o *Open) Name() string { return OpenName }

// Initialize loads the marker fonts once.
func (o *Open) Initialize(ctx context.Context) (*Backend, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.backend != nil {
		return o.backend, nil
	}

	f, err := loadFaces()
	if err != nil {
		metrics.ProviderInits.WithLabelValues(OpenName, string(CauseLoadFailed)).Inc()
		return nil, &ProviderError{Provider: OpenName, Cause: CauseLoadFailed, Err: err}
	}
	o.faces = f
	o.backend = &Backend{Provider: OpenName, Version: "osm", LoadedAt: time.Now()}
	metrics.ProviderInits.WithLabelValues(OpenName, "ok").Inc()
	log.Printf("mapprovider: open backend ready")
	return o.backend, nil
}

func loadFaces() (*faces, error) {
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse Go Regular: %w", err)
	}
	count, err := opentype.NewFace(regular, &opentype.FaceOptions{
		Size:    14,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create count face: %w", err)
	}
	small, err := opentype.NewFace(regular, &opentype.FaceOptions{
		Size:    10,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create small face: %w", err)
	}
	return &faces{count: count, small: small}, nil
}

func (o *Open) CreateMap(ctx context.Context, opts MapOptions) (*Map, error) {
	if _, err := o.Initialize(ctx); err != nil {
		return nil, err
	}
	if err := geo.Validate(opts.Center); err != nil {
		return nil, fmt.Errorf("create map: %w", err)
	}
	return o.newMap(opts)
}

func (o *Open) RemoveMap(ctx context.Context, mapID string) error {
	return o.removeMap(mapID)
}

func (o *Open) CreateMarker(ctx context.Context, mapID string, pos models.Point, style MarkerStyle) (*Marker, error) {
	if _, err := o.Initialize(ctx); err != nil {
		return nil, err
	}
	if err := geo.Validate(pos); err != nil {
		return nil, fmt.Errorf("create marker: %w", err)
	}
	icon, err := o.Icon(style)
	if err != nil {
		return nil, err
	}
	return o.addMarker(mapID, pos, style, icon)
}

func (o *Open) CreateInfoWindow(ctx context.Context, content string, opts InfoOptions) (*InfoWindow, error) {
	if _, err := o.Initialize(ctx); err != nil {
		return nil, err
	}
	return o.newInfo(content, opts)
}

// OpenInfoWindow binds the popup to the marker. Failures are logged and reported as false.
func (o *Open) OpenInfoWindow(ctx context.Context, infoID, markerID, mapID string) bool {
	if err := o.openInfo(infoID, markerID, mapID); err != nil {
		log.Printf("mapprovider: open popup: %v", err)
		return false
	}
	return true
}

func (o *Open) FindNearbyStations(ctx context.Context, center models.Point, radius float64, stations []models.Station) ([]proximity.Result, error) {
	if err := geo.Validate(center); err != nil {
		return nil, fmt.Errorf("find nearby: %w", err)
	}
	return nearby(center, radius, stations), nil
}

func (o *Open) CurrentLocation(ctx context.Context) (models.Point, error) {
	return o.geolocator.CurrentLocation(ctx)
}

func (o *Open) Scene(ctx context.Context, mapID string) (*Scene, error) {
	s, err := o.scene(mapID)
	if err != nil {
		return nil, err
	}
	s.TileURL = o.tileURL
	s.Attribution = o.attribution
	s.MaxZoom = MaxZoom
	return s, nil
}

// Icon rasterizes the marker to PNG. The provider must be initialized.
func (o *Open) Icon(style MarkerStyle) (Icon, error) {
	key := style.key()
	if v, err := o.icons.Get(key); err == nil {
		return v.(Icon), nil
	}

	o.mu.Lock()
	f := o.faces
	o.mu.Unlock()
	if f == nil {
		return Icon{}, &ProviderError{Provider: OpenName, Cause: CauseLoadFailed, Err: fmt.Errorf("fonts not loaded")}
	}

	o.drawMu.Lock()
	icon, err := rasterIcon(AppearanceFor(style), f)
	o.drawMu.Unlock()
	if err != nil {
		return Icon{}, err
	}
	if err := o.icons.Set(key, icon); err != nil {
		log.Printf("mapprovider: cache icon: %v", err)
	}
	return icon, nil
}

const (
	badgeHeight = 14
	labelHeight = 18
)

func rasterIcon(a Appearance, f *faces) (Icon, error) {
	size := a.Size
	height := size
	if a.Badge != "" {
		height += badgeHeight
	}
	if a.Label != "" {
		height += labelHeight
	}
	img := image.NewRGBA(image.Rect(0, 0, size, height))

	border := 2.0
	if a.Selected {
		border = 3
	}
	drawDisc(img, size, border, parseHex(a.Fill), parseHex(a.Border))

	count := strconv.Itoa(a.Bikes)
	drawCentered(img, count, size/2, size/2+5, color.White, f.count)

	if a.Badge != "" {
		w := font.MeasureString(f.small, a.Badge).Ceil() + 8
		x0 := (size - w) / 2
		fillRect(img, image.Rect(x0, size, x0+w, size+badgeHeight-1), color.RGBA{255, 255, 255, 255})
		drawCentered(img, a.Badge, size/2, size+10, color.RGBA{0x2c, 0x3e, 0x50, 255}, f.small)
	}
	if a.Label != "" {
		y0 := height - labelHeight
		fillRect(img, image.Rect(0, y0+2, size, height), color.RGBA{0, 0, 0, 204})
		drawCentered(img, fitText(a.Label, size-4, f.small), size/2, y0+14, color.White, f.small)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Icon{}, fmt.Errorf("encode marker icon: %w", err)
	}
	data := buf.Bytes()
	return Icon{
		ContentType: "image/png",
		Width:       size,
		Height:      height,
		AnchorX:     size / 2,
		AnchorY:     size / 2,
		URL:         "data:image/png;base64," + base64.StdEncoding.EncodeToString(data),
		Data:        data,
	}, nil
}

// drawDisc fills a bordered circle centered in a size x size square.
func drawDisc(img *image.RGBA, size int, border float64, fill, stroke color.RGBA) {
	c := float64(size) / 2
	r := float64(size-6) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			d := math.Hypot(float64(x)+0.5-c, float64(y)+0.5-c)
			switch {
			case d <= r-border:
				img.SetRGBA(x, y, fill)
			case d <= r:
				img.SetRGBA(x, y, stroke)
			}
		}
	}
}

func fillRect(img *image.RGBA, r image.Rectangle, col color.RGBA) {
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, col)
		}
	}
}

// drawCentered draws text horizontally centered on cx with its baseline at y.
func drawCentered(img *image.RGBA, text string, cx, y int, col color.Color, face font.Face) {
	w := font.MeasureString(face, text)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(cx) - w/2, Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// fitText trims s with an ellipsis until it is at most width pixels wide.
func fitText(s string, width int, face font.Face) string {
	if font.MeasureString(face, s).Ceil() <= width {
		return s
	}
	r := []rune(s)
	for n := len(r) - 1; n > 0; n-- {
		t := string(r[:n]) + "..."
		if font.MeasureString(face, t).Ceil() <= width {
			return t
		}
	}
	return "..."
}

func parseHex(s string) color.RGBA {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "#"), 16, 32)
	if err != nil {
		return color.RGBA{0, 0, 0, 255}
	}
	return color.RGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 255}
}

var _ Provider = (*Open)(nil)
