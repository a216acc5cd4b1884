package mapprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/cenkalti/backoff/v4"

	"github.com/lox/ubikemap/internal/geo"
	"github.com/lox/ubikemap/internal/httputil"
	"github.com/lox/ubikemap/internal/metrics"
	"github.com/lox/ubikemap/internal/models"
	"github.com/lox/ubikemap/internal/proximity"
)

const (
	CommercialName = "commercial"

	DefaultGoogleBaseURL = "https://maps.googleapis.com"

	staticMapSize      = "640x640"
	staticMarkerLimit  = 60
	iconCacheSize      = 512
	iconCacheTTL       = time.Hour
	commercialProbeFor = "Taipei City Hall"
)

// Commercial renders through Google Maps. It needs an API key, which is checked
// against the Geocoding API on first use.
type Commercial struct {
	*canvas
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	geolocator  *Geolocator
	icons       gcache.Cache
	retryWindow time.Duration

	mu      sync.Mutex
	backend *Backend
}

func NewCommercial(apiKey, baseURL string, geolocator *Geolocator) *Commercial {
	if baseURL == "" {
		baseURL = DefaultGoogleBaseURL
	}
	return &Commercial{
		canvas:      newCanvas(CommercialName),
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  httputil.NewClientWithTimeout(10 * time.Second),
		geolocator:  geolocator,
		icons:       gcache.New(iconCacheSize).LRU().Expiration(iconCacheTTL).Build(),
		retryWindow: 10 * time.Second,
	}
}

// SetRetryWindow bounds how long transient probe failures are retried.
func (c *Commercial) SetRetryWindow(d time.Duration) {
	c.retryWindow = d
}

func (c *Commercial) Name() string { return CommercialName }

// Initialize verifies the key once. A success is memoized; a failure is not, so
// a corrected key or a recovered network is picked up on the next call.
func (c *Commercial) Initialize(ctx context.Context) (*Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend != nil {
		return c.backend, nil
	}

	if c.apiKey == "" {
		metrics.ProviderInits.WithLabelValues(CommercialName, string(CauseMissingKey)).Inc()
		return nil, &ProviderError{Provider: CommercialName, Cause: CauseMissingKey}
	}

	if err := c.probe(ctx); err != nil {
		var pe *ProviderError
		if !errors.As(err, &pe) {
			pe = &ProviderError{Provider: CommercialName, Cause: CauseLoadFailed, Err: err}
		}
		metrics.ProviderInits.WithLabelValues(CommercialName, string(pe.Cause)).Inc()
		log.Printf("mapprovider: commercial init failed: %v", pe)
		return nil, pe
	}

	c.backend = &Backend{Provider: CommercialName, Version: "weekly", LoadedAt: time.Now()}
	metrics.ProviderInits.WithLabelValues(CommercialName, "ok").Inc()
	log.Printf("mapprovider: commercial backend ready")
	return c.backend, nil
}

type geocodeResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

func (c *Commercial) probe(ctx context.Context) error {
	params := url.Values{}
	params.Set("address", commercialProbeFor)
	params.Set("key", c.apiKey)
	probeURL := c.baseURL + "/maps/api/geocode/json?" + params.Encode()

	operation := func() error {
		req, err := httputil.NewJSONRequest(ctx, probeURL)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("probe: status %d", resp.StatusCode)
		}

		var r geocodeResponse
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			return backoff.Permanent(fmt.Errorf("probe: status %d: decode: %w", resp.StatusCode, err))
		}
		switch r.Status {
		case "OK", "ZERO_RESULTS":
			return nil
		case "UNKNOWN_ERROR":
			return fmt.Errorf("probe: %s", r.Status)
		}
		return backoff.Permanent(&ProviderError{
			Provider: CommercialName,
			Cause:    classify(r.Status, r.ErrorMessage),
			Err:      fmt.Errorf("%s: %s", r.Status, r.ErrorMessage),
		})
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = c.retryWindow
	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}

func (c *Commercial) CreateMap(ctx context.Context, opts MapOptions) (*Map, error) {
	if _, err := c.Initialize(ctx); err != nil {
		return nil, err
	}
	if err := geo.Validate(opts.Center); err != nil {
		return nil, fmt.Errorf("create map: %w", err)
	}
	return c.newMap(opts)
}

func (c *Commercial) RemoveMap(ctx context.Context, mapID string) error {
	return c.removeMap(mapID)
}

func (c *Commercial) CreateMarker(ctx context.Context, mapID string, pos models.Point, style MarkerStyle) (*Marker, error) {
	if _, err := c.Initialize(ctx); err != nil {
		return nil, err
	}
	if err := geo.Validate(pos); err != nil {
		return nil, fmt.Errorf("create marker: %w", err)
	}
	icon, err := c.Icon(style)
	if err != nil {
		return nil, err
	}
	return c.addMarker(mapID, pos, style, icon)
}

func (c *Commercial) CreateInfoWindow(ctx context.Context, content string, opts InfoOptions) (*InfoWindow, error) {
	if _, err := c.Initialize(ctx); err != nil {
		return nil, err
	}
	return c.newInfo(content, opts)
}

// OpenInfoWindow is best-effort: failures are logged and reported as false.
func (c *Commercial) OpenInfoWindow(ctx context.Context, infoID, markerID, mapID string) bool {
	if err := c.openInfo(infoID, markerID, mapID); err != nil {
		log.Printf("mapprovider: open info window: %v", err)
		return false
	}
	return true
}

func (c *Commercial) FindNearbyStations(ctx context.Context, center models.Point, radius float64, stations []models.Station) ([]proximity.Result, error) {
	if err := geo.Validate(center); err != nil {
		return nil, fmt.Errorf("find nearby: %w", err)
	}
	return nearby(center, radius, stations), nil
}

func (c *Commercial) CurrentLocation(ctx context.Context) (models.Point, error) {
	return c.geolocator.CurrentLocation(ctx)
}

// Scene adds a Static Maps URL so clients without the JavaScript API can still show the map.
func (c *Commercial) Scene(ctx context.Context, mapID string) (*Scene, error) {
	s, err := c.scene(mapID)
	if err != nil {
		return nil, err
	}
	s.MaxZoom = MaxZoom
	s.StaticURL = c.StaticMapURL(s)
	return s, nil
}

// Icon renders the marker as an SVG data URL.
func (c *Commercial) Icon(style MarkerStyle) (Icon, error) {
	key := style.key()
	if v, err := c.icons.Get(key); err == nil {
		return v.(Icon), nil
	}
	icon := svgIcon(AppearanceFor(style))
	if err := c.icons.Set(key, icon); err != nil {
		log.Printf("mapprovider: cache icon: %v", err)
	}
	return icon, nil
}

func svgIcon(a Appearance) Icon {
	size := a.Size
	half := size / 2
	stroke, glyph := 2, 16
	if a.Selected {
		stroke, glyph = 3, 20
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<svg width="%d" height="%d" xmlns="http://www.w3.org/2000/svg">`, size, a.Height)
	b.WriteString(`<defs><filter id="shadow" x="-50%" y="-50%" width="200%" height="200%">`)
	b.WriteString(`<feDropShadow dx="0" dy="2" stdDeviation="3" flood-color="rgba(0,0,0,0.3)"/></filter></defs>`)
	fmt.Fprintf(&b, `<circle cx="%d" cy="%d" r="%d" fill="%s" stroke="%s" stroke-width="%d" filter="url(#shadow)"/>`,
		half, half, (size-6)/2, a.Fill, a.Border, stroke)
	fmt.Fprintf(&b, `<text x="%d" y="%d" text-anchor="middle" font-size="%d" fill="white" font-weight="bold">&#128692;</text>`,
		half, half+6, glyph)
	if a.Badge != "" {
		fmt.Fprintf(&b, `<rect x="%d" y="%d" width="26" height="14" rx="7" fill="white" stroke="#dee2e6"/>`, size-27, size-15)
		fmt.Fprintf(&b, `<text x="%d" y="%d" text-anchor="middle" font-size="8" fill="#2c3e50" font-weight="bold">%s</text>`,
			size-14, size-5, html.EscapeString(a.Badge))
	}
	if a.Label != "" {
		fmt.Fprintf(&b, `<rect x="2" y="%d" width="%d" height="16" rx="4" fill="rgba(0,0,0,0.8)"/>`, size+2, size-4)
		fmt.Fprintf(&b, `<text x="%d" y="%d" text-anchor="middle" font-size="10" fill="white" font-weight="500">%s</text>`,
			half, size+12, html.EscapeString(shorten(a.Label, 8)))
	}
	b.WriteString(`</svg>`)

	svg := b.String()
	return Icon{
		ContentType: "image/svg+xml",
		Width:       size,
		Height:      a.Height,
		AnchorX:     half,
		AnchorY:     half,
		URL:         "data:image/svg+xml;charset=UTF-8," + strings.ReplaceAll(url.QueryEscape(svg), "+", "%20"),
		Data:        []byte(svg),
	}
}

// shorten cuts s to n runes, marking the cut with an ellipsis.
func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// StreetViewOptions frames a Street View still.
type StreetViewOptions struct {
	Size    string
	FOV     int
	Heading int
	Pitch   int
}

// DefaultStreetView matches the info window thumbnail.
var DefaultStreetView = StreetViewOptions{Size: "300x200", FOV: 90}

// StreetViewURL returns a Street View Static API image URL for a point.
func (c *Commercial) StreetViewURL(p models.Point, opts StreetViewOptions) string {
	if opts.Size == "" {
		opts.Size = DefaultStreetView.Size
	}
	if opts.FOV == 0 {
		opts.FOV = DefaultStreetView.FOV
	}
	params := url.Values{}
	params.Set("location", latLng(p))
	params.Set("size", opts.Size)
	params.Set("fov", strconv.Itoa(opts.FOV))
	params.Set("heading", strconv.Itoa(opts.Heading))
	params.Set("pitch", strconv.Itoa(opts.Pitch))
	params.Set("key", c.apiKey)
	return c.baseURL + "/maps/api/streetview?" + params.Encode()
}

// StaticMapURL renders a scene as a Static Maps API URL. The selected marker is
// always included; others are added in order up to a fixed limit.
func (c *Commercial) StaticMapURL(s *Scene) string {
	params := url.Values{}
	params.Set("center", latLng(s.Map.Center))
	params.Set("zoom", strconv.Itoa(s.Map.Zoom))
	params.Set("size", staticMapSize)
	params.Set("key", c.apiKey)

	added := 0
	for _, mk := range s.Markers {
		if mk.Style.Selected {
			params.Add("markers", "size:mid|color:0x"+strings.TrimPrefix(FillSelected, "#")+"|"+latLng(mk.Position))
			added++
		}
	}
	for _, mk := range s.Markers {
		if added >= staticMarkerLimit {
			break
		}
		if mk.Style.Selected {
			continue
		}
		params.Add("markers", "size:small|color:0x"+strings.TrimPrefix(mk.Appearance.Color, "#")+"|"+latLng(mk.Position))
		added++
	}
	return c.baseURL + "/maps/api/staticmap?" + params.Encode()
}

func latLng(p models.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}

var _ Provider = (*Commercial)(nil)
