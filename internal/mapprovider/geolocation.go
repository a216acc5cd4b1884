package mapprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lox/ubikemap/internal/geo"
	"github.com/lox/ubikemap/internal/httputil"
	"github.com/lox/ubikemap/internal/models"
)

const (
	LocationTimeout = 10 * time.Second
	LocationMaxAge  = 5 * time.Minute
)

// DefaultIPLocateURL is the ip-api.com JSON endpoint for the caller's own address.
const DefaultIPLocateURL = "http://ip-api.com/json/?fields=status,message,lat,lon"

// ErrLocationUnavailable is matched by every LocationError.
var ErrLocationUnavailable = errors.New("location unavailable")

// LocationReason says why no position could be obtained.
type LocationReason string

const (
	ReasonUnsupported LocationReason = "unsupported"
	ReasonDenied      LocationReason = "denied"
	ReasonTimeout     LocationReason = "timeout"
)

// LocationError is returned when geolocation fails. The center point is left alone.
type LocationError struct {
	Reason LocationReason
	Err    error
}

func (e *LocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("location unavailable (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("location unavailable (%s)", e.Reason)
}

func (e *LocationError) Unwrap() error { return e.Err }

func (e *LocationError) Is(target error) bool { return target == ErrLocationUnavailable }

// Fix is one position reading.
type Fix struct {
	models.Point
	At time.Time
}

// Locator performs a single position request.
type Locator interface {
	Locate(ctx context.Context) (Fix, error)
}

// Geolocator bounds a Locator with a timeout and reuses fixes younger than MaxAge.
type Geolocator struct {
	locator Locator
	Timeout time.Duration
	MaxAge  time.Duration
	now     func() time.Time

	mu   sync.Mutex
	last *Fix
}

// NewGeolocator wraps locator. A nil locator reports every request as unsupported.
func NewGeolocator(locator Locator) *Geolocator {
	return &Geolocator{
		locator: locator,
		Timeout: LocationTimeout,
		MaxAge:  LocationMaxAge,
		now:     time.Now,
	}
}

// CurrentLocation returns a fresh enough position or a *LocationError.
func (g *Geolocator) CurrentLocation(ctx context.Context) (models.Point, error) {
	if g == nil || g.locator == nil {
		return models.Point{}, &LocationError{Reason: ReasonUnsupported}
	}

	g.mu.Lock()
	if g.last != nil && g.now().Sub(g.last.At) <= g.MaxAge {
		p := g.last.Point
		g.mu.Unlock()
		return p, nil
	}
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	fix, err := g.locator.Locate(ctx)
	if err != nil {
		var le *LocationError
		if errors.As(err, &le) {
			return models.Point{}, le
		}
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return models.Point{}, &LocationError{Reason: ReasonTimeout, Err: err}
		}
		return models.Point{}, &LocationError{Reason: ReasonDenied, Err: err}
	}
	if err := geo.Validate(fix.Point); err != nil {
		return models.Point{}, &LocationError{Reason: ReasonDenied, Err: err}
	}
	if fix.At.IsZero() {
		fix.At = g.now()
	}
	if g.now().Sub(fix.At) > g.MaxAge {
		return models.Point{}, &LocationError{Reason: ReasonTimeout, Err: errors.New("fix too old")}
	}

	g.mu.Lock()
	g.last = &fix
	g.mu.Unlock()
	return fix.Point, nil
}

// IPLocator resolves the server's approximate position from its public IP.
type IPLocator struct {
	httpClient *http.Client
	url        string
}

func NewIPLocator(url string) *IPLocator {
	if url == "" {
		url = DefaultIPLocateURL
	}
	return &IPLocator{
		httpClient: httputil.NewClientWithTimeout(LocationTimeout),
		url:        url,
	}
}

type ipLocateResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

func (l *IPLocator) Locate(ctx context.Context) (Fix, error) {
	req, err := httputil.NewJSONRequest(ctx, l.url)
	if err != nil {
		return Fix{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return Fix{}, fmt.Errorf("locate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return Fix{}, &LocationError{Reason: ReasonDenied, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return Fix{}, fmt.Errorf("locate: status %d", resp.StatusCode)
	}

	var r ipLocateResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Fix{}, fmt.Errorf("decode location: %w", err)
	}
	if r.Status != "success" {
		return Fix{}, &LocationError{Reason: ReasonDenied, Err: fmt.Errorf("lookup failed: %s", r.Message)}
	}
	return Fix{Point: models.Point{Lat: r.Lat, Lng: r.Lon}, At: time.Now()}, nil
}
