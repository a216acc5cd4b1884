package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/ubikemap/internal/httputil"
	"github.com/lox/ubikemap/internal/metrics"
	"github.com/lox/ubikemap/internal/models"
)

// DefaultURL is the Taipei YouBike 2.0 realtime feed.
const DefaultURL = "https://tcgbusfs.blob.core.windows.net/dotapp/youbike/v2/youbike_immediate.json"

// ErrFeedUnavailable wraps every failure to obtain a usable station list.
var ErrFeedUnavailable = errors.New("station feed unavailable")

// Client fetches the station list.
type Client struct {
	httpClient  *http.Client
	url         string
	retryWindow time.Duration
}

func NewClient(url string) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		httpClient:  httputil.NewClient(),
		url:         url,
		retryWindow: 2 * time.Minute,
	}
}

// SetRetryWindow bounds how long transient failures are retried.
func (c *Client) SetRetryWindow(d time.Duration) {
	c.retryWindow = d
}

// FetchStations returns the current station list and the raw payload.
// An empty but successful response yields an empty, non-nil slice.
func (c *Client) FetchStations(ctx context.Context) ([]models.Station, []byte, error) {
	start := time.Now()
	body, err := c.fetch(ctx)
	metrics.FeedLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
	}

	stations, err := Decode(body)
	if err != nil {
		metrics.FeedCallsTotal.WithLabelValues("decode_error").Inc()
		return nil, nil, fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
	}
	metrics.FeedCallsTotal.WithLabelValues("ok").Inc()
	return stations, body, nil
}

func (c *Client) fetch(ctx context.Context) ([]byte, error) {
	var body []byte
	operation := func() error {
		req, err := httputil.NewJSONRequest(ctx, c.url)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.FeedCallsTotal.WithLabelValues("error").Inc()
			if ctx.Err() != nil {
				return backoff.Permanent(fmt.Errorf("fetch stations: %w", err))
			}
			return fmt.Errorf("fetch stations: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			metrics.FeedCallsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			statusErr := fmt.Errorf("fetch stations: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = c.retryWindow
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

// Decode parses a feed payload. A JSON null is treated as an empty list.
func Decode(body []byte) ([]models.Station, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty payload")
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return []models.Station{}, nil
	}

	var records []record
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	stations := make([]models.Station, 0, len(records))
	flagged := 0
	for _, r := range records {
		st := r.station()
		if flags := Validate(&st); len(flags) > 0 {
			flagged++
		}
		stations = append(stations, st)
	}
	if flagged > 0 {
		log.Printf("feed: %d of %d records had out-of-range fields", flagged, len(stations))
	}
	return stations, nil
}

type record struct {
	Sno                  string     `json:"sno"`
	Sna                  string     `json:"sna"`
	SnaEn                string     `json:"snaen"`
	Sarea                string     `json:"sarea"`
	SareaEn              string     `json:"sareaen"`
	Ar                   string     `json:"ar"`
	ArEn                 string     `json:"aren"`
	Mday                 string     `json:"mday"`
	Total                *flexInt   `json:"total"`
	Quantity             *flexInt   `json:"Quantity"`
	AvailableRentBikes   flexInt    `json:"available_rent_bikes"`
	AvailableReturnBikes flexInt    `json:"available_return_bikes"`
	Latitude             *flexFloat `json:"latitude"`
	Longitude            *flexFloat `json:"longitude"`
	Act                  flexInt    `json:"act"`
}

func (r record) station() models.Station {
	capacity := 0
	switch {
	case r.Total != nil:
		capacity = int(*r.Total)
	case r.Quantity != nil:
		capacity = int(*r.Quantity)
	}
	return models.Station{
		ID:                   r.Sno,
		Name:                 r.Sna,
		NameEn:               r.SnaEn,
		Area:                 r.Sarea,
		AreaEn:               r.SareaEn,
		Address:              r.Ar,
		AddressEn:            r.ArEn,
		Latitude:             models.Coordinate(r.Latitude.value()),
		Longitude:            models.Coordinate(r.Longitude.value()),
		Capacity:             capacity,
		AvailableRentBikes:   int(r.AvailableRentBikes),
		AvailableReturnBikes: int(r.AvailableReturnBikes),
		Enabled:              r.Act == 1,
		UpdatedAt:            r.Mday,
	}
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse int %s: %w", b, err)
	}
	*f = flexInt(v)
	return nil
}

// flexFloat accepts a JSON number or a numeric string; blanks become NaN so the
// station is excluded from distance math.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(strings.Trim(string(b), `"`))
	if s == "" || s == "null" {
		*f = flexFloat(math.NaN())
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse float %s: %w", b, err)
	}
	*f = flexFloat(v)
	return nil
}

func (f *flexFloat) value() float64 {
	if f == nil {
		return math.NaN()
	}
	return float64(*f)
}
