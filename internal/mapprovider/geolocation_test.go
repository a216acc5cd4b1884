package mapprovider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lox/ubikemap/internal/models"
)

type countingLocator struct {
	fix   Fix
	err   error
	calls int
}

func (l *countingLocator) Locate(ctx context.Context) (Fix, error) {
	l.calls++
	return l.fix, l.err
}

type blockingLocator struct{}

func (blockingLocator) Locate(ctx context.Context) (Fix, error) {
	<-ctx.Done()
	return Fix{}, ctx.Err()
}

func reasonOf(t *testing.T, err error) LocationReason {
	t.Helper()
	var le *LocationError
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want *LocationError", err)
	}
	if !errors.Is(err, ErrLocationUnavailable) {
		t.Error("LocationError should match ErrLocationUnavailable")
	}
	return le.Reason
}

func TestGeolocatorUnsupported(t *testing.T) {
	_, err := NewGeolocator(nil).CurrentLocation(context.Background())
	if got := reasonOf(t, err); got != ReasonUnsupported {
		t.Errorf("reason = %s, want unsupported", got)
	}

	var nilGeo *Geolocator
	if _, err := nilGeo.CurrentLocation(context.Background()); reasonOf(t, err) != ReasonUnsupported {
		t.Error("nil geolocator should be unsupported")
	}
}

func TestGeolocatorReusesRecentFix(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	loc := &countingLocator{fix: Fix{Point: cityHall, At: now}}
	g := NewGeolocator(loc)
	g.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		p, err := g.CurrentLocation(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if p != cityHall {
			t.Errorf("point = %+v", p)
		}
	}
	if loc.calls != 1 {
		t.Errorf("locator calls = %d, want 1", loc.calls)
	}

	now = now.Add(LocationMaxAge + time.Second)
	loc.fix.At = now
	if _, err := g.CurrentLocation(context.Background()); err != nil {
		t.Fatal(err)
	}
	if loc.calls != 2 {
		t.Errorf("locator calls after max age = %d, want 2", loc.calls)
	}
}

func TestGeolocatorRejectsStaleFix(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	g := NewGeolocator(&countingLocator{fix: Fix{Point: cityHall, At: now.Add(-10 * time.Minute)}})
	g.now = func() time.Time { return now }

	_, err := g.CurrentLocation(context.Background())
	if got := reasonOf(t, err); got != ReasonTimeout {
		t.Errorf("reason = %s, want timeout", got)
	}
}

func TestGeolocatorTimeout(t *testing.T) {
	g := NewGeolocator(blockingLocator{})
	g.Timeout = 20 * time.Millisecond

	_, err := g.CurrentLocation(context.Background())
	if got := reasonOf(t, err); got != ReasonTimeout {
		t.Errorf("reason = %s, want timeout", got)
	}
}

func TestGeolocatorDenied(t *testing.T) {
	g := NewGeolocator(&countingLocator{err: errors.New("permission denied")})
	_, err := g.CurrentLocation(context.Background())
	if got := reasonOf(t, err); got != ReasonDenied {
		t.Errorf("reason = %s, want denied", got)
	}

	g = NewGeolocator(&countingLocator{fix: Fix{Point: models.Point{Lat: 120}}})
	if _, err := g.CurrentLocation(context.Background()); reasonOf(t, err) != ReasonDenied {
		t.Error("invalid fix should be rejected")
	}
}

func TestIPLocator(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    bool
		wantReason LocationReason
	}{
		{"success", http.StatusOK, `{"status":"success","lat":25.0478,"lon":121.5170}`, false, ""},
		{"reserved range", http.StatusOK, `{"status":"fail","message":"reserved range"}`, true, ReasonDenied},
		{"rate limited", http.StatusTooManyRequests, ``, true, ReasonDenied},
		{"server error", http.StatusBadGateway, ``, true, ReasonDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			g := NewGeolocator(NewIPLocator(srv.URL))
			p, err := g.CurrentLocation(context.Background())
			if tt.wantErr {
				if got := reasonOf(t, err); got != tt.wantReason {
					t.Errorf("reason = %s, want %s", got, tt.wantReason)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if p.Lat != 25.0478 || p.Lng != 121.5170 {
				t.Errorf("point = %+v", p)
			}
		})
	}
}
