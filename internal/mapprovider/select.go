package mapprovider

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
)

// Preference chooses which backend to try.
type Preference string

const (
	PreferAuto       Preference = "auto"
	PreferCommercial Preference = "commercial"
	PreferOpen       Preference = "open"
)

func ParsePreference(s string) (Preference, error) {
	switch p := Preference(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PreferAuto, nil
	case PreferAuto, PreferCommercial, PreferOpen:
		return p, nil
	}
	return "", fmt.Errorf("unknown map provider %q", s)
}

// Selector picks the active provider. With PreferAuto a commercial failure falls
// back to the open provider and the failure is kept for display.
type Selector struct {
	pref       Preference
	commercial Provider
	open       Provider

	mu       sync.Mutex
	active   Provider
	fallback error
}

func NewSelector(pref Preference, commercial, open Provider) *Selector {
	return &Selector{pref: pref, commercial: commercial, open: open}
}

// Select returns the initialized provider, resolving it on first success.
func (s *Selector) Select(ctx context.Context) (Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return s.active, nil
	}

	var p Provider
	switch s.pref {
	case PreferOpen:
		p = s.open
	case PreferCommercial:
		p = s.commercial
	default:
		p = s.commercial
		if p == nil {
			p = s.open
		}
	}
	if p == nil {
		return nil, fmt.Errorf("%w: no provider configured", ErrProviderUnavailable)
	}

	_, err := p.Initialize(ctx)
	if err != nil && s.pref == PreferAuto && p != s.open && s.open != nil && errors.Is(err, ErrProviderUnavailable) {
		log.Printf("mapprovider: %s unavailable, falling back to %s: %v", p.Name(), s.open.Name(), err)
		s.fallback = err
		p = s.open
		_, err = p.Initialize(ctx)
	}
	if err != nil {
		return nil, err
	}
	s.active = p
	return p, nil
}

// Fallback returns why the preferred provider was skipped, if it was.
func (s *Selector) Fallback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback
}

// Provider returns a configured provider by name.
func (s *Selector) Provider(name string) (Provider, bool) {
	switch {
	case s.commercial != nil && s.commercial.Name() == name:
		return s.commercial, true
	case s.open != nil && s.open.Name() == name:
		return s.open, true
	}
	return nil, false
}
