// Package deck owns card identity and lifetime: the URI factory that turns
// `scheme[:locator]` into card instances, and the deck that drives the
// per-frame cycle over the live card list.
package deck

import (
	"errors"
	"fmt"
	"strings"

	"rouen/internal/card"
)

// Constructor builds a card from the opaque locator part of a URI.
type Constructor func(locator string) (card.Card, error)

// ErrUnknownScheme reports a URI whose scheme has no registered constructor.
var ErrUnknownScheme = errors.New("unknown card scheme")

// SplitURI separates scheme and locator on the first colon. The locator may
// itself contain colons (`mail:imaps://host:user:pass`); they belong to the
// locator.
func SplitURI(uri string) (string, string) {
	scheme, locator, found := strings.Cut(uri, ":")
	if !found {
		return uri, ""
	}

	return scheme, locator
}

// Factory maps schemes to constructors. It is populated during startup and
// never mutated afterwards; Create takes no lock.
type Factory struct {
	schemes map[string]Constructor
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{schemes: make(map[string]Constructor)}
}

// RegisterScheme installs a constructor. Re-registering a scheme is a
// programming error and fails.
func (f *Factory) RegisterScheme(scheme string, ctor Constructor) error {
	if scheme == "" {
		return errors.New("register scheme: scheme is empty")
	}

	if ctor == nil {
		return fmt.Errorf("register scheme %q: constructor is nil", scheme)
	}

	if _, exists := f.schemes[scheme]; exists {
		return fmt.Errorf("register scheme %q: already registered", scheme)
	}

	f.schemes[scheme] = ctor

	return nil
}

// Schemes returns the registered schemes, for menus and diagnostics.
func (f *Factory) Schemes() []string {
	out := make([]string, 0, len(f.schemes))

	for scheme := range f.schemes {
		out = append(out, scheme)
	}

	return out
}

// Create builds the card for uri. Unknown schemes and nil cards from a
// constructor fail loudly with the scheme in the diagnostic.
func (f *Factory) Create(uri string) (card.Card, error) {
	if uri == "" {
		return nil, errors.New("create card: uri is empty")
	}

	scheme, locator := SplitURI(uri)

	ctor, ok := f.schemes[scheme]
	if !ok {
		return nil, fmt.Errorf("create card %q: %w: %s", uri, ErrUnknownScheme, scheme)
	}

	c, err := ctor(locator)
	if err != nil {
		return nil, fmt.Errorf("create card %q: %w", uri, err)
	}

	if c == nil {
		return nil, fmt.Errorf("create card %q: constructor for %s returned no card", uri, scheme)
	}

	return c, nil
}
