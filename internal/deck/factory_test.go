package deck_test

import (
	"errors"
	"strings"
	"testing"

	"rouen/internal/card"
	"rouen/internal/deck"
	"rouen/internal/ui"
)

// stubCard is the minimal card used throughout the deck tests.
type stubCard struct {
	card.Base
	uri    string
	render func(tk ui.Toolkit) bool
	closed int
}

func newStubCard(uri string, fps int) *stubCard {
	return &stubCard{Base: card.NewBase(uri, fps), uri: uri}
}

func (c *stubCard) URI() string { return c.uri }

func (c *stubCard) Render(tk ui.Toolkit) bool {
	if c.render != nil {
		return c.render(tk)
	}

	return true
}

func (c *stubCard) Close() { c.closed++ }

func Test_SplitURI_Cuts_On_First_Colon_Only(t *testing.T) {
	t.Parallel()

	cases := []struct {
		uri     string
		scheme  string
		locator string
	}{
		{"dir:/home/user", "dir", "/home/user"},
		{"mail:imaps://host:user:pass", "mail", "imaps://host:user:pass"},
		{"pomodoro", "pomodoro", ""},
		{"rss:", "rss", ""},
		{":weird", "", "weird"},
	}

	for _, tc := range cases {
		scheme, locator := deck.SplitURI(tc.uri)
		if scheme != tc.scheme || locator != tc.locator {
			t.Errorf("SplitURI(%q) = (%q, %q), want (%q, %q)",
				tc.uri, scheme, locator, tc.scheme, tc.locator)
		}
	}
}

func Test_Factory_Creates_Card_For_Registered_Scheme(t *testing.T) {
	t.Parallel()

	f := deck.NewFactory()

	var gotLocator string

	err := f.RegisterScheme("dir", func(locator string) (card.Card, error) {
		gotLocator = locator

		return newStubCard("dir:"+locator, 1), nil
	})
	if err != nil {
		t.Fatalf("register scheme: %v", err)
	}

	c, err := f.Create("dir:/tmp/stuff")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if gotLocator != "/tmp/stuff" {
		t.Fatalf("locator = %q, want /tmp/stuff", gotLocator)
	}

	if c.URI() != "dir:/tmp/stuff" {
		t.Fatalf("uri = %q", c.URI())
	}
}

func Test_Factory_Rejects_Unknown_Scheme_With_Scheme_Named(t *testing.T) {
	t.Parallel()

	f := deck.NewFactory()

	_, err := f.Create("gopher:foo")
	if !errors.Is(err, deck.ErrUnknownScheme) {
		t.Fatalf("got %v, want ErrUnknownScheme", err)
	}

	if got := err.Error(); !strings.Contains(got, "gopher") {
		t.Fatalf("error %q does not name the scheme", got)
	}
}

func Test_Factory_Rejects_Duplicate_Scheme(t *testing.T) {
	t.Parallel()

	f := deck.NewFactory()
	ctor := func(string) (card.Card, error) { return newStubCard("x", 1), nil }

	err := f.RegisterScheme("dir", ctor)
	if err != nil {
		t.Fatalf("first register: %v", err)
	}

	err = f.RegisterScheme("dir", ctor)
	if err == nil {
		t.Fatal("expected error for duplicate scheme")
	}
}

func Test_Factory_Propagates_Constructor_Failure(t *testing.T) {
	t.Parallel()

	f := deck.NewFactory()
	boom := errors.New("bad locator")

	err := f.RegisterScheme("scan", func(string) (card.Card, error) { return nil, boom })
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err = f.Create("scan:not-a-cidr")
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want constructor error", err)
	}
}

func Test_Factory_Rejects_Nil_Card_From_Constructor(t *testing.T) {
	t.Parallel()

	f := deck.NewFactory()

	err := f.RegisterScheme("dir", func(string) (card.Card, error) { return nil, nil })
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err = f.Create("dir:/tmp")
	if err == nil {
		t.Fatal("expected error for nil card")
	}
}
