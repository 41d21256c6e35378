package deck

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"rouen/internal/card"
	"rouen/internal/registry"
	"rouen/internal/ui"
)

// Deck owns the live card collection. Iteration order is insertion order;
// cards created during a frame join the deck after the pass so iteration is
// never concurrent with construction.
type Deck struct {
	factory *Factory
	reg     *registry.Registry

	mu      sync.Mutex // guards pending; Create may be called from the console reader
	pending []card.Card

	cards    []card.Card
	banners  map[card.Card]string // render panics downgraded to banners
	maxFPS   int
	themeBG  ui.RGBA
	themeFG  ui.RGBA
	closed   bool
}

// New creates an empty deck using factory for Create and reg to reach the
// notify service.
func New(factory *Factory, reg *registry.Registry) *Deck {
	return &Deck{
		factory: factory,
		reg:     reg,
		banners: make(map[card.Card]string),
		maxFPS:  1,
		themeBG: ui.RGBA{R: 0x18, G: 0x18, B: 0x20, A: 0xFF},
		themeFG: ui.RGBA{R: 0xD8, G: 0xD8, B: 0xE0, A: 0xFF},
	}
}

// Add appends a card immediately. Only safe between frames; cards spawned
// mid-frame go through Create.
func (d *Deck) Add(c card.Card) {
	if c == nil {
		return
	}

	d.cards = append(d.cards, c)
	d.recomputeFPS()
}

// Create builds the card for uri and defers the add to the end of the
// current frame. Factory failures are forwarded to notify and dropped.
// This is the implementation bound to the create_card service.
func (d *Deck) Create(uri string) {
	c, err := d.factory.Create(uri)
	if err != nil {
		logrus.WithError(err).WithField("uri", uri).Warn("card creation failed")
		d.reg.Proc(registry.SvcNotify, err.Error())

		return
	}

	d.mu.Lock()
	d.pending = append(d.pending, c)
	d.mu.Unlock()
}

// Tick runs one frame: push the global style, render every card in
// insertion order, pop, erase cards that asked to close, absorb pending
// creations, and recompute the frame rate.
func (d *Deck) Tick(tk ui.Toolkit) {
	tk.PushStyle(d.themeBG, d.themeFG)

	keep := make([]bool, len(d.cards))

	for i, c := range d.cards {
		keep[i] = d.renderCard(tk, c)
	}

	tk.PopStyle()

	live := d.cards[:0]

	for i, c := range d.cards {
		if keep[i] {
			live = append(live, c)

			continue
		}

		delete(d.banners, c)
		finalize(c)
	}

	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	d.cards = append(live, pending...)
	d.recomputeFPS()
}

// renderCard draws one card inside its window. A panic inside Render is
// caught at the window boundary and downgraded to a banner the user can
// dismiss, so one misbehaving card cannot bring down the frame.
func (d *Deck) renderCard(tk ui.Toolkit, c card.Card) (keep bool) {
	if banner, broken := d.banners[c]; broken {
		open := tk.Begin(c.Title())
		if open {
			tk.Text("render error: " + banner)

			if tk.Button("close") {
				keep = false
				tk.End()

				return keep
			}
		}

		tk.End()

		return true
	}

	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"uri":   c.URI(),
				"panic": r,
			}).Error("card render panicked")

			d.banners[c] = fmt.Sprint(r)
			tk.End()

			keep = true
		}
	}()

	open := tk.Begin(c.Title())
	if !open {
		tk.End()

		return true
	}

	keep = c.Render(tk)
	tk.End()

	return keep
}

// MaxFPS returns the aggregated repaint rate for the shell's sleeper,
// always at least 1.
func (d *Deck) MaxFPS() int {
	return d.maxFPS
}

// Len returns the number of live cards.
func (d *Deck) Len() int {
	return len(d.cards)
}

// Cards returns a snapshot of the live card list in insertion order.
func (d *Deck) Cards() []card.Card {
	out := make([]card.Card, len(d.cards))
	copy(out, d.cards)

	return out
}

// Contains reports whether c is currently in the deck.
func (d *Deck) Contains(c card.Card) bool {
	for _, live := range d.cards {
		if live == c {
			return true
		}
	}

	return false
}

// Close finalizes every remaining card. Idempotent.
func (d *Deck) Close() {
	if d.closed {
		return
	}

	d.closed = true

	for _, c := range d.cards {
		finalize(c)
	}

	d.cards = nil

	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, c := range pending {
		finalize(c)
	}
}

func (d *Deck) recomputeFPS() {
	highest := 1

	for _, c := range d.cards {
		if fps := c.FPS(); fps > highest {
			highest = fps
		}
	}

	d.maxFPS = highest
}

func finalize(c card.Card) {
	if fin, ok := c.(card.Finalizer); ok {
		fin.Close()
	}
}
