// Package card defines the contract every panel satisfies and the Base
// state they embed: palette, unique window title, focus handling, and the
// requested frame rate.
package card

import (
	"strings"

	"github.com/google/uuid"

	"rouen/internal/registry"
	"rouen/internal/ui"
)

// PaletteSize is the number of color slots a card carries. Slots 0 and 1
// are the primary/secondary theme; 2..15 are card-specific accents.
const PaletteSize = 16

// Card is the minimal polymorphic contract. Render returns true to keep the
// card, false to close it; it must never block on network or disk.
type Card interface {
	Render(tk ui.Toolkit) bool
	URI() string
	Title() string
	FPS() int
}

// Finalizer is implemented by cards that own background work. The deck
// calls Close exactly once, when the card leaves the deck or the deck
// shuts down. Close must stop or detach every worker the card started and
// release subprocesses, pipes and temp files.
type Finalizer interface {
	Close()
}

// Base carries the per-card state shared by every concrete card type.
// Embed by value; it has no goroutines of its own.
type Base struct {
	title   string
	fps     int
	palette [PaletteSize]ui.RGBA
}

// NewBase builds card state with a unique window title. The instance tag
// keeps two cards of the same URI from colliding in the toolkit.
func NewBase(name string, fps int) Base {
	if fps < 1 {
		fps = 1
	}

	b := Base{
		title: name + " ·" + uuid.NewString()[:8],
		fps:   fps,
	}

	b.palette[0] = ui.RGBA{R: 0x20, G: 0x20, B: 0x28, A: 0xFF}
	b.palette[1] = ui.RGBA{R: 0xE0, G: 0xE0, B: 0xE8, A: 0xFF}

	return b
}

// Title returns the unique window title.
func (b *Base) Title() string {
	return b.title
}

// FPS returns the requested repaint rate.
func (b *Base) FPS() int {
	return b.fps
}

// SetFPS changes the requested repaint rate; values below 1 clamp to 1.
func (b *Base) SetFPS(fps int) {
	if fps < 1 {
		fps = 1
	}

	b.fps = fps
}

// Slot returns palette slot i, or the zero color when i is out of range.
func (b *Base) Slot(i int) ui.RGBA {
	if i < 0 || i >= PaletteSize {
		return ui.RGBA{}
	}

	return b.palette[i]
}

// SetSlot writes palette slot i; out-of-range writes are dropped.
func (b *Base) SetSlot(i int, c ui.RGBA) {
	if i < 0 || i >= PaletteSize {
		return
	}

	b.palette[i] = c
}

// HandleFocused runs the shared focused-window behavior: when the current
// window has focus it consumes this frame's keystrokes through the
// registrar and honors the universal close shortcut (Ctrl+W) as well as a
// toolkit-level close request.
//
// It returns the consumed keystrokes and keep=false when the card should
// close. Unfocused cards receive no keystrokes.
func (b *Base) HandleFocused(tk ui.Toolkit, reg *registry.Registry) (string, bool) {
	if !tk.Focused() {
		return "", true
	}

	if tk.CloseRequested() {
		return "", false
	}

	keys := reg.Source(registry.SvcKeystrokes)
	if strings.Contains(keys, ui.KeyCtrlW) {
		return keys, false
	}

	return keys, true
}
