package ui

import (
	"sync"

	"github.com/mattn/go-runewidth"
)

const defaultHeadlessWidth = 100

// WindowFrame is one card's rendered output for one frame.
type WindowFrame struct {
	Title string
	Lines []string
}

// Headless is a Toolkit that renders windows to text lines. It backs the
// console mode and every test that drives a deck. Frame recording runs on
// the render thread; focus, close and button injection may come from the
// console reader goroutine, so shared state is mutex-guarded.
type Headless struct {
	mu        sync.Mutex
	width     int
	focused   string
	closeReq  map[string]bool
	presses   map[string]map[string]bool
	frames    []WindowFrame
	current   *WindowFrame
	styleDeep int
}

// NewHeadless creates a headless toolkit clipping lines to width runes.
func NewHeadless(width int) *Headless {
	if width <= 0 {
		width = defaultHeadlessWidth
	}

	return &Headless{
		width:    width,
		closeReq: make(map[string]bool),
		presses:  make(map[string]map[string]bool),
	}
}

// BeginFrame clears the previous frame's recordings. The shell calls it once
// before deck.Tick.
func (h *Headless) BeginFrame() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.frames = h.frames[:0]
}

// EndFrame retires one-frame input state (button presses, close requests).
func (h *Headless) EndFrame() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.presses = make(map[string]map[string]bool)
	h.closeReq = make(map[string]bool)
}

// Frames returns the windows rendered since BeginFrame, in render order.
func (h *Headless) Frames() []WindowFrame {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]WindowFrame, len(h.frames))
	copy(out, h.frames)

	return out
}

// Focus gives the window with title input focus for subsequent frames.
func (h *Headless) Focus(title string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.focused = title
}

// RequestClose queues a window-chrome close for title, consumed next frame.
func (h *Headless) RequestClose(title string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closeReq[title] = true
}

// Press queues a button press for the next frame.
func (h *Headless) Press(title, label string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.presses[title] == nil {
		h.presses[title] = make(map[string]bool)
	}

	h.presses[title][label] = true
}

// Begin implements Toolkit.
func (h *Headless) Begin(title string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.current = &WindowFrame{Title: title}

	return true
}

// End implements Toolkit.
func (h *Headless) End() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current != nil {
		h.frames = append(h.frames, *h.current)
		h.current = nil
	}
}

// Text implements Toolkit.
func (h *Headless) Text(s string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.appendLine(s)
}

// TextColored implements Toolkit. Color is dropped in text output.
func (h *Headless) TextColored(_ RGBA, s string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.appendLine(s)
}

// Button implements Toolkit: the press is reported once, in the frame after
// it was injected.
func (h *Headless) Button(label string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.appendLine("[" + label + "]")

	if h.current == nil {
		return false
	}

	return h.presses[h.current.Title][label]
}

// Focused implements Toolkit.
func (h *Headless) Focused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.current != nil && h.current.Title == h.focused
}

// CloseRequested implements Toolkit.
func (h *Headless) CloseRequested() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.current != nil && h.closeReq[h.current.Title]
}

// PushStyle implements Toolkit. Headless output is monochrome; only the
// stack depth is tracked so unbalanced pops surface in tests.
func (h *Headless) PushStyle(_, _ RGBA) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.styleDeep++
}

// PopStyle implements Toolkit.
func (h *Headless) PopStyle() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.styleDeep == 0 {
		panic("ui: PopStyle without matching PushStyle")
	}

	h.styleDeep--
}

// StyleDepth returns the current push/pop balance.
func (h *Headless) StyleDepth() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.styleDeep
}

func (h *Headless) appendLine(s string) {
	if h.current == nil {
		return
	}

	h.current.Lines = append(h.current.Lines, runewidth.Truncate(s, h.width, "…"))
}
