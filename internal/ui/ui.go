// Package ui defines the boundary to the GUI toolkit. The shell owns the
// only thread allowed to call a Toolkit; cards receive it inside Render and
// never retain it across frames.
package ui

// RGBA is a plain palette color value.
type RGBA struct {
	R, G, B, A uint8
}

// KeyCtrlW is the universal close shortcut as it appears in the keystroke
// stream.
const KeyCtrlW = "\x17"

// Toolkit is what the card runtime demands of the GUI toolkit. Exactly one
// Begin/End pair runs per card per frame; Begin returning false means the
// window is collapsed and the card should skip its body (End is still
// required).
type Toolkit interface {
	Begin(title string) bool
	End()

	Text(s string)
	TextColored(c RGBA, s string)
	Button(label string) bool

	// Focused reports whether the window between Begin and End has input
	// focus this frame.
	Focused() bool

	// CloseRequested reports a toolkit-level close request (window chrome)
	// for the current window.
	CloseRequested() bool

	PushStyle(bg, fg RGBA)
	PopStyle()
}
