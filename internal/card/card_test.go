package card_test

import (
	"strings"
	"testing"

	"rouen/internal/card"
	"rouen/internal/registry"
	"rouen/internal/ui"
)

func Test_NewBase_Gives_Each_Card_A_Unique_Title(t *testing.T) {
	t.Parallel()

	a := card.NewBase("dir: /tmp", 1)
	b := card.NewBase("dir: /tmp", 1)

	if !strings.HasPrefix(a.Title(), "dir: /tmp ·") {
		t.Fatalf("title = %q, want name prefix", a.Title())
	}

	if a.Title() == b.Title() {
		t.Fatalf("two cards share title %q", a.Title())
	}
}

func Test_NewBase_Clamps_FPS_To_At_Least_One(t *testing.T) {
	t.Parallel()

	b := card.NewBase("x", 0)
	if b.FPS() != 1 {
		t.Fatalf("fps = %d, want 1", b.FPS())
	}

	b.SetFPS(-5)

	if b.FPS() != 1 {
		t.Fatalf("fps after SetFPS(-5) = %d, want 1", b.FPS())
	}

	b.SetFPS(30)

	if b.FPS() != 30 {
		t.Fatalf("fps = %d, want 30", b.FPS())
	}
}

func Test_Palette_Drops_Out_Of_Range_Access(t *testing.T) {
	t.Parallel()

	b := card.NewBase("x", 1)
	accent := ui.RGBA{R: 1, G: 2, B: 3, A: 4}

	b.SetSlot(2, accent)

	if b.Slot(2) != accent {
		t.Fatalf("slot 2 = %v, want %v", b.Slot(2), accent)
	}

	// Out-of-range writes are dropped, reads return the zero color.
	b.SetSlot(-1, accent)
	b.SetSlot(card.PaletteSize, accent)

	if b.Slot(-1) != (ui.RGBA{}) || b.Slot(card.PaletteSize) != (ui.RGBA{}) {
		t.Fatal("out-of-range slot access not zero")
	}
}

func Test_Theme_Slots_Have_Defaults(t *testing.T) {
	t.Parallel()

	b := card.NewBase("x", 1)

	if b.Slot(0) == (ui.RGBA{}) || b.Slot(1) == (ui.RGBA{}) {
		t.Fatal("theme slots 0 and 1 should carry defaults")
	}
}

func focusedToolkit(t *testing.T, title string) *ui.Headless {
	t.Helper()

	tk := ui.NewHeadless(0)
	tk.Focus(title)
	tk.BeginFrame()

	if !tk.Begin(title) {
		t.Fatal("begin returned false")
	}

	t.Cleanup(tk.End)

	return tk
}

func keystrokeRegistry(t *testing.T, keys string) *registry.Registry {
	t.Helper()

	reg := registry.New()

	err := reg.Register(registry.SvcKeystrokes, registry.Source(func() string { return keys }))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	reg.Freeze()

	return reg
}

func Test_HandleFocused_Delivers_Keystrokes_Only_To_Focused_Card(t *testing.T) {
	t.Parallel()

	b := card.NewBase("x", 1)
	reg := keystrokeRegistry(t, "hello")

	tk := focusedToolkit(t, b.Title())

	keys, keep := b.HandleFocused(tk, reg)
	if keys != "hello" || !keep {
		t.Fatalf("focused: keys=%q keep=%v, want hello/true", keys, keep)
	}

	// A different window gets nothing.
	other := ui.NewHeadless(0)
	other.Focus("someone else")
	other.BeginFrame()
	other.Begin(b.Title())

	defer other.End()

	keys, keep = b.HandleFocused(other, reg)
	if keys != "" || !keep {
		t.Fatalf("unfocused: keys=%q keep=%v, want empty/true", keys, keep)
	}
}

func Test_HandleFocused_Closes_On_CtrlW(t *testing.T) {
	t.Parallel()

	b := card.NewBase("x", 1)
	reg := keystrokeRegistry(t, "ab"+ui.KeyCtrlW)

	tk := focusedToolkit(t, b.Title())

	_, keep := b.HandleFocused(tk, reg)
	if keep {
		t.Fatal("Ctrl+W should close the card")
	}
}

func Test_HandleFocused_Closes_On_Toolkit_Close_Request(t *testing.T) {
	t.Parallel()

	b := card.NewBase("x", 1)
	reg := keystrokeRegistry(t, "")

	tk := ui.NewHeadless(0)
	tk.Focus(b.Title())
	tk.RequestClose(b.Title())
	tk.BeginFrame()
	tk.Begin(b.Title())

	defer tk.End()

	_, keep := b.HandleFocused(tk, reg)
	if keep {
		t.Fatal("close request should close the card")
	}
}
