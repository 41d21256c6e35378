// Package pomodoro implements the transient `pomodoro:` countdown card.
package pomodoro

import (
	"fmt"
	"strconv"
	"time"

	"rouen/internal/card"
	"rouen/internal/registry"
	"rouen/internal/ui"
)

const defaultMinutes = 25

// Card counts down and notifies once when the timer elapses.
type Card struct {
	card.Base

	reg      *registry.Registry
	minutes  int
	deadline time.Time
	notified bool
	now      func() time.Time
}

// New builds a pomodoro card. The locator is the duration in minutes;
// empty means the classic 25.
func New(locator string, reg *registry.Registry) (*Card, error) {
	minutes := defaultMinutes

	if locator != "" {
		parsed, err := strconv.Atoi(locator)
		if err != nil || parsed < 1 {
			return nil, fmt.Errorf("pomodoro card: bad minutes %q", locator)
		}

		minutes = parsed
	}

	c := &Card{
		Base:    card.NewBase("pomodoro", 1),
		reg:     reg,
		minutes: minutes,
		now:     time.Now,
	}

	c.SetSlot(2, ui.RGBA{R: 0xF7, G: 0x76, B: 0x8E, A: 0xFF}) // elapsed
	c.deadline = c.now().Add(time.Duration(minutes) * time.Minute)

	return c, nil
}

// URI implements card.Card. Transient cards reopen fresh, so the locator
// carries only the configured duration.
func (c *Card) URI() string {
	if c.minutes == defaultMinutes {
		return "pomodoro:"
	}

	return fmt.Sprintf("pomodoro:%d", c.minutes)
}

// Render implements card.Card.
func (c *Card) Render(tk ui.Toolkit) bool {
	_, keep := c.HandleFocused(tk, c.reg)
	if !keep {
		return false
	}

	remaining := c.deadline.Sub(c.now())

	if remaining <= 0 {
		if !c.notified {
			c.notified = true
			c.reg.Proc(registry.SvcNotify, fmt.Sprintf("pomodoro: %d minutes are up", c.minutes))
		}

		tk.TextColored(c.Slot(2), "done")

		if tk.Button("restart") {
			c.deadline = c.now().Add(time.Duration(c.minutes) * time.Minute)
			c.notified = false
		}

		return true
	}

	tk.Text(fmt.Sprintf("%02d:%02d", int(remaining.Minutes()), int(remaining.Seconds())%60))

	return true
}
