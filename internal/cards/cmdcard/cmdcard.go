// Package cmdcard implements the `cmd:` / `terminal:` shell-command card.
// It is the reference user of the subprocess-output contract: output is
// streamed line by line into a card-owned, mutex-guarded ring and the exit
// sentinel flips the running state.
package cmdcard

import (
	"strings"
	"sync"

	"rouen/internal/card"
	"rouen/internal/registry"
	"rouen/internal/task"
	"rouen/internal/ui"
)

const outputRing = 500

// procState is the running/pid pair, always read and written together
// under the card mutex.
type procState struct {
	running bool
	pid     int
}

// Card runs shell commands. A `cmd:<command>` locator starts immediately;
// a bare `cmd:` waits for typed input. The card owns its worker so closing
// the card terminates the process group.
type Card struct {
	card.Base

	reg *registry.Registry

	mu     sync.Mutex
	output []string
	proc   procState

	input  string
	typed  string
	worker *task.Worker
}

// New builds a cmd card and, when locator is non-empty, starts it.
func New(locator string, reg *registry.Registry) (*Card, error) {
	c := &Card{
		Base: card.NewBase("cmd", 10),
		reg:  reg,
	}

	c.SetSlot(2, ui.RGBA{R: 0x9E, G: 0xCE, B: 0x6A, A: 0xFF}) // running marker
	c.input = locator

	if locator != "" {
		c.start(locator)
	}

	return c, nil
}

// URI implements card.Card. The locator is the last command, so reopening
// the URI reruns it.
func (c *Card) URI() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return "cmd:" + c.input
}

// Running reports whether a command is in flight.
func (c *Card) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.proc.running
}

// Pid returns the process group id of the running command, 0 when idle.
func (c *Card) Pid() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.proc.pid
}

// start launches command on a fresh worker. A previous worker, if any, is
// stopped first; its process group receives SIGTERM.
func (c *Card) start(command string) {
	c.worker.Stop()

	c.mu.Lock()
	c.input = command
	c.output = nil
	c.proc = procState{running: true}
	c.mu.Unlock()

	c.worker = task.StartWorker(func(stop <-chan struct{}) {
		_ = task.RunShellPID(command, c.absorb, c.setPid, stop)
	})
}

func (c *Card) setPid(pid int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.proc.pid = pid
}

// absorb is the sink; it runs on the worker goroutine.
func (c *Card) absorb(chunk string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.output = append(c.output, chunk)
	if len(c.output) > outputRing {
		c.output = c.output[len(c.output)-outputRing:]
	}

	if strings.HasPrefix(chunk, task.ExitSentinelPrefix) {
		c.proc = procState{}
	}
}

// Render implements card.Card.
func (c *Card) Render(tk ui.Toolkit) bool {
	keys, keep := c.HandleFocused(tk, c.reg)
	if !keep {
		return false
	}

	pending := c.consumeTyped(keys)
	if pending != "" {
		c.start(pending)
	}

	c.mu.Lock()
	running := c.proc.running
	lines := make([]string, len(c.output))
	copy(lines, c.output)
	typed := c.typedPreview()
	c.mu.Unlock()

	if running {
		tk.TextColored(c.Slot(2), "$ running")
	} else {
		tk.Text("$ " + typed)
	}

	for _, line := range lines {
		tk.Text(line)
	}

	if running && tk.Button("stop") {
		c.worker.StopAsync()
	}

	return true
}

// consumeTyped accumulates keystrokes until a newline submits the command.
func (c *Card) consumeTyped(keys string) string {
	if keys == "" {
		return ""
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.proc.running {
		return ""
	}

	c.typed += keys

	line, rest, submitted := strings.Cut(c.typed, "\n")
	if !submitted {
		return ""
	}

	c.typed = rest

	return strings.TrimSpace(line)
}

func (c *Card) typedPreview() string {
	return c.typed
}

// Close implements card.Finalizer: the worker is stopped and the process
// group torn down before the card leaves the deck.
func (c *Card) Close() {
	c.worker.Stop()
}
