// Package dircard implements the `dir:` filesystem browser card.
package dircard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"rouen/internal/card"
	"rouen/internal/envx"
	"rouen/internal/registry"
	"rouen/internal/task"
	"rouen/internal/ui"
)

const maxVisibleEntries = 30

type entry struct {
	name string
	dir  bool
	size int64
}

// Card browses one directory. Navigation mutates the card in place: the
// `..` action (or the `u` key while focused) moves to the parent, entering
// a subdirectory replaces the path, and selecting a file opens it through
// the edit service.
type Card struct {
	card.Base

	reg     *registry.Registry
	path    string
	entries []entry
	loadErr string
	loading *task.Oneshot[[]entry]
}

// New builds a dir card. The locator undergoes $NAME expansion, which is
// the documented canonicalization of the dir scheme.
func New(locator string, env map[string]string, reg *registry.Registry) (*Card, error) {
	if locator == "" {
		return nil, errors.New("dir card: path is empty")
	}

	path := filepath.Clean(envx.Expand(env, locator))

	c := &Card{
		Base: card.NewBase("dir "+path, 2),
		reg:  reg,
		path: path,
	}

	c.SetSlot(2, ui.RGBA{R: 0x7A, G: 0xA2, B: 0xF7, A: 0xFF}) // directories
	c.startLoad()

	return c, nil
}

// URI returns the canonical, re-openable identity of the card.
func (c *Card) URI() string {
	return "dir:" + c.path
}

// Path returns the directory currently shown.
func (c *Card) Path() string {
	return c.path
}

// Parent navigates up. The root's parent is itself; repeated calls are
// safe.
func (c *Card) Parent() {
	c.setPath(filepath.Dir(c.path))
}

func (c *Card) setPath(path string) {
	if path == c.path {
		return
	}

	c.path = path
	c.entries = nil
	c.loadErr = ""
	c.startLoad()
}

func (c *Card) startLoad() {
	path := c.path

	c.loading = task.Go(func() ([]entry, error) {
		return readEntries(path)
	})
}

// Render implements card.Card.
func (c *Card) Render(tk ui.Toolkit) bool {
	keys, keep := c.HandleFocused(tk, c.reg)
	if !keep {
		return false
	}

	if strings.Contains(keys, "u") {
		c.Parent()
	}

	if loaded, ok, err := c.loading.TryTake(); ok {
		if err != nil {
			c.loadErr = err.Error()
		} else {
			c.entries = loaded
		}
	}

	tk.Text(c.path)

	if c.loadErr != "" {
		tk.Text("error: " + c.loadErr)
	} else if c.entries == nil && c.loading.Pending() {
		tk.Text("loading…")
	}

	if tk.Button("..") {
		c.Parent()
	}

	shown := c.entries
	if len(shown) > maxVisibleEntries {
		shown = shown[:maxVisibleEntries]
	}

	for _, e := range shown {
		if e.dir {
			if tk.Button(e.name + "/") {
				c.setPath(filepath.Join(c.path, e.name))
			}

			continue
		}

		if tk.Button(fmt.Sprintf("%s  %s", e.name, humanize.Bytes(uint64(e.size)))) {
			c.reg.Proc(registry.SvcEdit, filepath.Join(c.path, e.name))
		}
	}

	if len(c.entries) > maxVisibleEntries {
		tk.Text(fmt.Sprintf("… %d more", len(c.entries)-maxVisibleEntries))
	}

	return true
}

func readEntries(path string) ([]entry, error) {
	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", path, err)
	}

	out := make([]entry, 0, len(dirEntries))

	for _, de := range dirEntries {
		e := entry{name: de.Name(), dir: de.IsDir()}

		if !e.dir {
			info, infoErr := de.Info()
			if infoErr == nil {
				e.size = info.Size()
			}
		}

		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].dir != out[j].dir {
			return out[i].dir
		}

		return out[i].name < out[j].name
	})

	return out, nil
}
