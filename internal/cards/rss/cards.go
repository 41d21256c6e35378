package rss

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"rouen/internal/card"
	"rouen/internal/registry"
	"rouen/internal/task"
	"rouen/internal/ui"
)

const (
	feedItemLimit   = 50
	refreshInterval = 15 * time.Minute
	refreshPollTick = 500 * time.Millisecond
)

// AddCard is the transient `rss:` card: the user enters a feed URL, the
// card subscribes it in the background, opens the matching `rss-feed:` card
// and closes itself.
type AddCard struct {
	card.Base

	reg  *registry.Registry
	ref  *HostRef
	host *Host

	typed   string
	errText string
	pending *task.Oneshot[int64]
}

// NewAddCard builds the add-feed card. A non-empty locator (`rss:<url>`)
// submits immediately.
func NewAddCard(locator string, ref *HostRef, reg *registry.Registry) (*AddCard, error) {
	host, err := ref.Acquire()
	if err != nil {
		return nil, err
	}

	c := &AddCard{
		Base: card.NewBase("rss add", 2),
		reg:  reg,
		ref:  ref,
		host: host,
	}

	if locator != "" {
		c.submit(locator)
	}

	return c, nil
}

// URI implements card.Card. A locator passed at construction is consumed
// as a submission, so the canonical URI is always the bare transient form.
func (c *AddCard) URI() string {
	return "rss:"
}

// submit subscribes url off-thread: insert the feed row, run the first
// refresh, hand back the feed id.
func (c *AddCard) submit(url string) {
	host := c.host
	reg := c.reg

	c.errText = ""
	c.pending = task.Go(func() (int64, error) {
		id, err := host.AddFeed(url)
		if err != nil {
			return 0, err
		}

		_, refreshErr := host.Refresh(id)
		if refreshErr != nil {
			// The subscription stands; the first refresh just failed.
			reg.Proc(registry.SvcNotify, refreshErr.Error())
		}

		return id, nil
	})
}

// Render implements card.Card.
func (c *AddCard) Render(tk ui.Toolkit) bool {
	keys, keep := c.HandleFocused(tk, c.reg)
	if !keep {
		return false
	}

	if id, ok, err := c.pending.TryTake(); ok {
		if err != nil {
			c.errText = err.Error()
		} else {
			c.reg.Proc(registry.SvcNotify, fmt.Sprintf("subscribed feed %d", id))
			c.reg.Proc(registry.SvcCreateCard, fmt.Sprintf("rss-feed:%d", id))

			return false
		}
	}

	if keys != "" && !c.pending.Pending() {
		c.typed += keys

		line, rest, submitted := strings.Cut(c.typed, "\n")
		if submitted {
			c.typed = rest
			c.submit(strings.TrimSpace(line))
		}
	}

	tk.Text("feed url: " + c.typed)

	if c.pending.Pending() {
		tk.Text("subscribing…")
	}

	if c.errText != "" {
		tk.Text("error: " + c.errText)
	}

	return true
}

// Close implements card.Finalizer.
func (c *AddCard) Close() {
	c.ref.Release()
}

// feedView is what the feed card shows; loaded off-thread as one unit.
type feedView struct {
	feed  Feed
	items []Item
}

// FeedCard is the persistent `rss-feed:<id>` card.
type FeedCard struct {
	card.Base

	reg  *registry.Registry
	ref  *HostRef
	host *Host
	id   int64

	view    *feedView
	errText string
	loading *task.Oneshot[feedView]
	ticker  *task.Worker
}

// NewFeedCard builds a card for the feed row named by the locator.
func NewFeedCard(locator string, ref *HostRef, reg *registry.Registry) (*FeedCard, error) {
	id, err := strconv.ParseInt(locator, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("rss-feed card: bad feed id %q: %w", locator, err)
	}

	host, err := ref.Acquire()
	if err != nil {
		return nil, err
	}

	// Fail loudly at creation when the id has no row; the URI would not be
	// re-openable.
	_, err = host.Feed(id)
	if err != nil {
		ref.Release()

		return nil, err
	}

	c := &FeedCard{
		Base: card.NewBase(fmt.Sprintf("rss-feed %d", id), 1),
		reg:  reg,
		ref:  ref,
		host: host,
		id:   id,
	}

	c.SetSlot(2, ui.RGBA{R: 0xE0, G: 0xAF, B: 0x68, A: 0xFF}) // item dates
	c.startLoad()
	c.startTicker()

	return c, nil
}

// URI implements card.Card.
func (c *FeedCard) URI() string {
	return fmt.Sprintf("rss-feed:%d", c.id)
}

func (c *FeedCard) startLoad() {
	host := c.host
	id := c.id

	c.loading = task.Go(func() (feedView, error) {
		feed, err := host.Feed(id)
		if err != nil {
			return feedView{}, err
		}

		items, err := host.Items(id, feedItemLimit)
		if err != nil {
			return feedView{}, err
		}

		return feedView{feed: feed, items: items}, nil
	})
}

func (c *FeedCard) startRefresh() {
	host := c.host
	id := c.id

	c.loading = task.Go(func() (feedView, error) {
		_, err := host.Refresh(id)
		if err != nil {
			return feedView{}, err
		}

		feed, err := host.Feed(id)
		if err != nil {
			return feedView{}, err
		}

		items, err := host.Items(id, feedItemLimit)
		if err != nil {
			return feedView{}, err
		}

		return feedView{feed: feed, items: items}, nil
	})
}

// startTicker runs the periodic background refresh. The worker polls its
// stop token and the global quitting flag every poll tick, well inside the
// 500 ms cancellation budget.
func (c *FeedCard) startTicker() {
	host := c.host
	id := c.id
	reg := c.reg

	c.ticker = task.StartWorker(func(stop <-chan struct{}) {
		next := time.Now().Add(refreshInterval)

		ticker := time.NewTicker(refreshPollTick)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			if reg.Pred(registry.SvcQuitting) {
				return
			}

			if time.Now().Before(next) {
				continue
			}

			next = time.Now().Add(refreshInterval)

			_, err := host.Refresh(id)
			if err != nil {
				logrus.WithError(err).WithField("feed", id).Warn("background refresh failed")
			}
		}
	})
}

// Render implements card.Card.
func (c *FeedCard) Render(tk ui.Toolkit) bool {
	_, keep := c.HandleFocused(tk, c.reg)
	if !keep {
		return false
	}

	if view, ok, err := c.loading.TryTake(); ok {
		if err != nil {
			c.errText = err.Error()
		} else {
			c.view = &view
			c.errText = ""
		}
	}

	if c.errText != "" {
		tk.Text("error: " + c.errText)
	}

	if c.view == nil {
		tk.Text("loading…")

		return true
	}

	feed := c.view.feed

	title := feed.Title
	if title == "" {
		title = feed.URL
	}

	tk.Text(title)
	tk.Text("updated " + humanize.Time(feed.LastUpdated))

	if !c.loading.Pending() && tk.Button("refresh") {
		c.startRefresh()
	}

	for _, item := range c.view.items {
		when := "undated"
		if !item.Published.IsZero() {
			when = humanize.Time(item.Published)
		}

		tk.TextColored(c.Slot(2), when)
		tk.Text("  " + item.Title)
	}

	return true
}

// Close implements card.Finalizer: stop the refresh worker, then drop the
// host reference.
func (c *FeedCard) Close() {
	c.ticker.Stop()
	c.ref.Release()
}
