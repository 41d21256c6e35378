// Package rss implements the feed reader cards and their shared host: one
// SQLite-backed controller deduplicated across cards through a weak
// reference, alive exactly as long as its longest-lived holder.
package rss

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"rouen/internal/blobcache"
	"rouen/internal/dbkit"
)

// Authoritative schema, shared with the repair path.
var (
	FeedTable = dbkit.Table{
		Name: "feed",
		Columns: `id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			last_updated INTEGER NOT NULL DEFAULT 0`,
	}

	ItemTable = dbkit.Table{
		Name: "item",
		Columns: `id INTEGER PRIMARY KEY AUTOINCREMENT,
			feed_id INTEGER NOT NULL,
			guid TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			link TEXT NOT NULL DEFAULT '',
			published INTEGER NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT '',
			UNIQUE(feed_id, guid)`,
	}
)

// Schema lists every rss table, for EnsureTable and Repair.
var Schema = []dbkit.Table{FeedTable, ItemTable}

const (
	fetchConnectTimeout = 10 * time.Second
	fetchTotalTimeout   = 30 * time.Second
)

// ErrFeedNotFound reports a feed id with no row.
var ErrFeedNotFound = errors.New("feed not found")

// Feed is one subscribed feed.
type Feed struct {
	ID          int64
	URL         string
	Title       string
	ImageURL    string
	LastUpdated time.Time
}

// Item is one feed entry. Published is the zero time when the feed's date
// format was not recognized; such items sort last.
type Item struct {
	ID          int64
	FeedID      int64
	GUID        string
	Title       string
	Link        string
	Published   time.Time
	Description string
}

// HostRef is the weak singleton handle cards hold. Acquire opens the
// underlying Host on the first holder; Release closes it with the last.
type HostRef struct {
	mu    sync.Mutex
	path  string
	blobs *blobcache.Cache
	host  *Host
	refs  int
}

// NewHostRef prepares a lazily-opened host for the database at path.
func NewHostRef(path string, blobs *blobcache.Cache) *HostRef {
	return &HostRef{path: path, blobs: blobs}
}

// Acquire returns the shared Host, opening it when no card holds it yet.
// Every Acquire must be paired with one Release.
func (r *HostRef) Acquire() (*Host, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.host == nil {
		host, err := openHost(r.path, r.blobs)
		if err != nil {
			return nil, err
		}

		r.host = host
	}

	r.refs++

	return r.host, nil
}

// Release drops one reference; the last one closes the Host.
func (r *HostRef) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refs == 0 {
		return
	}

	r.refs--

	if r.refs == 0 && r.host != nil {
		_ = r.host.close()
		r.host = nil
	}
}

// Host owns the rss database handle and the fetch client. Cards share one
// Host through a HostRef.
type Host struct {
	db     *dbkit.Handle
	blobs  *blobcache.Cache
	client *http.Client
}

func openHost(path string, blobs *blobcache.Cache) (*Host, error) {
	db, err := dbkit.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rss host: %w", err)
	}

	for _, table := range Schema {
		ensureErr := db.EnsureTable(table)
		if ensureErr != nil {
			_ = db.Close()

			return nil, fmt.Errorf("open rss host: %w", ensureErr)
		}
	}

	return &Host{
		db:    db,
		blobs: blobs,
		client: &http.Client{
			Timeout: fetchTotalTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: fetchConnectTimeout}).DialContext,
			},
		},
	}, nil
}

func (h *Host) close() error {
	return h.db.Close()
}

// Feed loads one feed row.
func (h *Host) Feed(id int64) (Feed, error) {
	var (
		feed  Feed
		found bool
	)

	err := h.db.Query(
		"SELECT id, url, title, image_url, last_updated FROM feed WHERE id = ?",
		func(rows *sql.Rows) error {
			found = true

			var updated int64

			scanErr := rows.Scan(&feed.ID, &feed.URL, &feed.Title, &feed.ImageURL, &updated)
			if scanErr != nil {
				return scanErr
			}

			feed.LastUpdated = time.Unix(updated, 0)

			return nil
		},
		id,
	)
	if err != nil {
		return Feed{}, fmt.Errorf("load feed %d: %w", id, err)
	}

	if !found {
		return Feed{}, fmt.Errorf("load feed %d: %w", id, ErrFeedNotFound)
	}

	return feed, nil
}

// Items loads up to limit items of a feed, newest first; undated items
// come last.
func (h *Host) Items(feedID int64, limit int) ([]Item, error) {
	var items []Item

	err := h.db.Query(
		`SELECT id, feed_id, guid, title, link, published, description
		 FROM item WHERE feed_id = ?
		 ORDER BY published DESC, id DESC LIMIT ?`,
		func(rows *sql.Rows) error {
			var (
				item      Item
				published int64
			)

			scanErr := rows.Scan(&item.ID, &item.FeedID, &item.GUID, &item.Title,
				&item.Link, &published, &item.Description)
			if scanErr != nil {
				return scanErr
			}

			if published > 0 {
				item.Published = time.Unix(published, 0)
			}

			items = append(items, item)

			return nil
		},
		feedID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("load items for feed %d: %w", feedID, err)
	}

	return items, nil
}

// ItemCount counts the stored items of a feed.
func (h *Host) ItemCount(feedID int64) (int64, error) {
	var count int64

	err := h.db.Query(
		"SELECT COUNT(*) FROM item WHERE feed_id = ?",
		func(rows *sql.Rows) error {
			return rows.Scan(&count)
		},
		feedID,
	)
	if err != nil {
		return 0, fmt.Errorf("count items for feed %d: %w", feedID, err)
	}

	return count, nil
}

// AddFeed subscribes url and returns the feed id. Re-adding an existing
// URL is idempotent: the row is reused and only last_updated advances on
// the following refresh.
func (h *Host) AddFeed(url string) (int64, error) {
	if url == "" {
		return 0, errors.New("add feed: url is empty")
	}

	err := h.db.Exec("INSERT OR IGNORE INTO feed (url) VALUES (?)", url)
	if err != nil {
		return 0, fmt.Errorf("add feed %q: %w", url, err)
	}

	var id int64

	err = h.db.Query(
		"SELECT id FROM feed WHERE url = ?",
		func(rows *sql.Rows) error {
			return rows.Scan(&id)
		},
		url,
	)
	if err != nil {
		return 0, fmt.Errorf("add feed %q: %w", url, err)
	}

	return id, nil
}
