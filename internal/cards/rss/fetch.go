package rss

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"rouen/internal/dbkit"
)

const maxFeedSize = 8 << 20

// Refresh fetches the feed's URL and merges the parsed items into the
// store. The batch insert runs inside an explicit transaction; re-running
// a refresh with unchanged content inserts nothing new but still advances
// last_updated. Returns the number of items now stored for the feed.
func (h *Host) Refresh(feedID int64) (int64, error) {
	feed, err := h.Feed(feedID)
	if err != nil {
		return 0, err
	}

	body, err := h.fetch(feed.URL)
	if err != nil {
		return 0, err
	}

	parsed, err := parseFeed(body)
	if err != nil {
		return 0, fmt.Errorf("parse feed %q: %w", feed.URL, err)
	}

	err = h.storeRefresh(feedID, parsed)
	if err != nil {
		return 0, err
	}

	if parsed.ImageURL != "" && h.blobs != nil {
		// Prefetch is best effort; the entry is warm for whoever renders it.
		_, blobErr := h.blobs.Get(parsed.ImageURL)
		if blobErr != nil {
			logrus.WithError(blobErr).WithField("url", parsed.ImageURL).Debug("feed image prefetch failed")
		}
	}

	return h.ItemCount(feedID)
}

func (h *Host) fetch(url string) ([]byte, error) {
	resp, err := h.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %q: %w", url, err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed %q: status %s", url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("fetch feed %q: read body: %w", url, err)
	}

	return body, nil
}

// storeRefresh writes one refresh as a single transaction batch; on any
// failure the whole batch rolls back so a partial refresh never lands,
// even with concurrent refreshes sharing the handle.
func (h *Host) storeRefresh(feedID int64, parsed parsedFeed) error {
	err := h.db.WithTx(func(tx *dbkit.Tx) error {
		for _, item := range parsed.Items {
			if item.GUID == "" {
				continue
			}

			var published int64
			if !item.Published.IsZero() {
				published = item.Published.Unix()
			}

			insErr := tx.Exec(
				`INSERT OR IGNORE INTO item (feed_id, guid, title, link, published, description)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				feedID, item.GUID, item.Title, item.Link, published, item.Description,
			)
			if insErr != nil {
				return fmt.Errorf("insert item: %w", insErr)
			}
		}

		updErr := tx.Exec(
			"UPDATE feed SET title = ?, image_url = ?, last_updated = ? WHERE id = ?",
			parsed.Title, parsed.ImageURL, time.Now().Unix(), feedID,
		)
		if updErr != nil {
			return fmt.Errorf("update feed row: %w", updErr)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("refresh feed %d: %w", feedID, err)
	}

	return nil
}
