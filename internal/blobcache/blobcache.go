// Package blobcache is the content-addressed on-disk cache for downloaded
// binary objects, keyed by URL with a companion metadata table. The atomic
// rename performed by the write helper is the commit point; readers that
// find a swept file treat it as a cache miss.
package blobcache

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/natefinch/atomic"
	"github.com/sirupsen/logrus"

	"rouen/internal/dbkit"

	// Dimension probing for the formats feeds actually serve.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

const (
	defaultTTL     = 30 * 24 * time.Hour
	maxBlobSize    = 32 << 20
	connectTimeout = 10 * time.Second
	totalTimeout   = 30 * time.Second
)

// Schema is the authoritative blob metadata table, shared with Repair.
var Schema = dbkit.Table{
	Name: "blobs",
	Columns: `url TEXT PRIMARY KEY,
		file_path TEXT NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		mime TEXT NOT NULL,
		fetched_at INTEGER NOT NULL,
		last_accessed INTEGER NOT NULL`,
}

// ErrNotImage reports a downloaded blob whose dimensions could not be probed.
var ErrNotImage = errors.New("blob is not a decodable image")

// Entry describes a cached blob.
type Entry struct {
	Path   string
	Width  int
	Height int
	MIME   string
}

// Options tunes a Cache. Zero values select the defaults.
type Options struct {
	TTL    time.Duration    // eviction age, default 30 days
	Now    func() time.Time // clock, default time.Now
	Client *http.Client     // fetcher, default client with 10s/30s timeouts
}

// Cache is the URL-keyed blob cache. File I/O happens outside the metadata
// lock; the dbkit handle serializes table access.
type Cache struct {
	db     *dbkit.Handle
	dir    string
	ttl    time.Duration
	now    func() time.Time
	client *http.Client
}

// Open initializes the cache in dir, creating the metadata database and
// sweeping entries whose last access is older than the TTL.
func Open(dir string, opts Options) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("open blob cache: directory is empty")
	}

	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		return nil, fmt.Errorf("open blob cache: %w", err)
	}

	db, err := dbkit.Open(filepath.Join(dir, "blobs.sqlite"))
	if err != nil {
		return nil, fmt.Errorf("open blob cache: %w", err)
	}

	err = db.EnsureTable(Schema)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("open blob cache: %w", err)
	}

	c := &Cache{
		db:     db,
		dir:    dir,
		ttl:    opts.TTL,
		now:    opts.Now,
		client: opts.Client,
	}

	if c.ttl == 0 {
		c.ttl = defaultTTL
	}

	if c.now == nil {
		c.now = time.Now
	}

	if c.client == nil {
		c.client = &http.Client{
			Timeout: totalTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		}
	}

	sweepErr := c.sweep()
	if sweepErr != nil {
		logrus.WithError(sweepErr).Warn("blob cache sweep failed")
	}

	return c, nil
}

// Close releases the metadata database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached entry for url, fetching it on a miss. A metadata
// row whose file has been swept behaves as a miss, not an error.
func (c *Cache) Get(url string) (Entry, error) {
	if url == "" {
		return Entry{}, errors.New("blob get: url is empty")
	}

	entry, found, err := c.lookup(url)
	if err != nil {
		return Entry{}, err
	}

	if found {
		_, statErr := os.Stat(entry.Path)
		if statErr == nil {
			touchErr := c.db.Exec(
				"UPDATE blobs SET last_accessed = ? WHERE url = ?",
				c.now().Unix(), url,
			)
			if touchErr != nil {
				logrus.WithError(touchErr).WithField("url", url).Warn("blob touch failed")
			}

			return entry, nil
		}
	}

	return c.fetch(url)
}

func (c *Cache) lookup(url string) (Entry, bool, error) {
	var (
		entry Entry
		found bool
	)

	err := c.db.Query(
		"SELECT file_path, width, height, mime FROM blobs WHERE url = ?",
		func(rows *sql.Rows) error {
			found = true

			return rows.Scan(&entry.Path, &entry.Width, &entry.Height, &entry.MIME)
		},
		url,
	)
	if err != nil {
		return Entry{}, false, fmt.Errorf("blob lookup: %w", err)
	}

	return entry, found, nil
}

func (c *Cache) fetch(url string) (Entry, error) {
	resp, err := c.client.Get(url)
	if err != nil {
		return Entry{}, fmt.Errorf("blob fetch %q: %w", url, err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Entry{}, fmt.Errorf("blob fetch %q: status %s", url, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobSize))
	if err != nil {
		return Entry{}, fmt.Errorf("blob fetch %q: read body: %w", url, err)
	}

	config, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Entry{}, fmt.Errorf("blob fetch %q: %w: %w", url, ErrNotImage, err)
	}

	path := filepath.Join(c.dir, blobFileName(url, format))

	// atomic.WriteFile stages to a temp file in the same directory and
	// renames over path; the rename is the commit point.
	err = atomic.WriteFile(path, bytes.NewReader(data))
	if err != nil {
		return Entry{}, fmt.Errorf("blob store %q: %w", url, err)
	}

	now := c.now().Unix()
	mime := "image/" + format

	err = c.db.Exec(
		`INSERT INTO blobs (url, file_path, width, height, mime, fetched_at, last_accessed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET
		   file_path = excluded.file_path,
		   width = excluded.width,
		   height = excluded.height,
		   mime = excluded.mime,
		   fetched_at = excluded.fetched_at,
		   last_accessed = excluded.last_accessed`,
		url, path, config.Width, config.Height, mime, now, now,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("blob upsert %q: %w", url, err)
	}

	return Entry{Path: path, Width: config.Width, Height: config.Height, MIME: mime}, nil
}

// sweep deletes rows not accessed within the TTL and best-effort removes
// their files. Races with concurrent readers are expected; readers handle a
// missing file as a miss.
func (c *Cache) sweep() error {
	cutoff := c.now().Add(-c.ttl).Unix()

	type stale struct {
		url  string
		path string
	}

	var victims []stale

	err := c.db.Query(
		"SELECT url, file_path FROM blobs WHERE last_accessed < ?",
		func(rows *sql.Rows) error {
			var v stale

			scanErr := rows.Scan(&v.url, &v.path)
			if scanErr != nil {
				return scanErr
			}

			victims = append(victims, v)

			return nil
		},
		cutoff,
	)
	if err != nil {
		return fmt.Errorf("sweep select: %w", err)
	}

	for _, v := range victims {
		removeErr := os.Remove(v.path)
		if removeErr != nil && !os.IsNotExist(removeErr) {
			logrus.WithError(removeErr).WithField("path", v.path).Warn("sweep: file not removed")
		}

		deleteErr := c.db.Exec("DELETE FROM blobs WHERE url = ?", v.url)
		if deleteErr != nil {
			return fmt.Errorf("sweep delete: %w", deleteErr)
		}
	}

	if len(victims) > 0 {
		logrus.WithFields(logrus.Fields{
			"count": len(victims),
			"older": humanize.Time(time.Unix(cutoff, 0)),
		}).Info("blob cache swept")
	}

	return nil
}

func blobFileName(url, format string) string {
	sum := sha256.Sum256([]byte(url))

	return hex.EncodeToString(sum[:8]) + "." + format
}
