package rss

import (
	"encoding/xml"
	"errors"
	"strings"
	"time"
)

type parsedItem struct {
	GUID        string
	Title       string
	Link        string
	Published   time.Time
	Description string
}

type parsedFeed struct {
	Title    string
	ImageURL string
	Items    []parsedItem
}

type rssDoc struct {
	Channel struct {
		Title string `xml:"title"`
		Image struct {
			URL string `xml:"url"`
		} `xml:"image"`
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			GUID        string `xml:"guid"`
			PubDate     string `xml:"pubDate"`
			Description string `xml:"description"`
		} `xml:"item"`
	} `xml:"channel"`
}

type atomDoc struct {
	XMLName xml.Name `xml:"feed"`
	Title   string   `xml:"title"`
	Icon    string   `xml:"icon"`
	Entries []struct {
		Title string `xml:"title"`
		Links []struct {
			Rel  string `xml:"rel,attr"`
			Href string `xml:"href,attr"`
		} `xml:"link"`
		ID      string `xml:"id"`
		Updated string `xml:"updated"`
		Summary string `xml:"summary"`
	} `xml:"entry"`
}

var errUnrecognizedFeed = errors.New("neither RSS 2.0 nor Atom")

// parseFeed decodes an RSS 2.0 document, falling back to Atom.
func parseFeed(data []byte) (parsedFeed, error) {
	var rss rssDoc

	rssErr := xml.Unmarshal(data, &rss)
	if rssErr == nil && (rss.Channel.Title != "" || len(rss.Channel.Items) > 0) {
		out := parsedFeed{
			Title:    strings.TrimSpace(rss.Channel.Title),
			ImageURL: strings.TrimSpace(rss.Channel.Image.URL),
		}

		for _, item := range rss.Channel.Items {
			guid := strings.TrimSpace(item.GUID)
			if guid == "" {
				guid = strings.TrimSpace(item.Link)
			}

			out.Items = append(out.Items, parsedItem{
				GUID:        guid,
				Title:       strings.TrimSpace(item.Title),
				Link:        strings.TrimSpace(item.Link),
				Published:   parseDate(item.PubDate),
				Description: strings.TrimSpace(item.Description),
			})
		}

		return out, nil
	}

	var atom atomDoc

	atomErr := xml.Unmarshal(data, &atom)
	if atomErr == nil && (atom.Title != "" || len(atom.Entries) > 0) {
		out := parsedFeed{
			Title:    strings.TrimSpace(atom.Title),
			ImageURL: strings.TrimSpace(atom.Icon),
		}

		for _, entry := range atom.Entries {
			link := ""

			for _, l := range entry.Links {
				if l.Rel == "" || l.Rel == "alternate" {
					link = l.Href

					break
				}
			}

			guid := strings.TrimSpace(entry.ID)
			if guid == "" {
				guid = link
			}

			out.Items = append(out.Items, parsedItem{
				GUID:        guid,
				Title:       strings.TrimSpace(entry.Title),
				Link:        link,
				Published:   parseDate(entry.Updated),
				Description: strings.TrimSpace(entry.Summary),
			})
		}

		return out, nil
	}

	return parsedFeed{}, errUnrecognizedFeed
}

// dateFormats is the fallback ladder for feed timestamps, most common
// first.
var dateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	time.RFC822Z,
	time.RFC822,
	"2 Jan 2006 15:04:05 -0700",
	"2006-01-02 15:04:05",
}

// parseDate walks the format ladder. Unknown formats yield the zero time
// rather than "now": a wrong clock would reshuffle history on every
// refresh and mask the feed's bug.
func parseDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}

	for _, format := range dateFormats {
		t, err := time.Parse(format, raw)
		if err == nil {
			return t
		}
	}

	return time.Time{}
}
