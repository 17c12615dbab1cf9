// Package news collects incident hints from the Google News RSS search feed.
package news

import (
	"bytes"
	"context"
	"encoding/xml"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/openclaw/georanking/internal/httpclient"
	"github.com/openclaw/georanking/internal/sources"
)

const rssSearchURL = "https://news.google.com/rss/search"

// Event is a single news item relevant to the queried address or area.
type Event struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Source      string `json:"source"`
	PublishedAt string `json:"published_at,omitempty"`
	Description string `json:"description,omitempty"`
}

// Result bundles fetched events with their feed URL.
type Result struct {
	SourceURL string  `json:"source_url,omitempty"`
	Events    []Event `json:"events"`
	Error     string  `json:"error,omitempty"`
}

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Source      string `xml:"source"`
	PubDate     string `xml:"pubDate"`
	Description string `xml:"description"`
}

// Client fetches and parses the news feed through the shared HTTP client,
// which also provides the byte-level RSS disk cache.
type Client struct {
	HTTP     *httpclient.Client
	Registry *sources.Registry
}

func New(http *httpclient.Client, registry *sources.Registry) *Client {
	return &Client{HTTP: http, Registry: registry}
}

// FeedURL builds the Swiss-German news search feed URL for a query.
func FeedURL(query string) string {
	params := url.Values{}
	params.Set("q", query)
	params.Set("hl", "de-CH")
	params.Set("gl", "CH")
	params.Set("ceid", "CH:de")
	return rssSearchURL + "?" + params.Encode()
}

// Search fetches up to limit news events for a query. An empty query
// disables the source for this request.
func (c *Client) Search(ctx context.Context, sourceName, query string, limit int) Result {
	q := strings.TrimSpace(query)
	if q == "" {
		c.Registry.Disable(sourceName, "leerer Suchquery")
		return Result{}
	}

	feedURL := FeedURL(q)
	raw, err := c.HTTP.GetBytes(ctx, feedURL, sourceName, 0)
	if err != nil {
		c.Registry.NoteError(sourceName, feedURL, err.Error(), true)
		return Result{SourceURL: feedURL, Error: err.Error()}
	}

	events, err := ParseFeed(raw, limit)
	if err != nil {
		c.Registry.NoteError(sourceName, feedURL, "rss parse: "+err.Error(), true)
		return Result{SourceURL: feedURL, Error: err.Error()}
	}

	c.Registry.NoteSuccess(sourceName, feedURL, len(events), true)
	return Result{SourceURL: feedURL, Events: events}
}

// ParseFeed decodes an RSS document into events, normalizing timestamps to
// UTC ISO-8601 and de-noising the HTML descriptions.
func ParseFeed(raw []byte, limit int) ([]Event, error) {
	var feed rssFeed
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	decoder.Strict = false
	if err := decoder.Decode(&feed); err != nil {
		return nil, err
	}

	if limit < 0 {
		limit = 0
	}
	items := feed.Channel.Items
	if len(items) > limit {
		items = items[:limit]
	}

	events := make([]Event, 0, len(items))
	for _, item := range items {
		source := strings.TrimSpace(item.Source)
		if source == "" {
			source = "Google News"
		}
		events = append(events, Event{
			Title:       strings.TrimSpace(item.Title),
			URL:         strings.TrimSpace(item.Link),
			Source:      source,
			PublishedAt: parseRSSDatetime(item.PubDate),
			Description: CleanDescription(item.Description),
		})
	}
	return events, nil
}

// parseRSSDatetime converts an RFC 1123 pubDate to UTC ISO-8601 without
// sub-second precision. Unparseable values are dropped.
func parseRSSDatetime(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	t, err := mail.ParseDate(value)
	if err != nil {
		return ""
	}
	return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z07:00")
}

// CleanDescription extracts readable text from the HTML snippet Google News
// puts into item descriptions (anchor lists with font markup).
func CleanDescription(html string) string {
	html = strings.TrimSpace(html)
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	text := strings.TrimSpace(doc.Text())
	return strings.Join(strings.Fields(text), " ")
}
