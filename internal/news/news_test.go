package news

import (
	"strings"
	"testing"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>"Bahnhofstrasse Zürich" - Google News</title>
<item>
  <title>Einbruch an der Bahnhofstrasse</title>
  <link>https://example.ch/artikel/123</link>
  <pubDate>Mon, 10 Aug 2026 06:30:00 GMT</pubDate>
  <source url="https://example.ch">Beispiel Zeitung</source>
  <description>&lt;a href="https://example.ch/artikel/123"&gt;Einbruch an der Bahnhofstrasse&lt;/a&gt;&amp;nbsp;&lt;font color="#6f6f6f"&gt;Beispiel Zeitung&lt;/font&gt;</description>
</item>
<item>
  <title>Zweiter Artikel</title>
  <link>https://example.ch/artikel/456</link>
  <pubDate>not a date</pubDate>
</item>
<item>
  <title>Dritter Artikel</title>
  <link>https://example.ch/artikel/789</link>
</item>
</channel></rss>`

func TestParseFeed(t *testing.T) {
	events, err := ParseFeed([]byte(sampleFeed), 10)
	if err != nil {
		t.Fatalf("ParseFeed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}

	first := events[0]
	if first.Title != "Einbruch an der Bahnhofstrasse" {
		t.Errorf("title = %q", first.Title)
	}
	if first.Source != "Beispiel Zeitung" {
		t.Errorf("source = %q", first.Source)
	}
	if first.PublishedAt != "2026-08-10T06:30:00Z" {
		t.Errorf("published_at = %q", first.PublishedAt)
	}
	if strings.Contains(first.Description, "<") || strings.Contains(first.Description, "font") {
		t.Errorf("description not cleaned: %q", first.Description)
	}

	if events[1].PublishedAt != "" {
		t.Errorf("unparseable pubDate must be dropped, got %q", events[1].PublishedAt)
	}
	if events[2].Source != "Google News" {
		t.Errorf("missing source must default to Google News, got %q", events[2].Source)
	}
}

func TestParseFeedLimit(t *testing.T) {
	events, err := ParseFeed([]byte(sampleFeed), 1)
	if err != nil {
		t.Fatalf("ParseFeed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("limit not applied: %d", len(events))
	}
	if events, _ := ParseFeed([]byte(sampleFeed), -5); len(events) != 0 {
		t.Errorf("negative limit must yield no events, got %d", len(events))
	}
}

func TestParseFeedRejectsGarbage(t *testing.T) {
	if _, err := ParseFeed([]byte("{not xml"), 5); err == nil {
		t.Error("expected parse error for non-XML input")
	}
}

func TestCleanDescription(t *testing.T) {
	got := CleanDescription(`<a href="x">Titel&nbsp;hier</a> <font color="#6f6f6f">Quelle</font>`)
	if strings.ContainsAny(got, "<>") {
		t.Errorf("markup left in description: %q", got)
	}
	if !strings.Contains(got, "Titel") || !strings.Contains(got, "Quelle") {
		t.Errorf("text lost: %q", got)
	}
	if CleanDescription("  ") != "" {
		t.Error("blank input must stay empty")
	}
}

func TestFeedURL(t *testing.T) {
	u := FeedURL("Bahnhofstrasse 12 Zürich Einbruch")
	for _, want := range []string{"hl=de-CH", "gl=CH", "ceid=CH%3Ade", "news.google.com/rss/search"} {
		if !strings.Contains(u, want) {
			t.Errorf("feed URL missing %q: %s", want, u)
		}
	}
}
