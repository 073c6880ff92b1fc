// Package youtube reads a video's title from its public watch page.
//
// No API key is involved: the page's <title> element already holds
// "<video title> - YouTube". This is scraping, so it can break whenever
// YouTube changes its markup; callers treat every error as "no title".
package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// ErrNoVideoID means the URL doesn't contain a recognisable video id.
var ErrNoVideoID = errors.New("youtube: no video id in url")

// ErrNoTitle means the page had no usable <title>.
var ErrNoTitle = errors.New("youtube: page has no title")

// videoIDPattern finds an 11-character id after "v=", "vi=" or a path slash.
// Covers watch?v=, youtu.be/, /embed/ and /shorts/ links.
var videoIDPattern = regexp.MustCompile(`(?:v=|vi=|/)([0-9A-Za-z_-]{11})`)

// maxPageBytes caps how much of the watch page we read. The <title> is in
// the head, well inside this.
const maxPageBytes = 2 << 20

// ExtractVideoID returns the first video id found in rawURL.
func ExtractVideoID(rawURL string) (string, bool) {
	m := videoIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Config holds the fetcher settings.
type Config struct {
	// BaseURL is the site root; tests point it at an httptest server.
	BaseURL string
	// UserAgent is sent with every request. YouTube serves a consent page
	// or nothing at all to clients that don't look like browsers.
	UserAgent string
	// Timeout bounds one page fetch.
	Timeout time.Duration
}

// DefaultConfig targets the real site.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "https://www.youtube.com",
		UserAgent: "Mozilla/5.0",
		Timeout:   10 * time.Second,
	}
}

// Fetcher implements titles.Fetcher for YouTube links.
type Fetcher struct {
	client *http.Client
	config Config
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
	}
}

// FetchTitle downloads the watch page for videoURL and returns its title
// with the " - YouTube" suffix removed.
func (f *Fetcher) FetchTitle(ctx context.Context, videoURL string) (string, error) {
	id, ok := ExtractVideoID(videoURL)
	if !ok {
		return "", ErrNoVideoID
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.config.BaseURL+"/watch?v="+id, nil)
	if err != nil {
		return "", fmt.Errorf("youtube: building request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept-Language", "en")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("youtube: fetching %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("youtube: fetching %s: status %d", id, resp.StatusCode)
	}

	title, err := parseTitle(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("youtube: parsing %s: %w", id, err)
	}
	return title, nil
}

// parseTitle returns the text of the first <title> element, trimmed and
// without the site suffix.
func parseTitle(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}

	node := findTitle(doc)
	if node == nil {
		return "", ErrNoTitle
	}

	var sb strings.Builder
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}

	title := strings.TrimSpace(sb.String())
	title = strings.TrimSpace(strings.TrimSuffix(title, "- YouTube"))
	if title == "" || title == "YouTube" {
		return "", ErrNoTitle
	}
	return title, nil
}

// findTitle does a depth-first walk for the first <title>. SVG <title>
// elements inside the body don't count.
func findTitle(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "title" && n.Namespace == "" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findTitle(c); found != nil {
			return found
		}
	}
	return nil
}
