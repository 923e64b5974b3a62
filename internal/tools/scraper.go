package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

// maxPageBytes bounds how much of a response the scraper reads.
const maxPageBytes = 5 << 20

// ScraperTool fetches a page outside the session browser and returns its
// readable text. It never touches the session's cookies or tabs.
type ScraperTool struct {
	Client    *http.Client
	UserAgent string
	policy    *bluemonday.Policy
}

func NewScraperTool() *ScraperTool {
	return &ScraperTool{
		Client:    &http.Client{Timeout: 30 * time.Second},
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36",
		policy:    bluemonday.StrictPolicy(),
	}
}

func (s *ScraperTool) Name() string {
	return "scraper"
}

func (s *ScraperTool) Description() string {
	return "Fetch a public URL without the session browser and return the article text. Use it to read documentation, not to act on pages."
}

func (s *ScraperTool) Parameters() map[string]any {
	return schema([]string{"url"}, map[string]any{
		"url": stringProp("Absolute http(s) URL of the page."),
	})
}

func (s *ScraperTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		URL string `json:"url"`
	}
	if err := decodeArgs(s.Name(), input, &args); err != nil {
		return "", err
	}
	pageURL, err := url.Parse(args.URL)
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") {
		return "", fmt.Errorf("scraper needs an absolute http(s) URL, got %q", args.URL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.UserAgent)

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxPageBytes), pageURL)
	if err != nil {
		return "", fmt.Errorf("extract article: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n", article.Title)
	if article.Excerpt != "" {
		fmt.Fprintf(&b, "EXCERPT: %s\n", s.policy.Sanitize(article.Excerpt))
	}
	b.WriteString("\n-- CONTENT --\n")
	b.WriteString(strings.TrimSpace(s.policy.Sanitize(article.TextContent)))
	return clip(b.String()), nil
}
