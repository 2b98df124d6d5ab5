package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/batteryshark/agent-armory/pkg/registry"
)

// ScraperOptions configures the url_scraper tool.
type ScraperOptions struct {
	UserAgent       string
	MaxRetries      int
	RequestTimeout  time.Duration
	FollowRedirects bool
	// MaxContentSize caps the fetched body in bytes. Larger pages are
	// truncated, not failed.
	MaxContentSize int64

	// Client overrides the HTTP client. Mainly for tests.
	Client *http.Client
}

// DefaultScraperOptions mirror the tool's stock configuration file.
func DefaultScraperOptions() ScraperOptions {
	return ScraperOptions{
		UserAgent:       "Mozilla/5.0 (compatible; armory/1.0)",
		MaxRetries:      3,
		RequestTimeout:  10 * time.Second,
		FollowRedirects: true,
		MaxContentSize:  500_000,
	}
}

var titlePattern = regexp.MustCompile(`(?i)<title[^>]*>([^<]+)</title>`)

// ExtractTitle pulls the page title out of raw HTML, or "" when absent.
func ExtractTitle(html string) string {
	m := titlePattern.FindStringSubmatch(html)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

var antiBotIndicators = []string{
	"Attention Required! | Cloudflare",
	"Just a moment...",
	"Security check",
	"Please verify you are a human",
	"Access Denied",
	"Bot Protection",
}

// IsAntiBotPage reports whether the content looks like a bot-protection
// interstitial rather than the real page.
func IsAntiBotPage(content string) bool {
	for _, indicator := range antiBotIndicators {
		if strings.Contains(content, indicator) {
			return true
		}
	}
	return false
}

// ScraperDescriptor builds the url_scraper tool.
func ScraperDescriptor(opts ScraperOptions) registry.ToolDescriptor {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.MaxContentSize <= 0 {
		opts.MaxContentSize = DefaultScraperOptions().MaxContentSize
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultScraperOptions().RequestTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultScraperOptions().UserAgent
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.RequestTimeout}
	}
	if !opts.FollowRedirects {
		client = &http.Client{
			Timeout:   client.Timeout,
			Transport: client.Transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	return registry.ToolDescriptor{
		Name:        "url_scraper",
		Version:     "1.0.0",
		Description: "Safely scrape content from a given URL",
		Parameters: []registry.ToolParameter{
			{Name: "url", Type: "string", Description: "The URL to scrape", Required: true},
		},
		RateLimit: registry.RateLimitPolicy{
			Capacity:   50,
			RefillRate: 50.0 / 60.0,
			Mode:       registry.ModeReject,
		},
		Timeout: opts.RequestTimeout * time.Duration(opts.MaxRetries+1),
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			raw, _ := params["url"].(string)
			return scrape(ctx, client, opts, raw)
		},
	}
}

func scrape(ctx context.Context, client *http.Client, opts ScraperOptions, rawURL string) (interface{}, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid URL format: %q", rawURL)
	}

	var lastErr error
	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := fetchOnce(ctx, client, opts, rawURL)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Anti-bot pages will not go away on retry.
		if strings.Contains(err.Error(), "anti-bot") {
			return nil, err
		}
	}
	return nil, fmt.Errorf("scrape failed after %d attempts: %w", opts.MaxRetries, lastErr)
}

func fetchOnce(ctx context.Context, client *http.Client, opts ScraperOptions, rawURL string) (interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	// Read one byte past the cap to detect truncation without
	// downloading the rest.
	body, err := io.ReadAll(io.LimitReader(resp.Body, opts.MaxContentSize+1))
	if err != nil {
		return nil, err
	}
	truncated := int64(len(body)) > opts.MaxContentSize
	if truncated {
		body = body[:opts.MaxContentSize]
	}
	content := string(body)

	if IsAntiBotPage(content) {
		return nil, fmt.Errorf("anti-bot protection detected at %s", rawURL)
	}

	return map[string]interface{}{
		"status":    "success",
		"url":       resp.Request.URL.String(),
		"content":   content,
		"title":     ExtractTitle(content),
		"truncated": truncated,
	}, nil
}
