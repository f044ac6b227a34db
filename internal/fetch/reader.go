// Package fetch turns a write-up URL into text content. The primary path
// is a reader API that renders pages to markdown; when it is unreachable
// the client falls back to a direct GET with HTML text extraction.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

const (
	defaultReaderBase = "https://r.jina.ai"
	requestTimeout    = 60 * time.Second
	maxBodyBytes      = 4 << 20
	userAgent         = "labgenie/1.0"
)

// Error marks a content-fetch failure. It wraps the last underlying cause.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Client fetches write-up content.
type Client struct {
	http       *http.Client
	readerBase string
	log        *zap.Logger
}

// New builds a fetch client. readerBase overrides the reader endpoint;
// empty selects the default.
func New(readerBase string, log *zap.Logger) *Client {
	if readerBase == "" {
		readerBase = defaultReaderBase
	}
	return &Client{
		http:       &http.Client{Timeout: requestTimeout},
		readerBase: readerBase,
		log:        log,
	}
}

// Fetch returns the page content for url as text.
func (c *Client) Fetch(ctx context.Context, url string) (string, error) {
	text, readerErr := c.get(ctx, c.readerBase+"/"+url, true)
	if readerErr == nil {
		return text, nil
	}
	c.log.Warn("reader fetch failed, trying direct fetch",
		zap.String("url", url), zap.Error(readerErr))

	text, directErr := c.get(ctx, url, false)
	if directErr != nil {
		return "", &Error{URL: url, Err: fmt.Errorf("reader: %v; direct: %w", readerErr, directErr)}
	}
	return text, nil
}

// get performs one GET. Reader responses are already text; direct
// responses get their HTML stripped to visible text.
func (c *Client) get(ctx context.Context, url string, isReader bool) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxBodyBytes)
	if !isReader && strings.Contains(resp.Header.Get("Content-Type"), "html") {
		text, err := ExtractText(body)
		if err != nil {
			return "", fmt.Errorf("failed to extract text: %w", err)
		}
		if strings.TrimSpace(text) == "" {
			return "", fmt.Errorf("page yielded no visible text")
		}
		return text, nil
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty response body")
	}
	return text, nil
}

// ExtractText walks an HTML document and collects visible text, skipping
// script, style and chrome elements.
func ExtractText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "nav", "header", "footer", "iframe":
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteByte('\n')
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return b.String(), nil
}
