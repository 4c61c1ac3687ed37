package tools

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
)

const (
	// DuckDuckGoURL is the HTML-only search endpoint.
	DuckDuckGoURL = "https://html.duckduckgo.com/html/"

	noResults  = "No results found or unable to parse search results."
	maxEntries = 15
)

// WebSearchTool queries DuckDuckGo. It always requires approval.
type WebSearchTool struct {
	client   *http.Client
	endpoint string
}

// NewWebSearchTool uses client, or http.DefaultClient when nil.
func NewWebSearchTool(client *http.Client) *WebSearchTool {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebSearchTool{client: client, endpoint: DuckDuckGoURL}
}

// WithEndpoint points the tool at another DuckDuckGo-compatible page.
func (t *WebSearchTool) WithEndpoint(endpoint string) *WebSearchTool {
	t.endpoint = endpoint
	return t
}

func (t *WebSearchTool) Name() string { return "WebSearch" }
func (t *WebSearchTool) Description() string {
	return "Search the web for information. Use when you need current information, facts, documentation, or anything not in your training data. Requires user approval."
}

func (t *WebSearchTool) Parameters() map[string]any {
	return schema([]string{"query"}, map[string]map[string]any{
		"query": prop("string", "The search query"),
	})
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := stringParam(args, "query", "")
	if query == "" {
		return "", failf("Error: query is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return "", failf("Error performing search: %v", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	resp, err := t.client.Do(req)
	if err != nil {
		return "", failf("Error performing search: %v", err)
	}
	defer resp.Body.Close()
	return ParseSearchResults(resp.Body), nil
}

// ParseSearchResults extracts titles and snippets from a DuckDuckGo result
// page as a bullet list.
func ParseSearchResults(r io.Reader) string {
	doc, err := html.Parse(r)
	if err != nil {
		return noResults
	}

	var entries []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if len(entries) >= maxEntries {
			return
		}
		if n.Type == html.ElementNode {
			switch {
			case hasClass(n, "result__a"):
				if title := strings.TrimSpace(textContent(n)); title != "" {
					entries = append(entries, "• "+title)
				}
				return
			case hasClass(n, "result__snippet"):
				if snippet := snippetMarkdown(n); snippet != "" && len(entries) > 0 {
					entries = append(entries, "  "+snippet, "")
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if len(entries) == 0 {
		return noResults
	}
	return strings.TrimRight(strings.Join(entries, "\n"), "\n")
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

// snippetMarkdown converts the snippet's inner HTML, keeping emphasis.
func snippetMarkdown(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return strings.TrimSpace(textContent(n))
		}
	}
	md, err := htmltomarkdown.ConvertString(buf.String())
	if err != nil {
		return strings.TrimSpace(textContent(n))
	}
	return strings.Join(strings.Fields(md), " ")
}
