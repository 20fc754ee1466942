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
)

const fetchUserAgent = "Mozilla/5.0 (compatible; FretCoach/1.0; +https://fretcoach.ai)"

//nolint:gochecknoglobals // compiled once
var (
	titleRegex      = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	scriptRegex     = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRegex      = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	tagRegex        = regexp.MustCompile(`<[^>]*>`)
	whitespaceRegex = regexp.MustCompile(`\s+`)

	ddgResultRegex  = regexp.MustCompile(`(?s)<a[^>]*class="result__a"[^>]*href="/l/\?uddg=([^"&]*)[^"]*"[^>]*>(.*?)</a>`)
	ddgSnippetRegex = regexp.MustCompile(`(?s)<[^>]*class="[^"]*snippet[^"]*"[^>]*>(.*?)</[a-z]+>`)
)

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}
}

func decodeEntities(s string) string {
	r := strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&apos;", "'",
	)
	return r.Replace(s)
}

// extractPageText strips scripts, styles and tags, decodes common entities
// and collapses whitespace.
func extractPageText(html string) string {
	html = scriptRegex.ReplaceAllString(html, "")
	html = styleRegex.ReplaceAllString(html, "")
	text := tagRegex.ReplaceAllString(html, " ")
	text = decodeEntities(text)
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(text, " "))
}

func extractPageTitle(html string) string {
	m := titleRegex.FindStringSubmatch(html)
	if len(m) < 2 {
		return "Untitled"
	}
	title := strings.TrimSpace(whitespaceRegex.ReplaceAllString(m[1], " "))
	if title == "" {
		return "Untitled"
	}
	return title
}

// FetchURLTool fetches a page and returns its readable text.
type FetchURLTool struct {
	httpClient   *http.Client
	maxBodyBytes int64
}

// NewFetchURLTool creates the fetch_url tool. A nil client uses a default
// with a 30s timeout and at most 5 redirects.
func NewFetchURLTool(client *http.Client) *FetchURLTool {
	if client == nil {
		client = newHTTPClient()
	}
	return &FetchURLTool{httpClient: client, maxBodyBytes: 2 * 1024 * 1024}
}

// Name returns the tool name.
func (t *FetchURLTool) Name() string {
	return ToolFetchURL
}

// Definition returns the tool definition for the model.
func (t *FetchURLTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolFetchURL,
		Description: "Fetch a URL and extract readable text content by stripping HTML tags.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"url": {Type: "string", Description: "URL to fetch"},
				"maxChars": {
					Type:        "number",
					Description: "Maximum characters to return (default: 4000)",
					Minimum:     bound(100),
				},
			},
			Required: []string{"url"},
		},
	}
}

// Exec fetches the page.
func (t *FetchURLTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	rawURL := stringArg(args, "url")
	maxChars := intArg(args, "maxChars", 4000)
	if maxChars < 100 {
		maxChars = 100
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, fmt.Errorf("URL must start with http:// or https://")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("URL fetch failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "text/plain") {
		return nil, fmt.Errorf("unsupported content type: %s", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	html := string(body)
	title := extractPageTitle(html)
	content := extractPageText(html)
	if r := []rune(content); len(r) > maxChars {
		content = string(r[:maxChars]) + "..."
	}
	return jsonResult(map[string]any{"content": content, "title": title})
}

// SearchWebTool searches the web through the DuckDuckGo HTML endpoint.
type SearchWebTool struct {
	httpClient *http.Client
	endpoint   string
}

// NewSearchWebTool creates the search_web tool.
func NewSearchWebTool(client *http.Client) *SearchWebTool {
	if client == nil {
		client = newHTTPClient()
	}
	return &SearchWebTool{httpClient: client, endpoint: "https://html.duckduckgo.com/html/"}
}

// WithEndpoint overrides the search endpoint. Tests only.
func (t *SearchWebTool) WithEndpoint(endpoint string) *SearchWebTool {
	t.endpoint = endpoint
	return t
}

// Name returns the tool name.
func (t *SearchWebTool) Name() string {
	return ToolSearchWeb
}

// Definition returns the tool definition for the model.
func (t *SearchWebTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolSearchWeb,
		Description: "Search the web using DuckDuckGo HTML and return top results with titles, URLs, and snippets.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"query": {Type: "string", Description: "Search query"},
				"count": {
					Type:        "number",
					Description: "Number of results to return (default: 5)",
					Minimum:     bound(1),
					Maximum:     bound(10),
				},
			},
			Required: []string{"query"},
		},
	}
}

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Exec runs the search.
func (t *SearchWebTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	query := stringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	count := intArg(args, "count", 5)
	if count < 1 {
		count = 1
	}
	if count > 10 {
		count = 10
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?q="+url.QueryEscape(query), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search failed: DuckDuckGo returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return jsonResult(map[string]any{"results": parseDuckDuckGo(string(body), count)})
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

func parseDuckDuckGo(html string, count int) []SearchResult {
	results := make([]SearchResult, 0, count)
	matches := ddgResultRegex.FindAllStringSubmatchIndex(html, -1)
	for i, m := range matches {
		if len(results) >= count {
			break
		}
		rawURL, err := url.QueryUnescape(html[m[2]:m[3]])
		if err != nil || !strings.HasPrefix(rawURL, "http") {
			continue
		}
		title := strings.TrimSpace(decodeEntities(tagRegex.ReplaceAllString(html[m[4]:m[5]], "")))
		if title == "" {
			continue
		}

		end := len(html)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		snippet := "No snippet available"
		if sm := ddgSnippetRegex.FindStringSubmatch(html[m[1]:end]); len(sm) > 1 {
			text := strings.TrimSpace(whitespaceRegex.ReplaceAllString(decodeEntities(tagRegex.ReplaceAllString(sm[1], "")), " "))
			if text != "" {
				snippet = clip(text, 200)
			}
		}
		results = append(results, SearchResult{Title: clip(title, 100), URL: rawURL, Snippet: snippet})
	}
	return results
}
