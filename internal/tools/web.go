package tools

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	webMaxBytes   = 100 * 1024
	webTimeout    = 30 * time.Second
	webMaxRedirects = 5
)

// WebTool fetches a URL per spec §4.E's "web" contract: http/https only,
// 30s timeout, ≤5 redirects, response capped at 100KB, TLS 1.2+, HTML
// tag-stripped to text, JSON returned verbatim.
//
// An HTTP client with a redirect cap and content-type dispatch
// (JSON verbatim, HTML tag-stripped via golang.org/x/net/html, anything
// else as-is), rather than the fuller HTML-to-markdown conversion a
// browsing-focused tool might do.
type WebTool struct {
	client *http.Client
}

// NewWebTool builds a web tool with the spec-mandated timeout, redirect
// cap, and TLS floor.
func NewWebTool() *WebTool {
	return &WebTool{
		client: &http.Client{
			Timeout: webTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= webMaxRedirects {
					return fmt.Errorf("stopped after %d redirects", webMaxRedirects)
				}
				return nil
			},
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
	}
}

// webArgs is the struct invopop/jsonschema reflects into this tool's
// Parameters() schema.
type webArgs struct {
	URL string `json:"url" jsonschema:"required,description=The http(s) URL to fetch"`
}

func (t *WebTool) Name() string        { return "web" }
func (t *WebTool) Description() string { return "Fetch a URL and return its content as text" }
func (t *WebTool) Parameters() map[string]interface{} {
	return schemaFor(webArgs{})
}

func (t *WebTool) Execute(ctx context.Context, _ ExecutionContext, argsJSON string) *Result {
	args, err := DecodeArgs(argsJSON)
	if err != nil {
		return KindResult(ErrInvalidArguments, err.Error())
	}

	raw, _ := args["url"].(string)
	if raw == "" {
		return KindResult(ErrInvalidArguments, "url is required")
	}

	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return KindResult(ErrInvalidArguments, "url must be http or https")
	}

	reqCtx, cancel := context.WithTimeout(ctx, webTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, raw, nil)
	if err != nil {
		return KindResult(ErrExecutionFailed, err.Error())
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return KindResult(ErrTimeout, fmt.Sprintf("fetching %s timed out", raw))
		}
		return KindResult(ErrExecutionFailedRecoverable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return KindResult(ErrExecutionFailedRecoverable, fmt.Sprintf("fetch failed: http %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return KindResult(ErrExecutionFailed, fmt.Sprintf("fetch failed: http %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, webMaxBytes))
	if err != nil {
		return KindResult(ErrExecutionFailed, fmt.Sprintf("reading response: %v", err))
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "json") {
		return SilentResult(string(body))
	}
	if strings.Contains(contentType, "html") {
		return SilentResult(stripHTMLTags(body))
	}
	return SilentResult(string(body))
}

// stripHTMLTags walks the tokenizer and emits only text nodes, collapsing
// script/style contents. Entity decoding is whatever golang.org/x/net/html's
// tokenizer performs internally (e.g. &amp; -> &) — no separate DOM-walking
// entity pass is layered on top.
func stripHTMLTags(body []byte) string {
	tokenizer := html.NewTokenizer(strings.NewReader(string(body)))
	var b strings.Builder
	skipDepth := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return strings.TrimSpace(collapseWhitespace(b.String()))
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(tokenizer.Text())
				b.WriteString(" ")
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				if tt == html.StartTagToken {
					skipDepth++
				}
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skipDepth > 0 {
				skipDepth--
			}
		}
	}
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
