// Package article publishes a static HTML gallery for batch-mode pushes
// via an external "instant-article" service, matching spec.md §4.6's
// batch-mode description and grounded concretely on
// original_source/notifier/telegram.py's generate_article (Telegraph API
// usage) per SPEC_FULL.md §4.6.
package article

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/kzmtkz/xppusher/pkg/platform"
	"github.com/kzmtkz/xppusher/pkg/xperrors"
)

// Publisher builds and hosts a gallery page for a batch of works,
// returning a link suitable for a chat message.
type Publisher interface {
	Publish(ctx context.Context, title string, works []platform.Work) (url string, err error)
}

// HTTPPublisher posts a generated HTML document to a Telegraph-compatible
// instant-article endpoint.
type HTTPPublisher struct {
	endpoint string
	token    string
	http     *http.Client
}

// NewHTTPPublisher builds an HTTPPublisher targeting endpoint
// (e.g. "https://api.telegra.ph") using token as the account access
// token.
func NewHTTPPublisher(endpoint, token string) *HTTPPublisher {
	return &HTTPPublisher{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		token:    token,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

var _ Publisher = (*HTTPPublisher)(nil)

// telegraphNode mirrors the minimal subset of Telegraph's Node
// structure this package emits: image and paragraph nodes.
type telegraphNode struct {
	Tag      string          `json:"tag,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Children []any           `json:"children,omitempty"`
}

// Publish renders works as a simple figure-per-work gallery and posts it
// to the configured instant-article endpoint, returning the published
// page URL.
func (p *HTTPPublisher) Publish(ctx context.Context, title string, works []platform.Work) (string, error) {
	content := buildContent(works)
	payload := map[string]any{
		"access_token": p.token,
		"title":        title,
		"author_name":  "xppusher",
		"content":      content,
		"return_content": false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal article payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/createPage", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build article request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", xperrors.NewTransientNetworkError("publish_article", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", xperrors.NewTransientNetworkError("publish_article", fmt.Errorf("status %d", resp.StatusCode))
	}

	var decoded struct {
		OK     bool `json:"ok"`
		Result struct {
			URL string `json:"url"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", xperrors.NewUpstreamContractError("article_response", err)
	}
	if !decoded.OK || decoded.Result.URL == "" {
		return "", xperrors.NewUpstreamContractError("article_response", fmt.Errorf("publish did not return a url"))
	}

	return decoded.Result.URL, nil
}

// buildContent renders one block per work: a cover image (when the work
// has one) and a caption line with title, author, bookmark count and id. This is the gallery body the batch-mode message
// links to.
func buildContent(works []platform.Work) []telegraphNode {
	nodes := make([]telegraphNode, 0, len(works)*2)
	for _, w := range works {
		if len(w.ImageURLs) > 0 {
			nodes = append(nodes, telegraphNode{
				Tag:   "img",
				Attrs: map[string]string{"src": w.ImageURLs[0]},
			})
		}
		caption := fmt.Sprintf("%s — %s (%d bookmarks) #%d", html.EscapeString(w.Title), html.EscapeString(w.AuthorName), w.BookmarkCount, w.ID)
		nodes = append(nodes, telegraphNode{
			Tag:      "p",
			Children: []any{caption},
		})
	}
	return nodes
}
