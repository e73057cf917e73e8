package yahoo

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/tickerlens/tickerlens/internal/core"
)

const newsCount = 10

// newsItem accepts both the nested "content" shape and the flat search shape.
type newsItem struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Link    string `json:"link"`
	Content *struct {
		ContentType  string `json:"contentType"`
		Title        string `json:"title"`
		Summary      string `json:"summary"`
		Description  string `json:"description"`
		CanonicalURL struct {
			URL string `json:"url"`
		} `json:"canonicalUrl"`
	} `json:"content"`
}

func (n newsItem) item() core.NewsItem {
	if n.Content != nil {
		return core.NewsItem{
			ContentType: n.Content.ContentType,
			Title:       n.Content.Title,
			Summary:     n.Content.Summary,
			Description: n.Content.Description,
			URL:         n.Content.CanonicalURL.URL,
		}
	}
	return core.NewsItem{
		ContentType: n.Type,
		Title:       n.Title,
		Summary:     n.Summary,
		URL:         n.Link,
	}
}

// News returns recent news items for ticker. Items of every content type are
// returned; callers filter.
func (c *Client) News(ctx context.Context, ticker string) ([]core.NewsItem, error) {
	query := url.Values{}
	query.Set("q", ticker)
	query.Set("quotesCount", "0")
	query.Set("newsCount", strconv.Itoa(newsCount))

	var resp struct {
		News []json.RawMessage `json:"news"`
	}
	if err := c.getJSON(ctx, "/v1/finance/search", query, false, &resp); err != nil {
		return nil, err
	}

	out := make([]core.NewsItem, 0, len(resp.News))
	for _, raw := range resp.News {
		var n newsItem
		if err := json.Unmarshal(raw, &n); err != nil {
			continue
		}
		out = append(out, n.item())
	}
	return out, nil
}
