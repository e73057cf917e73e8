// Package yahoo implements core.Provider against the public Yahoo Finance
// JSON endpoints.
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tickerlens/tickerlens/internal/core"
)

const (
	defaultBaseURL   = "https://query2.finance.yahoo.com"
	defaultCookieURL = "https://fc.yahoo.com"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	maxErrorBody = 4 << 10
)

// StatusError is returned for non-success HTTP responses. A 429 renders as
// "Too Many Requests" so callers can classify it as transient.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("yahoo: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" && e.StatusCode != http.StatusTooManyRequests {
		msg += ": " + e.Body
	}
	return msg
}

// Client talks to Yahoo Finance. It is safe for concurrent use.
type Client struct {
	baseURL    string
	cookieURL  string
	httpClient HTTPClient
	header     http.Header

	mu      sync.Mutex
	crumb   string
	cookies []*http.Cookie
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL sets the API base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithCookieURL sets the URL used to obtain the session cookie.
func WithCookieURL(cookieURL string) ClientOption {
	return func(c *Client) {
		c.cookieURL = cookieURL
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithHeader sets headers sent with each request, replacing defaults of
// the same name.
func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		for key, values := range header {
			c.header.Del(key)
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// NewClient returns a client with sane defaults.
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		cookieURL:  defaultCookieURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		header:     http.Header{},
	}
	c.header.Set("User-Agent", defaultUserAgent)
	c.header.Set("Accept", "application/json")
	for _, option := range options {
		option(c)
	}
	return c
}

var _ core.Provider = (*Client)(nil)

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *apiError) err() error {
	if e == nil {
		return nil
	}
	if strings.EqualFold(e.Code, "Not Found") {
		return fmt.Errorf("%w: %s", core.ErrNotFound, e.Description)
	}
	return fmt.Errorf("yahoo: %s: %s", e.Code, e.Description)
}

// getJSON fetches path and decodes the body into out. When withCrumb is set
// the session crumb is appended and refreshed once on 401.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, withCrumb bool, out any) error {
	for attempt := 0; ; attempt++ {
		err := c.getJSONOnce(ctx, path, query, withCrumb, out)

		var statusErr *StatusError
		if withCrumb && attempt == 0 && errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized {
			c.resetSession()
			continue
		}
		return err
	}
}

func (c *Client) getJSONOnce(ctx context.Context, path string, query url.Values, withCrumb bool, out any) error {
	q := url.Values{}
	for key, values := range query {
		q[key] = append([]string(nil), values...)
	}

	var cookies []*http.Cookie
	if withCrumb {
		crumb, jar, err := c.session(ctx)
		if err != nil {
			return err
		}
		q.Set("crumb", crumb)
		cookies = jar
	}

	target := c.baseURL + path
	if encoded := q.Encode(); encoded != "" {
		target += "?" + encoded
	}

	res, err := c.do(ctx, target, cookies)
	if err != nil {
		return err
	}
	defer res.Body.Close() // nolint:errcheck // best-effort cleanup

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		// Yahoo answers unknown symbols with 404 and an error body.
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxErrorBody))
		return fmt.Errorf("%w: %s", core.ErrNotFound, path)
	default:
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return &StatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, target string, cookies []*http.Cookie) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	return res, nil
}

// session returns a crumb and the cookies it is bound to, fetching both on
// first use.
func (c *Client) session(ctx context.Context) (string, []*http.Cookie, error) {
	c.mu.Lock()
	if c.crumb != "" {
		crumb, cookies := c.crumb, c.cookies
		c.mu.Unlock()
		return crumb, cookies, nil
	}
	c.mu.Unlock()

	res, err := c.do(ctx, c.cookieURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("fetching session cookie: %w", err)
	}
	cookies := res.Cookies()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxErrorBody))
	_ = res.Body.Close()

	res, err = c.do(ctx, c.baseURL+"/v1/test/getcrumb", cookies)
	if err != nil {
		return "", nil, fmt.Errorf("fetching crumb: %w", err)
	}
	defer res.Body.Close() // nolint:errcheck // best-effort cleanup

	body, err := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	if err != nil {
		return "", nil, fmt.Errorf("reading crumb: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return "", nil, &StatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	crumb := strings.TrimSpace(string(body))
	if crumb == "" || strings.ContainsAny(crumb, "<{ ") {
		return "", nil, fmt.Errorf("yahoo: invalid crumb response")
	}

	c.mu.Lock()
	c.crumb = crumb
	c.cookies = cookies
	c.mu.Unlock()
	return crumb, cookies, nil
}

func (c *Client) resetSession() {
	c.mu.Lock()
	c.crumb = ""
	c.cookies = nil
	c.mu.Unlock()
}
