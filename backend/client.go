// Package backend is the typed client of the lending REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const DefaultCookieName = "access_token"

// Client is shared by all sessions; it never carries credentials itself.
type Client struct {
	baseURL    *url.URL
	cookieName string
	timeout    time.Duration
	transport  http.RoundTripper
	logger     *zap.Logger
}

type Option func(*Client)

func WithCookieName(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.cookieName = name
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

func New(baseURL string, logger *zap.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url %q must be absolute", baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL:    u,
		cookieName: DefaultCookieName,
		timeout:    20 * time.Second,
		transport:  http.DefaultTransport,
		logger:     logger.Named("backend"),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string { return c.baseURL.String() }

// Session is one caller's view of the backend. Its cookie jar attaches the
// backend credential to every request, the way a browser would.
type Session struct {
	c   *Client
	hc  *http.Client
	jar http.CookieJar
}

// Session returns a backend session seeded with token. An empty token gives
// an anonymous session, e.g. for Login or SignUp.
func (c *Client) Session(token string) *Session {
	jar, _ := cookiejar.New(nil)
	if token != "" {
		jar.SetCookies(c.baseURL, []*http.Cookie{{Name: c.cookieName, Value: token, Path: "/"}})
	}
	return &Session{
		c:   c,
		jar: jar,
		hc:  &http.Client{Timeout: c.timeout, Transport: c.transport, Jar: jar},
	}
}

// Token returns the backend credential currently held by the jar.
func (s *Session) Token() string {
	for _, ck := range s.jar.Cookies(s.c.baseURL) {
		if ck.Name == s.c.cookieName {
			return ck.Value
		}
	}
	return ""
}

func (s *Session) url(path string, q url.Values) string {
	u := *s.c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// do sends one request and decodes a 2xx JSON body into out (if non-nil).
func (s *Session) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	op := method + " " + path
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &UnexpectedError{Op: op, Err: err}
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.url(path, q), body)
	if err != nil {
		return &UnexpectedError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.hc.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		s.c.logger.Warn("backend unreachable", zap.String("op", op), zap.Error(err))
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	s.c.logger.Debug("backend call",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RemoteError{Status: resp.StatusCode, Detail: parseDetail(raw)}
	}
	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return &UnexpectedError{Op: op, Err: errors.New("empty response body")}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &UnexpectedError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
