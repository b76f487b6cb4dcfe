// Package rest talks to the organizer backend over JSON/HTTP.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"organizer/internal/cache"
	"organizer/internal/core"
	"organizer/internal/gateway"
	"organizer/internal/log"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
)

// Config configures a Client.
type Config struct {
	BaseURL string
	// Token returns the bearer token for each request. Nil sends none.
	Token      func(context.Context) (string, error)
	Timeout    time.Duration
	HTTPClient *http.Client
	// ListCache holds List answers until a mutation of the same resource.
	ListCache cache.Cache[[]core.Entity]
	Logger    *log.Logger
}

// StaticToken wraps a fixed token for Config.Token. Empty yields nil.
func StaticToken(token string) func(context.Context) (string, error) {
	if token == "" {
		return nil
	}
	return func(context.Context) (string, error) { return token, nil }
}

// Client implements gateway.Gateway. It never retries: a failed call is
// reported once and left to the caller.
type Client struct {
	base    *url.URL
	token   func(context.Context) (string, error)
	timeout time.Duration
	http    *http.Client
	lists   cache.Cache[[]core.Entity]
	logger  *log.Logger
}

var _ gateway.Gateway = (*Client)(nil)

// New validates cfg and returns a ready client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid gateway url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid gateway url %q: scheme must be http or https", cfg.BaseURL)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentGateway)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	// Wrap a copy so a shared client passed in keeps its own transport.
	wrapped := *hc
	wrapped.Transport = log.Transport(logger, hc.Transport)

	return &Client{
		base:    base,
		token:   cfg.Token,
		timeout: timeout,
		http:    &wrapped,
		lists:   cfg.ListCache,
		logger:  logger,
	}, nil
}

func (c *Client) Create(ctx context.Context, r core.Resource, e core.Entity) (core.Entity, error) {
	if err := r.Validate(); err != nil {
		return core.Entity{}, err
	}
	body := core.Entity{Fields: e.Fields}
	var out core.Entity
	if err := c.do(ctx, http.MethodPost, r.Path(), body, &out); err != nil {
		return core.Entity{}, fmt.Errorf("create %s: %w", r, err)
	}
	c.invalidate(r)
	return out, nil
}

func (c *Client) Update(ctx context.Context, r core.Resource, id string, patch core.Patch) (core.Entity, error) {
	if err := r.Validate(); err != nil {
		return core.Entity{}, err
	}
	var out core.Entity
	err := c.do(ctx, http.MethodPatch, r.Path()+"/"+url.PathEscape(id), core.Entity{Fields: patch}, &out)
	c.invalidate(r)
	if err != nil {
		return core.Entity{}, fmt.Errorf("update %s/%s: %w", r, id, err)
	}
	if out.ID == "" {
		out.ID = id
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, r core.Resource, id string) error {
	if err := r.Validate(); err != nil {
		return err
	}
	err := c.do(ctx, http.MethodDelete, r.Path()+"/"+url.PathEscape(id), nil, nil)
	c.invalidate(r)
	if r.Kind == core.KindLists {
		c.invalidate(core.Resource{Kind: core.KindItems, ListID: id})
	}
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", r, id, err)
	}
	return nil
}

// List returns the authoritative collection, served from the cache when a
// fresh answer is there.
func (c *Client) List(ctx context.Context, r core.Resource) ([]core.Entity, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if c.lists != nil {
		if cached, ok := c.lists.Get(cacheKey(r)); ok {
			return cloneAll(cached), nil
		}
	}

	var out []core.Entity
	if err := c.do(ctx, http.MethodGet, r.Path(), nil, &out); err != nil {
		return nil, fmt.Errorf("list %s: %w", r, err)
	}
	if c.lists != nil {
		c.lists.Set(cacheKey(r), cloneAll(out))
	}
	return out, nil
}

// Invalidate forgets cached List answers for r, for example after another
// client reported a change.
func (c *Client) Invalidate(r core.Resource) {
	c.invalidate(r)
}

func (c *Client) invalidate(r core.Resource) {
	if c.lists == nil {
		return
	}
	if n := c.lists.DeletePrefix(cacheKey(r)); n > 0 {
		c.logger.Debug("Invalidated cached list", log.FieldResource, r.Key())
	}
}

func (c *Client) do(ctx context.Context, method, path string, in any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return fmt.Errorf("get token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &gateway.Error{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorFromResponse pulls a human message out of an error body. JSON
// bodies with "error" or "message" are preferred over raw text.
func errorFromResponse(resp *http.Response) *gateway.Error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(data))

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil {
		switch {
		case payload.Message != "":
			msg = payload.Message
		case payload.Error != "":
			msg = payload.Error
		}
	}
	return &gateway.Error{Status: resp.StatusCode, Message: msg}
}

func cacheKey(r core.Resource) string {
	return r.Key() + "|"
}

func cloneAll(in []core.Entity) []core.Entity {
	out := make([]core.Entity, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}
