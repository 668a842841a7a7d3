// Package api is the HTTP client for the family server. All mutations and
// queries go through a single RPC-style endpoint; the client owns token
// attachment, transparent refresh on 401 and failure classification.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

const (
	rpcPrefix       = "rpc/"
	refreshPath     = "api/refresh"
	defaultTimeout  = 30 * time.Second
	refreshHeadroom = 30 * time.Second
)

// Client talks to the family server. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	tokens     *TokenStore
	logger     zerolog.Logger
}

// NewClient validates the server URL and builds a client around the given
// token store.
func NewClient(baseURL string, tokens *TokenStore, logger zerolog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, ErrInvalidURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    u,
		tokens:     tokens,
		logger:     logger,
	}, nil
}

// Call invokes the named RPC with a JSON payload and decodes the response
// into out. out may be nil when the response body does not matter.
//
// A 401 triggers one transparent token refresh followed by a single retry;
// a second 401 surfaces ErrUnauthorized.
func (c *Client) Call(ctx context.Context, name string, payload, out any) error {
	if c.tokens.Access() != "" && c.tokens.ExpiresWithin(refreshHeadroom) {
		if err := c.RefreshTokens(ctx); err != nil {
			c.logger.Debug().Err(err).Msg("proactive token refresh failed")
		}
	}
	return c.call(ctx, name, payload, out, true)
}

func (c *Client) call(ctx context.Context, name string, payload, out any, retryOnAuthFailure bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(rpcPrefix+name), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if access := c.tokens.Access(); access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnectivityError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		if !retryOnAuthFailure {
			return ErrUnauthorized
		}
		if err := c.RefreshTokens(ctx); err != nil {
			return err
		}
		return c.call(ctx, name, payload, out, false)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &ServerError{Status: resp.StatusCode, Body: string(data)}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// RefreshTokens exchanges the refresh token for a new access token. The
// refresh token itself is long-lived and stays as is.
func (c *Client) RefreshTokens(ctx context.Context) error {
	refresh := c.tokens.Refresh()
	if refresh == "" {
		return ErrMissingRefreshToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(refreshPath), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+refresh)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnectivityError{Err: err}
	}
	defer resp.Body.Close()

	var decoded RefreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return &RefreshError{Message: fmt.Sprintf("decode refresh response: %v", err)}
	}
	if !decoded.Success || decoded.Token == "" {
		return &RefreshError{Message: decoded.Error}
	}

	if err := c.tokens.Set(ctx, decoded.Token, refresh); err != nil {
		c.logger.Error().Err(err).Msg("failed to persist refreshed tokens")
	}
	c.logger.Debug().Msg("access token refreshed")
	return nil
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() *url.URL { return c.baseURL }

// WebsocketURL derives the realtime endpoint from the server URL.
func (c *Client) WebsocketURL() string {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = joinPath(u.Path, "ws/chat")
	return u.String()
}

func (c *Client) endpoint(p string) string {
	u := *c.baseURL
	u.Path = joinPath(u.Path, p)
	return u.String()
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return "/" + p
	}
	if base[len(base)-1] == '/' {
		return base + p
	}
	return base + "/" + p
}
