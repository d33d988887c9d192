// Package cartremote is the HTTP client side of the cartserver API and
// implements cartsync.RemoteStore.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartremote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mobiletoly/go-cartsync/cartserver"
	"github.com/mobiletoly/go-cartsync/cartsync"
)

var (
	ErrNotConfigured = errors.New("remote store not configured")
	ErrNotFound      = errors.New("remote record not found")
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// Client talks to a cartserver instance. An empty BaseURL means the remote
// is not configured and every call fails with ErrNotConfigured.
type Client struct {
	BaseURL string
	Token   func(context.Context) (string, error) // returns JWT
	HTTP    *http.Client
	logger  *slog.Logger
}

var _ cartsync.RemoteStore = (*Client)(nil)

// NewClient builds a client whose requests are bounded by timeout.
func NewClient(baseURL string, tok func(ctx context.Context) (string, error), timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   tok,
		HTTP:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// StaticToken returns a token source for a fixed bearer token.
func StaticToken(token string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return token, nil }
}

func (c *Client) IsConfigured() bool {
	return c != nil && c.BaseURL != ""
}

func (c *Client) FetchAll(ctx context.Context, table cartsync.Table) ([]json.RawMessage, error) {
	var resp cartserver.ListResponse
	if err := c.do(ctx, http.MethodGet, "/v1/"+url.PathEscape(string(table)), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", table, err)
	}
	if resp.Records == nil {
		resp.Records = []json.RawMessage{}
	}
	return resp.Records, nil
}

func (c *Client) PushBatch(ctx context.Context, table cartsync.Table, records []json.RawMessage) error {
	if len(records) == 0 {
		return nil
	}
	var resp cartserver.BatchResponse
	req := cartserver.BatchRequest{Records: records}
	if err := c.do(ctx, http.MethodPost, "/v1/"+url.PathEscape(string(table))+"/batch", &req, &resp); err != nil {
		return fmt.Errorf("failed to push %s: %w", table, err)
	}
	if resp.Accepted != len(records) {
		return fmt.Errorf("failed to push %s: server accepted %d of %d records", table, resp.Accepted, len(records))
	}
	return nil
}

func (c *Client) DeleteByID(ctx context.Context, table cartsync.Table, id string) error {
	path := "/v1/" + url.PathEscape(string(table)) + "/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", table, id, err)
	}
	return nil
}

func (c *Client) FindUserByPin(ctx context.Context, pin string) (*cartsync.User, error) {
	var u cartsync.User
	err := c.do(ctx, http.MethodGet, "/v1/users/by-pin/"+url.PathEscape(pin), nil, &u)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up pin: %w", err)
	}
	return &u, nil
}

// Health calls GET /health without credentials.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.Token != nil && path != "/health" {
		token, err := c.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get JWT token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/v1/users/by-pin/") {
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		serr := &StatusError{StatusCode: resp.StatusCode, Message: string(raw)}
		var envelope cartserver.ErrorResponse
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != "" {
			serr.Code, serr.Message = envelope.Error, envelope.Message
		}
		c.logger.Debug("Remote call failed", "method", method, "path", path, "status", resp.StatusCode, "code", serr.Code)
		return serr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
