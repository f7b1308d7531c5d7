// Package client provides the HTTP client for the console backend, with
// retry, online tracking, and auth.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/francetechnologie-boop/livechat-app-sub007/internal/logging"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/protocol"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/retry"
)

// Client provides the credentialed HTTP client for the console backend.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config

	mu        sync.RWMutex
	online    bool
	lastPing  time.Time
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		online:      true,
		authToken:   cfg.AuthToken,
	}
}

// SetAuthToken sets the bearer token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

// AuthToken returns the current bearer token ("" when signed out).
func (c *Client) AuthToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authToken
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// IsOnline returns true if the last request reached the server.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			logging.Info("backend is back online")
		} else {
			logging.Warn("backend is offline")
		}
	}
	c.online = online
	c.lastPing = time.Now()
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.setOnline(false)
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	c.setOnline(true)
	return nil
}

// doJSON performs one credentialed request and decodes a JSON response into
// out (skipped when out is nil). Failures are classified into APIError
// kinds; 5xx and transport failures are marked retryable.
func (c *Client) doJSON(ctx context.Context, method, op, path string, body, out interface{}) error {
	return retry.Do(ctx, c.retryConfig, func() error {
		var reqBody *bytes.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return &APIError{Kind: KindBadRequest, Op: op, Message: "encode request", Err: err}
			}
			reqBody = bytes.NewReader(data)
		} else {
			reqBody = bytes.NewReader(nil)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return &APIError{Kind: KindBadRequest, Op: op, Err: err}
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return retry.Retryable(&APIError{Kind: KindTransport, Op: op, Err: err})
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			apiErr := &APIError{
				Kind:   kindForStatus(resp.StatusCode),
				Status: resp.StatusCode,
				Op:     op,
			}
			var errResp protocol.ErrorResponse
			if json.NewDecoder(resp.Body).Decode(&errResp) == nil {
				apiErr.Message = errResp.Error
			}
			if resp.StatusCode >= 500 {
				c.setOnline(false)
				return retry.Retryable(apiErr)
			}
			// 4xx reached the server; it is not an outage.
			c.setOnline(true)
			return apiErr
		}

		c.setOnline(true)

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &APIError{Kind: KindServer, Status: resp.StatusCode, Op: op, Message: "decode response", Err: err}
		}
		return nil
	})
}

// Me fetches the current session. A KindAuth error means no valid session.
func (c *Client) Me(ctx context.Context) (*protocol.Session, error) {
	var session protocol.Session
	if err := c.doJSON(ctx, "GET", "me", "/api/me", nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// FetchTreeLevel fetches one sibling bucket of the sidebar tree.
func (c *Client) FetchTreeLevel(ctx context.Context, level int, parentEntryID string) (*protocol.TreeLevelResponse, error) {
	q := url.Values{}
	q.Set("level", strconv.Itoa(level))
	if parentEntryID != "" {
		q.Set("parent_entry_id", parentEntryID)
	}

	var resp protocol.TreeLevelResponse
	if err := c.doJSON(ctx, "GET", "sidebar/tree", "/api/sidebar/tree?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchLibrary fetches the generic library snapshot (attached and detached
// entries, each flagged).
func (c *Client) FetchLibrary(ctx context.Context) ([]*protocol.LibraryEntry, error) {
	var resp protocol.LibraryResponse
	if err := c.doJSON(ctx, "GET", "sidebar", "/api/sidebar", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// FetchSubmenus fetches the filtered unattached sub-menu list (admin only).
func (c *Client) FetchSubmenus(ctx context.Context) ([]*protocol.LibraryEntry, error) {
	var resp protocol.LibraryResponse
	if err := c.doJSON(ctx, "GET", "sidebar/submenus", "/api/sidebar/submenus", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// FetchLinks fetches the filtered unattached custom-link list (admin only).
func (c *Client) FetchLinks(ctx context.Context) ([]*protocol.LibraryEntry, error) {
	var resp protocol.LibraryResponse
	if err := c.doJSON(ctx, "GET", "sidebar/links", "/api/sidebar/links", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// AddLibraryEntry creates a detached library entry.
func (c *Client) AddLibraryEntry(ctx context.Context, req protocol.AddRequest) error {
	return c.doJSON(ctx, "POST", "sidebar/add", "/api/sidebar/add", req, nil)
}

// AttachEntry attaches or updates an entry at a tree slot.
func (c *Client) AttachEntry(ctx context.Context, req protocol.TreeAddRequest) error {
	return c.doJSON(ctx, "POST", "sidebar/tree/add", "/api/sidebar/tree/add", req, nil)
}

// DetachEntry unlinks an entry from its parent; it survives in the library.
func (c *Client) DetachEntry(ctx context.Context, req protocol.DetachRequest) error {
	return c.doJSON(ctx, "POST", "sidebar/tree/detach", "/api/sidebar/tree/detach", req, nil)
}

// ReorderSiblings applies a new order to one sibling bucket.
func (c *Client) ReorderSiblings(ctx context.Context, req protocol.ReorderRequest) error {
	return c.doJSON(ctx, "POST", "sidebar/tree/reorder", "/api/sidebar/tree/reorder", req, nil)
}

// DeleteEntry permanently deletes a library entry.
func (c *Client) DeleteEntry(ctx context.Context, req protocol.DeleteRequest) error {
	return c.doJSON(ctx, "POST", "sidebar/delete", "/api/sidebar/delete", req, nil)
}

// FetchModules fetches the installable modules and their active flags.
func (c *Client) FetchModules(ctx context.Context) ([]protocol.ModuleState, error) {
	var resp protocol.ModulesResponse
	if err := c.doJSON(ctx, "GET", "modules", "/api/modules", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Modules, nil
}

// FetchUIState fetches the server-held UI-state blob for an agent.
func (c *Client) FetchUIState(ctx context.Context, agentID string) (map[string]interface{}, error) {
	var resp protocol.UIStateResponse
	if err := c.doJSON(ctx, "GET", "uistate", "/api/uistate/"+url.PathEscape(agentID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Blob, nil
}

// PutUIState shallow-merges a patch into the server-held blob for an agent.
func (c *Client) PutUIState(ctx context.Context, agentID string, patch map[string]interface{}) error {
	return c.doJSON(ctx, "PUT", "uistate", "/api/uistate/"+url.PathEscape(agentID), protocol.UIStatePatch{Blob: patch}, nil)
}

// ReportDebug posts a captured error to the external debug collector. The
// call is best-effort and never retried.
func (c *Client) ReportDebug(ctx context.Context, report protocol.DebugReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/debug/report", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("collector returned %d", resp.StatusCode)
	}
	return nil
}
