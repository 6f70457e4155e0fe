// Package client provides the HTTP client for the keyloom API, with retry,
// auth token handling, and online-state tracking.
package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/keyloom/keyloom/pkg/keytree"
	"github.com/keyloom/keyloom/pkg/models"
	"github.com/keyloom/keyloom/pkg/protocol"
	"github.com/keyloom/keyloom/pkg/retry"
)

// Client talks to a keyloom server. It is safe for concurrent use.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config
	logger      *zap.Logger

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
	Logger      *zap.Logger // nil disables client logging
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.Attempts == 0 {
		cfg.RetryConfig = retry.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
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
		logger:      cfg.Logger,
		online:      true,
		authToken:   cfg.AuthToken,
	}
}

// SetAuthToken sets the JWT auth token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
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
			c.logger.Info("server is back online")
		} else {
			c.logger.Warn("server is offline")
		}
	}
	c.online = online
	c.lastPing = time.Now()
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
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

// Login authenticates and stores the returned token for later requests.
func (c *Client) Login(ctx context.Context, username, password string) (*protocol.LoginResponse, error) {
	var out protocol.LoginResponse
	err := c.send(ctx, http.MethodPost, "/api/v1/auth/token", protocol.LoginRequest{
		Username: username,
		Password: password,
	}, &out)
	if err != nil {
		return nil, err
	}
	c.SetAuthToken(out.Token)
	return &out, nil
}

// LoadChildren fetches the direct children of a dotted key prefix. An empty
// parentPath lists the top-level forest. It satisfies keytree.Loader.
func (c *Client) LoadChildren(ctx context.Context, parentPath string) ([]keytree.Entry, error) {
	return retry.DoValue(ctx, c.retryConfig, func() ([]keytree.Entry, error) {
		u := c.baseURL + "/api/v1/keys/children?parent=" + url.QueryEscape(parentPath)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept-Encoding", "gzip")
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return nil, retry.Transient(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			c.setOnline(false)
			if resp.StatusCode >= 500 {
				return nil, retry.Transient(fmt.Errorf("server error: %d", resp.StatusCode))
			}
			return nil, apiError(resp)
		}
		c.setOnline(true)

		var reader io.Reader = resp.Body
		if resp.Header.Get("Content-Encoding") == "gzip" {
			gr, err := gzip.NewReader(resp.Body)
			if err != nil {
				return nil, err
			}
			defer gr.Close()
			reader = gr
		}

		var cr protocol.ChildrenResponse
		if err := json.NewDecoder(reader).Decode(&cr); err != nil {
			return nil, err
		}
		entries := make([]keytree.Entry, 0, len(cr.Entries))
		for _, e := range cr.Entries {
			entries = append(entries, keytree.Entry{
				FullPath:   e.FullPath,
				Segment:    e.Segment,
				IsFolder:   e.IsFolder,
				ChildCount: e.ChildCount,
			})
		}
		return entries, nil
	})
}

// CreateKey creates a translation key.
func (c *Client) CreateKey(ctx context.Context, path, description string) (*models.TranslationKey, error) {
	var out models.TranslationKey
	err := c.send(ctx, http.MethodPost, "/api/v1/keys", protocol.CreateKeyRequest{
		Path:        path,
		Description: description,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteKeys deletes the key at path and every key beneath it.
func (c *Client) DeleteKeys(ctx context.Context, path string) (*protocol.DeleteKeysResponse, error) {
	var out protocol.DeleteKeysResponse
	if err := c.send(ctx, http.MethodDelete, "/api/v1/keys/"+url.PathEscape(path), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchKeys searches key paths by substring.
func (c *Client) SearchKeys(ctx context.Context, query string, limit, offset int) (*protocol.SearchResponse, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var out protocol.SearchResponse
	if err := c.get(ctx, "/api/v1/keys/search?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Variants lists all variants of a key.
func (c *Client) Variants(ctx context.Context, path string) (*protocol.VariantListResponse, error) {
	var out protocol.VariantListResponse
	if err := c.get(ctx, "/api/v1/keys/"+url.PathEscape(path)+"/variants", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetVariant creates or updates one variant of a key.
func (c *Client) SetVariant(ctx context.Context, path string, req protocol.SetVariantRequest) (*models.Variant, error) {
	var out models.Variant
	if err := c.send(ctx, http.MethodPut, "/api/v1/keys/"+url.PathEscape(path)+"/variants", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Languages lists all configured languages.
func (c *Client) Languages(ctx context.Context) ([]models.Language, error) {
	var out []models.Language
	if err := c.get(ctx, "/api/v1/languages", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Jurisdictions lists all configured jurisdictions.
func (c *Client) Jurisdictions(ctx context.Context) ([]models.Jurisdiction, error) {
	var out []models.Jurisdiction
	if err := c.get(ctx, "/api/v1/jurisdictions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// get performs a retried GET and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.send(ctx, http.MethodGet, path, nil, out)
}

// send performs a retried request with an optional JSON body. Transport
// failures and 5xx responses are retried; 4xx responses fail immediately
// with the server's error message.
func (c *Client) send(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	return retry.Do(ctx, c.retryConfig, func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return retry.Transient(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			c.setOnline(false)
			return retry.Transient(fmt.Errorf("server error: %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			c.setOnline(true)
			return apiError(resp)
		}
		c.setOnline(true)

		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

// apiError converts a non-2xx response into an error carrying the server's
// message when one was sent.
func apiError(resp *http.Response) error {
	var er protocol.ErrorResponse
	if json.NewDecoder(resp.Body).Decode(&er) == nil && er.Error != "" {
		return fmt.Errorf("%s (status %d)", er.Error, resp.StatusCode)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
