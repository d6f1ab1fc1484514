// Package transport is the HTTP client for the proof server.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AnonJon/oz-merkle-go/pkg/merkle"
	"github.com/AnonJon/oz-merkle-go/pkg/server"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides default retry settings
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     5,
	InitialBackoff:  100 * time.Millisecond,
	MaxBackoff:      5 * time.Second,
	BackoffMultiple: 2.0,
}

// StatusError is returned for a non-2xx reply that is not retried.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("proof server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Client talks to a proof server
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *zap.Logger
}

// NewClient creates a new transport client for the server at baseURL
func NewClient(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		retryConfig: DefaultRetryConfig,
		logger:      logger,
	}
}

// SetRetryConfig replaces the retry settings
func (c *Client) SetRetryConfig(cfg RetryConfig) {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	c.retryConfig = cfg
}

// SetHTTPClient replaces the underlying HTTP client
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// buildRequestURL constructs a full URL for a server endpoint
func (c *Client) buildRequestURL(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// do sends the request with retries on transport errors, 429 and 5xx, and
// decodes a JSON reply into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		payload = data
	}

	target := c.buildRequestURL(path, query)
	backoff := c.retryConfig.InitialBackoff
	var lastErr error

	for attempt := 0; attempt < c.retryConfig.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * c.retryConfig.BackoffMultiple)
			if backoff > c.retryConfig.MaxBackoff {
				backoff = c.retryConfig.MaxBackoff
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			c.logger.Sugar().Debugw("Request failed, retrying", "url", target, "attempt", attempt+1, "error", err)
			continue
		}

		err = c.handleResponse(resp, out)
		var se *StatusError
		if errors.As(err, &se) && retryable(se.StatusCode) {
			lastErr = err
			c.logger.Sugar().Debugw("Server error, retrying", "url", target, "attempt", attempt+1, "status", se.StatusCode)
			continue
		}
		return err
	}

	return fmt.Errorf("request to %s failed after %d attempts: %w", target, c.retryConfig.MaxAttempts, lastErr)
}

func (c *Client) handleResponse(resp *http.Response, out any) error {
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er server.ErrorResponse
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// CreateTree builds and stores a tree on the server
func (c *Client) CreateTree(ctx context.Context, req *server.CreateTreeRequest) (*server.TreeSummary, error) {
	var summary server.TreeSummary
	if err := c.do(ctx, http.MethodPost, "/trees", nil, req, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// ListTrees returns every stored tree
func (c *Client) ListTrees(ctx context.Context) ([]server.TreeSummary, error) {
	var resp server.ListTreesResponse
	if err := c.do(ctx, http.MethodGet, "/trees", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Trees, nil
}

// GetTree returns the summary of one tree
func (c *Client) GetTree(ctx context.Context, root merkle.Digest) (*server.TreeSummary, error) {
	var summary server.TreeSummary
	if err := c.do(ctx, http.MethodGet, "/trees/"+root.Hex(), nil, nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// DeleteTree removes a tree from the server
func (c *Client) DeleteTree(ctx context.Context, root merkle.Digest) error {
	return c.do(ctx, http.MethodDelete, "/trees/"+root.Hex(), nil, nil, nil)
}

// GetProof fetches the inclusion proof for the leaf at index
func (c *Client) GetProof(ctx context.Context, root merkle.Digest, index int) (*merkle.Proof, error) {
	var proof merkle.Proof
	query := url.Values{"index": []string{strconv.Itoa(index)}}
	if err := c.do(ctx, http.MethodGet, "/trees/"+root.Hex()+"/proof", query, nil, &proof); err != nil {
		return nil, err
	}
	return &proof, nil
}

// GetProofForLeaf fetches the inclusion proof for encoded leaf bytes
func (c *Client) GetProofForLeaf(ctx context.Context, root merkle.Digest, leaf []byte) (*merkle.Proof, error) {
	var proof merkle.Proof
	query := url.Values{"leaf": []string{hexutil.Encode(leaf)}}
	if err := c.do(ctx, http.MethodGet, "/trees/"+root.Hex()+"/proof", query, nil, &proof); err != nil {
		return nil, err
	}
	return &proof, nil
}

// GetMultiProof fetches a multiproof for several leaves
func (c *Client) GetMultiProof(ctx context.Context, root merkle.Digest, indices []int) (*merkle.MultiProof, error) {
	var mp merkle.MultiProof
	body := server.MultiProofRequest{Indices: indices}
	if err := c.do(ctx, http.MethodPost, "/trees/"+root.Hex()+"/multiproof", nil, body, &mp); err != nil {
		return nil, err
	}
	return &mp, nil
}

// Verify asks the server to check a single proof
func (c *Client) Verify(ctx context.Context, req *server.VerifyRequest) (bool, error) {
	var resp server.VerifyResponse
	if err := c.do(ctx, http.MethodPost, "/verify", nil, req, &resp); err != nil {
		return false, err
	}
	return resp.Valid, nil
}

// VerifyMulti asks the server to check a multiproof
func (c *Client) VerifyMulti(ctx context.Context, req *server.VerifyMultiRequest) (bool, error) {
	var resp server.VerifyResponse
	if err := c.do(ctx, http.MethodPost, "/verify/multi", nil, req, &resp); err != nil {
		return false, err
	}
	return resp.Valid, nil
}

// Health reports whether the server and its store are up
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}
