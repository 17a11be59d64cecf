// Package client talks to a running membership ledger over HTTP.
package client

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

	"github.com/gymchain/gymchain-ledger/internal/protocol"
)

const (
	writeTokenHeader = "X-Gymchain-Write-Token"
	maxResponseBytes = 4 << 20
)

// APIError is a non-2xx response from the ledger.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Retryable  bool
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("ledger returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("ledger returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

type Client struct {
	baseURL    string
	writeToken string
	http       *http.Client
}

type Option func(*Client)

func WithWriteToken(token string) Option {
	return func(c *Client) { c.writeToken = strings.TrimSpace(token) }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse ledger url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("ledger url must be http or https, got %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) AddMembership(ctx context.Context, req protocol.AddMembershipRequest) (protocol.AddMembershipResponse, error) {
	var resp protocol.AddMembershipResponse
	raw, err := json.Marshal(req)
	if err != nil {
		return resp, err
	}
	err = c.do(ctx, http.MethodPost, "/add_membership", nil, bytes.NewReader(raw), &resp)
	return resp, err
}

func (c *Client) VerifyMembership(ctx context.Context, memberID string) (protocol.VerifyMembershipResponse, error) {
	var resp protocol.VerifyMembershipResponse
	err := c.do(ctx, http.MethodGet, "/verify_membership", url.Values{"member_id": {memberID}}, nil, &resp)
	return resp, err
}

func (c *Client) ChainValid(ctx context.Context) (protocol.ChainValidResponse, error) {
	var resp protocol.ChainValidResponse
	err := c.do(ctx, http.MethodGet, "/chain_valid", nil, nil, &resp)
	return resp, err
}

// Blocks lists the newest blocks first. A lastN of zero uses the server
// default.
func (c *Client) Blocks(ctx context.Context, lastN int) ([]protocol.Block, error) {
	var q url.Values
	if lastN != 0 {
		q = url.Values{"last": {strconv.Itoa(lastN)}}
	}
	var blocks []protocol.Block
	err := c.do(ctx, http.MethodGet, "/blocks", q, nil, &blocks)
	return blocks, err
}

func (c *Client) Health(ctx context.Context) (protocol.HealthResponse, error) {
	var resp protocol.HealthResponse
	err := c.do(ctx, http.MethodGet, "/healthz", nil, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		if c.writeToken != "" {
			req.Header.Set(writeTokenHeader, c.writeToken)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeAPIError(status int, raw []byte) error {
	apiErr := &APIError{StatusCode: status}
	var body protocol.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Code != "" {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
		apiErr.Retryable = body.Error.Retryable
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(raw))
	if len(apiErr.Message) > 256 {
		apiErr.Message = apiErr.Message[:256]
	}
	return apiErr
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
