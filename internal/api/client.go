// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"grimm.is/flowbridge/internal/bridge"
	"grimm.is/flowbridge/internal/errors"
)

// Client talks to a running flowbridge API server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for the server at addr ("host:port" or a URL).
func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Status fetches the bridge status.
func (c *Client) Status(ctx context.Context) (*bridge.Status, error) {
	var st bridge.Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Flows fetches the current flow table snapshot.
func (c *Client) Flows(ctx context.Context) (*FlowsResponse, error) {
	var resp FlowsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/flows", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetActive toggles observation and returns the resulting status.
func (c *Client) SetActive(ctx context.Context, active bool) (*bridge.Status, error) {
	var st bridge.Status
	if err := c.do(ctx, http.MethodPut, "/api/v1/active", ActiveRequest{Active: &active}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SetTarget changes the target address and returns the resulting status.
func (c *Client) SetTarget(ctx context.Context, addr string) (*bridge.Status, error) {
	var st bridge.Status
	if err := c.do(ctx, http.MethodPut, "/api/v1/target", TargetRequest{TargetAddr: addr}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, errors.KindInternal, "encode request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, errors.KindValidation, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr ErrorResponse
		msg := resp.Status
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
			if apiErr.Details != "" {
				msg = fmt.Sprintf("%s: %s", apiErr.Error, apiErr.Details)
			}
		}
		return errors.New(kindFor(resp.StatusCode), msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.KindInternal, "decode response")
	}
	return nil
}

func kindFor(status int) errors.Kind {
	switch status {
	case http.StatusBadRequest:
		return errors.KindValidation
	case http.StatusNotFound:
		return errors.KindNotFound
	case http.StatusConflict:
		return errors.KindConflict
	case http.StatusServiceUnavailable:
		return errors.KindUnavailable
	default:
		return errors.KindInternal
	}
}
