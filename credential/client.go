package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client implements Store over the HTTP credential API, for callers that
// run in a different process than the protocol servers.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ Store = (*Client)(nil)

// NewClient returns a Store talking to the credential API at baseURL,
// e.g. "http://127.0.0.1:8980", authenticating with the bearer apiKey.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type userRequest struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password"`
}

func (c *Client) Authenticate(ctx context.Context, username, password string) (bool, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/api/v1/auth", userRequest{Username: username, Password: password})
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		var result struct {
			Authenticated bool `json:"authenticated"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			return false, fmt.Errorf("credential api: malformed auth response: %w", err)
		}
		return result.Authenticated, nil
	case http.StatusUnauthorized:
		return false, nil
	default:
		return false, fmt.Errorf("credential api: unexpected status %d", status)
	}
}

func (c *Client) CreateUser(ctx context.Context, username, password string) (bool, error) {
	status, _, err := c.do(ctx, http.MethodPost, "/api/v1/users", userRequest{Username: username, Password: password})
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusCreated:
		return true, nil
	case http.StatusConflict:
		return false, nil
	default:
		return false, fmt.Errorf("credential api: unexpected status %d", status)
	}
}

func (c *Client) UpdateUser(ctx context.Context, username, newPassword string) (bool, error) {
	status, _, err := c.do(ctx, http.MethodPut, "/api/v1/users/"+url.PathEscape(username), userRequest{Password: newPassword})
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("credential api: unexpected status %d", status)
	}
}

func (c *Client) DeleteUser(ctx context.Context, username string) (bool, error) {
	status, _, err := c.do(ctx, http.MethodDelete, "/api/v1/users/"+url.PathEscape(username), nil)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("credential api: unexpected status %d", status)
	}
}

func (c *Client) UserExists(ctx context.Context, username string) (bool, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/api/v1/users/"+url.PathEscape(username)+"/exists", nil)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("credential api: unexpected status %d", status)
	}
	var result struct {
		Exists bool `json:"exists"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return false, fmt.Errorf("credential api: malformed exists response: %w", err)
	}
	return result.Exists, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var reqBody *bytes.Buffer
	if payload != nil {
		reqBody = &bytes.Buffer{}
		if err := json.NewEncoder(reqBody).Encode(payload); err != nil {
			return 0, nil, err
		}
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("credential api: %w", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return 0, nil, fmt.Errorf("credential api: reading response: %w", err)
	}
	return resp.StatusCode, buf.Bytes(), nil
}
