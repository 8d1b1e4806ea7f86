package procure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is a non-2xx response from the server, carrying the envelope
// message and any per-field validation errors.
type APIError struct {
	StatusCode  int
	Message     string
	FieldErrors map[string][]string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("procure: %s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("procure: request failed with status %d", e.StatusCode)
}

// envelope mirrors the server's response wrapper.
type envelope struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Data    json.RawMessage     `json:"data"`
	Errors  map[string][]string `json:"errors"`
}

// Client talks to the procurement API. All request methods attach a
// bearer token obtained from the Session, refreshing it when needed.
type Client struct {
	baseURL string
	http    *http.Client
	session *Session
}

// NewClient builds a client bound to baseURL and persisting credentials
// in store. Pass nil for store to keep tokens in memory only.
func NewClient(baseURL string, store TokenStore) *Client {
	if store == nil {
		store = NewMemoryStore()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	c.session = NewSession(store, c)
	return c
}

// Session exposes the client's credential state for callers that need
// role or sign-in checks.
func (c *Client) Session() *Session {
	return c.session
}

// Login authenticates and stores the resulting token triple.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/user/login/", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var result struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
		Role    string `json:"role"`
	}
	if err := c.send(req, &result); err != nil {
		return "", err
	}
	if err := c.session.Establish(result.Access, result.Refresh, result.Role); err != nil {
		return "", err
	}
	return result.Role, nil
}

// Logout revokes the refresh token server-side and clears the store.
// Local state is cleared even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	refresh, _ := c.session.store.Get(KeyRefreshToken)
	defer c.session.Clear()
	if refresh == "" {
		return nil
	}
	body, err := json.Marshal(map[string]string{"refresh": refresh})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/user/logout/", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, nil)
}

// refreshTokens implements the refresher interface for Session.
func (c *Client) refreshTokens(ctx context.Context, refreshToken string) (string, string, error) {
	body, err := json.Marshal(map[string]string{"refresh": refreshToken})
	if err != nil {
		return "", "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/user/refresh/", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var result struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if err := c.send(req, &result); err != nil {
		return "", "", err
	}
	return result.Access, result.Refresh, nil
}

// get performs an authenticated GET and decodes the envelope data.
func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.sendAuthed(ctx, req, out)
}

// postForm performs an authenticated multipart or form POST/PATCH.
func (c *Client) postForm(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	return c.sendAuthed(ctx, req, out)
}

func (c *Client) sendAuthed(ctx context.Context, req *http.Request, out interface{}) error {
	token, err := c.session.ValidAccessToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out interface{}) error {
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return &APIError{StatusCode: res.StatusCode, Message: "unexpected response from server"}
		}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &APIError{
			StatusCode:  res.StatusCode,
			Message:     env.Message,
			FieldErrors: env.Errors,
		}
	}

	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}
