// Package remote connects a client to a pairchat server: HTTPStore for the message api
// and PushConn for the websocket push stream.
package remote

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

	"github.com/mqy/pairchat/api"
	"github.com/mqy/pairchat/auth"
	"github.com/mqy/pairchat/model"
)

const (
	requestTimeout   = 10 * time.Second
	maxResponseBytes = 8 << 20
)

// APIError is a non 2xx answer of the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("http status %d", e.Status)
}

// HTTPStore implements chatsync.Store over the http api, signed in as one user.
type HTTPStore struct {
	base   string
	self   string
	client *http.Client
}

// NewHTTPStore takes the server root, like "http://localhost:5001". A nil client uses a
// default one with a request timeout.
func NewHTTPStore(baseURL, self string, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &HTTPStore{
		base:   strings.TrimRight(baseURL, "/") + api.BasePath,
		self:   self,
		client: client,
	}
}

func (s *HTTPStore) FetchUsers(ctx context.Context) ([]*model.User, error) {
	var users []*model.User
	if err := s.do(ctx, http.MethodGet, "/users", nil, "Failed to load users", &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *HTTPStore) FetchMessages(ctx context.Context, peer string) ([]*model.Message, error) {
	var msgs []*model.Message
	if err := s.do(ctx, http.MethodGet, "/"+url.PathEscape(peer), nil, "Failed to load messages", &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *HTTPStore) SendMessage(ctx context.Context, peer string, payload model.Payload) (*model.Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var msg model.Message
	if err := s.do(ctx, http.MethodPost, "/send/"+url.PathEscape(peer), body, "Failed to send message", &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *HTTPStore) do(ctx context.Context, method, path string, body []byte, fallback string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: s.self})

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s %s response error: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: fallback}
		var e model.ErrorMessage
		if json.Unmarshal(data, &e) == nil && e.Message != "" {
			apiErr.Code, apiErr.Message = e.Code, e.Message
		} else if text := strings.TrimSpace(string(data)); text != "" {
			apiErr.Message = text
		}
		return apiErr
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s response error: %w", method, path, err)
	}
	return nil
}
