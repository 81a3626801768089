package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/memohai/unibox/internal/message"
)

// apiClient talks to a running unibox server.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, httpClient *http.Client) *apiClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &apiClient{baseURL: normalizeBaseURL(baseURL), http: httpClient}
}

func normalizeBaseURL(value string) string {
	return strings.TrimRight(strings.TrimSpace(value), "/")
}

// defaultAPIBaseURL turns a listen address into a URL a local client can dial.
func defaultAPIBaseURL(addr string) string {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return normalizeBaseURL(trimmed)
	}
	if strings.HasPrefix(trimmed, ":") {
		return "http://127.0.0.1" + trimmed
	}
	return "http://" + trimmed
}

func (c *apiClient) conversationPath(workspaceID, conversationID string) string {
	return c.baseURL + "/workspaces/" + url.PathEscape(workspaceID) + "/conversations/" + url.PathEscape(conversationID)
}

// websocketURL is the session endpoint of workspaceID with the scheme
// switched to ws or wss.
func (c *apiClient) websocketURL(workspaceID string) (string, error) {
	u, err := url.Parse(c.baseURL + "/workspaces/" + url.PathEscape(workspaceID) + "/ws")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

// History returns the latest page of a conversation.
func (c *apiClient) History(ctx context.Context, workspaceID, conversationID string, limit int) (message.History, error) {
	target := c.conversationPath(workspaceID, conversationID) + "/messages"
	if limit > 0 {
		target += "?limit=" + strconv.Itoa(limit)
	}
	var out message.History
	err := c.do(ctx, http.MethodGet, target, nil, &out)
	return out, err
}

// Send posts an outbound message; the server answers with the pending row.
func (c *apiClient) Send(ctx context.Context, workspaceID, conversationID string, in message.SendInput) (message.View, error) {
	var out message.View
	err := c.do(ctx, http.MethodPost, c.conversationPath(workspaceID, conversationID)+"/messages", in, &out)
	return out, err
}

func (c *apiClient) do(ctx context.Context, method, target string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apiError{Status: resp.StatusCode, Message: errorMessage(payload)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func errorMessage(payload []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(payload))
}
