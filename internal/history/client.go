package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nexobay/courier/internal/protocol"
)

const defaultTimeout = 15 * time.Second

// Client fetches durable history and directory data from the courierd REST
// API. It is stateless apart from the bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ConversationSummary is one entry of the conversation seed, as the server
// reports it.
type ConversationSummary struct {
	OtherUserID   string `json:"otherUserId"`
	OtherUserName string `json:"otherUserName"`
	LastMessage   string `json:"lastMessage"`
	LastTimestamp int64  `json:"lastTimestamp"`
	UnreadCount   int    `json:"unreadCount"`
	IsLastFromMe  bool   `json:"isLastFromMe"`
}

// User is a directory search result.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// New creates a client for the given endpoint (the same http(s) base the
// websocket dials).
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// SetToken updates the bearer token after a session refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Conversations fetches the user's conversation seed, ordered by last
// activity descending.
func (c *Client) Conversations(ctx context.Context) ([]ConversationSummary, error) {
	var out []ConversationSummary
	if err := c.get(ctx, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Messages fetches one page of a conversation's history, oldest first.
// beforeTs of zero means the newest page; otherwise only messages strictly
// older than beforeTs are returned (keyset pagination).
func (c *Client) Messages(ctx context.Context, otherID string, beforeTs int64, limit int) ([]protocol.Message, error) {
	query := map[string]string{}
	if beforeTs > 0 {
		query["before"] = strconv.FormatInt(beforeTs, 10)
	}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}
	var out []protocol.Message
	if err := c.get(ctx, "/api/messages/"+url.PathEscape(otherID), query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchUsers queries the directory by name prefix.
func (c *Client) SearchUsers(ctx context.Context, prefix string) ([]User, error) {
	var out []User
	if err := c.get(ctx, "/api/users/search", map[string]string{"q": prefix}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: HTTP %d: %s", path, resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
