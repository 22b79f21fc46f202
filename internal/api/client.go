package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ripplechat/client-go/internal/log"
	"github.com/ripplechat/client-go/internal/protocol"
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

// Client talks to the backend's REST surface: idempotent queries for
// history and presence, plus the command endpoints. Query results fully
// replace local caches; the client itself holds no state.
type Client struct {
	base   string
	http   *http.Client
	logger zerolog.Logger
}

// APIError reports a non-2xx response.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Detail)
}

// UserStatus is one entry of a channel's online set.
type UserStatus struct {
	Username string    `json:"username"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"-"`
}

// MessageCreate is the payload for the REST message ingress.
type MessageCreate struct {
	Sender      string `json:"sender"`
	Content     string `json:"content"`
	Channel     string `json:"channel"`
	MessageType string `json:"message_type"`
}

// ProfileUpdate carries profile display fields for the update command.
type ProfileUpdate struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

func NewClient(base string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		base:   base,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With().Str(log.FieldComponent, "api").Logger(),
	}
}

// History fetches the newest window of a channel's persisted backlog.
// The limit is clamped to 1..100; 0 means the server default.
func (c *Client) History(ctx context.Context, channel string, limit int) ([]protocol.MessageEvent, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	endpoint := c.base + "/api/chat/history/" + url.PathEscape(channel) + "?limit=" + strconv.Itoa(limit)

	var body struct {
		Messages []struct {
			MessageID   string `json:"message_id"`
			Sender      string `json:"sender"`
			Content     string `json:"content"`
			Channel     string `json:"channel"`
			MessageType string `json:"message_type"`
			Timestamp   string `json:"timestamp"`
		} `json:"messages"`
		TotalCount int    `json:"total_count"`
		Channel    string `json:"channel"`
	}
	if err := c.get(ctx, endpoint, &body); err != nil {
		return nil, err
	}

	events := make([]protocol.MessageEvent, 0, len(body.Messages))
	for _, m := range body.Messages {
		messageType := m.MessageType
		if messageType == "" {
			messageType = protocol.TypeText
		}
		events = append(events, protocol.MessageEvent{
			Sender:      m.Sender,
			Content:     m.Content,
			Channel:     m.Channel,
			MessageType: messageType,
			Timestamp:   protocol.ParseTimestamp(m.Timestamp),
			MessageID:   m.MessageID,
		})
	}
	return events, nil
}

// OnlineUsers fetches the complete current online set for a channel.
func (c *Client) OnlineUsers(ctx context.Context, channel string) ([]UserStatus, error) {
	endpoint := c.base + "/api/users/online/" + url.PathEscape(channel)

	var body struct {
		Channel     string `json:"channel"`
		OnlineUsers []struct {
			Username string `json:"username"`
			Status   string `json:"status"`
			LastSeen string `json:"last_seen"`
		} `json:"online_users"`
		Count int `json:"count"`
	}
	if err := c.get(ctx, endpoint, &body); err != nil {
		return nil, err
	}

	users := make([]UserStatus, 0, len(body.OnlineUsers))
	for _, u := range body.OnlineUsers {
		users = append(users, UserStatus{
			Username: u.Username,
			Status:   u.Status,
			LastSeen: protocol.ParseTimestamp(u.LastSeen),
		})
	}
	return users, nil
}

// Channels fetches the list of active channels.
func (c *Client) Channels(ctx context.Context) ([]string, error) {
	var body struct {
		Channels []string `json:"channels"`
		Count    int      `json:"count"`
	}
	if err := c.get(ctx, c.base+"/api/chat/channels", &body); err != nil {
		return nil, err
	}
	return body.Channels, nil
}

// CreateMessage sends a message through the REST ingress, the alternate
// path to the live connection. Returns the canonical stored record.
func (c *Client) CreateMessage(ctx context.Context, msg MessageCreate) (protocol.MessageEvent, error) {
	if msg.MessageType == "" {
		msg.MessageType = protocol.TypeText
	}

	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Data    struct {
			MessageID   string `json:"message_id"`
			Sender      string `json:"sender"`
			Content     string `json:"content"`
			Channel     string `json:"channel"`
			MessageType string `json:"message_type"`
			Timestamp   string `json:"timestamp"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, c.base+"/api/chat/message", msg, &body); err != nil {
		return protocol.MessageEvent{}, err
	}

	return protocol.MessageEvent{
		Sender:      body.Data.Sender,
		Content:     body.Data.Content,
		Channel:     body.Data.Channel,
		MessageType: body.Data.MessageType,
		Timestamp:   protocol.ParseTimestamp(body.Data.Timestamp),
		MessageID:   body.Data.MessageID,
	}, nil
}

// DeleteMessage removes a message; the server broadcasts the deletion to
// the channel's live subscribers.
func (c *Client) DeleteMessage(ctx context.Context, messageID, channel string) error {
	endpoint := c.base + "/api/chat/message/" + url.PathEscape(messageID) +
		"?channel=" + url.QueryEscape(channel)
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// UpdateProfile updates profile metadata and returns the canonical record.
func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (ProfileUpdate, error) {
	var body struct {
		Success bool          `json:"success"`
		Data    ProfileUpdate `json:"data"`
	}
	endpoint := c.base + "/api/users/" + url.PathEscape(update.Username) + "/profile"
	if err := c.do(ctx, http.MethodPut, endpoint, update, &body); err != nil {
		return ProfileUpdate{}, err
	}
	return body.Data, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out interface{}) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, in, out interface{}) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := readDetail(resp.Body)
		c.logger.Warn().Int("status", resp.StatusCode).Str("endpoint", endpoint).Msg("request failed")
		return &APIError{Status: resp.StatusCode, Detail: detail}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readDetail(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 2048))
	if err != nil || len(data) == 0 {
		return ""
	}

	var body struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(data, &body) == nil && body.Detail != "" {
		return body.Detail
	}
	return string(data)
}
