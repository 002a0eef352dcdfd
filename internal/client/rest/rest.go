// Package rest calls the server's request/response collaborators: the
// chat list, history pages and media upload grants.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hirewire/messaging/internal/common"
	"github.com/hirewire/messaging/internal/protocol"
)

// Client talks to the HTTP side of the messaging server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ChatItem is one entry of the server-built chat list.
type ChatItem struct {
	PeerID        string                  `json:"peerId"`
	Username      string                  `json:"username"`
	PhotoURL      string                  `json:"photoUrl,omitempty"`
	StatusText    string                  `json:"statusText,omitempty"`
	LastSeen      int64                   `json:"lastSeen"`
	LatestMessage *protocol.MessageRecord `json:"latestMessage,omitempty"`
	UnreadCount   int                     `json:"unreadCount"`
	IsContact     bool                    `json:"isContact"`
}

// ChatList returns the caller's conversations, most recent first.
func (c *Client) ChatList(ctx context.Context) ([]*ChatItem, error) {
	var body struct {
		Chats []*ChatItem `json:"chats"`
	}
	if err := c.getJSON(ctx, "/chat-list", &body); err != nil {
		return nil, err
	}
	return body.Chats, nil
}

// Messages fetches one server-side history page with a peer, newest
// first. Content in the records is still ciphertext.
func (c *Client) Messages(ctx context.Context, peerID string, limit, skip int) ([]*protocol.MessageRecord, bool, error) {
	var body struct {
		Messages []*protocol.MessageRecord `json:"messages"`
		HasMore  bool                      `json:"hasMore"`
	}
	path := fmt.Sprintf("/messages?recipientId=%s&limit=%d&skip=%d", peerID, limit, skip)
	if err := c.getJSON(ctx, path, &body); err != nil {
		return nil, false, err
	}
	return body.Messages, body.HasMore, nil
}

// PresignUpload asks for an upload grant. The returned storage key goes
// into the message content; the URL accepts one PUT.
func (c *Client) PresignUpload(ctx context.Context) (storageKey, uploadURL string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/media/presign", nil)
	if err != nil {
		return "", "", fmt.Errorf("build presign request: %w", err)
	}

	var body struct {
		StorageKey string `json:"storageKey"`
		UploadURL  string `json:"uploadUrl"`
	}
	if err := c.do(req, &body); err != nil {
		return "", "", err
	}
	return body.StorageKey, body.UploadURL, nil
}

// Upload PUTs the media bytes to a presigned URL. No bearer token here,
// the URL itself carries the grant.
func (c *Client) Upload(ctx context.Context, uploadURL string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.ContentLength = int64(len(data))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("media upload returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set(common.AuthorizationHeaderName, "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return common.ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return common.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", req.URL.Path, resp.StatusCode, raw)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
