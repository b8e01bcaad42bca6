package rest

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

	"bizyou-chat/internal/domain"
)

var ErrUnexpectedStatus = errors.New("unexpected status from message store")

// Client talks to the message store's HTTP API. It implements
// domain.MessageStore.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a store client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// FetchPage retrieves one page of messages for a room. Pure read; the
// caller owns retry policy.
func (c *Client) FetchPage(ctx context.Context, q domain.PageQuery) (domain.Page, error) {
	if q.Limit <= 0 {
		return domain.Page{}, domain.ErrInvalidInput
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("requester", q.RequesterID)
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}
	if q.IsGroup {
		params.Set("group", "true")
	}

	endpoint := fmt.Sprintf("%s/api/v1/rooms/%s/messages?%s",
		c.baseURL, url.PathEscape(q.RoomID), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Page{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Page{}, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Page{}, statusError(resp)
	}

	var page domain.Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return domain.Page{}, fmt.Errorf("failed to decode page: %w", err)
	}
	return page, nil
}

// InsertMessage persists one message row and returns the authoritative
// record with the server id and timestamp.
func (c *Client) InsertMessage(ctx context.Context, ins domain.MessageInsert) (domain.Message, error) {
	body, err := json.Marshal(ins)
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to marshal insert: %w", err)
	}

	endpoint := c.baseURL + "/api/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return domain.Message{}, statusError(resp)
	}

	var msg domain.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return domain.Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	return msg, nil
}

// UploadImage streams raw image bytes to the storage path and returns
// the public URL.
func (c *Client) UploadImage(ctx context.Context, r io.Reader, path string) (string, error) {
	endpoint := c.baseURL + "/api/v1/storage/" + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, r)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", statusError(resp)
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	return result.URL, nil
}

func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, resp.StatusCode, body.Error)
	}
	return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
}
