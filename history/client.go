// Package history retrieves persisted conversation messages over the chat
// server's REST boundary and carries the outbound send path. Credentials ride
// on the shared cookie jar; the package never manages tokens itself.
package history

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
	"time"

	"chatsync/models"
)

const (
	// DefaultPageLimit is the page size used when the caller passes 0.
	DefaultPageLimit = 50

	defaultRequestTimeout = 15 * time.Second
)

// Page is one fetched slice of a conversation's history, oldest-first as
// returned by the server. The client never re-sorts it.
type Page struct {
	Messages   []models.Message
	Pagination models.PaginationState
}

// SendRequest is the outbound message submission.
type SendRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	MessageType    string `json:"messageType"`
	FileURL        string `json:"fileUrl,omitempty"`
	FileName       string `json:"fileName,omitempty"`
}

// ClientOptions configures the REST client.
type ClientOptions struct {
	// BaseURL is the REST endpoint root, e.g. https://host/api.
	BaseURL string
	// Jar carries the ambient session cookies; share it with the live
	// channel dialer.
	Jar http.CookieJar
	// HTTPClient overrides the default client (tests); Jar is ignored then.
	HTTPClient *http.Client
	// PageLimit is the default history page size.
	PageLimit int
}

// Client fetches history pages and posts new messages.
type Client struct {
	baseURL    string
	httpClient *http.Client
	pageLimit  int
}

// NewClient validates options and builds a history client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("history: base URL is required")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("history: parse base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("history: base URL %q must be absolute", opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultRequestTimeout,
			Jar:     opts.Jar,
		}
	}
	pageLimit := opts.PageLimit
	if pageLimit <= 0 {
		pageLimit = DefaultPageLimit
	}

	return &Client{
		baseURL:    base.String(),
		httpClient: httpClient,
		pageLimit:  pageLimit,
	}, nil
}

// PageLimit returns the configured default page size.
func (c *Client) PageLimit() int {
	return c.pageLimit
}

type fetchResponse struct {
	Success    bool                   `json:"success"`
	Messages   []models.Message       `json:"messages"`
	Pagination models.PaginationState `json:"pagination"`
}

type sendResponse struct {
	Success bool           `json:"success"`
	Message models.Message `json:"message"`
}

// FetchPage retrieves one page of the conversation's persisted messages.
// Pages start at 1; limit 0 means the client default.
func (c *Client) FetchPage(ctx context.Context, conversationID string, page, limit int) (Page, error) {
	if conversationID == "" {
		return Page{}, errors.New("history: conversation ID is required")
	}
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = c.pageLimit
	}

	endpoint := fmt.Sprintf("%s/chat/%s/messages?page=%s&limit=%s",
		c.baseURL,
		url.PathEscape(conversationID),
		strconv.Itoa(page),
		strconv.Itoa(limit),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Page{}, fmt.Errorf("history: build fetch request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("history: fetch page %d of %s: %w", page, conversationID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, newFetchError(resp)
	}

	var decoded fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Page{}, fmt.Errorf("history: decode fetch response: %w", err)
	}
	return Page{Messages: decoded.Messages, Pagination: decoded.Pagination}, nil
}

// SendMessage posts a new message and returns the server's authoritative,
// de-duplicatable copy.
func (c *Client) SendMessage(ctx context.Context, send SendRequest) (models.Message, error) {
	if send.ConversationID == "" {
		return models.Message{}, errors.New("history: conversation ID is required")
	}
	if send.MessageType == "" {
		send.MessageType = models.MessageTypeText
	}

	body, err := json.Marshal(send)
	if err != nil {
		return models.Message{}, fmt.Errorf("history: marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/messages", bytes.NewReader(body))
	if err != nil {
		return models.Message{}, fmt.Errorf("history: build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Message{}, fmt.Errorf("history: send message to %s: %w", send.ConversationID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return models.Message{}, newFetchError(resp)
	}

	var decoded sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return models.Message{}, fmt.Errorf("history: decode send response: %w", err)
	}
	if decoded.Message.ID == "" {
		return models.Message{}, errors.New("history: send response carried no message")
	}
	return decoded.Message, nil
}

func newFetchError(resp *http.Response) *FetchError {
	fe := &FetchError{Status: resp.StatusCode, Message: genericFetchMessage}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fe
	}
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return fe
	}
	switch {
	case body.Message != "":
		fe.Message = body.Message
	case body.Error != "":
		fe.Message = body.Error
	}
	return fe
}
