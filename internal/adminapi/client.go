// Package adminapi is the HTTP client for the admin support-chat REST API.
// Wire records are normalised into chat types before they leave this package.
package adminapi

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

	"github.com/google/uuid"

	"github.com/agentworkforce/supportdesk/internal/chat"
)

var ErrConflict = errors.New("conflict")

type ConflictError struct {
	Path    string
	Message string
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("conflict for %s: %s", e.Path, e.Message)
	}
	if e.Path == "" {
		return "conflict"
	}
	return fmt.Sprintf("conflict for %s", e.Path)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

type ListConversationsParams struct {
	Status chat.Status
	Page   int
	Limit  int
}

type ConversationPage struct {
	Conversations []chat.Conversation
	Page          int
	TotalPages    int
}

type OrderSummary struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Status    string    `json:"status"`
	Total     float64   `json:"total"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"createdAt"`
}

// API is the set of server contracts the console consumes.
type API interface {
	ListConversations(ctx context.Context, params ListConversationsParams) (ConversationPage, error)
	PendingCount(ctx context.Context) (int, error)
	ClaimConversation(ctx context.Context, conversationID string) (chat.Conversation, error)
	SendMessage(ctx context.Context, conversationID, content string) (chat.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error)
	FinishConversation(ctx context.Context, conversationID string) (chat.Conversation, error)
	OrderHistory(ctx context.Context, conversationID string) ([]OrderSummary, error)
}

type ClientOptions struct {
	HTTPClient *http.Client
	// MaxRetries bounds in-call retries of transient failures on GET requests.
	// Claims, sends and finishes are never repeated. Zero leaves recovery to
	// the next poll tick.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPClient(baseURL, token string, opts ClientOptions) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  opts.BaseDelay,
		maxDelay:   opts.MaxDelay,
	}
}

const conversationsPath = "/api/admin/chat/conversations"

type conversationPageResponse struct {
	Items      []chat.ConversationRecord `json:"items"`
	Page       int                       `json:"page"`
	TotalPages int                       `json:"totalPages"`
}

type itemsResponse[T any] struct {
	Items []T `json:"items"`
}

func (c *HTTPClient) ListConversations(ctx context.Context, params ListConversationsParams) (ConversationPage, error) {
	q := url.Values{}
	if params.Status != "" {
		q.Set("status", string(params.Status))
	}
	if params.Page > 0 {
		q.Set("page", strconv.Itoa(params.Page))
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	requestPath := conversationsPath
	if encoded := q.Encode(); encoded != "" {
		requestPath += "?" + encoded
	}
	var out conversationPageResponse
	if err := c.doJSON(ctx, http.MethodGet, requestPath, nil, &out); err != nil {
		return ConversationPage{}, err
	}
	page := out.Page
	if page <= 0 {
		page = params.Page
	}
	if page <= 0 {
		page = 1
	}
	return ConversationPage{
		Conversations: chat.NormalizeConversations(out.Items),
		Page:          page,
		TotalPages:    out.TotalPages,
	}, nil
}

func (c *HTTPClient) PendingCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.doJSON(ctx, http.MethodGet, conversationsPath+"/pending-count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *HTTPClient) ClaimConversation(ctx context.Context, conversationID string) (chat.Conversation, error) {
	var out chat.ConversationRecord
	if err := c.doJSON(ctx, http.MethodPost, conversationPath(conversationID, "claim"), nil, &out); err != nil {
		return chat.Conversation{}, err
	}
	return out.Normalize(), nil
}

func (c *HTTPClient) SendMessage(ctx context.Context, conversationID, content string) (chat.Message, error) {
	body := map[string]any{"content": content}
	var out chat.MessageRecord
	if err := c.doJSON(ctx, http.MethodPost, conversationPath(conversationID, "messages"), body, &out); err != nil {
		return chat.Message{}, err
	}
	msg := out.Normalize()
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	return msg, nil
}

func (c *HTTPClient) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	var out itemsResponse[chat.MessageRecord]
	if err := c.doJSON(ctx, http.MethodGet, conversationPath(conversationID, "messages"), nil, &out); err != nil {
		return nil, err
	}
	return chat.NormalizeMessages(conversationID, out.Items), nil
}

func (c *HTTPClient) FinishConversation(ctx context.Context, conversationID string) (chat.Conversation, error) {
	var out chat.ConversationRecord
	if err := c.doJSON(ctx, http.MethodPost, conversationPath(conversationID, "finish"), nil, &out); err != nil {
		return chat.Conversation{}, err
	}
	return out.Normalize(), nil
}

func (c *HTTPClient) OrderHistory(ctx context.Context, conversationID string) ([]OrderSummary, error) {
	var out itemsResponse[OrderSummary]
	if err := c.doJSON(ctx, http.MethodGet, conversationPath(conversationID, "orders"), nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

type ConversationLister interface {
	ListConversations(ctx context.Context, params ListConversationsParams) (ConversationPage, error)
}

// ListAllConversations follows pages until the server reports no more.
func ListAllConversations(ctx context.Context, api ConversationLister, params ListConversationsParams) ([]chat.Conversation, error) {
	if params.Page <= 0 {
		params.Page = 1
	}
	var all []chat.Conversation
	for {
		page, err := api.ListConversations(ctx, params)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Conversations...)
		if page.TotalPages <= page.Page || len(page.Conversations) == 0 {
			break
		}
		params.Page = page.Page + 1
	}
	return all, nil
}

func conversationPath(conversationID, action string) string {
	return fmt.Sprintf("%s/%s/%s", conversationsPath, url.PathEscape(strings.TrimSpace(conversationID)), action)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body any, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	idempotent := method == http.MethodGet
	for attempt := 0; ; attempt++ {
		retry := idempotent && attempt < c.maxRetries
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("X-Correlation-Id", correlationID())
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if retry {
				if waitErr := waitWithContext(ctx, c.retryDelay("")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && retry {
			if waitErr := waitWithContext(ctx, c.retryDelay(resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		if resp.StatusCode == http.StatusConflict {
			return &ConflictError{Path: requestPath, Message: errPayload.Message}
		}
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func correlationID() string {
	return "desk_" + uuid.NewString()
}

// retryDelay is a fixed pause, or the server's Retry-After when it asks for
// one, capped at the max delay.
func (c *HTTPClient) retryDelay(retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		delay = retryAfter
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
