// Package graph is a minimal Microsoft Graph client covering the drive
// operations the service needs: account metadata, the delta feed, sharing
// links, content redirects, and chunked resumable upload sessions.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// Client talks to the provider REST API. Tokens are passed per call; the
// drive manager owns refresh. Safe for concurrent use.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryPolicy RetryPolicy
	rateLimiter *RateLimiter
	tracer      trace.Tracer
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API endpoint. Used by tests.
func WithBaseURL(base string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(base, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy overrides the metadata-call retry policy.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) { c.retryPolicy = p }
}

// NewClient creates a Graph client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     DefaultBaseURL,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		retryPolicy: DefaultRetryPolicy(),
		rateLimiter: NewRateLimiter(10.0, 20),
		tracer:      otel.Tracer("graph-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RootDeltaURL returns the delta URL for the root of the signed-in drive.
func (c *Client) RootDeltaURL() string {
	return c.baseURL + "/me/drive/root/delta"
}

// Drive fetches the drive account behind the token.
func (c *Client) Drive(ctx context.Context, token string) (*DriveInfo, error) {
	ctx, span := c.tracer.Start(ctx, "graph.drive")
	defer span.End()

	body, err := c.executeWithRetry(ctx, func() ([]byte, error) {
		return c.call(ctx, token, http.MethodGet, c.baseURL+"/me/drive", nil)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var info DriveInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse drive info: %w", err)
	}
	return &info, nil
}

// DeltaPage fetches one page of the delta feed. pageURL is either the root
// delta URL, a nextLink, or a stored deltaLink cursor.
func (c *Client) DeltaPage(ctx context.Context, token, pageURL string) (*DeltaPage, error) {
	ctx, span := c.tracer.Start(ctx, "graph.delta_page")
	defer span.End()

	body, err := c.executeWithRetry(ctx, func() ([]byte, error) {
		return c.call(ctx, token, http.MethodGet, pageURL, nil)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var page DeltaPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to parse delta page: %w", err)
	}
	span.SetAttributes(attribute.Int("delta.items", len(page.Value)))
	return &page, nil
}

// Item fetches a single drive item by id.
func (c *Client) Item(ctx context.Context, token, itemID string) (*DriveItem, error) {
	ctx, span := c.tracer.Start(ctx, "graph.item",
		trace.WithAttributes(attribute.String("item.id", itemID)))
	defer span.End()

	body, err := c.executeWithRetry(ctx, func() ([]byte, error) {
		return c.call(ctx, token, http.MethodGet, c.baseURL+"/me/drive/items/"+url.PathEscape(itemID), nil)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var item DriveItem
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("failed to parse drive item: %w", err)
	}
	return &item, nil
}

// CreateLink creates an anonymous view link on an item and returns its web
// URL.
func (c *Client) CreateLink(ctx context.Context, token, itemID string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "graph.create_link",
		trace.WithAttributes(attribute.String("item.id", itemID)))
	defer span.End()

	payload := map[string]string{"type": "view", "scope": "anonymous"}
	body, err := c.executeWithRetry(ctx, func() ([]byte, error) {
		return c.call(ctx, token, http.MethodPost,
			c.baseURL+"/me/drive/items/"+url.PathEscape(itemID)+"/createLink", payload)
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	var perm Permission
	if err := json.Unmarshal(body, &perm); err != nil {
		return "", fmt.Errorf("failed to parse permission: %w", err)
	}
	if perm.Link == nil || perm.Link.WebURL == "" {
		return "", fmt.Errorf("createLink answer carries no web url")
	}
	return perm.Link.WebURL, nil
}

// DeletePermissions removes every sharing permission from an item.
func (c *Client) DeletePermissions(ctx context.Context, token, itemID string) error {
	ctx, span := c.tracer.Start(ctx, "graph.delete_permissions",
		trace.WithAttributes(attribute.String("item.id", itemID)))
	defer span.End()

	base := c.baseURL + "/me/drive/items/" + url.PathEscape(itemID) + "/permissions"
	body, err := c.executeWithRetry(ctx, func() ([]byte, error) {
		return c.call(ctx, token, http.MethodGet, base, nil)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	var listing struct {
		Value []Permission `json:"value"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return fmt.Errorf("failed to parse permissions: %w", err)
	}

	for _, perm := range listing.Value {
		if _, err := c.call(ctx, token, http.MethodDelete, base+"/"+url.PathEscape(perm.ID), nil); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to delete permission %s: %w", perm.ID, err)
		}
	}
	return nil
}

// ContentURL resolves the pre-authenticated download URL of an item by
// capturing the redirect of the content endpoint without following it.
func (c *Client) ContentURL(ctx context.Context, token, itemID string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "graph.content_url",
		trace.WithAttributes(attribute.String("item.id", itemID)))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/me/drive/items/"+url.PathEscape(itemID)+"/content", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	noRedirect := &http.Client{
		Timeout: c.httpClient.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("content request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusFound && resp.StatusCode != http.StatusMovedPermanently {
		return "", &APIError{StatusCode: resp.StatusCode, Message: "expected redirect from content endpoint"}
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("content redirect carries no location")
	}
	return location, nil
}

// CreateUploadSession opens a resumable upload session for remotePath, a
// drive-root-relative path of the file to create.
func (c *Client) CreateUploadSession(ctx context.Context, token, remotePath string) (*UploadSession, error) {
	ctx, span := c.tracer.Start(ctx, "graph.create_upload_session",
		trace.WithAttributes(attribute.String("upload.path", remotePath)))
	defer span.End()

	payload := map[string]interface{}{
		"item": map[string]string{
			"@microsoft.graph.conflictBehavior": "rename",
		},
	}
	endpoint := c.baseURL + "/me/drive/root:" + escapeDrivePath(remotePath) + ":/createUploadSession"
	body, err := c.call(ctx, token, http.MethodPost, endpoint, payload)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var session UploadSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("failed to parse upload session: %w", err)
	}
	if session.UploadURL == "" {
		return nil, fmt.Errorf("upload session answer carries no upload url")
	}
	return &session, nil
}

// SessionStatus probes an upload session URL for its next expected ranges.
// Session URLs are pre-authenticated, no token is sent.
func (c *Client) SessionStatus(ctx context.Context, sessionURL string) (*UploadSession, error) {
	ctx, span := c.tracer.Start(ctx, "graph.session_status")
	defer span.End()

	body, err := c.call(ctx, "", http.MethodGet, sessionURL, nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var session UploadSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("failed to parse session status: %w", err)
	}
	return &session, nil
}

// PutChunk uploads one chunk. start is the absolute offset of data's first
// byte and total the full file size. No internal retry: on failure the
// caller re-probes the session so no byte is ever sent twice.
func (c *Client) PutChunk(ctx context.Context, sessionURL string, start, total int64, data []byte) (*ChunkResult, error) {
	ctx, span := c.tracer.Start(ctx, "graph.put_chunk",
		trace.WithAttributes(
			attribute.Int64("chunk.start", start),
			attribute.Int("chunk.size", len(data)),
		))
	defer span.End()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	end := start + int64(len(data)) - 1
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("chunk upload failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk answer: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseAPIError(resp.StatusCode, body)
		span.RecordError(apiErr)
		return nil, apiErr
	}

	// A finished upload answers with the created item.
	var answer struct {
		ID                 string   `json:"id"`
		NextExpectedRanges []string `json:"nextExpectedRanges"`
	}
	if err := json.Unmarshal(body, &answer); err != nil {
		return nil, fmt.Errorf("failed to parse chunk answer: %w", err)
	}
	if answer.ID != "" {
		return &ChunkResult{Completed: true, ItemID: answer.ID}, nil
	}

	session := UploadSession{NextExpectedRanges: answer.NextExpectedRanges}
	offset, err := session.NextExpectedOffset()
	if err != nil {
		// The provider accepted the chunk but sent no ranges; assume the
		// natural next offset.
		offset = end + 1
	}
	return &ChunkResult{NextOffset: offset}, nil
}

// CancelSession revokes an upload session. Best effort, errors are the
// caller's to ignore.
func (c *Client) CancelSession(ctx context.Context, sessionURL string) error {
	ctx, span := c.tracer.Start(ctx, "graph.cancel_session")
	defer span.End()

	_, err := c.call(ctx, "", http.MethodDelete, sessionURL, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// call performs one HTTP exchange and maps non-2xx answers to APIError.
func (c *Client) call(ctx context.Context, token, method, callURL string, payload interface{}) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, callURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// executeWithRetry runs a metadata call with exponential backoff on
// transient failures.
func (c *Client) executeWithRetry(ctx context.Context, operation func() ([]byte, error)) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retryPolicy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryPolicy.InitialDelay
			if c.retryPolicy.ExponentialBackoff {
				delay = delay * time.Duration(1<<uint(attempt-1))
			}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}

	return nil, lastErr
}

func isRetryableError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsServerError() || apiErr.StatusCode == http.StatusTooManyRequests
	}

	errStr := strings.ToLower(err.Error())
	retryableErrors := []string{
		"throttle",
		"too many requests",
		"rate limit",
		"internal server error",
		"bad gateway",
		"service unavailable",
		"gateway timeout",
		"timeout",
		"connection reset",
		"connection refused",
	}
	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}
	return false
}

func parseAPIError(status int, body []byte) *APIError {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// escapeDrivePath percent-escapes each segment of a drive-root-relative
// path, keeping the separators.
func escapeDrivePath(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
