package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"chat-sync/internal/credentials"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// Client is the REST collaborator surface consumed by the sync engine.
type Client interface {
	ListThreads(ctx context.Context, accountID string) ([]models.Thread, error)
	FetchHistory(ctx context.Context, threadID string, limit, offset int) ([]models.Message, error)
	CreateMessage(ctx context.Context, threadID, content string, replyTo *models.ReplyRef) (models.Message, error)
	UploadAudio(ctx context.Context, threadID, filename string, audio io.Reader) (models.AudioAttachment, error)
	FetchNotifications(ctx context.Context, accountID string) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID string) error
	FetchProfile(ctx context.Context, userID string) (models.Identity, error)
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%q", e.Status, e.Body)
}

// HTTPClient talks to the backend over HTTP with bearer auth.
type HTTPClient struct {
	baseURL string
	tokens  credentials.TokenSource
	http    *http.Client
}

// NewHTTPClient builds a client against baseURL. A nil httpClient falls back
// to a client with a sane timeout.
func NewHTTPClient(baseURL string, tokens credentials.TokenSource, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{baseURL: baseURL, tokens: tokens, http: httpClient}
}

// ListThreads returns the rooms and direct conversations for an account.
func (c *HTTPClient) ListThreads(ctx context.Context, accountID string) ([]models.Thread, error) {
	var resp struct {
		Threads []models.Thread `json:"threads"`
	}
	path := "/users/" + url.PathEscape(accountID) + "/threads"
	if err := c.doJSON(ctx, "list_threads", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Threads, nil
}

// FetchHistory returns one page of a thread's message history, oldest first.
func (c *HTTPClient) FetchHistory(ctx context.Context, threadID string, limit, offset int) ([]models.Message, error) {
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	path := "/threads/" + url.PathEscape(threadID) + "/messages?limit=" + strconv.Itoa(limit) + "&offset=" + strconv.Itoa(offset)
	if err := c.doJSON(ctx, "fetch_history", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Messages {
		resp.Messages[i].Status = models.StatusConfirmed
	}
	return resp.Messages, nil
}

// CreateMessage stores a message through the backend, the guaranteed-delivery
// path when the event transport is down.
func (c *HTTPClient) CreateMessage(ctx context.Context, threadID, content string, replyTo *models.ReplyRef) (models.Message, error) {
	body := struct {
		Content string           `json:"content"`
		ReplyTo *models.ReplyRef `json:"reply_to,omitempty"`
	}{Content: content, ReplyTo: replyTo}

	var msg models.Message
	path := "/threads/" + url.PathEscape(threadID) + "/messages"
	if err := c.doJSON(ctx, "create_message", http.MethodPost, path, body, &msg); err != nil {
		return models.Message{}, err
	}
	msg.Status = models.StatusConfirmed
	return msg, nil
}

// UploadAudio sends an audio asset as multipart form data and returns its
// public URL with the server-side transcription.
func (c *HTTPClient) UploadAudio(ctx context.Context, threadID, filename string, audio io.Reader) (models.AudioAttachment, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return models.AudioAttachment{}, err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return models.AudioAttachment{}, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return models.AudioAttachment{}, fmt.Errorf("read audio: %w", err)
	}
	if err := writer.WriteField("thread_id", threadID); err != nil {
		return models.AudioAttachment{}, fmt.Errorf("build upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return models.AudioAttachment{}, fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio", &buf)
	if err != nil {
		return models.AudioAttachment{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	var attachment models.AudioAttachment
	if err := c.send(req, "upload_audio", &attachment); err != nil {
		return models.AudioAttachment{}, err
	}
	return attachment, nil
}

// FetchNotifications returns the notification backlog, newest first.
func (c *HTTPClient) FetchNotifications(ctx context.Context, accountID string) ([]models.Notification, error) {
	var resp struct {
		Notifications []models.Notification `json:"notifications"`
	}
	path := "/users/" + url.PathEscape(accountID) + "/notifications"
	if err := c.doJSON(ctx, "fetch_notifications", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Notifications, nil
}

// MarkNotificationRead records the read flag server-side.
func (c *HTTPClient) MarkNotificationRead(ctx context.Context, notificationID string) error {
	path := "/notifications/" + url.PathEscape(notificationID) + "/read"
	return c.doJSON(ctx, "mark_notification_read", http.MethodPost, path, nil, nil)
}

// FetchProfile resolves a user id to its display identity.
func (c *HTTPClient) FetchProfile(ctx context.Context, userID string) (models.Identity, error) {
	var identity models.Identity
	path := "/users/" + url.PathEscape(userID)
	if err := c.doJSON(ctx, "fetch_profile", http.MethodGet, path, nil, &identity); err != nil {
		return models.Identity{}, err
	}
	return identity, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, name, method, path string, body, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	return c.send(req, name, out)
}

func (c *HTTPClient) send(req *http.Request, name string, out any) error {
	ctx, span := otel.Tracer("chat-sync/rest").Start(req.Context(), "rest."+name)
	defer span.End()
	req = req.WithContext(ctx)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.ObserveRESTRequest(name, "error", time.Since(start))
		return fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()

	observability.ObserveRESTRequest(name, strconv.Itoa(resp.StatusCode), time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: string(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", name, err)
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)
