// Package discord implements platform.Client against the Discord REST API
// using fasthttp. Channels are public threads; chunks are message
// attachments.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"strconv"
	"time"

	"github.com/jaywantadh/ThreadByte/internal/platform"
	"github.com/jaywantadh/ThreadByte/pkg/logging"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

const (
	DefaultBaseURL = "https://discord.com/api/v10"

	publicThreadType    = 11
	autoArchiveMinutes  = 60
	maxThreadNameLength = 100
)

// Doer is the part of *fasthttp.Client the client uses.
type Doer interface {
	DoDeadline(req *fasthttp.Request, resp *fasthttp.Response, deadline time.Time) error
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient Doer
	Logger     *logrus.Logger
}

// Client talks to the Discord REST API.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	maxRetries int
	http       Doer
	logger     *logrus.Logger
}

var _ platform.Client = (*Client)(nil)

// New creates a Discord client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &fasthttp.Client{Name: "ThreadByte (https://github.com/jaywantadh/ThreadByte, 1.0)"}
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		http:       cfg.HTTPClient,
		logger:     logging.Or(cfg.Logger),
	}
}

type createThreadRequest struct {
	Name                string `json:"name"`
	Type                int    `json:"type"`
	AutoArchiveDuration int    `json:"auto_archive_duration"`
}

type messagePayload struct {
	Content     string              `json:"content"`
	Attachments []attachmentPayload `json:"attachments"`
}

type attachmentPayload struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
}

type errorBody struct {
	Message    string  `json:"message"`
	Code       int     `json:"code"`
	RetryAfter float64 `json:"retry_after"`
}

// CreateChannel starts a public thread in the text channel containerID.
func (c *Client) CreateChannel(ctx context.Context, containerID, name string) (platform.Channel, error) {
	if len([]rune(name)) > maxThreadNameLength {
		name = string([]rune(name)[:maxThreadNameLength])
	}
	body, err := json.Marshal(createThreadRequest{
		Name:                name,
		Type:                publicThreadType,
		AutoArchiveDuration: autoArchiveMinutes,
	})
	if err != nil {
		return platform.Channel{}, err
	}

	var ch platform.Channel
	path := "/channels/" + url.PathEscape(containerID) + "/threads"
	if err := c.doJSON(ctx, "POST", path, "application/json", body, &ch); err != nil {
		return platform.Channel{}, fmt.Errorf("failed to create thread %q: %w", name, err)
	}
	return ch, nil
}

// PostMessage sends content with file attached as files[0].
func (c *Client) PostMessage(ctx context.Context, channelID, content string, file platform.File) (platform.Message, error) {
	payload, err := json.Marshal(messagePayload{
		Content:     content,
		Attachments: []attachmentPayload{{ID: 0, Filename: file.Name}},
	})
	if err != nil {
		return platform.Message{}, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="payload_json"`)
	header.Set("Content-Type", "application/json")
	part, err := w.CreatePart(header)
	if err != nil {
		return platform.Message{}, err
	}
	if _, err := part.Write(payload); err != nil {
		return platform.Message{}, err
	}
	filePart, err := w.CreateFormFile("files[0]", file.Name)
	if err != nil {
		return platform.Message{}, err
	}
	if _, err := filePart.Write(file.Data); err != nil {
		return platform.Message{}, err
	}
	if err := w.Close(); err != nil {
		return platform.Message{}, err
	}

	var msg platform.Message
	path := "/channels/" + url.PathEscape(channelID) + "/messages"
	if err := c.doJSON(ctx, "POST", path, w.FormDataContentType(), buf.Bytes(), &msg); err != nil {
		return platform.Message{}, fmt.Errorf("failed to post %s: %w", file.Name, err)
	}
	return msg, nil
}

// ListMessages returns up to limit messages older than before, newest first.
func (c *Client) ListMessages(ctx context.Context, channelID, before string, limit int) ([]platform.Message, error) {
	if limit <= 0 || limit > platform.MaxPageSize {
		return nil, fmt.Errorf("limit must be between 1 and %d, got %d", platform.MaxPageSize, limit)
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if before != "" {
		query.Set("before", before)
	}

	var msgs []platform.Message
	path := "/channels/" + url.PathEscape(channelID) + "/messages?" + query.Encode()
	if err := c.doJSON(ctx, "GET", path, "", nil, &msgs); err != nil {
		return nil, fmt.Errorf("failed to list messages of %s: %w", channelID, err)
	}
	return msgs, nil
}

// FetchBytes downloads an attachment from its CDN URL.
func (c *Client) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	data, err := c.do(ctx, "GET", rawURL, "", nil, false)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch attachment: %w", err)
	}
	return data, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	data, err := c.do(ctx, method, c.baseURL+path, contentType, body, true)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// do performs one request, retrying rate-limited responses up to maxRetries
// times.
func (c *Client) do(ctx context.Context, method, uri, contentType string, body []byte, auth bool) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req.Reset()
		resp.Reset()
		req.SetRequestURI(uri)
		req.Header.SetMethod(method)
		if auth {
			req.Header.Set("Authorization", "Bot "+c.token)
		}
		if contentType != "" {
			req.Header.SetContentType(contentType)
		}
		if body != nil {
			req.SetBody(body)
		}

		deadline := time.Now().Add(c.timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := c.http.DoDeadline(req, resp, deadline); err != nil {
			return nil, err
		}

		status := resp.StatusCode()
		if status >= 200 && status < 300 {
			return bytes.Clone(resp.Body()), nil
		}

		apiErr := parseError(status, resp)
		if status != fasthttp.StatusTooManyRequests || attempt >= c.maxRetries {
			return nil, apiErr
		}

		c.logger.WithFields(logrus.Fields{
			"uri":         uri,
			"retry_after": apiErr.RetryAfter,
			"attempt":     attempt + 1,
		}).Warn("⏳ Rate limited, retrying")

		timer := time.NewTimer(apiErr.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func parseError(status int, resp *fasthttp.Response) *platform.APIError {
	apiErr := &platform.APIError{StatusCode: status, Message: fasthttp.StatusMessage(status)}

	var body errorBody
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		if body.Message != "" {
			apiErr.Message = body.Message
		}
		apiErr.Code = body.Code
		apiErr.RetryAfter = time.Duration(body.RetryAfter * float64(time.Second))
	}
	if apiErr.RetryAfter == 0 {
		if secs, err := strconv.ParseFloat(string(resp.Header.Peek("Retry-After")), 64); err == nil {
			apiErr.RetryAfter = time.Duration(secs * float64(time.Second))
		}
	}
	return apiErr
}
