// Package platform describes the chat platform operations the store needs:
// create a channel, post a message with one attachment, list messages
// before a cursor, and fetch attachment bytes.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MaxPageSize is the most messages a single listing may return.
const MaxPageSize = 100

// MaxContentLength is the most characters a message body may hold.
const MaxContentLength = 2000

var ErrNotFound = errors.New("not found")

// Channel is a created message container.
type Channel struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id"`
	Name     string `json:"name"`
}

// Attachment is a file attached to a message.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

// Message is one channel message. Its ID is usable as a listing cursor.
type Message struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Attachment returns the first attachment of m.
func (m Message) Attachment() (Attachment, bool) {
	if len(m.Attachments) == 0 {
		return Attachment{}, false
	}
	return m.Attachments[0], true
}

// File is an attachment to be posted.
type File struct {
	Name string
	Data []byte
}

// Client is the capability set the store consumes.
type Client interface {
	CreateChannel(ctx context.Context, containerID, name string) (Channel, error)
	PostMessage(ctx context.Context, channelID, content string, file File) (Message, error)
	// ListMessages returns up to limit messages older than before, newest
	// first. An empty before means the most recent messages.
	ListMessages(ctx context.Context, channelID, before string, limit int) ([]Message, error)
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// APIError is a non-success response from the platform.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform: %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == 404
}
