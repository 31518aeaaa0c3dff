package platform

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"
)

// ListCall records one ListMessages invocation on a Memory platform.
type ListCall struct {
	ChannelID string
	Before    string
	Limit     int
	Returned  int
}

// Memory is an in-process platform. Message ids increase monotonically, so
// creation order equals id order. Hooks allow tests to inject failures.
type Memory struct {
	// CreateHook, if set, can fail CreateChannel.
	CreateHook func(containerID, name string) error
	// PostHook, if set, can fail the seq-th post (0-based) into a channel.
	PostHook func(channelID string, seq int) error
	// FetchHook, if set, can fail FetchBytes.
	FetchHook func(url string) error

	mu       sync.Mutex
	nextID   uint64
	channels map[string]*memChannel
	blobs    map[string][]byte
	lists    []ListCall
}

type memChannel struct {
	Channel
	messages []Message
}

func NewMemory() *Memory {
	return &Memory{
		nextID:   1000,
		channels: make(map[string]*memChannel),
		blobs:    make(map[string][]byte),
	}
}

func (m *Memory) id() string {
	m.nextID++
	return strconv.FormatUint(m.nextID, 10)
}

func (m *Memory) CreateChannel(ctx context.Context, containerID, name string) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return Channel{}, err
	}
	if m.CreateHook != nil {
		if err := m.CreateHook(containerID, name); err != nil {
			return Channel{}, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	ch := Channel{ID: m.id(), ParentID: containerID, Name: name}
	m.channels[ch.ID] = &memChannel{Channel: ch}
	return ch, nil
}

func (m *Memory) PostMessage(ctx context.Context, channelID, content string, file File) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return Message{}, &APIError{StatusCode: 400, Code: 50035, Message: "Invalid Form Body: content"}
	}

	m.mu.Lock()
	ch, ok := m.channels[channelID]
	seq := 0
	if ok {
		seq = len(ch.messages)
	}
	m.mu.Unlock()
	if !ok {
		return Message{}, &APIError{StatusCode: 404, Code: 10003, Message: "Unknown Channel"}
	}
	if m.PostHook != nil {
		if err := m.PostHook(channelID, seq); err != nil {
			return Message{}, err
		}
	}

	return m.Inject(channelID, content, &file), nil
}

// Inject appends a message directly, bypassing hooks. A nil file posts a
// message without attachment.
func (m *Memory) Inject(channelID, content string, file *File) Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[channelID]
	if !ok {
		ch = &memChannel{Channel: Channel{ID: channelID}}
		m.channels[channelID] = ch
	}
	msg := Message{
		ID:        m.id(),
		ChannelID: channelID,
		Content:   content,
		Timestamp: time.Now(),
	}
	if file != nil {
		url := fmt.Sprintf("mem://%s/%s/%s", channelID, msg.ID, file.Name)
		m.blobs[url] = bytes.Clone(file.Data)
		msg.Attachments = []Attachment{{ID: m.id(), Filename: file.Name, Size: int64(len(file.Data)), URL: url}}
	}
	ch.messages = append(ch.messages, msg)
	return msg
}

func (m *Memory) ListMessages(ctx context.Context, channelID, before string, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxPageSize {
		return nil, &APIError{StatusCode: 400, Code: 50035, Message: "Invalid Form Body: limit"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[channelID]
	if !ok {
		return nil, &APIError{StatusCode: 404, Code: 10003, Message: "Unknown Channel"}
	}

	end := len(ch.messages)
	if before != "" {
		cursor, err := strconv.ParseUint(before, 10, 64)
		if err != nil {
			return nil, &APIError{StatusCode: 400, Code: 50035, Message: "Invalid Form Body: before"}
		}
		end = 0
		for end < len(ch.messages) && mustID(ch.messages[end].ID) < cursor {
			end++
		}
	}
	start := max(0, end-limit)

	page := slices.Clone(ch.messages[start:end])
	slices.Reverse(page)
	m.lists = append(m.lists, ListCall{ChannelID: channelID, Before: before, Limit: limit, Returned: len(page)})
	return page, nil
}

func (m *Memory) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.FetchHook != nil {
		if err := m.FetchHook(url); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[url]
	if !ok {
		return nil, &APIError{StatusCode: 404, Message: "attachment not found: " + url}
	}
	return bytes.Clone(data), nil
}

// SetBlob replaces the bytes served for an attachment URL.
func (m *Memory) SetBlob(url string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[url] = bytes.Clone(data)
}

// Messages returns a channel's messages in creation order.
func (m *Memory) Messages(channelID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return nil
	}
	return slices.Clone(ch.messages)
}

// Channels returns every channel created under containerID.
func (m *Memory) Channels(containerID string) []Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Channel
	for _, ch := range m.channels {
		if ch.ParentID == containerID {
			out = append(out, ch.Channel)
		}
	}
	slices.SortFunc(out, func(a, b Channel) int { return cmp.Compare(mustID(a.ID), mustID(b.ID)) })
	return out
}

// ListCalls returns the recorded ListMessages calls.
func (m *Memory) ListCalls() []ListCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.lists)
}

func mustID(id string) uint64 {
	n, _ := strconv.ParseUint(id, 10, 64)
	return n
}
