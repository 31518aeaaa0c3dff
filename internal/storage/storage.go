// Package storage stores objects as ordered chunk attachments in a chat
// channel and reads them back.
package storage

import (
	"errors"

	"github.com/jaywantadh/ThreadByte/internal/transfer"
)

var (
	ErrChannelCreate        = errors.New("failed to create channel")
	ErrTransportPost        = errors.New("failed to post chunk")
	ErrTransportFetch       = errors.New("failed to fetch chunks")
	ErrCursorExhaustedEarly = errors.New("channel history ended before all chunks were found")
	ErrCancelled            = errors.New("transfer cancelled")
	ErrSourceRead           = errors.New("failed to read source")
	ErrSinkWrite            = errors.New("failed to write sink")
	ErrChecksumMismatch     = errors.New("checksum mismatch")
	ErrInvalidRequest       = errors.New("invalid transfer request")
	ErrUnsupportedScheme    = errors.New("unsupported location scheme")
)

// Recorder receives transfer counters. internal/metrics provides the
// Prometheus implementation.
type Recorder interface {
	ChunkPosted(bytes int)
	ChunkFetched(bytes int)
	PageListed()
	TransferStarted(kind transfer.Kind)
	TransferFinished(kind transfer.Kind, status transfer.Status)
}

type nopRecorder struct{}

func (nopRecorder) ChunkPosted(int)                                 {}
func (nopRecorder) ChunkFetched(int)                                {}
func (nopRecorder) PageListed()                                     {}
func (nopRecorder) TransferStarted(transfer.Kind)                   {}
func (nopRecorder) TransferFinished(transfer.Kind, transfer.Status) {}
