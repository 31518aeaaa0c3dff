package chunker

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxRawChunkSize is the default raw bound. The bound is measured before
// encoding; base64 inflates by 4:3, so 18 MiB raw becomes 24 MiB on the wire.
const MaxRawChunkSize = 18 * 1024 * 1024

const chunkSuffix = ".txt"

var (
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
	ErrCodec            = errors.New("malformed encoded chunk")
)

var encoding = base64.StdEncoding.Strict()

// Chunk is one bounded slice of an object's raw bytes.
type Chunk struct {
	Index int
	Data  []byte
}

// EncodedChunk is the text-safe form of a Chunk as posted to a channel.
type EncodedChunk struct {
	Index int
	Name  string
	Data  []byte
}

// EncodedSize returns the base64 length of a raw payload of n bytes.
func EncodedSize(n int) int {
	return encoding.EncodedLen(n)
}

// Split cuts data into ceil(len(data)/size) chunks. The chunks share memory
// with data. An empty input yields no chunks.
func Split(data []byte, size int) ([]Chunk, error) {
	if size <= 0 {
		return nil, ErrInvalidChunkSize
	}

	chunks := make([]Chunk, 0, (len(data)+size-1)/size)
	for off, index := 0, 0; off < len(data); off, index = off+size, index+1 {
		end := min(off+size, len(data))
		chunks = append(chunks, Chunk{Index: index, Data: data[off:end]})
	}
	return chunks, nil
}

// Reader produces the same chunks as Split from a stream.
type Reader struct {
	r     io.Reader
	size  int
	index int
	done  bool
}

// NewReader returns a Reader cutting r into chunks of at most size bytes.
func NewReader(r io.Reader, size int) (*Reader, error) {
	if size <= 0 {
		return nil, ErrInvalidChunkSize
	}
	return &Reader{r: r, size: size}, nil
}

// Next returns the next chunk, or io.EOF once the stream is exhausted.
func (cr *Reader) Next() (Chunk, error) {
	if cr.done {
		return Chunk{}, io.EOF
	}

	buf := make([]byte, cr.size)
	n, err := io.ReadFull(cr.r, buf)
	switch {
	case err == io.EOF:
		cr.done = true
		return Chunk{}, io.EOF
	case err == io.ErrUnexpectedEOF:
		cr.done = true
	case err != nil:
		return Chunk{}, fmt.Errorf("failed to read chunk %d: %w", cr.index, err)
	}

	chunk := Chunk{Index: cr.index, Data: buf[:n]}
	cr.index++
	return chunk, nil
}

// ChunkName returns the attachment name "{object}_{index}.txt".
func ChunkName(object string, index int) string {
	return object + "_" + strconv.Itoa(index) + chunkSuffix
}

// ParseChunkName recovers the object name and index from an attachment name.
// Object names may contain underscores; the index is after the last one.
func ParseChunkName(name string) (object string, index int, ok bool) {
	base, found := strings.CutSuffix(name, chunkSuffix)
	if !found {
		return "", 0, false
	}
	sep := strings.LastIndexByte(base, '_')
	if sep < 0 {
		return "", 0, false
	}
	digits := base[sep+1:]
	if digits == "" || strings.TrimLeft(digits, "0123456789") != "" {
		return "", 0, false
	}
	index, err := strconv.Atoi(digits)
	if err != nil {
		return "", 0, false
	}
	return base[:sep], index, true
}

// Encode base64-encodes the chunk payload and names it after object.
func Encode(c Chunk, object string) EncodedChunk {
	out := make([]byte, encoding.EncodedLen(len(c.Data)))
	encoding.Encode(out, c.Data)
	return EncodedChunk{Index: c.Index, Name: ChunkName(object, c.Index), Data: out}
}

// Decode reverses Encode. Malformed input is reported as ErrCodec.
func Decode(e EncodedChunk) ([]byte, error) {
	out := make([]byte, encoding.DecodedLen(len(e.Data)))
	n, err := encoding.Decode(out, e.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %d (%s): %v", ErrCodec, e.Index, e.Name, err)
	}
	return out[:n], nil
}
