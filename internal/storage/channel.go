package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"unicode/utf8"

	"github.com/jaywantadh/ThreadByte/internal/chunker"
	"github.com/jaywantadh/ThreadByte/internal/platform"
	"github.com/jaywantadh/ThreadByte/internal/transfer"
	"github.com/jaywantadh/ThreadByte/pkg/logging"
	"github.com/sirupsen/logrus"
)

// Options tunes a ChannelStore. Zero values select the defaults.
type Options struct {
	ChunkSize int
	PageSize  int
	Logger    *logrus.Logger
	Registry  *transfer.Registry
	Metrics   Recorder
}

// ChannelStore uploads objects as one channel each and downloads them back.
type ChannelStore struct {
	client    platform.Client
	chunkSize int
	pageSize  int
	logger    *logrus.Logger
	registry  *transfer.Registry
	metrics   Recorder
}

// UploadRequest describes an object to store. Size is the total byte count
// of Source and drives progress reporting.
type UploadRequest struct {
	Source      io.Reader
	Size        int64
	ContainerID string
	Name        string
}

// DownloadRequest describes an object to read back from its channel.
// ExpectedChunks and ExpectedChecksum are optional.
type DownloadRequest struct {
	Handle           string
	Sink             io.Writer
	Name             string
	ExpectedChunks   int
	ExpectedChecksum string
}

func NewChannelStore(client platform.Client, opts Options) (*ChannelStore, error) {
	if client == nil {
		return nil, errors.New("platform client is required")
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = chunker.MaxRawChunkSize
	}
	if opts.ChunkSize < 0 || opts.ChunkSize > chunker.MaxRawChunkSize {
		return nil, fmt.Errorf("%w: %d", chunker.ErrInvalidChunkSize, opts.ChunkSize)
	}
	if opts.PageSize == 0 {
		opts.PageSize = platform.MaxPageSize
	}
	if opts.PageSize < 0 || opts.PageSize > platform.MaxPageSize {
		return nil, fmt.Errorf("page size must be between 1 and %d, got %d", platform.MaxPageSize, opts.PageSize)
	}
	if opts.Registry == nil {
		opts.Registry = transfer.NewRegistry()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}

	return &ChannelStore{
		client:    client,
		chunkSize: opts.ChunkSize,
		pageSize:  opts.PageSize,
		logger:    logging.Or(opts.Logger),
		registry:  opts.Registry,
		metrics:   opts.Metrics,
	}, nil
}

// Registry returns the progress registry the store publishes to.
func (s *ChannelStore) Registry() *transfer.Registry {
	return s.registry
}

// ChunkSize returns the raw chunk bound in use.
func (s *ChannelStore) ChunkSize() int {
	return s.chunkSize
}

// Upload creates a channel named after the object and posts its chunks in
// the background. The channel is created before Upload returns; a failure
// there is returned directly and no task is started.
func (s *ChannelStore) Upload(ctx context.Context, req UploadRequest) (*transfer.Task, error) {
	if req.Source == nil || req.Name == "" || req.ContainerID == "" {
		return nil, fmt.Errorf("%w: source, name and container are required", ErrInvalidRequest)
	}
	reader, err := chunker.NewReader(req.Source, s.chunkSize)
	if err != nil {
		return nil, err
	}

	ch, err := s.client.CreateChannel(ctx, req.ContainerID, req.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChannelCreate, err)
	}

	task, runCtx := s.startTask(ctx, transfer.KindUpload, ch.ID, req.Name)
	s.logger.WithFields(logrus.Fields{
		"transfer_id": task.ID,
		"channel_id":  ch.ID,
		"size":        transfer.FormatBytes(req.Size),
	}).Infof("📤 Uploading %s", req.Name)

	go s.runUpload(runCtx, task, reader, req)
	return task, nil
}

// Download lists the channel, orders its chunks and writes the decoded
// object to the sink in the background.
func (s *ChannelStore) Download(ctx context.Context, req DownloadRequest) (*transfer.Task, error) {
	if req.Handle == "" || req.Sink == nil {
		return nil, fmt.Errorf("%w: handle and sink are required", ErrInvalidRequest)
	}

	task, runCtx := s.startTask(ctx, transfer.KindDownload, req.Handle, req.Name)
	s.logger.WithFields(logrus.Fields{
		"transfer_id": task.ID,
		"channel_id":  req.Handle,
	}).Infof("📥 Downloading %s", req.Name)

	go s.runDownload(runCtx, task, req)
	return task, nil
}

// startTask opens a progress bus and returns a task whose context outlives
// the caller's but is cancelled by Task.Cancel.
func (s *ChannelStore) startTask(ctx context.Context, kind transfer.Kind, handle, name string) (*transfer.Task, context.Context) {
	id := transfer.NewTransferID()
	bus := s.registry.Open(id)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	task := transfer.NewTask(id, kind, handle, name, bus, cancel)
	s.metrics.TransferStarted(kind)
	task.OnFinish(func(t *transfer.Task) {
		s.metrics.TransferFinished(t.Kind, t.Status())
		fields := logrus.Fields{"transfer_id": t.ID, "channel_id": t.Handle}
		if err := t.Err(); err != nil {
			s.logger.WithFields(fields).WithError(err).Errorf("❌ %s of %s failed", t.Kind, t.Name)
			return
		}
		s.logger.WithFields(fields).Infof("✅ %s of %s completed", t.Kind, t.Name)
	})
	return task, runCtx
}

func (s *ChannelStore) runUpload(ctx context.Context, task *transfer.Task, reader *chunker.Reader, req UploadRequest) {
	digest := newDigest()
	var sent int64
	chunks := 0

	for {
		if err := ctx.Err(); err != nil {
			task.Finish(fmt.Errorf("%w: %w", ErrCancelled, err))
			return
		}

		c, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			task.Finish(fmt.Errorf("%w: %w", ErrSourceRead, err))
			return
		}

		enc := chunker.Encode(c, req.Name)
		file := platform.File{Name: enc.Name, Data: enc.Data}
		if _, err := s.client.PostMessage(ctx, task.Handle, messageContent(enc.Name), file); err != nil {
			task.Finish(s.abortErr(ctx, fmt.Errorf("%w %d: %w", ErrTransportPost, c.Index, err)))
			return
		}

		digest.Write(c.Data)
		sent += int64(len(c.Data))
		chunks++
		s.metrics.ChunkPosted(len(c.Data))
		task.SetResult(transfer.Result{Bytes: sent, Chunks: chunks})

		s.logger.WithFields(logrus.Fields{
			"transfer_id": task.ID,
			"channel_id":  task.Handle,
			"chunk":       c.Index,
		}).Debugf("Posted %s (%s)", enc.Name, transfer.FormatBytes(int64(len(enc.Data))))

		// The final 100 is published by Finish.
		if p := transfer.Percent(sent, req.Size); p < 100 {
			task.Report(p)
		}
	}

	task.SetResult(transfer.Result{Bytes: sent, Chunks: chunks, Checksum: sumHex(digest)})
	task.Finish(nil)
}

func (s *ChannelStore) runDownload(ctx context.Context, task *transfer.Task, req DownloadRequest) {
	msgs, err := s.listAll(ctx, req.Handle)
	if err != nil {
		task.Finish(s.abortErr(ctx, fmt.Errorf("%w: %w", ErrTransportFetch, err)))
		return
	}

	plan, err := planChunks(msgs, req.Name)
	if err != nil {
		task.Finish(err)
		return
	}
	if req.ExpectedChunks > 0 && len(plan) < req.ExpectedChunks {
		task.Finish(fmt.Errorf("%w: found %d of %d", ErrCursorExhaustedEarly, len(plan), req.ExpectedChunks))
		return
	}

	digest := newDigest()
	var written int64
	for i, msg := range plan {
		if err := ctx.Err(); err != nil {
			task.Finish(fmt.Errorf("%w: %w", ErrCancelled, err))
			return
		}

		att, _ := msg.Attachment()
		data, err := s.client.FetchBytes(ctx, att.URL)
		if err != nil {
			task.Finish(s.abortErr(ctx, fmt.Errorf("%w: %s: %w", ErrTransportFetch, att.Filename, err)))
			return
		}
		raw, err := chunker.Decode(chunker.EncodedChunk{Index: i, Name: att.Filename, Data: data})
		if err != nil {
			task.Finish(fmt.Errorf("%s: %w", att.Filename, err))
			return
		}
		if _, err := req.Sink.Write(raw); err != nil {
			task.Finish(fmt.Errorf("%w: %w", ErrSinkWrite, err))
			return
		}

		digest.Write(raw)
		written += int64(len(raw))
		s.metrics.ChunkFetched(len(raw))
		task.SetResult(transfer.Result{Bytes: written, Chunks: i + 1})

		s.logger.WithFields(logrus.Fields{
			"transfer_id": task.ID,
			"channel_id":  req.Handle,
			"chunk":       i,
		}).Debugf("Fetched %s", att.Filename)

		if p := transfer.Percent(int64(i+1), int64(len(plan))); p < 100 {
			task.Report(p)
		}
	}

	sum := sumHex(digest)
	task.SetResult(transfer.Result{Bytes: written, Chunks: len(plan), Checksum: sum})
	if req.ExpectedChecksum != "" && req.ExpectedChecksum != sum {
		task.Finish(fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, req.ExpectedChecksum, sum))
		return
	}
	task.Finish(nil)
}

// messageContent labels a chunk message. The attachment name carries the
// ordering key, so the label is only cut to fit the content limit.
func messageContent(name string) string {
	if utf8.RuneCountInString(name) <= platform.MaxContentLength {
		return name
	}
	return string([]rune(name)[:platform.MaxContentLength])
}

// abortErr reports a cancelled transfer as such rather than as the
// transport failure the cancellation caused.
func (s *ChannelStore) abortErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
	}
	return err
}

// listAll pages backwards through the channel history and returns every
// message oldest first.
func (s *ChannelStore) listAll(ctx context.Context, channelID string) ([]platform.Message, error) {
	var all []platform.Message
	before := ""
	for {
		page, err := s.client.ListMessages(ctx, channelID, before, s.pageSize)
		if err != nil {
			return nil, err
		}
		s.metrics.PageListed()
		all = append(all, page...)
		if len(page) < s.pageSize {
			break
		}
		before = page[len(page)-1].ID
	}
	slices.Reverse(all)
	return all, nil
}

// planChunks picks the attachment-bearing messages and orders them. When
// object is known and some attachments carry its chunk names, every other
// attachment is ignored. When every remaining attachment carries a chunk
// name they are ordered by the embedded index, which must form 0..n-1;
// otherwise creation order is kept.
func planChunks(msgs []platform.Message, object string) ([]platform.Message, error) {
	var withAtt []platform.Message
	for _, m := range msgs {
		if _, ok := m.Attachment(); ok {
			withAtt = append(withAtt, m)
		}
	}
	if object != "" {
		if own := filterObject(withAtt, object); len(own) > 0 {
			withAtt = own
		}
	}
	if len(withAtt) == 0 {
		return withAtt, nil
	}

	indices := make([]int, 0, len(withAtt))
	for _, m := range withAtt {
		att, _ := m.Attachment()
		_, idx, ok := chunker.ParseChunkName(att.Filename)
		if !ok {
			return withAtt, nil
		}
		indices = append(indices, idx)
	}
	if err := chunker.CheckOrder(indices); err != nil {
		return nil, err
	}

	plan := make([]platform.Message, len(withAtt))
	for i, m := range withAtt {
		plan[indices[i]] = m
	}
	return plan, nil
}

func filterObject(msgs []platform.Message, object string) []platform.Message {
	var out []platform.Message
	for _, m := range msgs {
		att, _ := m.Attachment()
		if name, _, ok := chunker.ParseChunkName(att.Filename); ok && name == object {
			out = append(out, m)
		}
	}
	return out
}
