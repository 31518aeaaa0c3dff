// Package dfs is the service layer: it opens sources and sinks, runs
// transfers through the channel store and keeps the file index current.
package dfs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/jaywantadh/ThreadByte/internal/metadata"
	"github.com/jaywantadh/ThreadByte/internal/storage"
	"github.com/jaywantadh/ThreadByte/internal/transfer"
	"github.com/jaywantadh/ThreadByte/pkg/logging"
	"github.com/sirupsen/logrus"
)

var ErrMissingTarget = errors.New("a thread id or a file name is required")

// DFSConfig holds configuration for the service layer.
type DFSConfig struct {
	DownloadDir string
	// TaskRetention is how long finished transfers stay queryable.
	TaskRetention time.Duration
}

// DefaultDFSConfig returns a default configuration
func DefaultDFSConfig() *DFSConfig {
	return &DFSConfig{
		DownloadDir:   "./downloads",
		TaskRetention: time.Hour,
	}
}

// DFSCore runs uploads and downloads and records them in the index.
type DFSCore struct {
	config    *DFSConfig
	store     *storage.ChannelStore
	metaStore *metadata.MetadataStore

	tasksMu sync.RWMutex
	tasks   map[string]*transfer.Task

	logger *logrus.Logger
}

func NewDFSCore(config *DFSConfig, store *storage.ChannelStore, metaStore *metadata.MetadataStore, logger *logrus.Logger) *DFSCore {
	if config == nil {
		config = DefaultDFSConfig()
	}
	return &DFSCore{
		config:    config,
		store:     store,
		metaStore: metaStore,
		tasks:     make(map[string]*transfer.Task),
		logger:    logging.Or(logger),
	}
}

// Registry returns the progress registry of running transfers.
func (dfs *DFSCore) Registry() *transfer.Registry {
	return dfs.store.Registry()
}

// UploadFileRequest names a source and the text channel to create its
// thread in. Name defaults to the source's base name.
type UploadFileRequest struct {
	Source      string
	ContainerID string
	Name        string
}

// UploadFile starts uploading a file, s3 object or file:// URI. The index
// records the thread as in progress and the task's outcome once it ends.
func (dfs *DFSCore) UploadFile(ctx context.Context, req UploadFileRequest) (*transfer.Task, error) {
	src, err := storage.OpenSource(ctx, req.Source)
	if err != nil {
		return nil, err
	}
	name := req.Name
	if name == "" {
		name = src.Name
	}

	task, err := dfs.store.Upload(ctx, storage.UploadRequest{
		Source:      src,
		Size:        src.Size,
		ContainerID: req.ContainerID,
		Name:        name,
	})
	if err != nil {
		src.Close()
		return nil, err
	}
	task.OnFinish(func(*transfer.Task) { src.Close() })

	chunkSize := dfs.store.ChunkSize()
	rec := metadata.FileRecord{
		FileName:    name,
		ThreadID:    task.Handle,
		ContainerID: req.ContainerID,
		Size:        src.Size,
		ChunkCount:  int((src.Size + int64(chunkSize) - 1) / int64(chunkSize)),
		ChunkSize:   chunkSize,
		Status:      transfer.StatusInProgress,
		TransferID:  task.ID,
	}
	if err := dfs.metaStore.PutFile(rec); err != nil {
		task.Cancel()
		return nil, fmt.Errorf("failed to index %s: %w", name, err)
	}
	task.OnFinish(dfs.recordUpload)

	dfs.track(task)
	return task, nil
}

func (dfs *DFSCore) recordUpload(t *transfer.Task) {
	var err error
	if taskErr := t.Err(); taskErr != nil {
		err = dfs.metaStore.UpdateStatus(t.Handle, t.Name, t.Status(), taskErr.Error(), "")
	} else {
		res := t.Result()
		err = dfs.metaStore.Update(t.Handle, t.Name, func(rec *metadata.FileRecord) {
			rec.Size = res.Bytes
			rec.ChunkCount = res.Chunks
		})
		if err == nil {
			err = dfs.metaStore.UpdateStatus(t.Handle, t.Name, t.Status(), "", res.Checksum)
		}
	}
	if err != nil {
		dfs.logger.WithError(err).WithField("thread_id", t.Handle).Warn("⚠️ Failed to record upload outcome")
	}
}

// DownloadFileRequest selects a stored file by thread id, by name, or both.
// Dest defaults to the download directory joined with the file name.
type DownloadFileRequest struct {
	ThreadID string
	FileName string
	Dest     string
}

// DownloadFile starts a download and returns its task and destination.
// Threads missing from the index can still be downloaded by thread id.
func (dfs *DFSCore) DownloadFile(ctx context.Context, req DownloadFileRequest) (*transfer.Task, string, error) {
	rec, err := dfs.resolve(req)
	if err != nil {
		return nil, "", err
	}

	dest := req.Dest
	if dest == "" {
		if rec.FileName == "" {
			return nil, "", fmt.Errorf("%w: no destination for thread %s", ErrMissingTarget, rec.ThreadID)
		}
		dest = filepath.Join(dfs.config.DownloadDir, filepath.Base(rec.FileName))
	}

	sink, err := storage.CreateSink(ctx, dest)
	if err != nil {
		return nil, "", err
	}

	dreq := storage.DownloadRequest{
		Handle: rec.ThreadID,
		Sink:   sink,
		Name:   rec.FileName,
	}
	if rec.Status == transfer.StatusCompleted {
		dreq.ExpectedChunks = rec.ChunkCount
		dreq.ExpectedChecksum = rec.Checksum
	}

	task, err := dfs.store.Download(ctx, dreq)
	if err != nil {
		sink.Close()
		return nil, "", err
	}
	task.OnFinish(func(t *transfer.Task) {
		if err := sink.Close(); err != nil {
			dfs.logger.WithError(err).WithField("transfer_id", t.ID).Errorf("❌ Failed to close %s", dest)
		}
	})

	dfs.track(task)
	return task, dest, nil
}

func (dfs *DFSCore) resolve(req DownloadFileRequest) (metadata.FileRecord, error) {
	switch {
	case req.ThreadID != "" && req.FileName != "":
		rec, err := dfs.metaStore.GetFile(req.ThreadID, req.FileName)
		if errors.Is(err, metadata.ErrNotFound) {
			return metadata.FileRecord{ThreadID: req.ThreadID, FileName: req.FileName}, nil
		}
		return rec, err
	case req.ThreadID != "":
		recs, err := dfs.metaStore.ListFiles(metadata.Filter{ThreadID: req.ThreadID})
		if err != nil {
			return metadata.FileRecord{}, err
		}
		if len(recs) > 0 {
			return recs[len(recs)-1], nil
		}
		return metadata.FileRecord{ThreadID: req.ThreadID}, nil
	case req.FileName != "":
		return dfs.metaStore.FindByName(req.FileName)
	}
	return metadata.FileRecord{}, ErrMissingTarget
}

// Files lists index records.
func (dfs *DFSCore) Files(f metadata.Filter) ([]metadata.FileRecord, error) {
	return dfs.metaStore.ListFiles(f)
}

// AddFile indexes a thread uploaded elsewhere.
func (dfs *DFSCore) AddFile(threadID, fileName string) error {
	return dfs.metaStore.PutFile(metadata.FileRecord{
		FileName: fileName,
		ThreadID: threadID,
		Status:   transfer.StatusCompleted,
	})
}

// DeleteFile removes a record from the index. The thread itself is kept.
func (dfs *DFSCore) DeleteFile(threadID, fileName string) error {
	return dfs.metaStore.DeleteFile(threadID, fileName)
}

// Transfer returns a tracked task.
func (dfs *DFSCore) Transfer(id string) (*transfer.Task, bool) {
	dfs.tasksMu.RLock()
	defer dfs.tasksMu.RUnlock()
	t, ok := dfs.tasks[id]
	return t, ok
}

// Transfers returns a snapshot of every tracked task, newest first.
func (dfs *DFSCore) Transfers() []transfer.TaskInfo {
	dfs.tasksMu.RLock()
	infos := make([]transfer.TaskInfo, 0, len(dfs.tasks))
	for _, t := range dfs.tasks {
		infos = append(infos, t.Info())
	}
	dfs.tasksMu.RUnlock()

	slices.SortFunc(infos, func(a, b transfer.TaskInfo) int { return b.StartedAt.Compare(a.StartedAt) })
	return infos
}

// track keeps t queryable until TaskRetention after it finishes.
func (dfs *DFSCore) track(t *transfer.Task) {
	dfs.tasksMu.Lock()
	dfs.tasks[t.ID] = t
	dfs.tasksMu.Unlock()

	t.OnFinish(func(t *transfer.Task) {
		if dfs.config.TaskRetention <= 0 {
			return
		}
		time.AfterFunc(dfs.config.TaskRetention, func() {
			dfs.tasksMu.Lock()
			delete(dfs.tasks, t.ID)
			dfs.tasksMu.Unlock()
			dfs.store.Registry().Remove(t.ID)
		})
	})
}
