// Package api serves the HTTP interface of the store: uploads, downloads,
// progress streams and the file index.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jaywantadh/ThreadByte/internal/dfs"
	"github.com/jaywantadh/ThreadByte/internal/metadata"
	"github.com/jaywantadh/ThreadByte/internal/storage"
	"github.com/jaywantadh/ThreadByte/internal/transfer"
	"github.com/jaywantadh/ThreadByte/pkg/logging"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const keepAliveInterval = 15 * time.Second

// Server implements the API server
type Server struct {
	logger     *logrus.Logger
	listenAddr string
	core       *dfs.DFSCore
	metrics    fasthttp.RequestHandler
	srv        *fasthttp.Server
}

// NewServer creates *Server. metricsHandler may be nil.
func NewServer(logger *logrus.Logger, listenAddr string, core *dfs.DFSCore, metricsHandler http.Handler) *Server {
	s := &Server{
		logger:     logging.Or(logger),
		listenAddr: listenAddr,
		core:       core,
	}
	if metricsHandler != nil {
		s.metrics = fasthttpadaptor.NewFastHTTPHandler(metricsHandler)
	}
	s.srv = &fasthttp.Server{
		Handler: s.handler,
		Name:    "ThreadByte",
	}
	return s
}

func (s *Server) handler(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
	ctx.Response.Header.Set("Access-Control-Allow-Headers", "Content-Type")
	ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	if string(ctx.Method()) == "OPTIONS" {
		ctx.SetStatusCode(fasthttp.StatusNoContent)
		return
	}

	path := string(ctx.Path())
	switch {
	case path == "/api/files":
		s.get(ctx, s.filesHandler)
	case path == "/api/upload":
		s.post(ctx, s.uploadHandler)
	case path == "/api/upload/progress", path == "/api/download/progress":
		s.get(ctx, s.progressHandler)
	case path == "/api/download":
		s.get(ctx, s.downloadHandler)
	case path == "/api/transfers":
		s.get(ctx, s.transfersHandler)
	case strings.HasPrefix(path, "/api/transfers/"):
		s.get(ctx, s.transferHandler)
	case path == "/api/database/file":
		s.post(ctx, s.addFileHandler)
	case path == "/api/database/file/delete":
		s.post(ctx, s.deleteFileHandler)
	case path == "/metrics" && s.metrics != nil:
		s.metrics(ctx)
	default:
		writeError(ctx, fasthttp.StatusNotFound, "not found")
	}
}

func (s *Server) get(ctx *fasthttp.RequestCtx, h fasthttp.RequestHandler) {
	if !ctx.IsGet() {
		writeError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h(ctx)
}

func (s *Server) post(ctx *fasthttp.RequestCtx, h fasthttp.RequestHandler) {
	if !ctx.IsPost() {
		writeError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h(ctx)
}

func (s *Server) filesHandler(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	recs, err := s.core.Files(metadata.Filter{
		FileName: string(args.Peek("file_name")),
		ThreadID: string(args.Peek("thread_id")),
		Status:   transfer.Status(args.Peek("status")),
	})
	if err != nil {
		s.logger.WithError(err).Error("❌ Failed to list files")
		writeError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, recs)
}

func (s *Server) uploadHandler(ctx *fasthttp.RequestCtx) {
	var req transfer.UploadRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if _, err := strconv.ParseUint(req.ChannelID, 10, 64); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, fmt.Sprintf("Cannot parse channel_id: %v", err))
		return
	}
	if req.FilePath == "" {
		writeError(ctx, fasthttp.StatusBadRequest, "`file_path` is required")
		return
	}

	// Transfers outlive the request, whose context is recycled by fasthttp.
	task, err := s.core.UploadFile(context.Background(), dfs.UploadFileRequest{
		Source:      req.FilePath,
		ContainerID: req.ChannelID,
		Name:        req.Name,
	})
	if err != nil {
		s.logger.WithError(err).WithField("file_path", req.FilePath).Error("❌ Upload rejected")
		writeError(ctx, uploadStatus(err), err.Error())
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, transfer.UploadResponse{
		FileName:   task.Name,
		ThreadID:   task.Handle,
		TransferID: task.ID,
	})
}

func uploadStatus(err error) int {
	switch {
	case errors.Is(err, os.ErrNotExist),
		errors.Is(err, storage.ErrInvalidRequest),
		errors.Is(err, storage.ErrUnsupportedScheme):
		return fasthttp.StatusBadRequest
	}
	return fasthttp.StatusInternalServerError
}

func (s *Server) downloadHandler(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	threadID := string(args.Peek("thread_id"))
	fileName := string(args.Peek("file"))
	if threadID == "" {
		writeError(ctx, fasthttp.StatusBadRequest, "`thread_id` must be a valid query")
		return
	}
	if fileName == "" {
		writeError(ctx, fasthttp.StatusBadRequest, "`file` must be a valid query")
		return
	}

	task, dest, err := s.core.DownloadFile(context.Background(), dfs.DownloadFileRequest{
		ThreadID: threadID,
		FileName: fileName,
	})
	if err != nil {
		s.logger.WithError(err).WithField("thread_id", threadID).Error("❌ Download rejected")
		writeError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}

	if strings.Contains(string(ctx.Request.Header.Peek("Accept")), "text/event-stream") {
		s.streamProgress(ctx, task.Subscribe())
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, transfer.DownloadResponse{
		TransferID: task.ID,
		ThreadID:   task.Handle,
		Path:       dest,
	})
}

// progressHandler streams the progress of transfer_id, or without it of
// whichever transfer starts next.
func (s *Server) progressHandler(ctx *fasthttp.RequestCtx) {
	id := string(ctx.QueryArgs().Peek("transfer_id"))
	if id == "" {
		s.streamProgress(ctx, s.core.Registry().SubscribeNext())
		return
	}

	samples, err := s.core.Registry().Subscribe(id)
	if err != nil {
		writeError(ctx, fasthttp.StatusNotFound, err.Error())
		return
	}
	s.streamProgress(ctx, samples)
}

func (s *Server) transfersHandler(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusOK, s.core.Transfers())
}

func (s *Server) transferHandler(ctx *fasthttp.RequestCtx) {
	id := strings.TrimPrefix(string(ctx.Path()), "/api/transfers/")
	task, ok := s.core.Transfer(id)
	if !ok {
		writeError(ctx, fasthttp.StatusNotFound, transfer.ErrUnknownTransfer.Error())
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, task.Info())
}

func (s *Server) addFileHandler(ctx *fasthttp.RequestCtx) {
	req, ok := decodeFileRequest(ctx)
	if !ok {
		return
	}
	if err := s.core.AddFile(req.ThreadID, req.FileName); err != nil {
		s.logger.WithError(err).Error("❌ Failed to add file")
		writeError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}
	ctx.SetStatusCode(fasthttp.StatusCreated)
	ctx.WriteString("Added file to database")
}

func (s *Server) deleteFileHandler(ctx *fasthttp.RequestCtx) {
	req, ok := decodeFileRequest(ctx)
	if !ok {
		return
	}
	if err := s.core.DeleteFile(req.ThreadID, req.FileName); err != nil {
		status := fasthttp.StatusInternalServerError
		if errors.Is(err, metadata.ErrNotFound) {
			status = fasthttp.StatusNotFound
		}
		writeError(ctx, status, err.Error())
		return
	}
	ctx.WriteString("File deleted from database")
}

func decodeFileRequest(ctx *fasthttp.RequestCtx) (transfer.FileRequest, bool) {
	var req transfer.FileRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return req, false
	}
	if req.ThreadID == "" || req.FileName == "" {
		writeError(ctx, fasthttp.StatusBadRequest, "`file_name` and `thread_id` are required")
		return req, false
	}
	return req, true
}

// streamProgress writes samples as server-sent events until the transfer
// ends or the client goes away. A failed transfer ends with an error event.
func (s *Server) streamProgress(ctx *fasthttp.RequestCtx, samples <-chan transfer.Sample) {
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")

	ctx.Response.SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		// Flushing early sends the headers before the first sample.
		fmt.Fprint(w, ": connected\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case sm, ok := <-samples:
				if !ok {
					return
				}
				if sm.Failed {
					fmt.Fprint(w, "event: error\n")
				}
				fmt.Fprintf(w, "data: %s\n\n", strconv.FormatFloat(sm.Percent, 'f', -1, 64))
			case <-ticker.C:
				fmt.Fprint(w, ": keep-alive\n\n")
			}
			if err := w.Flush(); err != nil {
				s.logger.WithError(err).Debug("Progress client went away")
				return
			}
		}
	})
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	if err := json.NewEncoder(ctx).Encode(v); err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	}
}

func writeError(ctx *fasthttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, transfer.ErrorResponse{Error: msg})
}

// Serve listens to HTTP connections
func (s *Server) Serve() error {
	s.logger.Infof("🌐 API listening on http://%s", s.listenAddr)
	return s.srv.ListenAndServe(s.listenAddr)
}

// ServeListener serves connections accepted by ln.
func (s *Server) ServeListener(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Shutdown stops accepting connections and waits for open ones to close.
func (s *Server) Shutdown() error {
	return s.srv.Shutdown()
}
