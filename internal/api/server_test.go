package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jaywantadh/ThreadByte/internal/dfs"
	"github.com/jaywantadh/ThreadByte/internal/metadata"
	"github.com/jaywantadh/ThreadByte/internal/metrics"
	"github.com/jaywantadh/ThreadByte/internal/platform"
	"github.com/jaywantadh/ThreadByte/internal/storage"
	"github.com/jaywantadh/ThreadByte/internal/transfer"
	"github.com/jaywantadh/ThreadByte/pkg/logging"
	"github.com/phayes/freeport"
)

type testEnv struct {
	addr string
	dir  string
	mem  *platform.Memory
	core *dfs.DFSCore
	cl   *http.Client
}

func getFreePort(t *testing.T) int {
	port, err := freeport.GetFreePort()
	if err != nil {
		t.Fatalf("Failed to get a free port: %v", err)
	}
	return port
}

func waitForPort(t *testing.T, port int) {
	t.Helper()

	for i := 0; i <= 100; i++ {
		timeout := time.Millisecond * 50
		conn, err := net.DialTimeout("tcp", net.JoinHostPort("localhost", fmt.Sprint(port)), timeout)
		if err != nil {
			time.Sleep(timeout)
			continue
		}
		conn.Close()
		break
	}
}

func startTestServer(t *testing.T) *testEnv {
	t.Helper()

	logger := logging.New(io.Discard, false)
	mem := platform.NewMemory()
	m := metrics.New()
	store, err := storage.NewChannelStore(mem, storage.Options{ChunkSize: 8, Logger: logger, Metrics: m})
	if err != nil {
		t.Fatal(err)
	}
	meta, err := metadata.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { meta.Close() })

	dir := t.TempDir()
	core := dfs.NewDFSCore(&dfs.DFSConfig{DownloadDir: filepath.Join(dir, "downloads"), TaskRetention: time.Minute}, store, meta, logger)

	port := getFreePort(t)
	listenAddr := fmt.Sprintf("127.0.0.1:%d", port)
	srv := NewServer(logger, listenAddr, core, m.Handler())
	go srv.Serve()
	waitForPort(t, port)

	return &testEnv{
		addr: "http://" + listenAddr,
		dir:  dir,
		mem:  mem,
		core: core,
		cl:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := e.cl.Post(e.addr+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := e.cl.Get(e.addr + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

// readEvents reads a server-sent event stream to its end.
func readEvents(t *testing.T, body io.Reader) (data []string, events []string) {
	t.Helper()
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		case strings.HasPrefix(line, "event: "):
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
	}
	return data, events
}

func (e *testEnv) waitTransfer(t *testing.T, id string) transfer.TaskInfo {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, body := e.get(t, "/api/transfers/"+id)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("transfer status %d: %s", resp.StatusCode, body)
		}
		var info transfer.TaskInfo
		if err := json.Unmarshal(body, &info); err != nil {
			t.Fatal(err)
		}
		if info.Status.Terminal() {
			return info
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("transfer %s did not finish", id)
	return transfer.TaskInfo{}
}

func TestUploadWithProgressStream(t *testing.T) {
	env := startTestServer(t)
	src := filepath.Join(env.dir, "movie.mkv")
	if err := os.WriteFile(src, []byte("0123456789abcdefghijklmnopqrstuvwxyz"), 0o644); err != nil {
		t.Fatal(err)
	}

	stream, err := env.cl.Get(env.addr + "/api/upload/progress")
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Body.Close()
	if ct := stream.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %q", ct)
	}

	resp, body := env.postJSON(t, "/api/upload", transfer.UploadRequest{ChannelID: "42", FilePath: src})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status %d: %s", resp.StatusCode, body)
	}
	var up transfer.UploadResponse
	if err := json.Unmarshal(body, &up); err != nil {
		t.Fatal(err)
	}
	if up.FileName != "movie.mkv" || up.ThreadID == "" || up.TransferID == "" {
		t.Errorf("unexpected response %+v", up)
	}

	data, events := readEvents(t, stream.Body)
	if len(events) != 0 {
		t.Errorf("unexpected events %v", events)
	}
	if len(data) == 0 || data[len(data)-1] != "100" {
		t.Fatalf("expected stream to end at 100, got %v", data)
	}

	info := env.waitTransfer(t, up.TransferID)
	if info.Status != transfer.StatusCompleted || info.Result.Chunks != 5 {
		t.Errorf("unexpected transfer %+v", info)
	}

	resp, body = env.get(t, "/api/files?file_name=movie.mkv")
	var recs []metadata.FileRecord
	json.Unmarshal(body, &recs)
	if resp.StatusCode != http.StatusOK || len(recs) != 1 || recs[0].ThreadID != up.ThreadID {
		t.Errorf("unexpected files %d %s", resp.StatusCode, body)
	}
}

func TestUploadFailureStream(t *testing.T) {
	env := startTestServer(t)
	env.mem.PostHook = func(string, int) error { return errors.New("nope") }
	src := filepath.Join(env.dir, "a.txt")
	os.WriteFile(src, []byte("some content here"), 0o644)

	resp, body := env.postJSON(t, "/api/upload", transfer.UploadRequest{ChannelID: "42", FilePath: src})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status %d: %s", resp.StatusCode, body)
	}
	var up transfer.UploadResponse
	json.Unmarshal(body, &up)

	stream, err := env.cl.Get(env.addr + "/api/upload/progress?transfer_id=" + up.TransferID)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Body.Close()
	data, events := readEvents(t, stream.Body)
	if len(events) != 1 || events[0] != "error" || data[len(data)-1] != "0" {
		t.Fatalf("expected error event, got events=%v data=%v", events, data)
	}

	info := env.waitTransfer(t, up.TransferID)
	if info.Status != transfer.StatusFailed || info.Error == "" {
		t.Errorf("unexpected transfer %+v", info)
	}
}

func TestUploadValidation(t *testing.T) {
	env := startTestServer(t)
	src := filepath.Join(env.dir, "a.txt")
	os.WriteFile(src, []byte("x"), 0o644)

	tests := []struct {
		name string
		req  transfer.UploadRequest
		want int
	}{
		{"bad channel", transfer.UploadRequest{ChannelID: "general", FilePath: src}, http.StatusBadRequest},
		{"missing path", transfer.UploadRequest{ChannelID: "42"}, http.StatusBadRequest},
		{"missing file", transfer.UploadRequest{ChannelID: "42", FilePath: filepath.Join(env.dir, "nope")}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.postJSON(t, "/api/upload", tt.req)
			if resp.StatusCode != tt.want {
				t.Errorf("status %d, want %d: %s", resp.StatusCode, tt.want, body)
			}
		})
	}

	env.mem.CreateHook = func(string, string) error { return errors.New("no access") }
	resp, body := env.postJSON(t, "/api/upload", transfer.UploadRequest{ChannelID: "42", FilePath: src})
	if resp.StatusCode != http.StatusInternalServerError || !strings.Contains(string(body), "failed to create channel") {
		t.Errorf("status %d: %s", resp.StatusCode, body)
	}

	resp, _ = env.get(t, "/api/upload")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/upload returned %d", resp.StatusCode)
	}
}

func TestDownload(t *testing.T) {
	env := startTestServer(t)
	content := "downloaded through the api"
	src := filepath.Join(env.dir, "doc.txt")
	os.WriteFile(src, []byte(content), 0o644)

	_, body := env.postJSON(t, "/api/upload", transfer.UploadRequest{ChannelID: "42", FilePath: src})
	var up transfer.UploadResponse
	json.Unmarshal(body, &up)
	env.waitTransfer(t, up.TransferID)

	resp, body := env.get(t, "/api/download?thread_id="+up.ThreadID+"&file=doc.txt")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status %d: %s", resp.StatusCode, body)
	}
	var down transfer.DownloadResponse
	json.Unmarshal(body, &down)
	info := env.waitTransfer(t, down.TransferID)
	if info.Status != transfer.StatusCompleted {
		t.Fatalf("download failed: %+v", info)
	}
	got, err := os.ReadFile(down.Path)
	if err != nil || string(got) != content {
		t.Fatalf("downloaded %q, %v", got, err)
	}

	req, _ := http.NewRequest("GET", env.addr+"/api/download?thread_id="+up.ThreadID+"&file=doc.txt", nil)
	req.Header.Set("Accept", "text/event-stream")
	stream, err := env.cl.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Body.Close()
	data, _ := readEvents(t, stream.Body)
	if len(data) == 0 || data[len(data)-1] != "100" {
		t.Errorf("expected streamed download to end at 100, got %v", data)
	}
}

func TestDownloadValidation(t *testing.T) {
	env := startTestServer(t)
	for _, q := range []string{"", "?thread_id=1", "?file=a"} {
		resp, _ := env.get(t, "/api/download"+q)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%q: status %d", q, resp.StatusCode)
		}
	}
	resp, _ := env.get(t, "/api/transfers/unknown")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown transfer: status %d", resp.StatusCode)
	}
	resp, _ = env.get(t, "/api/download/progress?transfer_id=unknown")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown progress: status %d", resp.StatusCode)
	}
}

func TestDatabaseRoutes(t *testing.T) {
	env := startTestServer(t)

	resp, body := env.postJSON(t, "/api/database/file", transfer.FileRequest{FileName: "a.zip", ThreadID: "77"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add status %d: %s", resp.StatusCode, body)
	}
	resp, body = env.postJSON(t, "/api/database/file", transfer.FileRequest{FileName: "a.zip"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("add without thread: status %d: %s", resp.StatusCode, body)
	}

	_, body = env.get(t, "/api/files?thread_id=77")
	var recs []metadata.FileRecord
	json.Unmarshal(body, &recs)
	if len(recs) != 1 || recs[0].FileName != "a.zip" {
		t.Fatalf("unexpected files %s", body)
	}

	resp, _ = env.postJSON(t, "/api/database/file/delete", transfer.FileRequest{FileName: "a.zip", ThreadID: "77"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status %d", resp.StatusCode)
	}
	resp, _ = env.postJSON(t, "/api/database/file/delete", transfer.FileRequest{FileName: "a.zip", ThreadID: "77"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status %d", resp.StatusCode)
	}

	_, body = env.get(t, "/api/files")
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("expected empty list, got %s", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := startTestServer(t)
	resp, body := env.get(t, "/metrics")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "threadbyte_chunks_posted_total") {
		t.Errorf("status %d:\n%s", resp.StatusCode, body)
	}
}
