package transfer

import "time"

// TaskInfo is the status of a transfer as reported over the API.
type TaskInfo struct {
	TransferID string     `json:"transfer_id"`
	Kind       Kind       `json:"kind"`
	ThreadID   string     `json:"thread_id"`
	FileName   string     `json:"file_name,omitempty"`
	Status     Status     `json:"status"`
	Percent    float64    `json:"percent"`
	Result     Result     `json:"result"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// UploadRequest asks the API to upload a local file into a new thread.
type UploadRequest struct {
	ChannelID string `json:"channel_id"`
	FilePath  string `json:"file_path"`
	Name      string `json:"name,omitempty"`
}

// UploadResponse is returned as soon as the thread exists.
type UploadResponse struct {
	FileName   string `json:"file_name"`
	ThreadID   string `json:"thread_id"`
	TransferID string `json:"transfer_id"`
}

// DownloadResponse is returned once a download has started.
type DownloadResponse struct {
	TransferID string `json:"transfer_id"`
	ThreadID   string `json:"thread_id"`
	Path       string `json:"path"`
}

// FileRequest adds or deletes an index record.
type FileRequest struct {
	FileName string `json:"file_name"`
	ThreadID string `json:"thread_id"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}
