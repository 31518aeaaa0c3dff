package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/jaywantadh/ThreadByte/internal/transfer"
)

const filePrefix = "file:"

var (
	ErrNotFound      = errors.New("file record not found")
	ErrInvalidRecord = errors.New("file record needs a thread id and a file name")
)

// FileRecord describes one stored object: the thread holding its chunks and
// what the last transfer left behind.
type FileRecord struct {
	FileName    string          `json:"file_name"`
	ThreadID    string          `json:"thread_id"`
	ContainerID string          `json:"container_id,omitempty"`
	Size        int64           `json:"size"`
	ChunkCount  int             `json:"chunk_count"`
	ChunkSize   int             `json:"chunk_size,omitempty"`
	Checksum    string          `json:"checksum,omitempty"`
	Status      transfer.Status `json:"status"`
	TransferID  string          `json:"transfer_id,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Filter selects records. Empty fields match everything.
type Filter struct {
	FileName string
	ThreadID string
	Status   transfer.Status
}

func (f Filter) match(r FileRecord) bool {
	return (f.FileName == "" || r.FileName == f.FileName) &&
		(f.ThreadID == "" || r.ThreadID == f.ThreadID) &&
		(f.Status == "" || r.Status == f.Status)
}

// MetadataStore wraps BadgerDB for file record operations.
type MetadataStore struct {
	db *badger.DB
}

// OpenMetadataStore opens (or creates) a BadgerDB at the given path.
func OpenMetadataStore(dbPath string) (*MetadataStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &MetadataStore{db: db}, nil
}

// OpenInMemory opens a store that keeps nothing on disk.
func OpenInMemory() (*MetadataStore, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &MetadataStore{db: db}, nil
}

// Close closes the BadgerDB.
func (ms *MetadataStore) Close() error {
	return ms.db.Close()
}

func fileKey(threadID, fileName string) []byte {
	return []byte(filePrefix + threadID + ":" + fileName)
}

// PutFile stores rec, keeping the creation time of an existing record.
func (ms *MetadataStore) PutFile(rec FileRecord) error {
	if rec.ThreadID == "" || rec.FileName == "" {
		return ErrInvalidRecord
	}
	now := time.Now().UTC()
	key := fileKey(rec.ThreadID, rec.FileName)

	return ms.db.Update(func(txn *badger.Txn) error {
		existing, err := getRecord(txn, key)
		switch {
		case err == nil:
			rec.CreatedAt = existing.CreatedAt
		case errors.Is(err, ErrNotFound):
			if rec.CreatedAt.IsZero() {
				rec.CreatedAt = now
			}
		default:
			return err
		}
		rec.UpdatedAt = now
		return setRecord(txn, key, rec)
	})
}

// GetFile returns the record of fileName in threadID.
func (ms *MetadataStore) GetFile(threadID, fileName string) (FileRecord, error) {
	var rec FileRecord
	err := ms.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, fileKey(threadID, fileName))
		return err
	})
	return rec, err
}

// FindByName returns the most recently updated record called fileName.
func (ms *MetadataStore) FindByName(fileName string) (FileRecord, error) {
	recs, err := ms.ListFiles(Filter{FileName: fileName})
	if err != nil {
		return FileRecord{}, err
	}
	if len(recs) == 0 {
		return FileRecord{}, fmt.Errorf("%w: %s", ErrNotFound, fileName)
	}
	latest := slices.MaxFunc(recs, func(a, b FileRecord) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	return latest, nil
}

// ListFiles returns the records matching f, oldest first.
func (ms *MetadataStore) ListFiles(f Filter) ([]FileRecord, error) {
	prefix := []byte(filePrefix)
	if f.ThreadID != "" {
		prefix = []byte(filePrefix + f.ThreadID + ":")
	}

	recs := []FileRecord{}
	err := ms.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec FileRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if f.match(rec) {
				recs = append(recs, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(recs, func(a, b FileRecord) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ThreadID, b.ThreadID)
	})
	return recs, nil
}

// Update applies fn to the stored record inside one transaction.
func (ms *MetadataStore) Update(threadID, fileName string, fn func(*FileRecord)) error {
	key := fileKey(threadID, fileName)
	return ms.db.Update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, key)
		if err != nil {
			return err
		}
		fn(&rec)
		rec.UpdatedAt = time.Now().UTC()
		return setRecord(txn, key, rec)
	})
}

// UpdateStatus records the outcome of a transfer.
func (ms *MetadataStore) UpdateStatus(threadID, fileName string, status transfer.Status, errMsg, checksum string) error {
	return ms.Update(threadID, fileName, func(rec *FileRecord) {
		rec.Status = status
		rec.Error = errMsg
		if checksum != "" {
			rec.Checksum = checksum
		}
	})
}

// DeleteFile removes a record. Deleting a missing record returns ErrNotFound.
func (ms *MetadataStore) DeleteFile(threadID, fileName string) error {
	key := fileKey(threadID, fileName)
	return ms.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s/%s", ErrNotFound, threadID, fileName)
			}
			return err
		}
		return txn.Delete(key)
	})
}

func getRecord(txn *badger.Txn, key []byte) (FileRecord, error) {
	var rec FileRecord
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return rec, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimPrefix(string(key), filePrefix))
		}
		return rec, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

func setRecord(txn *badger.Txn, key []byte, rec FileRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(key, val)
}
