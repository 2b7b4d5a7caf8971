package tracked

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/onnwee/live-herald/filestore"
)

// fileRecord keeps the streamers.json shape: username + message.
type fileRecord struct {
	Username string    `json:"username"`
	Message  string    `json:"message"`
	AddedAt  time.Time `json:"added_at,omitempty"`
}

// FileBackend stores entries as a JSON array rewritten atomically on each change.
type FileBackend struct {
	mu      sync.Mutex
	path    string
	records []fileRecord
}

func NewFileBackend(path string) *FileBackend { return &FileBackend{path: path} }

func (f *FileBackend) Load(context.Context) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var recs []fileRecord
	if _, err := filestore.ReadJSON(f.path, &recs); err != nil {
		return nil, err
	}
	// Older files may carry mixed-case or duplicate logins; keep the first.
	seen := make(map[string]bool, len(recs))
	f.records = f.records[:0]
	out := make([]Entry, 0, len(recs))
	for _, r := range recs {
		id := Normalize(r.Username)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		r.Username = id
		f.records = append(f.records, r)
		out = append(out, Entry{Identity: id, Template: r.Message, AddedAt: r.AddedAt})
	}
	return out, nil
}

func (f *FileBackend) Insert(_ context.Context, e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.Username == e.Identity {
			return fmt.Errorf("%w: %s", ErrAlreadyTracked, e.Identity)
		}
	}
	next := append(append([]fileRecord(nil), f.records...), fileRecord{Username: e.Identity, Message: e.Template, AddedAt: e.AddedAt})
	if err := filestore.WriteJSON(f.path, next); err != nil {
		return err
	}
	f.records = next
	return nil
}

func (f *FileBackend) Delete(_ context.Context, identity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := make([]fileRecord, 0, len(f.records))
	for _, r := range f.records {
		if r.Username != identity {
			next = append(next, r)
		}
	}
	if len(next) == len(f.records) {
		return fmt.Errorf("%w: %s", ErrNotTracked, identity)
	}
	if err := filestore.WriteJSON(f.path, next); err != nil {
		return err
	}
	f.records = next
	return nil
}
