package capture

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Store keeps transcripts.
type Store interface {
	// Save stores t and returns its ID. A transcript without an ID gets a
	// random one.
	Save(ctx context.Context, t *Transcript) (string, error)
	// Load returns the transcript stored under id, or ErrNotFound.
	Load(ctx context.Context, id string) (*Transcript, error)
	// List returns the stored IDs in ascending order.
	List(ctx context.Context) ([]string, error)
}

const transcriptExt = ".json"

// DiskStore stores transcripts as JSON files in a directory.
type DiskStore struct {
	dir string
}

var _ Store = (*DiskStore)(nil)

// NewDiskStore creates dir if needed and returns a store over it.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) path(id string) string {
	return filepath.Join(s.dir, id+transcriptExt)
}

// Save implements Store. The file is written to a temporary name and
// renamed so readers never see a partial transcript.
func (s *DiskStore) Save(ctx context.Context, t *Transcript) (string, error) {
	if t.ID == "" {
		t.ID = generateID()
	}
	if err := validID(t.ID); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(s.dir, ".transcript-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), s.path(t.ID)); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return t.ID, nil
}

// Load implements Store.
func (s *DiskStore) Load(ctx context.Context, id string) (*Transcript, error) {
	if err := validID(id); err != nil {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// List implements Store.
func (s *DiskStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, transcriptExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, transcriptExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// Cleanup removes transcripts older than maxAge.
func (s *DiskStore) Cleanup(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(s.dir, entry.Name()))
		}
	}
	return nil
}

// validID rejects IDs that would escape the store's directory.
func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return errors.New("capture: invalid transcript id " + id)
	}
	return nil
}
