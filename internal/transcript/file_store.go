package transcript

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore writes one transcription_<callid>.txt file per call
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file a call's transcript is stored in
func (s *FileStore) Path(callID string) (string, error) {
	if callID == "" || callID == "." || callID == ".." || strings.ContainsAny(callID, `/\`) {
		return "", fmt.Errorf("invalid call id %q", callID)
	}
	return filepath.Join(s.dir, "transcription_"+callID+".txt"), nil
}

// Put atomically replaces the call's transcript file
func (s *FileStore) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.Path(rec.CallID)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".transcription_*.tmp")
	if err != nil {
		return fmt.Errorf("create temp transcript: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(Format(rec)); err != nil {
		tmp.Close()
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close transcript: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace transcript: %w", err)
	}
	return nil
}

// Get reads and parses the call's transcript file. Source is not stored in
// the file format and is left empty; CreatedAt is the file mtime.
func (s *FileStore) Get(ctx context.Context, callID string) (Record, error) {
	path, err := s.Path(callID)
	if err != nil {
		return Record{}, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("read transcript: %w", err)
	}

	rec, err := Parse(string(data))
	if err != nil {
		return Record{}, err
	}
	if info, err := os.Stat(path); err == nil {
		rec.CreatedAt = info.ModTime().UTC()
	}
	return rec, nil
}

// Ping checks the directory is still there
func (s *FileStore) Ping(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.dir)
	}
	return nil
}

// Close is a no-op
func (s *FileStore) Close() error {
	return nil
}
