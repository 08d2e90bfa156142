package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
)

// LocalStore keeps objects as files under a root directory.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

// path maps a key inside root; normalizeKey strips any "..".
func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(normalizeKey(key)))
}

func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("put object: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("put object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (s *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("get object: %w", mapFSError(err))
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ObjectInfo{}, fmt.Errorf("get object: %w", err)
	}
	return f, s.info(key, st.Size()), nil
}

func (s *LocalStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	st, err := os.Stat(s.path(key))
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("stat object: %w", mapFSError(err))
	}
	return s.info(key, st.Size()), nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (s *LocalStore) info(key string, size int64) ObjectInfo {
	return ObjectInfo{
		Key:         normalizeKey(key),
		Size:        size,
		ContentType: mime.TypeByExtension(path.Ext(key)),
	}
}

func mapFSError(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	}
	return err
}
