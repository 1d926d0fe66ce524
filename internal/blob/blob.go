// Package blob stores raw recording payloads outside the transactional
// database. Uploads are two-phase: the gateway mints an upload target,
// the client writes the payload to it, and the completion call binds
// the resulting ref to the recording row.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound reports a ref with no stored payload.
var ErrNotFound = errors.New("blob: not found")

// UploadTarget is a minted destination for one payload.
type UploadTarget struct {
	Ref string `json:"ref"`
	URL string `json:"url"`
}

// Store is the payload storage abstraction.
type Store interface {
	CreateUploadTarget(ctx context.Context) (UploadTarget, error)
	Put(ctx context.Context, ref string, data []byte) error
	Get(ctx context.Context, ref string) ([]byte, error)
}

// FS stores payloads as files under a base directory. Refs are opaque
// uuid tokens; the client never chooses the path.
type FS struct {
	dir     string
	baseURL string
}

// NewFS creates the base directory if needed.
func NewFS(dir, baseURL string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FS{dir: dir, baseURL: baseURL}, nil
}

func (f *FS) CreateUploadTarget(context.Context) (UploadTarget, error) {
	ref := uuid.NewString()
	return UploadTarget{Ref: ref, URL: f.baseURL + "/" + ref}, nil
}

func (f *FS) Put(_ context.Context, ref string, data []byte) error {
	path, err := f.path(ref)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (f *FS) Get(_ context.Context, ref string) ([]byte, error) {
	path, err := f.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// path rejects refs that escape the base directory.
func (f *FS) path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) {
		return "", fmt.Errorf("blob: invalid ref %q", ref)
	}
	return filepath.Join(f.dir, ref), nil
}

// Memory is an in-process Store for tests.
type Memory struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) CreateUploadTarget(context.Context) (UploadTarget, error) {
	ref := uuid.NewString()
	return UploadTarget{Ref: ref, URL: "mem://" + ref}, nil
}

func (m *Memory) Put(_ context.Context, ref string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.blobs[ref] = buf
	return nil
}

func (m *Memory) Get(_ context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}
