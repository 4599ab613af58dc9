package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	pipeerrors "github.com/tendocs/tendocs/internal/errors"
)

// FSStore keeps objects as plain files under root/<tenant>/<name>.
type FSStore struct {
	root string
}

var _ Store = (*FSStore)(nil)

// NewFSStore creates a filesystem blob store rooted at root.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, pipeerrors.New(pipeerrors.ErrCodeBlobWrite, "blob root is required", nil)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeBlobWrite, "creating blob root", err)
	}
	return &FSStore{root: root}, nil
}

// objectPath validates components and joins them under the root. Path
// separators and traversal sequences in tenant or name are rejected rather
// than sanitized, so object names round-trip exactly.
func (s *FSStore) objectPath(tenantID, name string) (string, error) {
	for _, part := range []string{tenantID, name} {
		if part == "" || strings.ContainsAny(part, `/\`) || strings.Contains(part, "..") {
			return "", pipeerrors.New(pipeerrors.ErrCodeBlobWrite,
				fmt.Sprintf("invalid object path component %q", part), nil)
		}
	}
	return filepath.Join(s.root, tenantID, name), nil
}

func (s *FSStore) Put(ctx context.Context, tenantID, name string, r io.Reader) error {
	path, err := s.objectPath(tenantID, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pipeerrors.New(pipeerrors.ErrCodeBlobWrite, "creating tenant directory", err)
	}

	// Write to a temp file in the same directory, then rename. Readers never
	// observe a partially written object.
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+name+".tmp*")
	if err != nil {
		return pipeerrors.New(pipeerrors.ErrCodeBlobWrite, "creating temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return pipeerrors.New(pipeerrors.ErrCodeBlobWrite, "writing object", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return pipeerrors.New(pipeerrors.ErrCodeBlobWrite, "closing temp file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return pipeerrors.New(pipeerrors.ErrCodeBlobWrite, "publishing object", err)
	}
	return nil
}

func (s *FSStore) Get(ctx context.Context, tenantID, name string) (io.ReadCloser, error) {
	path, err := s.objectPath(tenantID, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, pipeerrors.New(pipeerrors.ErrCodeBlobNotFound,
			fmt.Sprintf("object %s/%s not found", tenantID, name), err)
	}
	if err != nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeBlobWrite, "opening object", err)
	}
	return f, nil
}

func (s *FSStore) Delete(ctx context.Context, tenantID, name string) error {
	path, err := s.objectPath(tenantID, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return pipeerrors.New(pipeerrors.ErrCodeBlobWrite, "deleting object", err)
	}
	return nil
}

func (s *FSStore) Exists(ctx context.Context, tenantID, name string) (bool, error) {
	path, err := s.objectPath(tenantID, name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, pipeerrors.New(pipeerrors.ErrCodeBlobWrite, "statting object", err)
	}
	return true, nil
}

func (s *FSStore) Close() error { return nil }
