package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Filesystem stores objects as files under root with a JSON ".meta"
// sidecar for content type and metadata.
type Filesystem struct {
	root string
}

// NewFilesystem returns a filesystem store rooted at root, creating it if needed.
func NewFilesystem(root string) (*Filesystem, error) {
	if root == "" {
		root = "./data/submissions"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root: %w", err)
	}
	return &Filesystem{root: root}, nil
}

// Driver implements Store.
func (f *Filesystem) Driver() Driver { return DriverFilesystem }

type metaFile struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (f *Filesystem) paths(key string) (dataPath, metaPath string, err error) {
	k, err := validateKey(key)
	if err != nil {
		return "", "", err
	}
	dataPath = filepath.Join(f.root, filepath.FromSlash(k))
	return dataPath, dataPath + ".meta", nil
}

// Put streams r to a temp file, hashing as it goes, then renames it into
// place. Existing keys are rejected.
func (f *Filesystem) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	dataPath, metaPath, err := f.paths(key)
	if err != nil {
		return Info{}, err
	}
	if _, err := os.Stat(dataPath); err == nil {
		return Info{}, fmt.Errorf("blob %s already exists", key)
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return Info{}, fmt.Errorf("creating blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".tmp-*")
	if err != nil {
		return Info{}, fmt.Errorf("creating temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		_ = tmp.Close()
		return Info{}, fmt.Errorf("writing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Info{}, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		return Info{}, fmt.Errorf("moving blob into place: %w", err)
	}

	now := time.Now().UTC()
	mf := metaFile{
		ContentType: opts.ContentType,
		Metadata:    opts.Metadata,
		ETag:        hex.EncodeToString(h.Sum(nil)),
		Size:        size,
		CreatedAt:   now,
	}
	data, err := json.Marshal(mf)
	if err != nil {
		return Info{}, fmt.Errorf("encoding blob meta: %w", err)
	}
	if err := os.WriteFile(metaPath, data, 0o644); err != nil {
		return Info{}, fmt.Errorf("writing blob meta: %w", err)
	}

	return mf.info(key), nil
}

// Get opens the object for reading. The caller closes the reader.
func (f *Filesystem) Get(ctx context.Context, key string) (Info, io.ReadCloser, error) {
	dataPath, metaPath, err := f.paths(key)
	if err != nil {
		return Info{}, nil, err
	}

	file, err := os.Open(dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return Info{}, nil, ErrNotFound
	}
	if err != nil {
		return Info{}, nil, fmt.Errorf("opening blob: %w", err)
	}

	var mf metaFile
	if data, err := os.ReadFile(metaPath); err == nil {
		if err := json.Unmarshal(data, &mf); err != nil {
			_ = file.Close()
			return Info{}, nil, fmt.Errorf("decoding blob meta: %w", err)
		}
	} else if st, statErr := file.Stat(); statErr == nil {
		mf.Size = st.Size()
		mf.CreatedAt = st.ModTime().UTC()
	}

	return mf.info(key), file, nil
}

// Delete removes the object and its sidecar. Missing keys are not an error.
func (f *Filesystem) Delete(ctx context.Context, key string) error {
	dataPath, metaPath, err := f.paths(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dataPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing blob: %w", err)
	}
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing blob meta: %w", err)
	}
	return nil
}

func (m metaFile) info(key string) Info {
	return Info{
		Key:          key,
		Size:         m.Size,
		ContentType:  m.ContentType,
		ETag:         m.ETag,
		Metadata:     m.Metadata,
		LastModified: m.CreatedAt,
	}
}
