// Package storage keeps audio and result objects in filesystem buckets.
//
// A bucket is a directory below the store root; object names may contain
// "/" separators. Dot-prefixed path segments are reserved for the store's
// bookkeeping (.tmp for in-flight writes, .meta for metadata sidecars and
// .locks for per-object write locks) and are never valid object names.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const (
	tmpDir   = ".tmp"
	metaDir  = ".meta"
	locksDir = ".locks"

	lockRetryDelay = 10 * time.Millisecond
)

var (
	ErrNotFound    = errors.New("object not found")
	ErrInvalidName = errors.New("invalid object name")
)

// ObjectEvent identifies a newly finalized object.
type ObjectEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// Metadata is stored next to every object.
type Metadata struct {
	ContentType     string            `json:"content_type,omitempty"`
	ContentLanguage string            `json:"content_language,omitempty"`
	Custom          map[string]string `json:"custom,omitempty"`
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Bucket   string
	Name     string
	Size     int64
	Updated  time.Time
	Metadata Metadata
}

// FS is a bucket store rooted at a directory. It is safe for concurrent use
// by multiple goroutines and processes.
type FS struct {
	root string
}

// NewFS creates the root directory if needed.
func NewFS(root string) (*FS, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute store directory.
func (s *FS) Root() string {
	return s.root
}

// EnsureBucket creates bucket if it does not exist.
func (s *FS) EnsureBucket(bucket string) error {
	dir, err := s.bucketDir(bucket)
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// URI returns a file:// URI for the object.
func (s *FS) URI(bucket, name string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(s.root, bucket, filepath.FromSlash(name)))}
	return u.String()
}

func (s *FS) Get(ctx context.Context, bucket, name string) ([]byte, error) {
	rc, err := s.Open(ctx, bucket, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, name, err)
	}
	return data, nil
}

// Open returns a reader over the object content. Callers must close it.
func (s *FS) Open(ctx context.Context, bucket, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.objectPath(bucket, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, name)
		}
		return nil, fmt.Errorf("open %s/%s: %w", bucket, name, err)
	}
	return f, nil
}

// Put creates or replaces an object. Concurrent writers of the same object
// are serialized; readers always see either the old or the new content.
func (s *FS) Put(ctx context.Context, bucket, name string, data []byte, meta Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.objectPath(bucket, name)
	if err != nil {
		return err
	}
	bucketDir := filepath.Join(s.root, bucket)

	unlock, err := s.lock(ctx, bucketDir, name)
	if err != nil {
		return err
	}
	defer unlock()

	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	// The sidecar lands first so a watcher reacting to the object rename
	// always finds matching metadata.
	if err := s.atomicWrite(bucketDir, filepath.Join(bucketDir, metaDir, filepath.FromSlash(name)+".json"), encoded); err != nil {
		return fmt.Errorf("write metadata %s/%s: %w", bucket, name, err)
	}
	if err := s.atomicWrite(bucketDir, p, data); err != nil {
		return fmt.Errorf("write %s/%s: %w", bucket, name, err)
	}
	return nil
}

func (s *FS) Stat(ctx context.Context, bucket, name string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	p, err := s.objectPath(bucket, name)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ObjectInfo{}, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, name)
		}
		return ObjectInfo{}, fmt.Errorf("stat %s/%s: %w", bucket, name, err)
	}
	if info.IsDir() {
		return ObjectInfo{}, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, name)
	}

	meta, err := s.readMetadata(bucket, name)
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{
		Bucket:   bucket,
		Name:     name,
		Size:     info.Size(),
		Updated:  info.ModTime(),
		Metadata: meta,
	}, nil
}

// List returns objects whose names start with prefix, sorted by name.
func (s *FS) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	dir, err := s.bucketDir(bucket)
	if err != nil {
		return nil, err
	}

	var out []ObjectInfo
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == dir {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		meta, err := s.readMetadata(bucket, name)
		if err != nil {
			return err
		}
		out = append(out, ObjectInfo{Bucket: bucket, Name: name, Size: info.Size(), Updated: info.ModTime(), Metadata: meta})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", bucket, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *FS) readMetadata(bucket, name string) (Metadata, error) {
	data, err := os.ReadFile(filepath.Join(s.root, bucket, metaDir, filepath.FromSlash(name)+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metadata{}, nil
		}
		return Metadata{}, fmt.Errorf("read metadata %s/%s: %w", bucket, name, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata %s/%s: %w", bucket, name, err)
	}
	return meta, nil
}

func (s *FS) lock(ctx context.Context, bucketDir, name string) (func(), error) {
	lockPath := filepath.Join(bucketDir, locksDir, filepath.FromSlash(name)+".lock")
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(lockPath)
	ok, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: not acquired", name)
	}
	return func() { _ = lock.Unlock() }, nil
}

func (s *FS) atomicWrite(bucketDir, dest string, data []byte) error {
	staging := filepath.Join(bucketDir, tmpDir)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := filepath.Join(staging, uuid.NewString())
	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	tmpFile = nil

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func (s *FS) bucketDir(bucket string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || strings.HasPrefix(bucket, ".") {
		return "", fmt.Errorf("%w: bucket %q", ErrInvalidName, bucket)
	}
	return filepath.Join(s.root, bucket), nil
}

func (s *FS) objectPath(bucket, name string) (string, error) {
	dir, err := s.bucketDir(bucket)
	if err != nil {
		return "", err
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.FromSlash(name)), nil
}

// ValidateName rejects names that would escape the bucket or collide with
// reserved bookkeeping paths.
func ValidateName(name string) error {
	if name == "" || strings.Contains(name, `\`) || strings.HasPrefix(name, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if path.Clean(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == "" || strings.HasPrefix(segment, ".") {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}
