// Package fs stores blobs as files under a root directory. Each blob has a
// JSON sidecar (key + ".meta") holding its content type, metadata and hash.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	iofs "io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"healthcore/internal/blob/object"
)

const metaSuffix = ".meta"

var _ object.Store = (*Store)(nil)

// Store is a filesystem blob store. Concurrent writers to the same key race
// on the final rename; distinct keys are safe.
type Store struct {
	root string
}

// New creates root if needed.
func New(root string) (*Store, error) {
	if root == "" {
		root = "./blobdata"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "create blob root")
	}
	return &Store{root: root}, nil
}

func (s *Store) Driver() object.Driver { return object.DriverFilesystem }

// cleanKey rejects keys that are empty, absolute or that climb out of root.
func cleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("empty blob key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return "", errors.Errorf("invalid blob key %q", key)
	}
	return filepath.ToSlash(filepath.Clean(key)), nil
}

func (s *Store) paths(key string) (data, meta string, err error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", "", err
	}
	data = filepath.Join(s.root, filepath.FromSlash(k))
	return data, data + metaSuffix, nil
}

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	WrittenAt   time.Time         `json:"written_at"`
}

func (m sidecar) info(key, url string) object.Info {
	return object.Info{
		Key:          key,
		Size:         m.Size,
		ContentType:  m.ContentType,
		ETag:         m.ETag,
		Metadata:     object.CloneMetadata(m.Metadata),
		LastModified: m.WrittenAt,
		URL:          url,
	}
}

// Put streams r into a temp file beside the target and renames it in place.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts object.PutOptions) (object.Info, error) {
	if err := ctx.Err(); err != nil {
		return object.Info{}, err
	}
	data, meta, err := s.paths(key)
	if err != nil {
		return object.Info{}, err
	}
	if _, err := os.Stat(data); err == nil {
		return object.Info{}, errors.Wrap(object.ErrExists, key)
	}
	dir := filepath.Dir(data)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return object.Info{}, errors.Wrap(err, "create blob dir")
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return object.Info{}, errors.Wrap(err, "create temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return object.Info{}, errors.Wrapf(err, "write blob %s", key)
	}
	if err := os.Rename(tmp.Name(), data); err != nil {
		return object.Info{}, errors.Wrapf(err, "commit blob %s", key)
	}

	m := sidecar{
		ContentType: opts.ContentType,
		Metadata:    object.CloneMetadata(opts.Metadata),
		ETag:        hex.EncodeToString(h.Sum(nil)),
		Size:        size,
		WrittenAt:   time.Now().UTC(),
	}
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return object.Info{}, errors.Wrap(err, "encode sidecar")
	}
	if err := os.WriteFile(meta, raw, 0o644); err != nil {
		return object.Info{}, errors.Wrap(err, "write sidecar")
	}
	return m.info(key, s.localURL(key)), nil
}

func (s *Store) Get(ctx context.Context, key string) (object.Info, io.ReadCloser, error) {
	info, err := s.Head(ctx, key)
	if err != nil {
		return object.Info{}, nil, err
	}
	data, _, _ := s.paths(key)
	f, err := os.Open(data)
	if errors.Is(err, iofs.ErrNotExist) {
		return object.Info{}, nil, errors.Wrap(object.ErrNotFound, key)
	}
	if err != nil {
		return object.Info{}, nil, errors.Wrapf(err, "open blob %s", key)
	}
	return info, f, nil
}

func (s *Store) Head(ctx context.Context, key string) (object.Info, error) {
	if err := ctx.Err(); err != nil {
		return object.Info{}, err
	}
	_, meta, err := s.paths(key)
	if err != nil {
		return object.Info{}, err
	}
	m, err := readSidecar(meta)
	if errors.Is(err, iofs.ErrNotExist) {
		return object.Info{}, errors.Wrap(object.ErrNotFound, key)
	}
	if err != nil {
		return object.Info{}, err
	}
	return m.info(key, s.localURL(key)), nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	data, meta, err := s.paths(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(data); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return false, nil
		}
		return false, errors.Wrapf(err, "delete blob %s", key)
	}
	_ = os.Remove(meta)
	return true, nil
}

// List walks the sidecars under root.
func (s *Store) List(ctx context.Context, prefix string) ([]object.Info, error) {
	var out []object.Info
	err := filepath.WalkDir(s.root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, metaSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(path, metaSuffix))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		m, err := readSidecar(path)
		if err != nil {
			return err
		}
		out = append(out, m.info(key, s.localURL(key)))
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "list blobs")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// PresignURL returns an unauthenticated local URL.
func (s *Store) PresignURL(_ context.Context, key string, opts object.SignedURLOptions) (string, error) {
	if opts.Method != "" && !strings.EqualFold(opts.Method, "GET") {
		return "", object.ErrUnsupported
	}
	if _, err := cleanKey(key); err != nil {
		return "", err
	}
	return s.localURL(key), nil
}

func (s *Store) localURL(key string) string {
	return (&url.URL{Scheme: "http", Host: "local.blob", Path: "/" + key}).String()
}

func readSidecar(path string) (sidecar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return sidecar{}, err
	}
	var m sidecar
	if err := json.Unmarshal(raw, &m); err != nil {
		return sidecar{}, errors.Wrapf(err, "decode sidecar %s", path)
	}
	return m, nil
}
