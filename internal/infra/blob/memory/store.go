// Package memory keeps blobs in process memory for tests and the memory
// storage profile.
package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"healthcore/internal/blob/object"
)

var _ object.Store = (*Store)(nil)

type entry struct {
	info object.Info
	data []byte
}

// Store is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	objs map[string]entry
}

// New returns an empty store.
func New() *Store { return &Store{objs: make(map[string]entry)} }

func (s *Store) Driver() object.Driver { return object.DriverMemory }

func (s *Store) Put(_ context.Context, key string, r io.Reader, opts object.PutOptions) (object.Info, error) {
	if key == "" {
		return object.Info{}, errors.New("empty blob key")
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return object.Info{}, errors.Wrapf(err, "read blob %s", key)
	}
	sum := md5.Sum(b)
	info := object.Info{
		Key:          key,
		Size:         int64(len(b)),
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(sum[:]),
		Metadata:     object.CloneMetadata(opts.Metadata),
		LastModified: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objs[key]; ok {
		return object.Info{}, errors.Wrap(object.ErrExists, key)
	}
	s.objs[key] = entry{info: info, data: b}
	return copyInfo(info), nil
}

func (s *Store) Get(_ context.Context, key string) (object.Info, io.ReadCloser, error) {
	s.mu.RLock()
	e, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return object.Info{}, nil, errors.Wrap(object.ErrNotFound, key)
	}
	// Stored bytes are never mutated, so readers can share them.
	return copyInfo(e.info), io.NopCloser(bytes.NewReader(e.data)), nil
}

func (s *Store) Head(_ context.Context, key string) (object.Info, error) {
	s.mu.RLock()
	e, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return object.Info{}, errors.Wrap(object.ErrNotFound, key)
	}
	return copyInfo(e.info), nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objs[key]
	delete(s.objs, key)
	return ok, nil
}

func (s *Store) List(_ context.Context, prefix string) ([]object.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]object.Info, 0, len(s.objs))
	for k, e := range s.objs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, copyInfo(e.info))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) PresignURL(context.Context, string, object.SignedURLOptions) (string, error) {
	return "", object.ErrUnsupported
}

func copyInfo(i object.Info) object.Info {
	i.Metadata = object.CloneMetadata(i.Metadata)
	return i
}
