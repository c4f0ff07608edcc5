package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcore/internal/blob/object"
)

// fakeBucket answers the path-style S3 calls the store makes.
type fakeBucket struct {
	mu   sync.Mutex
	objs map[string]fakeObject
}

type fakeObject struct {
	body        []byte
	contentType string
}

func respond(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: header}
}

func (f *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, key, _ := strings.Cut(strings.TrimPrefix(req.URL.Path, "/"), "/")

	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		prefix := req.URL.Query().Get("prefix")
		keys := make([]string, 0, len(f.objs))
		for k := range f.objs {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2026-01-01T00:00:00Z</LastModified></Contents>", k, len(f.objs[k].body))
		}
		b.WriteString("</ListBucketResult>")
		return respond(http.StatusOK, b.String(), http.Header{"Content-Type": {"application/xml"}}), nil
	}

	obj, ok := f.objs[key]
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		if !ok {
			return respond(http.StatusNotFound, "", nil), nil
		}
		h := http.Header{
			"Content-Length": {strconv.Itoa(len(obj.body))},
			"Content-Type":   {obj.contentType},
			"Etag":           {`"abc"`},
			"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
		}
		if req.Method == http.MethodHead {
			return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Header: h}, nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(obj.body)), Header: h}, nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		f.objs[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type")}
		return respond(http.StatusOK, "", http.Header{"Etag": {`"abc"`}}), nil
	case http.MethodDelete:
		delete(f.objs, key)
		return respond(http.StatusNoContent, "", nil), nil
	}
	return respond(http.StatusNotImplemented, "", nil), nil
}

// decodeChunked unwraps a single-chunk aws-chunked body.
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 || parts[2] != "0" {
		return nil, false
	}
	n, err := strconv.ParseInt(parts[0], 16, 64)
	if err != nil || int64(len(parts[1])) != n {
		return nil, false
	}
	return []byte(parts[1]), true
}

func newFakeStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), Config{
		Bucket:          "results",
		Endpoint:        "https://s3.test.local",
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		HTTPClient:      &http.Client{Transport: &fakeBucket{objs: map[string]fakeObject{}}},
	})
	require.NoError(t, err)
	return s
}

func TestStoreFlow(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore(t)
	assert.Equal(t, object.DriverS3, s.Driver())

	info, err := s.Put(ctx, "results/mz/job-1.xlsx", strings.NewReader("hello"), object.PutOptions{ContentType: "text/plain"})
	require.NoError(t, err)
	assert.Equal(t, "results/mz/job-1.xlsx", info.Key)
	assert.Equal(t, "text/plain", info.ContentType)
	assert.Equal(t, "abc", info.ETag)

	_, err = s.Put(ctx, "results/mz/job-1.xlsx", strings.NewReader("again"), object.PutOptions{})
	assert.ErrorIs(t, err, object.ErrExists)

	_, rc, err := s.Get(ctx, "results/mz/job-1.xlsx")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	assert.Equal(t, "hello", string(body))

	_, err = s.Put(ctx, "uploads/x.xlsx", strings.NewReader("x"), object.PutOptions{})
	require.NoError(t, err)
	listed, err := s.List(ctx, "results/")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, int64(5), listed[0].Size)

	u, err := s.PresignURL(ctx, "results/mz/job-1.xlsx", object.SignedURLOptions{Expiry: time.Minute})
	require.NoError(t, err)
	assert.Contains(t, u, "X-Amz-Expires=60")
	_, err = s.PresignURL(ctx, "results/mz/job-1.xlsx", object.SignedURLOptions{Method: "PUT"})
	assert.ErrorIs(t, err, object.ErrUnsupported)

	ok, err := s.Delete(ctx, "results/mz/job-1.xlsx")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(ctx, "results/mz/job-1.xlsx")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMissingKeys(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore(t)
	_, err := s.Head(ctx, "nope")
	assert.ErrorIs(t, err, object.ErrNotFound)
	_, _, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, object.ErrNotFound)
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}
