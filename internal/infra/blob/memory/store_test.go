package memory

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcore/internal/blob/object"
)

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()
	md := map[string]string{"rows": "3"}
	_, err := s.Put(ctx, "uploads/a.xlsx", strings.NewReader("abc"), object.PutOptions{Metadata: md})
	require.NoError(t, err)
	md["rows"] = "changed"

	info, rc, err := s.Get(ctx, "uploads/a.xlsx")
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	assert.Equal(t, "abc", string(b))
	assert.Equal(t, "3", info.Metadata["rows"])

	info.Metadata["rows"] = "mutated"
	head, err := s.Head(ctx, "uploads/a.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "3", head.Metadata["rows"])

	_, err = s.Put(ctx, "uploads/a.xlsx", strings.NewReader("x"), object.PutOptions{})
	assert.ErrorIs(t, err, object.ErrExists)
	_, err = s.Head(ctx, "nope")
	assert.ErrorIs(t, err, object.ErrNotFound)
	_, err = s.PresignURL(ctx, "uploads/a.xlsx", object.SignedURLOptions{})
	assert.ErrorIs(t, err, object.ErrUnsupported)

	ok, _ := s.Delete(ctx, "uploads/a.xlsx")
	assert.True(t, ok)
	ok, _ = s.Delete(ctx, "uploads/a.xlsx")
	assert.False(t, ok)
}

func TestListOrderedByKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	var wg sync.WaitGroup
	for i := 9; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Put(ctx, fmt.Sprintf("results/%02d", i), strings.NewReader("x"), object.PutOptions{})
		}(i)
	}
	wg.Wait()
	_, _ = s.Put(ctx, "uploads/z", strings.NewReader("x"), object.PutOptions{})

	got, err := s.List(ctx, "results/")
	require.NoError(t, err)
	require.Len(t, got, 10)
	for i, info := range got {
		assert.Equal(t, fmt.Sprintf("results/%02d", i), info.Key)
	}
}
