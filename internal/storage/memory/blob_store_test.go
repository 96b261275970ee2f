package memory

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "job-1/abc.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://job-1/abc.html", uri)

	payload[0] = 'C'
	obj, ok := store.GetObject("job-1/abc.html")
	require.True(t, ok)
	require.Equal(t, "content", string(obj.Data))
	require.Equal(t, "text/html", obj.ContentType)

	obj.Data[0] = 'X'
	again, _ := store.GetObject("job-1/abc.html")
	require.Equal(t, "content", string(again.Data))
}

func TestBlobStoreList(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	for _, p := range []string{"job-2/b.html", "job-1/z.html", "job-1/a.html"} {
		_, err := store.PutObject(ctx, p, "", strings.NewReader("x"))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"job-1/a.html", "job-1/z.html"}, store.List("job-1/"))
	require.Len(t, store.List(""), 3)

	_, ok := store.GetObject("missing")
	require.False(t, ok)
}

func TestBlobStoreRejectsBadInput(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.PutObject(context.Background(), " ", "", strings.NewReader("x"))
	require.Error(t, err)
	_, err = store.PutObject(context.Background(), "p", "", errReader{})
	require.Error(t, err)
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }
