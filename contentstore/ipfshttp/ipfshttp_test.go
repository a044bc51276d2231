package ipfshttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bazaarnet/bazaar/contentstore"
)

func blockPutHandler(t *testing.T, calls *int32, failFirst int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		require.Equal(t, "/api/v0/block/put", r.URL.Path)
		require.Equal(t, "dag-cbor", r.URL.Query().Get("cid-codec"))
		require.Equal(t, "sha2-256", r.URL.Query().Get("mhtype"))

		if n <= failFirst {
			http.Error(w, "node busy", http.StatusServiceUnavailable)
			return
		}

		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, err := io.ReadAll(f)
		require.NoError(t, err)

		c, err := contentstore.ComputeCID(data)
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(blockPutResponse{Key: c.String(), Size: len(data)})
	}
}

func TestPut(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(blockPutHandler(t, &calls, 0))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	data := []byte("metadata bytes")

	got, err := c.Put(context.Background(), data)
	require.NoError(t, err)

	want, err := contentstore.ComputeCID(data)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestPutServerErrorIsRetryable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(blockPutHandler(t, &calls, 1))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.Put(context.Background(), []byte("x"))

	var uerr *contentstore.UploadError
	require.True(t, errors.As(err, &uerr))

	_, err = c.Put(context.Background(), []byte("x"))
	require.NoError(t, err)
}

func TestPutRejectsWrongCid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, _ := contentstore.ComputeCID([]byte("something else"))
		_ = json.NewEncoder(w).Encode(blockPutResponse{Key: c.String()})
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Put(context.Background(), []byte("x"))
	require.Error(t, err)

	var uerr *contentstore.UploadError
	require.False(t, errors.As(err, &uerr))
}
