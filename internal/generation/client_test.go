package generation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransform_OK(t *testing.T) {
	out := []byte("\x89PNG generated")

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/images/edits", r.URL.Path)
		assert.Equal(t, "Bearer api-key", r.Header.Get("Authorization"))

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "b64_json", r.FormValue("response_format"))
		assert.Equal(t, "1", r.FormValue("n"))
		assert.NotEmpty(t, r.FormValue("prompt"))

		f, hdr, err := r.FormFile("image")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "photo.png", hdr.Filename)
		assert.Equal(t, "source", string(data))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString(out)}},
		})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "api-key")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	img, err := c.Transform(ctx, []byte("source"), "photo.png")
	require.NoError(t, err)
	assert.Equal(t, out, img)
}

func TestTransform_ErrorStatusNotRetried(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"model overloaded"}}`))
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, "").Transform(context.Background(), []byte("x"), "a.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTransform_EmptyResult(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, "").Transform(context.Background(), []byte("x"), "a.png")
	require.Error(t, err)
}

func TestTransform_Validation(t *testing.T) {
	_, err := NewClient("", "").Transform(context.Background(), []byte("x"), "a.png")
	require.Error(t, err)

	_, err = NewClient("localhost:1", "").Transform(context.Background(), nil, "a.png")
	require.Error(t, err)
}
