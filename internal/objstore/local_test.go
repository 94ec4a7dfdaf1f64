package objstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutGet(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "http://booth.local/assets/")
	require.NoError(t, err)

	ref, err := s.Put(context.Background(), CaptureKey("sess-1", 1, ""), "image/jpeg", []byte("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "http://booth.local/assets/booth/sess-1/peer-1.jpg", ref)
	assert.True(t, s.Owns(ref))

	data, err := s.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)

	_, err = s.Get(context.Background(), "http://booth.local/assets/booth/sess-1/missing.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(context.Background(), "https://elsewhere.example/x.jpg")
	assert.ErrorIs(t, err, ErrForeignRef)
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "http://booth.local/assets")
	require.NoError(t, err)

	for _, key := range []string{"", "../etc/passwd", "a/../../b", "a//b"} {
		_, err := s.Put(context.Background(), key, "", []byte("x"))
		assert.ErrorIs(t, err, ErrBadKey, "key %q", key)
	}
	_, err = s.Get(context.Background(), "http://booth.local/assets/../secret")
	assert.ErrorIs(t, err, ErrBadKey)
}

func TestLocalStore_Handler(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "http://booth.local/assets")
	require.NoError(t, err)
	_, err = s.Put(context.Background(), ResultKey("s9"), "image/jpeg", []byte("final"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.StripPrefix("/assets", s.Handler()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/assets/booth/s9/final.jpg")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "final", string(body))
}

func TestS3Store_KeyFromRef(t *testing.T) {
	s := &S3Store{cfg: S3Config{Bucket: "booth-media", BaseURL: "https://cdn.example.com"}}

	cases := map[string]string{
		"s3://booth-media/booth/s/final.jpg":                                "booth/s/final.jpg",
		"https://booth-media.s3.eu-west-1.amazonaws.com/booth/s/peer-0.jpg": "booth/s/peer-0.jpg",
		"https://s3.eu-west-1.amazonaws.com/booth-media/booth/s/peer-1.jpg": "booth/s/peer-1.jpg",
		"https://cdn.example.com/booth/s/final.jpg":                         "booth/s/final.jpg",
	}
	for ref, want := range cases {
		got, ok := s.keyFromRef(ref)
		require.True(t, ok, ref)
		assert.Equal(t, want, got)
	}
	assert.False(t, s.Owns("https://other.example.com/x.jpg"))
	assert.False(t, s.Owns("s3://other-bucket/x.jpg"))
}
