package oss

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/kanchana_server/config"
)

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "kanchana-ai/users/7/chat-images/chat-image-7-1.png",
		ObjectKey("/kanchana-ai/users/7/chat-images/", "chat-image-7-1", "image/png"))
	assert.Equal(t, "a/b.jpeg", ObjectKey("a", "b.jpeg", "image/png"))
	assert.Equal(t, "a/b.bin", ObjectKey("a", "b", "application/x-unknown"))
}

func TestClient_UploadBlob(t *testing.T) {
	var gotPath, gotType, gotTags string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotTags = r.Header.Get("X-Oss-Meta-Tags")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewClient(&config.OSSConfig{
		Endpoint:        srv.URL,
		AccessKeyID:     "id",
		AccessKeySecret: "secret",
		BucketName:      "kanchana",
		CDNDomain:       "cdn.example.com",
	})
	require.NoError(t, err)

	url, err := client.UploadBlob(context.Background(), []byte("img"), "image/png",
		"chat-image-7-1", "kanchana-ai/users/7/chat-images", []string{"chat-image", "7", "Lovely"})
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/kanchana-ai/users/7/chat-images/chat-image-7-1.png", url)
	assert.True(t, strings.HasSuffix(gotPath, "/kanchana-ai/users/7/chat-images/chat-image-7-1.png"))
	assert.Equal(t, "image/png", gotType)
	assert.Equal(t, "chat-image,7,Lovely", gotTags)
	assert.Equal(t, []byte("img"), gotBody)
}
