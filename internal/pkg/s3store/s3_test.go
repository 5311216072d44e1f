package s3store

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/kanchana_server/config"
)

func TestStore_UploadBlob(t *testing.T) {
	var gotMethod, gotPath, gotType, gotTags string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotTags = r.Header.Get("X-Amz-Meta-Tags")
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store, err := New(&config.S3Config{
		Endpoint:        strings.TrimPrefix(srv.URL, "http://"),
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
		Bucket:          "chat",
	})
	require.NoError(t, err)

	url, err := store.UploadBlob(context.Background(), []byte("img"), "image/webp",
		"chat-image-guest_x-5", "kanchana-ai/users/guest_x/chat-images", []string{"chat-image"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/chat/kanchana-ai/users/guest_x/chat-images/chat-image-guest_x-5.webp", gotPath)
	assert.Equal(t, "image/webp", gotType)
	assert.Equal(t, "chat-image", gotTags)
	assert.Equal(t, srv.URL+"/chat/kanchana-ai/users/guest_x/chat-images/chat-image-guest_x-5.webp", url)
}

func TestStore_URLWithPublicBase(t *testing.T) {
	store, err := New(&config.S3Config{
		Endpoint:      "s3.example.com",
		Bucket:        "chat",
		UseSSL:        true,
		PublicBaseURL: "https://media.example.com/",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://media.example.com/a/b.png", store.URL("a/b.png"))
}
