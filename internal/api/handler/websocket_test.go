package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/kanchana_server/internal/pkg/jwt"
	"github.com/qs3c/kanchana_server/internal/pkg/pubsub"
	"github.com/qs3c/kanchana_server/internal/pkg/response"
	"github.com/qs3c/kanchana_server/internal/pkg/ws"
)

const wsSecret = "ws-test-secret"

func TestWebSocketHandler_RejectsMissingToken(t *testing.T) {
	h := NewWebSocketHandler(ws.NewHub(), wsSecret)
	router := gin.New()
	router.GET("/ws", h.Handle)

	for _, path := range []string{"/ws", "/ws?token=bad"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, response.CodeAuthFailed, parseResponse(t, w).Code)
	}
}

func TestWebSocketHandler_ReceivesChatEvents(t *testing.T) {
	hub := ws.NewHub()
	h := NewWebSocketHandler(hub, wsSecret)
	router := gin.New()
	router.GET("/ws", h.Handle)

	server := httptest.NewServer(router)
	defer server.Close()

	token, err := jwt.GenerateToken(11, wsSecret, 1)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.IsOnline(11) }, time.Second, 10*time.Millisecond)

	hub.ForwardChatEvent(&pubsub.ChatEvent{Type: "chat_event", UserID: 11, Stage: pubsub.StageGenerating})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), pubsub.StageGenerating)

	conn.Close()
	require.Eventually(t, func() bool { return !hub.IsOnline(11) }, time.Second, 10*time.Millisecond)
}
