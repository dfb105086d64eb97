package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublish_NilHubIsNoop(t *testing.T) {
	var hub *Hub
	assert.NotPanics(t, func() { hub.Publish(EventLotReceived, nil) })
}

func TestPublish_DropsWhenBufferFull(t *testing.T) {
	hub := NewHub(zap.NewNop(), "admin")
	for i := 0; i < cap(hub.Broadcast)+10; i++ {
		hub.Publish(EventStockAllocated, i)
	}
	assert.Len(t, hub.Broadcast, cap(hub.Broadcast))

	var event Event
	require.NoError(t, json.Unmarshal(<-hub.Broadcast, &event))
	assert.Equal(t, EventStockAllocated, event.Type)
	assert.EqualValues(t, 0, event.Data)
}

func TestServeWs_DeliversEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	secret := []byte("ws-secret")
	hub := NewHub(zap.NewNop(), "accountant")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	router := gin.New()
	router.GET("/ws", func(c *gin.Context) { ServeWs(hub, c, secret) })
	srv := httptest.NewServer(router)
	defer srv.Close()

	sign := func(role string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1", "role": role}).SignedString(secret)
		require.NoError(t, err)
		return s
	}
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token="

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+sign("clerk"), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL+"garbage", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+sign("accountant"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Publish(EventPeriodLocked, map[string]string{"period": "2025-02"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(msg, &event))
	assert.Equal(t, EventPeriodLocked, event.Type)
	assert.Equal(t, map[string]interface{}{"period": "2025-02"}, event.Data)
}
