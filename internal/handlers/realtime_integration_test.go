package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/feedguard/internal/handlers/testutil"
	"github.com/charlesng35/feedguard/internal/models"
	"github.com/charlesng35/feedguard/internal/realtime"
)

func dialStream(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestRealtimeStreamsLiveEvents(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateProfile("fan-1", models.PlanFree)
	env.CreateProfile("author-1", models.PlanFree)
	env.CreateContent("content-1", "author-1", time.Hour)

	server := httptest.NewServer(env.Router)
	t.Cleanup(server.Close)

	conn := dialStream(t, server, "token="+env.Token("author-1"))
	require.Eventually(t, func() bool {
		return env.Hub.Subscribers(realtime.StreamNotifications) == 1 && env.Hub.Subscribers(realtime.StreamTrending) == 1
	}, 2*time.Second, 10*time.Millisecond)

	w := env.Request(http.MethodPost, "/api/actions/like", map[string]string{"target_id": "content-1"}, env.Token("fan-1"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	env.Notifications.Wait()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg realtime.Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, realtime.StreamNotifications, msg.Stream)
	require.Equal(t, realtime.EventNotificationCreated, msg.Event)

	w = env.Request(http.MethodPost, "/api/jobs/trending", nil, testutil.JobSecret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, realtime.StreamTrending, msg.Stream)
	require.Equal(t, realtime.EventTrendingUpdated, msg.Event)
}

func TestRealtimeRejectsMissingToken(t *testing.T) {
	env := testutil.NewEnv(t)
	server := httptest.NewServer(env.Router)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
