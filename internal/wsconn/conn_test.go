package wsconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sweep-progress/internal/progress"
)

type serverResult struct {
	conn    *Conn
	waitErr error
}

// newTestServer upgrades every request, sends msgs and reports the Wait result.
func newTestServer(t *testing.T, cfg Config, msgs ...progress.Message) (*httptest.Server, <-chan serverResult) {
	t.Helper()
	up := NewUpgrader(cfg, zap.NewNop())
	results := make(chan serverResult, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range msgs {
			if err := conn.Send(r.Context(), msg); err != nil {
				results <- serverResult{conn: conn, waitErr: err}
				return
			}
		}
		results <- serverResult{conn: conn, waitErr: conn.Wait(context.Background())}
	}))
	t.Cleanup(srv.Close)
	return srv, results
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func awaitResult(t *testing.T, results <-chan serverResult) serverResult {
	t.Helper()
	select {
	case res := <-results:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("server side did not finish")
		return serverResult{}
	}
}

func TestConnSendsJSONAndSeesCleanClose(t *testing.T) {
	t.Parallel()

	want := progress.Snapshot{Progress: 25, State: progress.StateRunning}.WithViewers(2)
	srv, results := newTestServer(t, Config{}, progress.Initial().WithViewers(1), want)

	client, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer client.Close()

	var got progress.Message
	require.NoError(t, client.ReadJSON(&got))
	require.Equal(t, progress.Message{Progress: 0, State: progress.StateQueued, Viewers: 1}, got)
	require.NoError(t, client.ReadJSON(&got))
	require.Equal(t, want, got)

	frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	require.NoError(t, client.WriteControl(websocket.CloseMessage, frame, time.Now().Add(time.Second)))
	require.NoError(t, awaitResult(t, results).waitErr)
}

func TestConnWaitReturnsNilOnPeerClose(t *testing.T) {
	t.Parallel()

	srv, results := newTestServer(t, Config{})
	client, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	require.NoError(t, client.WriteControl(websocket.CloseMessage, frame, time.Now().Add(time.Second)))
	res := awaitResult(t, results)
	require.NoError(t, res.waitErr)
	_ = client.Close()
}

func TestConnWaitReportsAbruptDisconnect(t *testing.T) {
	t.Parallel()

	srv, results := newTestServer(t, Config{})
	client, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	// Drop the TCP connection without a close frame.
	require.NoError(t, client.NetConn().Close())
	res := awaitResult(t, results)
	require.Error(t, res.waitErr)
}

func TestConnSendAfterClose(t *testing.T) {
	t.Parallel()

	srv, results := newTestServer(t, Config{})
	client, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer client.Close()

	require.NoError(t, client.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second)))
	res := awaitResult(t, results)
	require.NoError(t, res.waitErr)

	_ = res.conn.Close()
	_ = res.conn.Close()
	require.ErrorIs(t, res.conn.Send(context.Background(), progress.Initial().WithViewers(1)), ErrClosed)
}

func TestUpgraderRejectsUnknownOrigin(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{AllowedOrigins: []string{"http://localhost:5173"}})

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	header = http.Header{"Origin": []string{"http://localhost:5173"}}
	client, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.NoError(t, err)
	resp.Body.Close()
	client.Close()
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{PingInterval: time.Minute, PongWait: 10 * time.Second}.withDefaults()
	require.Equal(t, 9*time.Second, cfg.PingInterval)
	require.Equal(t, defaultBufferSize, cfg.ReadBufferSize)

	cfg = Config{}.withDefaults()
	require.Equal(t, defaultPongWait, cfg.PongWait)
	require.Less(t, cfg.PingInterval, cfg.PongWait)
}
