package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func TestHub_Paths(t *testing.T) {
	tests := []struct {
		base       string
		wantScript string
		wantSocket string
	}{
		{"", "/livereload.js", "/livereload"},
		{"/", "/livereload.js", "/livereload"},
		{"app", "/app/livereload.js", "/app/livereload"},
		{"/app/", "/app/livereload.js", "/app/livereload"},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			h := NewHub(tt.base, nil)
			assert.Equal(t, tt.wantScript, h.ScriptPath())
			assert.Equal(t, tt.wantSocket, h.SocketPath())
		})
	}
}

func TestHub_ServesScript(t *testing.T) {
	h := NewHub("/app", nil)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/app/livereload.js")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "javascript")
	assert.Contains(t, string(body), `"/app/livereload"`)
}

func TestHub_Broadcast(t *testing.T) {
	h := NewHub("/", nil)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + h.SocketPath()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return h.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.Broadcast(ctx, ReloadMessage)

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	assert.Equal(t, ReloadMessage, string(data))
}

func TestHub_CloseAll(t *testing.T) {
	h := NewHub("/", nil)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + h.SocketPath()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return h.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	closed := make(chan struct{})
	go func() {
		h.CloseAll()
		close(closed)
	}()

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))

	select {
	case <-closed:
	case <-ctx.Done():
		t.Fatal("CloseAll did not return")
	}
	assert.Equal(t, 0, h.Clients())
}
