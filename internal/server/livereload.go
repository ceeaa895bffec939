package server

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ReloadMessage is sent to every live-reload client when the output changed.
const ReloadMessage = "reload"

const writeTimeout = 2 * time.Second

// clientScript is served as livereload.js. The single %s is the websocket
// URL path on the live-reload server; the host is taken from the script's
// own src so IPv6 and TLS work without templating.
const clientScript = `(function () {
  var src = document.currentScript ? document.currentScript.src : "";
  var origin = src ? new URL(src) : window.location;
  var scheme = origin.protocol === "https:" ? "wss:" : "ws:";
  var ws = new WebSocket(scheme + "//" + origin.host + %q);
  ws.onmessage = function (event) {
    if (event.data === "reload") {
      window.location.reload();
    }
  };
})();
`

// Hub keeps the connected live-reload clients and broadcasts reload
// notifications to them.
type Hub struct {
	basePath string
	log      *zap.SugaredLogger

	mu      sync.Mutex
	clients map[string]*websocket.Conn
}

// NewHub creates a Hub serving its endpoints under basePath.
func NewHub(basePath string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		basePath: normalizeBasePath(basePath),
		log:      logger.Named("livereload").Sugar(),
		clients:  make(map[string]*websocket.Conn),
	}
}

// ScriptPath returns the URL path of the client script.
func (h *Hub) ScriptPath() string {
	return path.Join(h.basePath, "livereload.js")
}

// SocketPath returns the URL path of the websocket endpoint.
func (h *Hub) SocketPath() string {
	return path.Join(h.basePath, "livereload")
}

// Router returns the HTTP handler for the live-reload server.
func (h *Hub) Router() http.Handler {
	router := httprouter.New()
	router.GET(h.SocketPath(), h.serveSocket)
	router.GET(h.ScriptPath(), h.serveScript)
	return router
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends msg to every connected client. Clients that cannot be
// written to are dropped.
func (h *Hub) Broadcast(ctx context.Context, msg string) {
	h.mu.Lock()
	clients := make(map[string]*websocket.Conn, len(h.clients))
	for id, c := range h.clients {
		clients[id] = c
	}
	h.mu.Unlock()

	h.log.Debugw("broadcasting", "message", msg, "clients", len(clients))
	for id, c := range clients {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.Write(wctx, websocket.MessageText, []byte(msg))
		cancel()
		if err != nil {
			h.log.Debugw("dropping client", "id", id, "error", err)
			h.remove(id)
			_ = c.Close(websocket.StatusInternalError, "write failed")
		}
	}
}

// CloseAll disconnects every client and waits for the close handshakes.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*websocket.Conn)
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *websocket.Conn) {
			defer wg.Done()
			_ = c.Close(websocket.StatusGoingAway, "server shutting down")
		}(c)
	}
	wg.Wait()
}

func (h *Hub) serveSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	// The page is served from the app server's origin, never ours.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.log.Debugf("websocket accept error: %s", err)
		return
	}

	id := uuid.New().String()
	h.mu.Lock()
	h.clients[id] = conn
	h.mu.Unlock()
	h.log.Debugw("client connected", "id", id, "remote", r.RemoteAddr)

	// Clients never send anything; CloseRead handles control frames and
	// cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()

	h.remove(id)
	h.log.Debugw("client disconnected", "id", id)
}

func (h *Hub) serveScript(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	fmt.Fprintf(w, clientScript, h.SocketPath())
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

// normalizeBasePath returns p with exactly one leading slash and no
// trailing one ("/" for the root).
func normalizeBasePath(p string) string {
	return path.Clean("/" + p)
}
