package server

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// appHandler serves the built output under a base URL. Requests that match
// no file go to the proxy when one is configured; HTML navigations without
// a proxy fall back to the root index.html so client-side routing works.
type appHandler struct {
	root    string
	baseURL string
	proxy   http.Handler

	// scriptURL is injected into served HTML pages. Empty disables
	// injection.
	scriptURL string

	log *zap.SugaredLogger
}

func newAppHandler(root, baseURL string, proxy http.Handler, scriptURL string, log *zap.SugaredLogger) *appHandler {
	base := normalizeBasePath(baseURL)
	if base != "/" {
		base += "/"
	}
	return &appHandler{root: root, baseURL: base, proxy: proxy, scriptURL: scriptURL, log: log}
}

func (h *appHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.fallback(w, r)
		return
	}

	// "/app" is the base URL without its trailing slash.
	if r.URL.Path+"/" == h.baseURL {
		http.Redirect(w, r, h.baseURL, http.StatusMovedPermanently)
		return
	}
	if !strings.HasPrefix(r.URL.Path, h.baseURL) {
		h.fallback(w, r)
		return
	}

	rel := path.Clean("/" + strings.TrimPrefix(r.URL.Path, h.baseURL))
	file := filepath.Join(h.root, filepath.FromSlash(rel))

	info, err := os.Stat(file)
	if err == nil && info.IsDir() {
		file = filepath.Join(file, "index.html")
		info, err = os.Stat(file)
	}
	if err == nil && !info.IsDir() {
		h.serveFile(w, r, file, info.ModTime())
		return
	}

	h.fallback(w, r)
}

// fallback handles requests that match no file.
func (h *appHandler) fallback(w http.ResponseWriter, r *http.Request) {
	if h.proxy != nil {
		h.log.Debugw("proxying", "method", r.Method, "path", r.URL.Path)
		h.proxy.ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
		index := filepath.Join(h.root, "index.html")
		if info, err := os.Stat(index); err == nil {
			h.serveFile(w, r, index, info.ModTime())
			return
		}
	}
	http.NotFound(w, r)
}

func (h *appHandler) serveFile(w http.ResponseWriter, r *http.Request, file string, modTime time.Time) {
	if h.scriptURL == "" || !strings.EqualFold(filepath.Ext(file), ".html") {
		http.ServeFile(w, r, file)
		return
	}

	data, err := os.ReadFile(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, filepath.Base(file), modTime, bytes.NewReader(injectScript(data, h.scriptURL)))
}

// injectScript adds a script tag for src before the last </body>, or at the
// end of the document when there is none.
func injectScript(html []byte, src string) []byte {
	tag := []byte(fmt.Sprintf(`<script src="%s"></script>`, src))

	idx := bytes.LastIndex(bytes.ToLower(html), []byte("</body>"))
	if idx < 0 {
		return append(append([]byte{}, html...), tag...)
	}

	out := make([]byte, 0, len(html)+len(tag))
	out = append(out, html[:idx]...)
	out = append(out, tag...)
	out = append(out, html[idx:]...)
	return out
}

// newProxy builds a reverse proxy to target. insecure disables TLS
// certificate verification for self-signed upstreams.
func newProxy(target string, insecure bool, log *zap.SugaredLogger) (http.Handler, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL %q: %w", target, err)
	}

	proxy := httputil.NewSingleHostReverseProxy(u)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		r.Host = u.Host
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via --insecure-proxy
	}
	proxy.Transport = transport

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warnw("proxy error", "target", target, "path", r.URL.Path, "error", err)
		http.Error(w, fmt.Sprintf("proxy error: %v", err), http.StatusBadGateway)
	}
	return proxy, nil
}
