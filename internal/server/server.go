package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shinji-kodama/devserve/internal/model"
)

const shutdownTimeout = 5 * time.Second

// Task serves a ServeConfiguration until its context is cancelled.
type Task struct {
	log *zap.Logger

	// listen is replaceable in tests.
	listen func(network, address string) (net.Listener, error)
}

// TaskOption configures a Task.
type TaskOption func(*Task)

// WithTaskLogger sets the logger used by the task and its components.
func WithTaskLogger(logger *zap.Logger) TaskOption {
	return func(t *Task) {
		if logger != nil {
			t.log = logger
		}
	}
}

// NewTask creates a Task.
func NewTask(opts ...TaskOption) *Task {
	t := &Task{log: zap.NewNop(), listen: net.Listen}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run starts the app server and, when enabled, the live-reload server and
// the output watcher. It blocks until ctx is cancelled or a server fails,
// then shuts everything down.
func (t *Task) Run(ctx context.Context, cfg model.ServeConfiguration) error {
	log := t.log.Sugar()

	var hub *Hub
	scriptURL := ""
	if cfg.LiveReload {
		lrBase := cfg.LiveReloadBaseURL
		if lrBase == "" {
			lrBase = cfg.BaseURL
		}
		hub = NewHub(lrBase, t.log)
		scriptURL = liveReloadScriptURL(cfg, hub)
	}

	var proxy http.Handler
	if cfg.Proxy != "" {
		p, err := newProxy(cfg.Proxy, cfg.InsecureProxy, log)
		if err != nil {
			return model.WrapCLIError(model.ExitInvalidInput, "invalid proxy", err)
		}
		proxy = p
	}

	servers := []*managedServer{{
		name:    "app",
		addr:    cfg.Address(),
		handler: newAppHandler(cfg.OutputPath, cfg.BaseURL, proxy, scriptURL, log),
	}}
	if hub != nil {
		servers = append(servers, &managedServer{
			name:    "livereload",
			addr:    cfg.LiveReloadAddress(),
			handler: hub.Router(),
		})
	}
	for _, s := range servers {
		s.tls = cfg.SSL
		s.certFile, s.keyFile = cfg.SSLCert, cfg.SSLKey
	}

	// Bind everything before serving so a taken port fails the whole run.
	for _, s := range servers {
		ln, err := t.listen("tcp", s.addr)
		if err != nil {
			closeListeners(servers)
			return model.WrapCLIError(model.ExitServeFailed,
				fmt.Sprintf("cannot listen on %s for %s server", s.addr, s.name), err)
		}
		s.ln = ln
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		s := s
		s.srv = &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			log.Debugw("server listening", "server", s.name, "addr", s.ln.Addr().String())
			return s.serve()
		})
	}

	if hub != nil && cfg.Watcher != model.WatcherNone {
		g.Go(func() error {
			return watchOutput(gctx, cfg.Watcher, cfg.OutputPath, t.log, func() {
				log.Infow("output changed, reloading", "clients", hub.Clients())
				hub.Broadcast(gctx, ReloadMessage)
			})
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		if hub != nil {
			hub.CloseAll()
		}
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, s := range servers {
			if err := s.srv.Shutdown(sctx); err != nil {
				errs = append(errs, fmt.Errorf("shutting down %s server: %w", s.name, err))
			}
		}
		return errors.Join(errs...)
	})

	log.Infow("development server started", "url", cfg.URL())
	if err := g.Wait(); err != nil {
		return model.WrapCLIError(model.ExitServeFailed, "development server failed", err)
	}
	log.Info("development server stopped")
	return nil
}

// managedServer is one HTTP server owned by a Task.
type managedServer struct {
	name    string
	addr    string
	handler http.Handler

	tls               bool
	certFile, keyFile string

	ln  net.Listener
	srv *http.Server
}

func (s *managedServer) serve() error {
	var err error
	if s.tls {
		err = s.srv.ServeTLS(s.ln, s.certFile, s.keyFile)
	} else {
		err = s.srv.Serve(s.ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s server: %w", s.name, err)
	}
	return nil
}

func closeListeners(servers []*managedServer) {
	for _, s := range servers {
		if s.ln != nil {
			_ = s.ln.Close()
		}
	}
}

// liveReloadScriptURL is the absolute URL of the client script as the
// browser sees it.
func liveReloadScriptURL(cfg model.ServeConfiguration, hub *Hub) string {
	scheme := "http"
	if cfg.SSL {
		scheme = "https"
	}
	host := model.DisplayHost(cfg.LiveReloadHost)
	return fmt.Sprintf("%s://%s%s", scheme, model.JoinHostPort(host, cfg.LiveReloadPort), hub.ScriptPath())
}

// watchOutput runs the watcher selected by mode until ctx is done. The
// events watcher falls back to polling when it cannot start, e.g. before
// the first build created dir.
func watchOutput(ctx context.Context, mode model.Watcher, dir string, logger *zap.Logger, onChange func()) error {
	switch mode {
	case model.WatcherNone:
		return nil
	case model.WatcherPoll:
		return NewPoller(dir, logger).Watch(ctx, onChange)
	}

	w, err := NewEventWatcher(dir, logger)
	if err != nil {
		logger.Sugar().Warnw("file events unavailable, polling instead", "dir", dir, "error", err)
		return NewPoller(dir, logger).Watch(ctx, onChange)
	}
	defer w.Close()
	return w.Watch(ctx, onChange)
}
