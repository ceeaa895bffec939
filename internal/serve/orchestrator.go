// Package serve coordinates everything that has to happen before the
// development server starts: resolving the main port and the live-reload
// port concurrently, looking up the base URL, validating the proxy URL,
// checking platform privileges, and finally handing the finished
// configuration to the serve task.
package serve

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shinji-kodama/devserve/internal/elevation"
	"github.com/shinji-kodama/devserve/internal/model"
)

// PortProber finds a free port on one host. Implemented by *port.Scanner.
type PortProber interface {
	Probe(ctx context.Context, req model.PortRequest) (int, error)
}

// PortResolver finds a port free on every candidate host. Implemented by
// *port.Resolver.
type PortResolver interface {
	Resolve(ctx context.Context, req model.PortRequest) (int, error)
}

// ProjectConfig answers the base URL for an environment. Implemented by
// *project.Config.
type ProjectConfig interface {
	BaseURL(environment string) string
}

// ElevationChecker resolves when it is safe to proceed. Implemented by
// *elevation.Checker.
type ElevationChecker interface {
	Check(ctx context.Context, r elevation.Reporter) error
}

// Task runs the server with a finished configuration. Implemented by
// *server.Task.
type Task interface {
	Run(ctx context.Context, cfg model.ServeConfiguration) error
}

// Dependencies groups the collaborators of an Orchestrator. All fields
// except Logger and Reporter are required.
type Dependencies struct {
	Prober    PortProber
	Resolver  PortResolver
	Project   ProjectConfig
	Elevation ElevationChecker
	Task      Task
	Reporter  elevation.Reporter
	Logger    *zap.Logger
}

// Orchestrator runs the serve command.
type Orchestrator struct {
	deps Dependencies
	log  *zap.SugaredLogger
}

// New creates an Orchestrator.
func New(deps Dependencies) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, log: logger.Named("serve").Sugar()}
}

// Run resolves the configuration, runs the elevation check and delegates to
// the serve task, returning the task's outcome.
//
// The elevation check only happens after the configuration is known to be
// valid, so the user is not prompted for a command that fails anyway.
func (o *Orchestrator) Run(ctx context.Context, opts model.ServeOptions) error {
	cfg, err := o.Configure(ctx, opts)
	if err != nil {
		return err
	}

	if err := o.deps.Elevation.Check(ctx, o.deps.Reporter); err != nil {
		return err
	}

	o.log.Infow("serving", "url", cfg.URL(), "liveReload", cfg.LiveReloadAddress())
	return o.deps.Task.Run(ctx, cfg)
}

// Configure resolves both ports concurrently and assembles the
// ServeConfiguration. opts is not modified.
//
// Main port: opts.Port when set, without probing; otherwise the first free
// port on opts.Host. Live-reload port: a port free on every candidate host
// of the live-reload host (opts.LiveReloadHost, else opts.Host), starting
// from opts.LiveReloadPort on the first round.
func (o *Orchestrator) Configure(ctx context.Context, opts model.ServeOptions) (model.ServeConfiguration, error) {
	liveReloadHost := opts.LiveReloadHost
	if liveReloadHost == "" {
		liveReloadHost = opts.Host
	}

	var mainPort, liveReloadPort int

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if opts.Port != 0 {
			mainPort = opts.Port
			return nil
		}
		p, err := o.deps.Prober.Probe(gctx, model.PortRequest{Host: opts.Host})
		if err != nil {
			return fmt.Errorf("resolving server port: %w", err)
		}
		mainPort = p
		return nil
	})
	g.Go(func() error {
		p, err := o.deps.Resolver.Resolve(gctx, model.PortRequest{Host: liveReloadHost, Port: opts.LiveReloadPort})
		if err != nil {
			return fmt.Errorf("resolving live reload port: %w", err)
		}
		liveReloadPort = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return model.ServeConfiguration{}, err
	}

	cfg := model.ServeConfiguration{ServeOptions: opts}
	cfg.Port = mainPort
	cfg.LiveReloadPort = liveReloadPort
	cfg.LiveReloadHost = liveReloadHost
	cfg.Environment = model.NormalizeEnvironment(opts.Environment)
	cfg.BaseURL = o.deps.Project.BaseURL(cfg.Environment)

	o.log.Debugw("ports resolved", "port", cfg.Port, "liveReloadHost", liveReloadHost,
		"liveReloadPort", cfg.LiveReloadPort, "baseURL", cfg.BaseURL)

	if err := ValidateProxy(cfg.Proxy); err != nil {
		return model.ServeConfiguration{}, err
	}
	return cfg, nil
}

// ValidateProxy checks that a non-empty proxy URL starts with "http:" or
// "https:". The error message names the flag and a corrected value.
func ValidateProxy(proxy string) error {
	if proxy == "" {
		return nil
	}
	if strings.HasPrefix(proxy, "http:") || strings.HasPrefix(proxy, "https:") {
		return nil
	}
	return model.NewSilentError(model.ExitInvalidInput,
		fmt.Sprintf("You need to include a protocol with the proxy URL. Try --proxy http://%s", proxy),
		model.ErrProxyURLMissingScheme)
}
