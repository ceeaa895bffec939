package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/devserve/internal/config"
	"github.com/shinji-kodama/devserve/internal/docker"
	"github.com/shinji-kodama/devserve/internal/elevation"
	"github.com/shinji-kodama/devserve/internal/model"
	"github.com/shinji-kodama/devserve/internal/port"
	"github.com/shinji-kodama/devserve/internal/project"
	"github.com/shinji-kodama/devserve/internal/serve"
	"github.com/shinji-kodama/devserve/internal/server"
)

// serveFlags holds the flag values for the serve command. Only flags the
// user actually set override the configuration file.
type serveFlags struct {
	port              int
	host              string
	proxy             string
	insecureProxy     bool
	watcher           string
	liveReload        bool
	liveReloadHost    string
	liveReloadBaseURL string
	liveReloadPort    int
	environment       string
	outputPath        string
	ssl               bool
	sslKey            string
	sslCert           string

	project     string // --project: directory holding .devserverc and devserve.yaml
	dockerPorts bool   // --docker-ports: treat Docker-published ports as occupied
}

// NewServeCommand creates the "serve" cobra command.
func NewServeCommand() *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server", "s"},
		Short:   "Serve the built output with live reload",
		Long: `Serve the built output directory and reload connected browsers when it changes.

The main port defaults to 4200. The live-reload port is picked so that it is
free on the live-reload host, 0.0.0.0 and 127.0.0.1 at once.

Examples:
  devserve serve
  devserve serve --port 8080 --host 0.0.0.0
  devserve serve --proxy http://localhost:3000
  devserve serve --live-reload-port 35729 --docker-ports`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := resolveOptions(cmd, flags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cmd.ErrOrStderr(), opts, flags)
		},
	}

	bindServeFlags(cmd, flags)

	return cmd
}

// bindServeFlags registers the serve flags on cmd, storing values in flags.
func bindServeFlags(cmd *cobra.Command, flags *serveFlags) {
	f := cmd.Flags()
	f.IntVarP(&flags.port, "port", "p", 0, "Port to serve on (default 4200)")
	f.StringVarP(&flags.host, "host", "H", "", "Host to listen on")
	f.StringVar(&flags.proxy, "proxy", "", "Proxy requests that match no file to this URL")
	f.BoolVar(&flags.insecureProxy, "insecure-proxy", false, "Skip TLS verification for the proxy")
	f.StringVarP(&flags.watcher, "watcher", "w", "", "File watcher: events, poll or none (default events)")
	f.BoolVar(&flags.liveReload, "live-reload", true, "Reload browsers when the output changes")
	f.StringVar(&flags.liveReloadHost, "live-reload-host", "", "Host of the live-reload server (default: --host)")
	f.StringVar(&flags.liveReloadBaseURL, "live-reload-base-url", "", "Path prefix of live-reload endpoints (default: base URL)")
	f.IntVar(&flags.liveReloadPort, "live-reload-port", 0, "First port tried for the live-reload server")
	f.StringVarP(&flags.environment, "environment", "e", "", "Target environment: development/dev or production/prod")
	f.StringVar(&flags.outputPath, "output-path", "", "Directory of built output (default dist/)")
	f.BoolVar(&flags.ssl, "ssl", false, "Serve over HTTPS")
	f.StringVar(&flags.sslKey, "ssl-key", "", "TLS key file (default ssl/server.key)")
	f.StringVar(&flags.sslCert, "ssl-cert", "", "TLS certificate file (default ssl/server.crt)")
	f.StringVar(&flags.project, "project", ".", "Project directory")
	f.BoolVar(&flags.dockerPorts, "docker-ports", false, "Treat ports published by Docker containers as occupied")
}

// resolveOptions layers changed flags over the defaults and rc file and
// validates the result.
func resolveOptions(cmd *cobra.Command, flags *serveFlags) (model.ServeOptions, error) {
	opts, err := config.Load(flags.project)
	if err != nil {
		return model.ServeOptions{}, err
	}

	applyFlags(cmd, flags, &opts)

	if opts.Watcher, err = model.ParseWatcher(string(opts.Watcher)); err != nil {
		return model.ServeOptions{}, model.WrapCLIError(model.ExitInvalidInput, "invalid --watcher", err)
	}
	if err := opts.Validate(); err != nil {
		return model.ServeOptions{}, model.WrapCLIError(model.ExitInvalidInput, "invalid serve options", err)
	}
	return opts, nil
}

// applyFlags copies every flag the user set into opts.
func applyFlags(cmd *cobra.Command, flags *serveFlags, opts *model.ServeOptions) {
	changed := cmd.Flags().Changed

	if changed("port") {
		opts.Port = flags.port
	}
	if changed("host") {
		opts.Host = flags.host
	}
	if changed("proxy") {
		opts.Proxy = flags.proxy
	}
	if changed("insecure-proxy") {
		opts.InsecureProxy = flags.insecureProxy
	}
	if changed("watcher") {
		opts.Watcher = model.Watcher(flags.watcher)
	}
	if changed("live-reload") {
		opts.LiveReload = flags.liveReload
	}
	if changed("live-reload-host") {
		opts.LiveReloadHost = flags.liveReloadHost
	}
	if changed("live-reload-base-url") {
		opts.LiveReloadBaseURL = flags.liveReloadBaseURL
	}
	if changed("live-reload-port") {
		opts.LiveReloadPort = flags.liveReloadPort
	}
	if changed("environment") {
		opts.Environment = flags.environment
	}
	if changed("output-path") {
		opts.OutputPath = flags.outputPath
	}
	if changed("ssl") {
		opts.SSL = flags.ssl
	}
	if changed("ssl-key") {
		opts.SSLKey = flags.sslKey
	}
	if changed("ssl-cert") {
		opts.SSLCert = flags.sslCert
	}
}

// runServe wires the collaborators and runs the orchestrator.
func runServe(ctx context.Context, stderr io.Writer, opts model.ServeOptions, flags *serveFlags) error {
	proj, err := project.Load(flags.project)
	if err != nil {
		return err
	}
	if proj.Path != "" {
		VerboseLog("Using project configuration %s", proj.Path)
	}

	scanner := port.NewScanner(port.WithLogger(logger))
	if flags.dockerPorts {
		scanner.SetReservedPorts(dockerReservations(ctx, stderr))
	}

	orch := serve.New(serve.Dependencies{
		Prober:    scanner,
		Resolver:  port.NewResolver(scanner, port.WithResolverLogger(logger)),
		Project:   proj,
		Elevation: elevation.NewChecker(false),
		Task:      server.NewTask(server.WithTaskLogger(logger)),
		Reporter:  &stderrReporter{w: stderr},
		Logger:    logger,
	})
	return orch.Run(ctx, opts)
}

// dockerReservations lists ports published by running containers. Any
// Docker failure only produces a warning.
func dockerReservations(ctx context.Context, stderr io.Writer) []model.PortReservation {
	reservations, err := publishedPorts(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Warning: %s\n", dockerWarning(err))
		return nil
	}
	VerboseLog("Reserved %d Docker-published port(s)", len(reservations))
	return reservations
}

func publishedPorts(ctx context.Context) ([]model.PortReservation, error) {
	client, err := docker.NewClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return nil, err
	}
	return client.PublishedPorts(ctx)
}

// dockerWarning tells a missing daemon apart from a failing one.
func dockerWarning(err error) string {
	if errors.Is(err, model.ErrDockerUnavailable) {
		return fmt.Sprintf("Docker is not running, published ports are not reserved (%v)", err)
	}
	return fmt.Sprintf("could not list Docker containers, published ports are not reserved (%v)", err)
}

// stderrReporter prints elevation warnings for the user.
type stderrReporter struct {
	w io.Writer
}

func (r *stderrReporter) Warn(msg string) {
	fmt.Fprintf(r.w, "Warning: %s\n", msg)
}
