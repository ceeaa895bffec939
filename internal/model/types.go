package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	// MinPort and MaxPort bound the valid TCP port numbers.
	MinPort = 1
	MaxPort = 65535

	// DefaultLiveReloadHost is probed when neither --live-reload-host nor
	// --host is given.
	DefaultLiveReloadHost = "::1"

	// DefaultBaseURL is used when the project configuration has no baseURL
	// for the selected environment.
	DefaultBaseURL = "/"

	// DefaultEnvironment is the environment served when none is selected.
	DefaultEnvironment = "development"
)

// Watcher selects how the serve task notices rebuilt output.
type Watcher string

const (
	// WatcherEvents reacts to file system notifications. Falls back to
	// polling where notifications are unavailable.
	WatcherEvents Watcher = "events"

	// WatcherPoll periodically scans the output directory for changes.
	WatcherPoll Watcher = "poll"

	// WatcherNone disables change detection entirely.
	WatcherNone Watcher = "none"
)

// String returns the string representation of Watcher.
func (w Watcher) String() string {
	return string(w)
}

// IsValid checks whether the Watcher value is one of the predefined modes.
func (w Watcher) IsValid() bool {
	switch w {
	case WatcherEvents, WatcherPoll, WatcherNone:
		return true
	default:
		return false
	}
}

// ParseWatcher converts a string to a Watcher.
// Returns an error if the string does not match any valid mode.
func ParseWatcher(s string) (Watcher, error) {
	w := Watcher(strings.ToLower(s))
	if !w.IsValid() {
		return "", fmt.Errorf("invalid watcher: %q (valid: events, poll, none)", s)
	}
	return w, nil
}

// environmentAliases maps the shorthand environment names accepted on the
// command line to their canonical form.
var environmentAliases = map[string]string{
	"dev":  "development",
	"prod": "production",
}

// NormalizeEnvironment expands environment shorthands ("dev", "prod") and
// substitutes DefaultEnvironment for an empty name.
func NormalizeEnvironment(env string) string {
	env = strings.TrimSpace(env)
	if env == "" {
		return DefaultEnvironment
	}
	if full, ok := environmentAliases[env]; ok {
		return full
	}
	return env
}

// ServeOptions is the merged set of command options as given by the user
// (defaults, rc file, flags). A zero Port or LiveReloadPort means "not set".
type ServeOptions struct {
	// Port is the main server port. Zero asks the serve command to probe
	// for a free port on Host.
	Port int `json:"port"`

	// Host is the address the main server listens on. Empty means all
	// interfaces.
	Host string `json:"host,omitempty"`

	// Proxy is an optional upstream URL for requests that match no file.
	// It must start with "http:" or "https:".
	Proxy string `json:"proxy,omitempty"`

	// InsecureProxy disables TLS verification towards Proxy.
	InsecureProxy bool `json:"insecureProxy"`

	// Watcher selects how rebuilt output is detected.
	Watcher Watcher `json:"watcher"`

	// LiveReload enables the live-reload channel.
	LiveReload bool `json:"liveReload"`

	// LiveReloadHost is the address of the live-reload channel. Empty
	// means the same as Host.
	LiveReloadHost string `json:"liveReloadHost,omitempty"`

	// LiveReloadBaseURL is the path prefix of live-reload assets. Empty
	// means the same as the resolved base URL.
	LiveReloadBaseURL string `json:"liveReloadBaseURL,omitempty"`

	// LiveReloadPort is the first port tried for the live-reload channel.
	// Zero means "scan from the default search base".
	LiveReloadPort int `json:"liveReloadPort,omitempty"`

	// Environment selects the project configuration block (e.g.
	// "development", "production").
	Environment string `json:"environment"`

	// OutputPath is the directory of built assets to serve.
	OutputPath string `json:"outputPath"`

	// SSL switches the main server to HTTPS using SSLKey and SSLCert.
	SSL     bool   `json:"ssl"`
	SSLKey  string `json:"sslKey"`
	SSLCert string `json:"sslCert"`
}

// Validate checks port ranges and enumerations. The proxy scheme is checked
// separately by the orchestrator, after ports are resolved.
func (o *ServeOptions) Validate() error {
	if o.Port != 0 {
		if err := ValidatePort(o.Port); err != nil {
			return fmt.Errorf("--port: %w", err)
		}
	}
	if o.LiveReloadPort != 0 {
		if err := ValidatePort(o.LiveReloadPort); err != nil {
			return fmt.Errorf("--live-reload-port: %w", err)
		}
	}
	if o.Watcher != "" && !o.Watcher.IsValid() {
		return fmt.Errorf("invalid watcher: %q (valid: events, poll, none)", o.Watcher)
	}
	return nil
}

// ServeConfiguration is the finished configuration handed to the serve task:
// the original options with both ports resolved, the live-reload host
// settled, and the base URL looked up from the project configuration.
type ServeConfiguration struct {
	ServeOptions

	// BaseURL is the path prefix the application is served under.
	BaseURL string `json:"baseURL"`
}

// Address returns the host:port the main server binds to.
func (c *ServeConfiguration) Address() string {
	return JoinHostPort(c.Host, c.Port)
}

// LiveReloadAddress returns the host:port the live-reload channel binds to.
func (c *ServeConfiguration) LiveReloadAddress() string {
	return JoinHostPort(c.LiveReloadHost, c.LiveReloadPort)
}

// URL returns the user-facing URL of the application.
// Wildcard and empty hosts are displayed as "localhost".
func (c *ServeConfiguration) URL() string {
	scheme := "http"
	if c.SSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, JoinHostPort(DisplayHost(c.Host), c.Port), c.BaseURL)
}

// DisplayHost maps bind-all addresses to a name a browser can open.
func DisplayHost(host string) string {
	switch host {
	case "", "0.0.0.0", "::":
		return "localhost"
	default:
		return host
	}
}

// PortRequest is one probe target: a host and an optional first port.
// Port zero means "start at the scanner's search base".
type PortRequest struct {
	Host string
	Port int
}

// String returns "host:port" (or "host:*" for an unconstrained request).
func (r PortRequest) String() string {
	if r.Port == 0 {
		return net.JoinHostPort(r.Host, "*")
	}
	return JoinHostPort(r.Host, r.Port)
}

// PortReservation marks a port as occupied without probing it, e.g. a port
// published by a Docker container through iptables rather than a listening
// socket.
type PortReservation struct {
	// Host is the address the port is held on. Empty, "0.0.0.0" and "::"
	// reserve the port on every host.
	Host string `json:"host,omitempty"`

	// Port is the reserved TCP port number.
	Port int `json:"port"`

	// Source describes who holds the port, for log output.
	Source string `json:"source,omitempty"`
}

// Covers reports whether the reservation applies to a probe of host:port.
func (r PortReservation) Covers(host string, port int) bool {
	if r.Port != port {
		return false
	}
	switch r.Host {
	case "", "0.0.0.0", "::":
		return true
	default:
		return r.Host == host
	}
}

// ValidatePort checks that port is a usable TCP port number.
func ValidatePort(port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("%w: %d out of range (%d-%d)", ErrInvalidPort, port, MinPort, MaxPort)
	}
	return nil
}

// JoinHostPort is net.JoinHostPort for an integer port. IPv6 literals are
// bracketed ("[::1]:4200").
func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
