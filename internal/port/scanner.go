package port

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"go.uber.org/zap"

	"github.com/shinji-kodama/devserve/internal/model"
)

const (
	// DefaultBasePort is where unconstrained scans start: the beginning of
	// the IANA dynamic/private port range (49152-65535).
	DefaultBasePort = 49152

	// DefaultMaxPort is the highest port a scan will try.
	DefaultMaxPort = model.MaxPort
)

// Scanner checks whether ports are available on a given host and finds the
// first free one at or above a start port.
//
// It uses the operating system's network stack (net.Listen) to determine if
// a port is free. This is the most reliable method because it asks the OS
// directly, rather than parsing /proc/net/* or relying on external commands
// like `lsof` or `ss` which may require elevated permissions.
//
// The search base is a per-Scanner value, not process-wide state, so that
// probes stay independent. A Scanner is safe for concurrent use once
// configured: SetReservedPorts must be called before probing starts.
type Scanner struct {
	basePort int
	maxPort  int

	// reserved ports are treated as occupied without binding them. See
	// SetReservedPorts.
	reserved []model.PortReservation

	// listen is net.Listen, replaceable in tests.
	listen func(network, address string) (net.Listener, error)

	log *zap.SugaredLogger
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithBasePort sets the port unconstrained probes start from.
func WithBasePort(port int) ScannerOption {
	return func(s *Scanner) {
		s.basePort = port
	}
}

// WithMaxPort sets the highest port a probe will try.
func WithMaxPort(port int) ScannerOption {
	return func(s *Scanner) {
		s.maxPort = port
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *zap.Logger) ScannerOption {
	return func(s *Scanner) {
		s.log = l.Named("scanner").Sugar()
	}
}

// withListenFunc replaces net.Listen. Test hook.
func withListenFunc(fn func(network, address string) (net.Listener, error)) ScannerOption {
	return func(s *Scanner) {
		s.listen = fn
	}
}

// NewScanner creates a Scanner searching DefaultBasePort..DefaultMaxPort.
func NewScanner(opts ...ScannerOption) *Scanner {
	s := &Scanner{
		basePort: DefaultBasePort,
		maxPort:  DefaultMaxPort,
		listen:   net.Listen,
		log:      zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetReservedPorts registers ports that must be reported as occupied even
// if a bind would succeed, e.g. Docker-published ports forwarded with
// iptables. It replaces any previous reservations.
func (s *Scanner) SetReservedPorts(reservations []model.PortReservation) {
	s.reserved = append([]model.PortReservation(nil), reservations...)
}

// IsPortAvailable checks whether port is free on host.
//
// It attempts net.Listen("tcp", host:port) and closes the listener
// immediately. An empty host means all interfaces.
//
// The returned error is non-nil only when the host itself is unusable
// (unresolvable name, address not assigned to this machine, address family
// not supported). It wraps model.ErrHostUnavailable. Every other bind
// failure (address in use, permission denied on a privileged port) simply
// reports the port as unavailable.
func (s *Scanner) IsPortAvailable(host string, port int) (bool, error) {
	if s.isReserved(host, port) {
		return false, nil
	}

	addr := model.JoinHostPort(host, port)
	listener, err := s.listen("tcp", addr)
	if err != nil {
		if hostUnavailable(err) {
			return false, fmt.Errorf("%w: %s: %v", model.ErrHostUnavailable, host, err)
		}
		return false, nil
	}
	// We close immediately because we only needed to test availability,
	// not actually accept connections.
	_ = listener.Close()
	return true, nil
}

// Probe returns the first free TCP port on req.Host at or above req.Port,
// or at or above the scanner's base port when req.Port is zero.
//
// The result is free at the instant of the check only; the caller should
// bind promptly. Errors wrap model.ErrInvalidPort (start port out of range),
// model.ErrHostUnavailable or model.ErrPortScanExhausted. The context is
// checked between attempts.
func (s *Scanner) Probe(ctx context.Context, req model.PortRequest) (int, error) {
	start := req.Port
	if start == 0 {
		start = s.basePort
	}
	if err := model.ValidatePort(start); err != nil {
		return 0, fmt.Errorf("probe %s: %w", req, err)
	}

	for port := start; port <= s.maxPort; port++ {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("probe %s: %w", req, err)
		}

		ok, err := s.IsPortAvailable(req.Host, port)
		if err != nil {
			return 0, fmt.Errorf("probe %s: %w", req, err)
		}
		if ok {
			s.log.Debugw("found free port", "host", req.Host, "start", start, "port", port)
			return port, nil
		}
	}

	return 0, fmt.Errorf("probe %s: %w (%d-%d)", req, model.ErrPortScanExhausted, start, s.maxPort)
}

func (s *Scanner) isReserved(host string, port int) bool {
	for _, r := range s.reserved {
		if r.Covers(host, port) {
			s.log.Debugw("port reserved", "host", host, "port", port, "source", r.Source)
			return true
		}
	}
	return false
}

// hostUnavailable reports whether a listen error means no port on the host
// can ever be bound.
func hostUnavailable(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.EADDRNOTAVAIL) || errors.Is(err, syscall.EAFNOSUPPORT)
}
