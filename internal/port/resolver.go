package port

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shinji-kodama/devserve/internal/model"
)

// genericHosts are always probed in addition to the requested host: the
// wildcard IPv4 address and IPv4 loopback.
var genericHosts = []string{"0.0.0.0", "127.0.0.1"}

// Prober finds a free port on a single host. *Scanner implements it.
type Prober interface {
	Probe(ctx context.Context, req model.PortRequest) (int, error)
}

// Resolver finds a port that is free on every candidate host at once.
type Resolver struct {
	prober Prober

	// maxRounds bounds the number of disagreeing rounds. Zero means
	// unbounded.
	maxRounds int

	log *zap.SugaredLogger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithMaxRounds fails resolution with model.ErrNoConsensus after n rounds
// in which the hosts disagreed. n <= 0 keeps retrying until the hosts
// agree or the context is cancelled.
func WithMaxRounds(n int) ResolverOption {
	return func(r *Resolver) {
		r.maxRounds = n
	}
}

// WithResolverLogger sets the logger used for per-round debug output.
func WithResolverLogger(l *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		r.log = l.Named("resolver").Sugar()
	}
}

// NewResolver creates a Resolver probing through p.
func NewResolver(p Prober, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		prober: p,
		log:    zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// CandidateHosts returns the hosts that must all be free for a server
// listening on requested: requested itself first (model.DefaultLiveReloadHost
// when empty), followed by the generic hosts that differ from it.
//
// The result is a freshly built slice; callers may modify it.
func CandidateHosts(requested string) []string {
	if requested == "" {
		requested = model.DefaultLiveReloadHost
	}

	hosts := make([]string, 0, len(genericHosts)+1)
	hosts = append(hosts, requested)
	for _, h := range genericHosts {
		if h != requested {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// Resolve returns a port that was free on every host of
// CandidateHosts(req.Host) in the same round.
//
// The first round starts every host's scan at req.Port (or the scanner's
// base when zero). If the hosts report different ports, the next round
// starts every host at the highest port reported, so the search base only
// moves upward and the explicit port is never tried again. The rounds end on
// the lowest port at or above the base that is free on every host. Rounds
// never overlap: a round's probes are all awaited and compared before the
// next round starts.
//
// Any probe error aborts resolution immediately; only disagreement is
// retried. A base that climbs past the scan range ends with the scanner's
// ErrPortScanExhausted.
func (r *Resolver) Resolve(ctx context.Context, req model.PortRequest) (int, error) {
	hosts := CandidateHosts(req.Host)
	startPort := req.Port

	for round := 1; ; round++ {
		ports, err := r.probeAll(ctx, hosts, startPort)
		if err != nil {
			return 0, err
		}

		if port, ok := agreed(ports); ok {
			r.log.Debugw("hosts agreed on port", "hosts", hosts, "port", port, "round", round)
			return port, nil
		}

		next := highest(ports)
		r.log.Debugw("hosts disagreed on free port, retrying from higher base",
			"hosts", hosts, "ports", ports, "round", round, "base", next)

		if r.maxRounds > 0 && round >= r.maxRounds {
			return 0, fmt.Errorf("resolve %s after %d rounds (last %v): %w",
				req, round, ports, model.ErrNoConsensus)
		}
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("resolve %s: %w", req, err)
		}

		// Disagreement means the lowest result is taken on some host, so
		// next is strictly above startPort.
		startPort = next
	}
}

// probeAll probes every host concurrently from startPort and returns the
// results in host order. The first error cancels the remaining probes.
func (r *Resolver) probeAll(ctx context.Context, hosts []string, startPort int) ([]int, error) {
	ports := make([]int, len(hosts))

	g, gctx := errgroup.WithContext(ctx)
	for i, host := range hosts {
		i, host := i, host
		g.Go(func() error {
			port, err := r.prober.Probe(gctx, model.PortRequest{Host: host, Port: startPort})
			if err != nil {
				return err
			}
			// Each goroutine writes only its own slot.
			ports[i] = port
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ports, nil
}

// agreed takes the last result as the reference and reports whether every
// other result matches it.
func agreed(ports []int) (int, bool) {
	if len(ports) == 0 {
		return 0, false
	}
	ref := ports[len(ports)-1]
	for _, p := range ports[:len(ports)-1] {
		if p != ref {
			return 0, false
		}
	}
	return ref, true
}

// highest returns the largest port in ports.
func highest(ports []int) int {
	top := 0
	for _, p := range ports {
		if p > top {
			top = p
		}
	}
	return top
}
