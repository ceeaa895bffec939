package port

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/devserve/internal/model"
)

// scriptedProber answers probes from per-host functions and records every
// request it receives.
type scriptedProber struct {
	mu       sync.Mutex
	answer   func(req model.PortRequest) (int, error)
	requests []model.PortRequest
}

func (p *scriptedProber) Probe(_ context.Context, req model.PortRequest) (int, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	return p.answer(req)
}

func (p *scriptedProber) calls() []model.PortRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.PortRequest(nil), p.requests...)
}

// occupancy answers a probe like a scanner would: the first port at or
// above the start (or base when zero) that is not listed for the host.
func occupancy(base int, busy map[string][]int) func(model.PortRequest) (int, error) {
	return func(req model.PortRequest) (int, error) {
		port := req.Port
		if port == 0 {
			port = base
		}
		for ; ; port++ {
			taken := false
			for _, b := range busy[req.Host] {
				if b == port {
					taken = true
					break
				}
			}
			if !taken {
				return port, nil
			}
		}
	}
}

func TestCandidateHosts(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		want      []string
	}{
		{name: "default host", requested: "", want: []string{"::1", "0.0.0.0", "127.0.0.1"}},
		{name: "explicit ipv6 loopback", requested: "::1", want: []string{"::1", "0.0.0.0", "127.0.0.1"}},
		{name: "wildcard is not duplicated", requested: "0.0.0.0", want: []string{"0.0.0.0", "127.0.0.1"}},
		{name: "loopback is not duplicated", requested: "127.0.0.1", want: []string{"127.0.0.1", "0.0.0.0"}},
		{name: "hostname", requested: "machost-a.local", want: []string{"machost-a.local", "0.0.0.0", "127.0.0.1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CandidateHosts(tt.requested))
		})
	}
}

// TestCandidateHosts_FreshSlice verifies that callers cannot corrupt the
// generic host list through the returned slice.
func TestCandidateHosts_FreshSlice(t *testing.T) {
	hosts := CandidateHosts("0.0.0.0")
	hosts[1] = "mutated"

	assert.Equal(t, []string{"0.0.0.0", "127.0.0.1"}, CandidateHosts("0.0.0.0"))
}

// TestResolve_AgreeInOneRound verifies that when every host is free at the
// same port, that port is returned after a single round.
func TestResolve_AgreeInOneRound(t *testing.T) {
	prober := &scriptedProber{answer: occupancy(49152, nil)}
	resolver := NewResolver(prober)

	port, err := resolver.Resolve(context.Background(), model.PortRequest{Port: 8005})
	require.NoError(t, err)
	assert.Equal(t, 8005, port)

	calls := prober.calls()
	require.Len(t, calls, 3, "one probe per candidate host")
	for _, c := range calls {
		assert.Equal(t, 8005, c.Port, "first round is seeded with the explicit port")
	}
}

// TestResolve_DisagreementMovesBaseUp covers the scenario where 8005 is
// taken only on 0.0.0.0: the first round must not return 8005, and the
// second round starts every host at the highest port the first one found.
func TestResolve_DisagreementMovesBaseUp(t *testing.T) {
	prober := &scriptedProber{answer: occupancy(49152, map[string][]int{
		"0.0.0.0": {8005},
	})}
	resolver := NewResolver(prober)

	port, err := resolver.Resolve(context.Background(), model.PortRequest{Port: 8005})
	require.NoError(t, err)
	assert.Equal(t, 8006, port)

	calls := prober.calls()
	require.Len(t, calls, 6, "two rounds of three probes")
	for _, c := range calls[3:] {
		assert.Equal(t, 8006, c.Port, "later rounds must not retry the explicit port")
		assert.Contains(t, []string{"::1", "0.0.0.0", "127.0.0.1"}, c.Host)
	}
}

// TestResolve_ConvergesOnSharedPort verifies that hosts with different,
// unchanging occupied ports settle on the lowest port free on all of them.
func TestResolve_ConvergesOnSharedPort(t *testing.T) {
	// 49152 is free on 0.0.0.0 and 127.0.0.1, 49153 on ::1 and 127.0.0.1,
	// 49154 on ::1 and 0.0.0.0. Only 49155 is free everywhere.
	prober := &scriptedProber{answer: occupancy(49152, map[string][]int{
		"::1":       {49152},
		"0.0.0.0":   {49153},
		"127.0.0.1": {49154},
	})}

	port, err := NewResolver(prober).Resolve(context.Background(), model.PortRequest{})
	require.NoError(t, err)
	assert.Equal(t, 49155, port)

	calls := prober.calls()
	require.Len(t, calls, 12, "four rounds of three probes")
	wantBase := []int{0, 49153, 49154, 49155}
	for i, c := range calls {
		assert.Equal(t, wantBase[i/3], c.Port, "call %d", i)
	}
}

// TestResolve_RepeatedDisagreementConverges covers a port held on IPv4
// loopback, which on Linux also blocks the wildcard bind while ::1 stays
// free. Rescanning from the same base would replay the same split forever.
func TestResolve_RepeatedDisagreementConverges(t *testing.T) {
	fake := &fakeListen{busy: map[string]bool{
		"127.0.0.1:54000": true,
		"0.0.0.0:54000":   true,
	}}
	scanner := NewScanner(WithBasePort(54000), withListenFunc(fake.listen))

	port, err := NewResolver(scanner, WithMaxRounds(50)).Resolve(context.Background(), model.PortRequest{})
	require.NoError(t, err)
	assert.Equal(t, 54001, port)
	assert.Len(t, fake.attempts, 8, "round one: 1+2+2 binds, round two: 3")
}

// TestResolve_ReusesRequestedHost verifies that retry rounds keep probing
// the requested host rather than falling back to the default.
func TestResolve_ReusesRequestedHost(t *testing.T) {
	prober := &scriptedProber{answer: occupancy(49152, map[string][]int{
		"127.0.0.1": {8005},
	})}
	resolver := NewResolver(prober)

	_, err := resolver.Resolve(context.Background(), model.PortRequest{Host: "machost-b.local", Port: 8005})
	require.NoError(t, err)

	for _, c := range prober.calls() {
		assert.NotEqual(t, "::1", c.Host, "default host must not appear when a host was requested")
	}
}

// TestResolve_ProbeErrorAborts verifies that an error from any host ends
// resolution immediately without a retry round.
func TestResolve_ProbeErrorAborts(t *testing.T) {
	prober := &scriptedProber{answer: func(req model.PortRequest) (int, error) {
		if req.Host == "::1" {
			return 0, fmt.Errorf("probe %s: %w", req, model.ErrHostUnavailable)
		}
		return 49152, nil
	}}
	resolver := NewResolver(prober)

	_, err := resolver.Resolve(context.Background(), model.PortRequest{})
	assert.True(t, errors.Is(err, model.ErrHostUnavailable), "got %v", err)
	assert.Len(t, prober.calls(), 3, "no second round after an error")
}

// TestResolve_ProbesRunConcurrently verifies that a round's probes are in
// flight at the same time: each probe blocks until all three have started.
func TestResolve_ProbesRunConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(3)
	allStarted := make(chan struct{})
	go func() {
		started.Wait()
		close(allStarted)
	}()

	prober := &scriptedProber{answer: func(model.PortRequest) (int, error) {
		started.Done()
		select {
		case <-allStarted:
			return 49152, nil
		case <-time.After(5 * time.Second):
			return 0, errors.New("probes were run sequentially")
		}
	}}

	port, err := NewResolver(prober).Resolve(context.Background(), model.PortRequest{})
	require.NoError(t, err)
	assert.Equal(t, 49152, port)
}

// TestResolve_MaxRounds verifies the optional bound on disagreeing rounds.
func TestResolve_MaxRounds(t *testing.T) {
	// ::1 always reports one port higher than the others.
	prober := &scriptedProber{answer: func(req model.PortRequest) (int, error) {
		if req.Host == "::1" {
			return 49153, nil
		}
		return 49152, nil
	}}
	resolver := NewResolver(prober, WithMaxRounds(3))

	_, err := resolver.Resolve(context.Background(), model.PortRequest{})
	assert.True(t, errors.Is(err, model.ErrNoConsensus), "got %v", err)
	assert.Len(t, prober.calls(), 9)
}

// TestResolve_ContextCancelStopsRetrying verifies that an unbounded
// resolver stops once its context is cancelled.
func TestResolve_ContextCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	prober := &scriptedProber{}
	prober.answer = func(req model.PortRequest) (int, error) {
		if len(prober.calls()) >= 6 {
			cancel()
		}
		if req.Host == "::1" {
			return 49153, nil
		}
		return 49152, nil
	}

	_, err := NewResolver(prober).Resolve(ctx, model.PortRequest{})
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

// TestResolve_RealLoopback exercises the resolver against the real network
// stack on IPv4 only: requesting 127.0.0.1 probes 127.0.0.1 and 0.0.0.0.
func TestResolve_RealLoopback(t *testing.T) {
	scanner := NewScanner(WithBasePort(54000), WithMaxPort(54200))
	resolver := NewResolver(scanner)

	port, err := resolver.Resolve(context.Background(), model.PortRequest{Host: "127.0.0.1"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, port, 54000)
	assert.LessOrEqual(t, port, 54200)

	for _, host := range CandidateHosts("127.0.0.1") {
		ok, err := scanner.IsPortAvailable(host, port)
		require.NoError(t, err)
		assert.True(t, ok, "port %d should be free on %s", port, host)
	}
}

// TestResolve_RealLoopbackOccupied verifies that a port held on loopback
// is never returned even when it was explicitly requested.
func TestResolve_RealLoopbackOccupied(t *testing.T) {
	occupied := listenLoopback(t)

	resolver := NewResolver(NewScanner())
	port, err := resolver.Resolve(context.Background(), model.PortRequest{Host: "127.0.0.1", Port: occupied})
	require.NoError(t, err)
	assert.NotEqual(t, occupied, port)
}
