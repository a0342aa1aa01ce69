package core

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// healthCheckTimeout bounds the whole /health request. Probes still running
// at the deadline are reported as timed out.
const healthCheckTimeout = 2 * time.Second

// HealthProbe checks one dependency. A failing critical probe (draft
// storage, the database) makes /health answer 503 so the load balancer
// stops routing; a failing non-critical one (the stats source) only marks
// the service degraded.
type HealthProbe struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// Pinger is anything that can verify its own connectivity, such as a
// storage backend or a pgx pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingProbe is a critical probe calling target.Ping.
func NewPingProbe(name string, target Pinger) HealthProbe {
	return HealthProbe{Name: name, Critical: true, Check: target.Ping}
}

// Health states.
const (
	healthOK       = "healthy"
	healthDegraded = "degraded"
	healthDown     = "unhealthy"
)

type componentStatus struct {
	Status    string `json:"status"`
	Critical  bool   `json:"critical"`
	LatencyMS int64  `json:"latency_ms"`
	Message   string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

type probeResult struct {
	index   int
	err     error
	elapsed time.Duration
}

// HandleHealth serves GET /health without authentication. Probes run
// concurrently; a panicking probe counts as failed.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	probes := s.HealthProbes
	results := make(chan probeResult, len(probes))
	for i, p := range probes {
		go func() {
			start := time.Now()
			err := runProbe(ctx, p)
			results <- probeResult{index: i, err: err, elapsed: time.Since(start)}
		}()
	}

	components := make(map[string]componentStatus, len(probes))
	for _, p := range probes {
		components[p.Name] = componentStatus{
			Status:    healthDown,
			Critical:  p.Critical,
			LatencyMS: healthCheckTimeout.Milliseconds(),
			Message:   "health check timed out",
		}
	}

collect:
	for range probes {
		select {
		case res := <-results:
			p := probes[res.index]
			c := componentStatus{Status: healthOK, Critical: p.Critical, LatencyMS: res.elapsed.Milliseconds()}
			if res.err != nil {
				c.Status, c.Message = healthDown, res.err.Error()
			}
			components[p.Name] = c
		case <-ctx.Done():
			break collect
		}
	}

	resp := healthResponse{Status: healthOK}
	if len(components) > 0 {
		resp.Components = components
	}
	status := http.StatusOK
	for _, c := range components {
		if c.Status == healthOK {
			continue
		}
		if c.Critical {
			resp.Status, status = healthDown, http.StatusServiceUnavailable
			break
		}
		resp.Status = healthDegraded
	}
	JSON(w, r, status, resp)
}

func runProbe(ctx context.Context, p HealthProbe) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			err = fmt.Errorf("probe panicked: %v", rvr)
		}
	}()
	return p.Check(ctx)
}
