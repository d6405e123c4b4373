package supervisor

import (
	"context"
	"log"
	"time"

	"github.com/Tinlera/Clara-Security/internal/clara"
)

// healthTickInterval is T_health from spec.md §4.5(b).
const healthTickInterval = 10 * time.Second

// restartResetInterval is spec.md §4.5(c)'s restart_reset_interval
// (I5): a running service whose current run started at least this
// long ago has its restart_count reset to zero by the next health
// tick, so a single flaky restart long ago doesn't eat into today's
// restart budget.
const restartResetInterval = 60 * time.Second

// RunHealthTicker starts the periodic heartbeat loop. Unlike
// original_source's healthCheckLoop, child-exit detection itself is
// handled by watchExits (event-driven, no polling needed — Go's
// blocking Wait() in a goroutine is the non-blocking-wait-if-possible
// alternative spec.md §5 allows). This ticker only does the heartbeat
// probe and the restart-count reset in (b)/(c).
func (s *Supervisor) RunHealthTicker(ctx context.Context) {
	ticker := time.NewTicker(healthTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.healthTick(ctx)
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		}
	}
}

func (s *Supervisor) healthTick(ctx context.Context) {
	s.mu.Lock()
	var running []string
	for name, p := range s.procs {
		if p.state.Status == clara.ServiceRunning {
			running = append(running, name)
		}
	}
	s.mu.Unlock()

	for _, name := range running {
		s.probeHeartbeat(ctx, name)
		s.maybeResetRestartBudget(name)
	}
}

func (s *Supervisor) probeHeartbeat(ctx context.Context, name string) {
	pingCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	// Failure to connect does not itself fail the service — spec.md
	// §4.5(b) treats the heartbeat socket probe as best-effort.
	if _, err := s.SendToService(pingCtx, name, "ping"); err != nil {
		log.Printf("[supervisor] heartbeat probe for %s: %v", name, err)
		return
	}

	s.mu.Lock()
	if p, ok := s.procs[name]; ok {
		p.state.LastHeartbeat = time.Now()
	}
	s.mu.Unlock()
}

func (s *Supervisor) maybeResetRestartBudget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.procs[name]
	if !ok || p.state.RestartCount == 0 {
		return
	}
	if time.Since(p.state.StartTime) >= restartResetInterval {
		p.state.RestartCount = 0
	}
}
