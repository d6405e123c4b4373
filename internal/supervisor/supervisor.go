// Package supervisor implements the service supervisor (SS): spawning
// and monitoring the security-core/privacy-core/app-manager worker
// processes, restarting them within a bounded budget, and reporting
// lifecycle events onto the event bus. Grounded on
// original_source/daemon/orchestrator/src/orchestrator.cpp's
// spawnService/startService/stopService/checkServiceHealth/
// handleServiceFailure, replacing its fork+waitpid(WNOHANG) polling
// loop with Go's exec.CommandContext plus a goroutine-per-process that
// blocks on cmd.Wait() and reports exit over a channel — the same
// spawn-then-watch shape as the teacher's tunnel/cloudflare.go.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/Tinlera/Clara-Security/internal/clara"
	"github.com/Tinlera/Clara-Security/internal/eventbus"
	"github.com/Tinlera/Clara-Security/internal/store"
)

// settleDelay is how long a freshly spawned process is given before
// the supervisor checks whether it's still alive, matching
// original_source's 500ms post-spawn sleep (T_spawn_settle).
const settleDelay = 500 * time.Millisecond

// termGrace is how long a stopping process has to exit after SIGTERM
// before the supervisor escalates to SIGKILL.
const termGrace = 500 * time.Millisecond

type managedProcess struct {
	descriptor clara.ServiceDescriptor
	cmd        *exec.Cmd
	state      clara.ServiceState
	stopping   bool
}

type exitReport struct {
	name string
	err  error
}

// Supervisor owns the full set of managed services. Lock order:
// Supervisor's mu is acquired by the trust engine's callers only
// indirectly via the control plane, never the reverse — PS > TE > SS >
// EB per spec.md §5, and Supervisor never calls back into TE.
type Supervisor struct {
	mu    sync.Mutex
	procs map[string]*managedProcess

	st  store.Store
	bus *eventbus.Bus

	exitCh chan exitReport
	stop   chan struct{}
	done   chan struct{}
}

// New builds a Supervisor over the given static service roster.
func New(descriptors []clara.ServiceDescriptor, st store.Store, bus *eventbus.Bus) *Supervisor {
	s := &Supervisor{
		procs:  make(map[string]*managedProcess),
		st:     st,
		bus:    bus,
		exitCh: make(chan exitReport, 16),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, d := range descriptors {
		s.procs[d.Name] = &managedProcess{
			descriptor: d,
			state: clara.ServiceState{
				Descriptor: d,
				Name:       d.Name,
				Status:     clara.ServiceUnknown,
			},
		}
	}
	return s
}

// Run starts the failure-handling dispatcher goroutine. Call StartAll
// separately to launch auto_start services.
func (s *Supervisor) Run() {
	go s.watchExits()
}

// Shutdown stops every running service and the dispatcher.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	names := make([]string, 0, len(s.procs))
	for name := range s.procs {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		if err := s.StopService(ctx, name); err != nil {
			log.Printf("[supervisor] stop %s during shutdown: %v", name, err)
		}
	}

	close(s.stop)
	<-s.done
}

// StartAll launches every service whose descriptor has AutoStart set,
// matching original_source's run()'s initial loop.
func (s *Supervisor) StartAll(ctx context.Context) {
	s.mu.Lock()
	var toStart []string
	for name, p := range s.procs {
		if p.descriptor.AutoStart {
			toStart = append(toStart, name)
		}
	}
	s.mu.Unlock()

	for _, name := range toStart {
		if err := s.StartService(ctx, name); err != nil {
			log.Printf("[supervisor] auto-start %s failed: %v", name, err)
		}
	}
}

// StartService spawns name's binary and watches it settle.
func (s *Supervisor) StartService(ctx context.Context, name string) error {
	s.mu.Lock()
	p, ok := s.procs[name]
	if !ok {
		s.mu.Unlock()
		return clara.NewError(clara.KindNotFound, "StartService", "no descriptor for "+name)
	}
	if p.state.Status == clara.ServiceRunning {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	cmd := exec.CommandContext(context.Background(), p.descriptor.BinaryPath, "-f")
	if err := cmd.Start(); err != nil {
		s.mu.Lock()
		p.state.Status = clara.ServiceError
		p.state.ErrorMessage = err.Error()
		s.mu.Unlock()
		return clara.WrapError(clara.KindInternal, "StartService", "spawn "+name, err)
	}

	s.mu.Lock()
	p.cmd = cmd
	p.stopping = false
	p.state.PID = cmd.Process.Pid
	p.state.Status = clara.ServiceStarting
	p.state.StartTime = time.Now()
	p.state.ErrorMessage = ""
	s.mu.Unlock()
	s.persist(ctx, name)

	go s.watchProcess(name, cmd)

	time.Sleep(settleDelay)

	s.mu.Lock()
	alive := processAlive(cmd)
	if alive {
		p.state.Status = clara.ServiceRunning
		p.state.LastHeartbeat = time.Now()
	} else {
		p.state.Status = clara.ServiceError
		p.state.ErrorMessage = "process exited immediately after spawn"
	}
	status := p.state.Status
	s.mu.Unlock()
	s.persist(ctx, name)

	if status == clara.ServiceRunning {
		s.publish(clara.EventServiceStarted, name, "", 2)
		return nil
	}
	return clara.NewError(clara.KindInternal, "StartService", name+" exited immediately after spawn")
}

// processAlive reports whether cmd's process has not yet been reaped.
// cmd.ProcessState is nil until Wait() observes the exit, so this is
// safe to call before the watcher goroutine's Wait() returns.
func processAlive(cmd *exec.Cmd) bool {
	return cmd.ProcessState == nil
}

// watchProcess blocks on cmd.Wait() and reports the exit, the same
// spawn-then-block-on-Wait shape as the teacher's
// CloudflareProvider.Start goroutine.
func (s *Supervisor) watchProcess(name string, cmd *exec.Cmd) {
	err := cmd.Wait()
	select {
	case s.exitCh <- exitReport{name: name, err: err}:
	case <-s.stop:
	}
}

// watchExits is the failure-handling dispatcher, replacing
// original_source's polled healthCheckLoop with an event-driven one:
// there is nothing to poll, a process tells us the moment it exits.
func (s *Supervisor) watchExits() {
	defer close(s.done)
	for {
		select {
		case report := <-s.exitCh:
			s.handleExit(report)
		case <-s.stop:
			return
		}
	}
}

func (s *Supervisor) handleExit(report exitReport) {
	s.mu.Lock()
	p, ok := s.procs[report.name]
	if !ok {
		s.mu.Unlock()
		return
	}
	if p.stopping {
		p.state.Status = clara.ServiceStopped
		p.state.PID = 0
		s.mu.Unlock()
		s.persist(context.Background(), report.name)
		s.publish(clara.EventServiceStopped, report.name, "", 3)
		return
	}

	p.state.Status = clara.ServiceStopped
	p.state.PID = 0
	descriptor := p.descriptor
	restartCount := p.state.RestartCount
	s.mu.Unlock()
	s.persist(context.Background(), report.name)

	log.Printf("[supervisor] service stopped unexpectedly: %s (%v)", report.name, report.err)

	if descriptor.AutoRestart && restartCount < descriptor.MaxRestarts {
		log.Printf("[supervisor] restarting %s (attempt %d/%d)", report.name, restartCount+1, descriptor.MaxRestarts)
		time.Sleep(time.Duration(descriptor.RestartDelayMs) * time.Millisecond)

		s.mu.Lock()
		p.state.RestartCount++
		s.mu.Unlock()

		if err := s.StartService(context.Background(), report.name); err != nil {
			log.Printf("[supervisor] restart of %s failed: %v", report.name, err)
		}
		return
	}

	s.mu.Lock()
	p.state.Status = clara.ServiceError
	p.state.ErrorMessage = "max restart count reached"
	s.mu.Unlock()
	s.persist(context.Background(), report.name)

	s.publish(clara.EventServiceError, report.name, fmt.Sprintf("service %s failed to restart", report.name), 8)
}

// StopService sends SIGTERM and escalates to SIGKILL after termGrace,
// matching original_source's stopService.
func (s *Supervisor) StopService(ctx context.Context, name string) error {
	s.mu.Lock()
	p, ok := s.procs[name]
	if !ok {
		s.mu.Unlock()
		return clara.NewError(clara.KindNotFound, "StopService", "no descriptor for "+name)
	}
	if p.cmd == nil || p.state.Status != clara.ServiceRunning && p.state.Status != clara.ServiceStarting {
		s.mu.Unlock()
		return nil
	}
	p.stopping = true
	p.state.Status = clara.ServiceStopping
	cmd := p.cmd
	s.mu.Unlock()

	if cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-time.After(termGrace):
		if processAlive(cmd) && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	case <-ctx.Done():
	}
	return nil
}

func (s *Supervisor) RestartService(ctx context.Context, name string) error {
	if err := s.StopService(ctx, name); err != nil {
		return err
	}
	time.Sleep(termGrace)
	return s.StartService(ctx, name)
}

func (s *Supervisor) GetServiceState(name string) (clara.ServiceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[name]
	if !ok {
		return clara.ServiceState{}, clara.NewError(clara.KindNotFound, "GetServiceState", "no descriptor for "+name)
	}
	return p.state, nil
}

func (s *Supervisor) GetAllServiceStates() []clara.ServiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]clara.ServiceState, 0, len(s.procs))
	for _, p := range s.procs {
		out = append(out, p.state)
	}
	return out
}

func (s *Supervisor) IsServiceRunning(name string) bool {
	st, err := s.GetServiceState(name)
	return err == nil && st.Status == clara.ServiceRunning
}

func (s *Supervisor) persist(ctx context.Context, name string) {
	if s.st == nil {
		return
	}
	st, err := s.GetServiceState(name)
	if err != nil {
		return
	}
	if err := s.st.SaveServiceState(ctx, st); err != nil {
		log.Printf("[supervisor] failed to persist state for %s: %v", name, err)
	}
}

func (s *Supervisor) publish(kind clara.EventKind, target, message string, severity int) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(clara.Event{
		Kind:          kind,
		SourceService: "supervisor",
		Target:        target,
		Message:       message,
		Severity:      severity,
	})
}
