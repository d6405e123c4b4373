package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Tinlera/Clara-Security/internal/clara"
	"github.com/Tinlera/Clara-Security/internal/eventbus"
	"github.com/Tinlera/Clara-Security/internal/supervisor"
	"github.com/Tinlera/Clara-Security/internal/trust"
)

// workerCount is the default bounded worker pool size from spec.md §5.
const workerCount = 4

type stats struct {
	eventsProcessed atomic.Uint64
	threatsToday    atomic.Int64
	trackersBlocked atomic.Int64
}

var threatKinds = map[clara.EventKind]bool{
	clara.EventSMSThreat:         true,
	clara.EventFileThreat:        true,
	clara.EventNetworkThreat:     true,
	clara.EventMessengerThreat:   true,
	clara.EventKeyloggerDetected: true,
}

// Server is the control-plane listener.
type Server struct {
	socketPath string
	sup        *supervisor.Supervisor
	engine     *trust.Engine
	bus        *eventbus.Bus
	startTime  time.Time
	stats      stats

	ln net.Listener
	wg sync.WaitGroup
}

// New builds a Server bound to socketPath once Listen is called.
func New(socketPath string, sup *supervisor.Supervisor, engine *trust.Engine, bus *eventbus.Bus) *Server {
	s := &Server{
		socketPath: socketPath,
		sup:        sup,
		engine:     engine,
		bus:        bus,
		startTime:  time.Now(),
	}
	if bus != nil {
		bus.Subscribe(s.onEvent)
	}
	return s
}

func (s *Server) onEvent(ev clara.Event) {
	s.stats.eventsProcessed.Add(1)
	if threatKinds[ev.Kind] {
		s.stats.threatsToday.Add(1)
	}
	if ev.Kind == clara.EventTrackerBlocked {
		s.stats.trackersBlocked.Add(1)
	}
}

// Listen creates the AF_UNIX socket at socketPath with mode 0666,
// removing any stale socket left by a previous crash, matching
// original_source's createIpcSocket.
func (s *Server) Listen() error {
	_ = os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return clara.WrapError(clara.KindTransport, "Listen", "bind control socket", err)
	}
	if err := os.Chmod(s.socketPath, 0o666); err != nil {
		ln.Close()
		return clara.WrapError(clara.KindTransport, "Listen", "chmod control socket", err)
	}
	s.ln = ln
	log.Printf("[control] listening on %s", s.socketPath)
	return nil
}

// Serve runs the accept loop, dispatching each connection to a bounded
// worker pool, until ctx is cancelled or the listener is closed.
func (s *Server) Serve(ctx context.Context) error {
	connCh := make(chan net.Conn)

	for i := 0; i < workerCount; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for conn := range connCh {
				s.handleConn(ctx, conn)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			close(connCh)
			s.wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return clara.WrapError(clara.KindTransport, "Serve", "accept failed", err)
		}
		connCh <- conn
	}
}

// Close shuts the listener and removes the socket file.
func (s *Server) Close() error {
	if s.ln != nil {
		s.ln.Close()
	}
	return os.Remove(s.socketPath)
}

// handleConn services one request on conn. Each connection is tagged
// with its own correlation id so a flood of concurrent commands can be
// traced back through the log, the way the teacher's admin router
// tags each HTTP request via middleware.RequestID.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	reqID := uuid.NewString()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[control] req=%s panic handling request: %v", reqID, r)
		}
	}()

	// ReadSlice fails with bufio.ErrBufferFull on a request longer than
	// maxRequestBytes, and the connection is closed without a reply.
	reader := bufio.NewReaderSize(conn, maxRequestBytes)
	raw, err := reader.ReadSlice('\n')
	if err != nil && err != io.EOF {
		return
	}
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return
	}

	cmdCtx, cancel := context.WithTimeout(ctx, capTimeout)
	defer cancel()

	resp := s.dispatch(cmdCtx, line)
	data, err := json.Marshal(resp)
	if err != nil {
		data = []byte(`{"error":"internal"}`)
	}
	log.Printf("[control] req=%s cmd=%q", reqID, line)
	conn.Write(append(data, '\n'))
}

func (s *Server) dispatch(ctx context.Context, line string) interface{} {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return errorResponse{Error: "unknown_command"}
	}
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "status":
		return s.handleStatus()
	case "services":
		return s.handleServices()
	case "scan":
		return s.handleScan(ctx)
	case "restart":
		return s.handleServiceOp(ctx, args, s.sup.RestartService)
	case "start":
		return s.handleServiceOp(ctx, args, s.sup.StartService)
	case "stop":
		return s.handleServiceOp(ctx, args, s.sup.StopService)
	case "lock":
		return s.forwardToAppManager(ctx, "LOCK", args)
	case "unlock":
		return s.forwardToAppManager(ctx, "UNLOCK", args)
	case "hide":
		return s.forwardToAppManager(ctx, "HIDE_ROOT", args)
	case "unhide":
		return s.forwardToAppManager(ctx, "UNHIDE_ROOT", args)
	case "trust":
		return s.handleTrust(ctx, args)
	case "whitelist":
		return s.handleWhitelist(ctx, args)
	default:
		return errorResponse{Error: "unknown_command"}
	}
}

func (s *Server) handleStatus() statusResponse {
	return statusResponse{
		Running:         true,
		Services:        len(s.sup.GetAllServiceStates()),
		EventsProcessed: s.stats.eventsProcessed.Load(),
		ThreatsToday:    int(s.stats.threatsToday.Load()),
		TrackersBlocked: int(s.stats.trackersBlocked.Load()),
		UptimeSeconds:   int64(time.Since(s.startTime).Seconds()),
	}
}

func (s *Server) handleServices() []serviceEntry {
	states := s.sup.GetAllServiceStates()
	out := make([]serviceEntry, 0, len(states))
	for _, st := range states {
		out = append(out, serviceEntry{Name: st.Name, Status: int(st.Status), PID: st.PID})
	}
	return out
}

func (s *Server) handleScan(ctx context.Context) successResponse {
	if _, err := s.sup.SendToService(ctx, "security_core", "SCAN_ALL"); err != nil {
		return successResponse{Success: false, Error: "security_core unreachable"}
	}
	return successResponse{Success: true, Message: "scan started"}
}

func (s *Server) handleServiceOp(ctx context.Context, args []string, op func(context.Context, string) error) successResponse {
	if len(args) < 1 {
		return successResponse{Success: false, Error: "service name required"}
	}
	if err := op(ctx, args[0]); err != nil {
		return successResponse{Success: false, Error: err.Error()}
	}
	return successResponse{Success: true}
}

func (s *Server) forwardToAppManager(ctx context.Context, verb string, args []string) successResponse {
	if len(args) < 1 {
		return successResponse{Success: false, Error: "package required"}
	}
	if _, err := s.sup.SendToService(ctx, "app_manager", fmt.Sprintf("%s %s", verb, args[0])); err != nil {
		return successResponse{Success: false, Error: "app_manager unreachable"}
	}
	return successResponse{Success: true}
}

func (s *Server) handleTrust(ctx context.Context, args []string) interface{} {
	if len(args) < 1 {
		return errorResponse{Error: "invalid_state", Detail: "package required"}
	}
	rec, err := s.engine.GetAppInfo(ctx, args[0])
	if err != nil {
		return errorResponse{Error: string(clara.KindOf(err)), Detail: err.Error()}
	}
	return trustResponse{
		Package: rec.Package,
		Score:   rec.Score,
		Status:  string(rec.Status),
		Source:  string(rec.InstallSrc),
	}
}

func (s *Server) handleWhitelist(ctx context.Context, args []string) successResponse {
	if len(args) < 2 {
		return successResponse{Success: false, Error: "usage: whitelist <pkg> on|off"}
	}
	pkg, toggle := args[0], args[1]

	var err error
	switch toggle {
	case "on":
		err = s.engine.WhitelistApp(ctx, pkg)
	case "off":
		err = s.engine.UnwhitelistApp(ctx, pkg)
	default:
		return successResponse{Success: false, Error: "toggle must be on or off"}
	}
	if err != nil {
		return successResponse{Success: false, Error: err.Error()}
	}
	return successResponse{Success: true}
}
