package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/Tinlera/Clara-Security/internal/clara"
)

// dialTimeout bounds how long SendToService waits to connect to a
// worker's socket before giving up.
const dialTimeout = 2 * time.Second

// SendToService writes a single newline-delimited message to name's
// Unix socket and returns its one-line response, grounded on
// original_source's sendToService/queryService/connectToService —
// replacing the cached persistent fd with a dial-per-call connection,
// which is simpler and fine at this message rate.
func (s *Supervisor) SendToService(ctx context.Context, name, message string) (string, error) {
	s.mu.Lock()
	p, ok := s.procs[name]
	s.mu.Unlock()
	if !ok {
		return "", clara.NewError(clara.KindNotFound, "SendToService", "no descriptor for "+name)
	}
	socketPath := p.descriptor.SocketPath
	if socketPath == "" {
		return "", clara.NewError(clara.KindCapabilityUnavail, "SendToService", name+" has no IPC socket configured")
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return "", clara.WrapError(clara.KindTransport, "SendToService", "connect to "+name, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", message); err != nil {
		return "", clara.WrapError(clara.KindTransport, "SendToService", "write to "+name, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return "", clara.WrapError(clara.KindTransport, "SendToService", "read from "+name, err)
	}
	return line, nil
}
