// Package corectx holds the single CoreContext value that threads the
// orchestrator's subsystems through the process, replacing
// original_source's Orchestrator::getInstance() singleton with an
// explicitly constructed and explicitly passed struct — the same
// "accept a struct, don't reach for global state" shape as the rest of
// this codebase's constructors (trust.NewEngine, supervisor.New).
// There is exactly one CoreContext per process, built once in
// cmd/orchestrator/main.go.
package corectx

import (
	"context"
	"log"
	"time"

	"github.com/Tinlera/Clara-Security/internal/admin"
	"github.com/Tinlera/Clara-Security/internal/config"
	"github.com/Tinlera/Clara-Security/internal/control"
	"github.com/Tinlera/Clara-Security/internal/eventbus"
	"github.com/Tinlera/Clara-Security/internal/remote"
	"github.com/Tinlera/Clara-Security/internal/store"
	"github.com/Tinlera/Clara-Security/internal/supervisor"
	"github.com/Tinlera/Clara-Security/internal/trust"
)

// shutdownDrain is how long Shutdown waits for the event bus to drain
// in-flight events before stopping services, matching spec.md §5's
// T_shutdown.
const shutdownDrain = 2 * time.Second

// CoreContext owns every long-lived subsystem and their shutdown
// order, mirroring orchestrator.cpp's shutdown(): stop accepting new
// work, drain the event bus, stop every service (Supervisor.Shutdown
// stops them in no particular order), persist the trust engine's state (already durable on every
// write, so this is a no-op flush point), release sockets.
type CoreContext struct {
	Config  *config.Config
	Store   store.Store
	Bus     *eventbus.Bus
	Engine  *trust.Engine
	Sup     *supervisor.Supervisor
	Control *control.Server
	Admin   *admin.Server
	Tunnel  *remote.Manager
}

// Shutdown stops the control plane first (no new commands), then the
// tunnel, waits shutdownDrain, then stops services, then the event bus
// and store. The admin HTTP server is not stopped here; it closes when
// the process context given to cmd/orchestrator/main.go's serveAdmin
// is cancelled.
func (c *CoreContext) Shutdown(ctx context.Context) {
	log.Println("[corectx] shutting down")

	if c.Control != nil {
		if err := c.Control.Close(); err != nil {
			log.Printf("[corectx] control close: %v", err)
		}
	}
	if c.Tunnel != nil {
		c.Tunnel.Stop()
	}

	time.Sleep(shutdownDrain)

	if c.Sup != nil {
		c.Sup.Shutdown(ctx)
	}
	if c.Bus != nil {
		c.Bus.Stop()
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			log.Printf("[corectx] store close: %v", err)
		}
	}

	log.Println("[corectx] shutdown complete")
}
