// Command orchestrator is the root-privileged core daemon: it wires
// the Capability Layer, Persistent Store, Trust Engine, Event Bus,
// Service Supervisor, and Control Plane together in the dependency
// order spec.md §2 lays out (leaves first), then blocks until a
// termination signal. Grounded on the teacher main.go's startup
// sequencing and on original_source/daemon/orchestrator/src/
// orchestrator.cpp's run()/shutdown(), restructured around one
// explicitly-constructed CoreContext rather than a singleton.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/Tinlera/Clara-Security/internal/admin"
	"github.com/Tinlera/Clara-Security/internal/capability"
	"github.com/Tinlera/Clara-Security/internal/config"
	"github.com/Tinlera/Clara-Security/internal/control"
	"github.com/Tinlera/Clara-Security/internal/corectx"
	"github.com/Tinlera/Clara-Security/internal/eventbus"
	"github.com/Tinlera/Clara-Security/internal/remote"
	"github.com/Tinlera/Clara-Security/internal/store"
	"github.com/Tinlera/Clara-Security/internal/supervisor"
	"github.com/Tinlera/Clara-Security/internal/trust"
)

func main() {
	configPath := flag.String("config", "/data/clara/config.json", "path to the daemon's bootstrap config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[orchestrator] load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := build(ctx, cfg)
	if err != nil {
		log.Fatalf("[orchestrator] startup failed: %v", err)
	}

	core.Sup.StartAll(ctx)
	go core.Sup.RunHealthTicker(ctx)
	go func() {
		if err := core.Control.Serve(ctx); err != nil {
			log.Printf("[orchestrator] control plane: %v", err)
		}
	}()
	go serveAdmin(ctx, cfg, core)

	log.Println("[orchestrator] running")
	<-ctx.Done()
	core.Shutdown(context.Background())
}

// build constructs every subsystem leaves-first: CL → PS → EB → TE →
// SS → CP (the bus is built before the trust engine, which publishes
// to it), then the supplemental admin/remote diagnostics surfaces.
func build(ctx context.Context, cfg *config.Config) (*corectx.CoreContext, error) {
	cl := capability.NewAndroidCapability()

	ps, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	bus := eventbus.NewBus(256)
	bus.Run()

	engine := trust.NewEngine(ps, cl, bus)

	roster, err := config.LoadServiceRoster(cfg.Get(config.KeyServiceRoster))
	if err != nil {
		log.Printf("[orchestrator] no service roster at %s, using defaults: %v", cfg.Get(config.KeyServiceRoster), err)
		roster = config.DefaultServiceRoster()
	}
	sup := supervisor.New(roster, ps, bus)
	sup.Run()

	cp := control.New(cfg.Get(config.KeySocketPath), sup, engine, bus)
	if err := cp.Listen(); err != nil {
		return nil, err
	}

	adminSrv := admin.New(sup, engine)

	tunnelCfg := remote.Config{
		Provider:              remote.ProviderType(cfg.Get(config.KeyTunnelProvider)),
		NgrokAuthToken:        cfg.Get(config.KeyNgrokAuthToken),
		CloudflareTunnelToken: cfg.Get(config.KeyCloudflareToken),
	}
	tunnel := remote.NewManager(tunnelCfg, 8787)
	if err := tunnel.Start(ctx); err != nil {
		log.Printf("[orchestrator] tunnel manager: %v", err)
	}

	return &corectx.CoreContext{
		Config:  cfg,
		Store:   ps,
		Bus:     bus,
		Engine:  engine,
		Sup:     sup,
		Control: cp,
		Admin:   adminSrv,
		Tunnel:  tunnel,
	}, nil
}

func buildStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Get(config.KeyPSBackend) {
	case "postgres":
		return store.NewPostgresStore(cfg.Get(config.KeyDatabaseURL))
	default:
		return store.NewFileStore(cfg.Get(config.KeyPSPath))
	}
}

// serveAdmin binds the loopback introspection server. It never shares
// a listener with the control plane's AF_UNIX socket.
func serveAdmin(ctx context.Context, cfg *config.Config, core *corectx.CoreContext) {
	addr := cfg.Get(config.KeyAdminAddr)
	srv := &http.Server{Addr: addr, Handler: core.Admin.Handler()}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	log.Printf("[orchestrator] admin diagnostics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("[orchestrator] admin server: %v", err)
	}
}
