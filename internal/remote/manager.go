package remote

import (
	"context"
	"log"
	"os"
	"os/exec"
	"sync"
)

// Manager owns the active Provider and swaps it in on Restart without
// a process restart, mirroring the teacher's tunnel.Manager.
type Manager struct {
	provider  Provider
	config    Config
	localPort int
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
}

func NewManager(cfg Config, localPort int) *Manager {
	return &Manager{config: cfg, localPort: localPort}
}

func (m *Manager) Start(parentCtx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.provider != nil {
		m.provider.Stop()
	}

	m.ctx, m.cancel = context.WithCancel(parentCtx)
	m.provider = m.createProvider()

	if m.provider.Type() == ProviderNone {
		m.provider.Start(m.ctx, m.localPort)
		return nil
	}

	if err := m.provider.Start(m.ctx, m.localPort); err != nil {
		log.Printf("[remote] provider %s failed: %v", m.config.Provider, err)
		return err
	}
	return nil
}

func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.provider != nil {
		m.provider.Stop()
	}
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Manager) Restart(parentCtx context.Context, cfg Config) error {
	m.mu.Lock()
	if m.provider != nil {
		m.provider.Stop()
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.config = cfg
	m.mu.Unlock()

	return m.Start(parentCtx)
}

func (m *Manager) URL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.provider == nil {
		return ""
	}
	return m.provider.URL()
}

func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.provider == nil {
		return Status{Provider: m.config.Provider, Active: false}
	}
	return m.provider.Status()
}

func (m *Manager) createProvider() Provider {
	switch m.config.Provider {
	case ProviderCloudflare:
		token := m.config.CloudflareTunnelToken
		if token == "" {
			token = os.Getenv("CLOUDFLARE_TUNNEL_TOKEN")
		}
		return NewCloudflareProvider(token)

	case ProviderNgrok:
		authToken := m.config.NgrokAuthToken
		if authToken == "" {
			authToken = os.Getenv("NGROK_AUTHTOKEN")
		}
		if authToken == "" {
			log.Println("[remote] ngrok selected but no auth token provided, falling back to none")
			return NewNoneProvider()
		}
		return NewNgrokProvider(authToken)

	case ProviderNone:
		return NewNoneProvider()

	default:
		log.Printf("[remote] unknown provider %q, defaulting to none", m.config.Provider)
		return NewNoneProvider()
	}
}

// DefaultConfig picks ngrok or cloudflared automatically if their
// credentials/binary are present in the environment, otherwise none —
// same precedence as the teacher's tunnel.DefaultConfig.
func DefaultConfig() Config {
	if os.Getenv("NGROK_AUTHTOKEN") != "" {
		return Config{Provider: ProviderNgrok, NgrokAuthToken: os.Getenv("NGROK_AUTHTOKEN")}
	}
	if os.Getenv("CLOUDFLARE_TUNNEL_TOKEN") != "" {
		return Config{Provider: ProviderCloudflare, CloudflareTunnelToken: os.Getenv("CLOUDFLARE_TUNNEL_TOKEN")}
	}
	if _, err := exec.LookPath("cloudflared"); err == nil {
		return Config{Provider: ProviderCloudflare}
	}
	return Config{Provider: ProviderNone}
}
