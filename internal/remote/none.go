package remote

import (
	"context"
	"log"
	"net"
)

// NoneProvider is the default: no outbound tunnel, admin diagnostics
// are reachable only on loopback.
type NoneProvider struct{}

func NewNoneProvider() *NoneProvider { return &NoneProvider{} }

func (p *NoneProvider) Start(ctx context.Context, localPort int) error {
	log.Println("[remote] provider: none — admin diagnostics stay loopback-only")
	return nil
}

func (p *NoneProvider) Stop() error            { return nil }
func (p *NoneProvider) URL() string            { return "" }
func (p *NoneProvider) Listener() net.Listener { return nil }

func (p *NoneProvider) Status() Status {
	return Status{Provider: ProviderNone, Active: false, Mode: "disabled"}
}

func (p *NoneProvider) Type() ProviderType { return ProviderNone }
