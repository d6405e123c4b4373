// Package remote exposes the loopback-only admin introspection server
// (internal/admin) over an outbound tunnel, for an operator diagnosing
// a device remotely without opening an inbound port on it. Adapted
// near-verbatim in shape from the teacher's tunnel package
// (provider.go/manager.go/cloudflare.go/ngrok.go/none.go), retargeted
// from tunneling the identity-agent's Flutter UI port to tunneling
// this core's admin diagnostics port. spec.md has no remote-diagnostics
// module of its own; this is a SPEC_FULL.md supplement — see "REMOTE
// DIAGNOSTICS" there — kept strictly additive and disabled (ProviderNone)
// by default.
package remote

import (
	"context"
	"net"
)

// ProviderType names which tunnel implementation is active.
type ProviderType string

const (
	ProviderCloudflare ProviderType = "cloudflare"
	ProviderNgrok      ProviderType = "ngrok"
	ProviderNone       ProviderType = "none"
)

// Status reports a provider's current tunnel state, as returned by
// Manager.GetStatus.
type Status struct {
	Provider ProviderType `json:"provider"`
	Active   bool         `json:"active"`
	URL      string       `json:"url,omitempty"`
	Error    string       `json:"error,omitempty"`
	Mode     string       `json:"mode,omitempty"`
}

// Config selects a provider and carries its credentials, sourced from
// internal/config's KeyTunnelProvider/KeyNgrokAuthToken/
// KeyCloudflareToken keys. Manager falls back to the NGROK_AUTHTOKEN /
// CLOUDFLARE_TUNNEL_TOKEN environment variables only when the
// corresponding token here is empty, so a configured token wins.
type Config struct {
	Provider              ProviderType `json:"provider"`
	NgrokAuthToken        string       `json:"ngrok_auth_token,omitempty"`
	CloudflareTunnelToken string       `json:"cloudflare_tunnel_token,omitempty"`
}

// Provider is one outbound-tunnel implementation.
type Provider interface {
	Start(ctx context.Context, localPort int) error
	Stop() error
	URL() string
	Listener() net.Listener
	Status() Status
	Type() ProviderType
}
