package controller

import (
	"context"

	"github.com/cloudflare/cloudflare-tunnel-provisioner/internal/ingress"
)

// SecretSource fetches the current value of a named secret or parameter.
// The host layer decides where values come from (environment, prompt, vault);
// the controller only ever asks for them by name.
type SecretSource interface {
	Value(ctx context.Context, name string) (string, error)
}

// StaticSecret is a SecretSource returning a fixed value.
type StaticSecret string

// Value returns the fixed value regardless of name.
func (s StaticSecret) Value(_ context.Context, _ string) (string, error) {
	return string(s), nil
}

type options struct {
	publisher      Publisher
	externalSource SecretSource
	externalName   string
	ingressOptions []ingress.Option
}

// Option provides behavior overrides
type Option func(*options)

// StatePublisher defines where entity phase transitions are published
func StatePublisher(p Publisher) Option {
	return func(o *options) {
		if p != nil {
			o.publisher = p
		}
	}
}

// ExternalToken switches the controller to externally-provisioned mode: no
// api calls are made and the connector token is fetched from the source.
// The mode is fixed at construction and not changed at runtime.
func ExternalToken(src SecretSource, name string) Option {
	return func(o *options) {
		o.externalSource = src
		o.externalName = name
	}
}

// AnchorDomain defines the domain suffix of the tunnel's canonical address
func AnchorDomain(s string) Option {
	return func(o *options) {
		o.ingressOptions = append(o.ingressOptions, ingress.AnchorDomain(s))
	}
}

// Proxied defines whether created dns records are proxied through the edge
func Proxied(b bool) Option {
	return func(o *options) {
		o.ingressOptions = append(o.ingressOptions, ingress.Proxied(b))
	}
}

func collectOptions(opts []Option) options {
	o := options{}
	// overlay values
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o *options) external() bool {
	return o.externalSource != nil
}
