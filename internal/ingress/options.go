package ingress

const (
	// AnchorDomainDefault defines the suffix of the tunnel's canonical
	// address, the dns record target is {tunnelID}.<anchor-domain>
	AnchorDomainDefault = "cfargotunnel.com"

	// CatchAllService is the sentinel terminating every routing table,
	// rejecting unmatched hostnames with not-found
	CatchAllService = "http_status:404"
)

type options struct {
	anchorDomain string
	proxied      bool
}

// Option provides behavior overrides
type Option func(*options)

// AnchorDomain defines the domain suffix of the tunnel's canonical address
func AnchorDomain(s string) Option {
	return func(o *options) {
		if len(s) > 0 {
			o.anchorDomain = s
		}
	}
}

// Proxied defines whether created dns records are proxied through the edge
func Proxied(b bool) Option {
	return func(o *options) {
		o.proxied = b
	}
}

func collectOptions(opts []Option) options {
	// set defaults
	o := options{
		anchorDomain: AnchorDomainDefault,
		proxied:      true,
	}
	// overlay values
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
