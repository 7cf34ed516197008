package cloudflare

import (
	"net/http"
	"time"
)

const (
	// BaseURLDefault defines the default api endpoint
	BaseURLDefault = "https://api.cloudflare.com/client/v4"

	// TimeoutDefault defines the default per-request timeout
	TimeoutDefault = 15 * time.Second
)

type options struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// Option provides behavior overrides
type Option func(*options)

// BaseURL defines the api endpoint used by the client
func BaseURL(s string) Option {
	return func(o *options) {
		if len(s) > 0 {
			o.baseURL = s
		}
	}
}

// HTTPClient defines the underlying http client; a client that carries
// its own Timeout takes precedence over the Timeout option
func HTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// Timeout defines the per-request timeout, applied to the http client
// unless a supplied client already enforces one
func Timeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func collectOptions(opts []Option) options {
	// set defaults
	o := options{
		baseURL: BaseURLDefault,
		timeout: TimeoutDefault,
	}
	// overlay values
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: o.timeout}
	} else if o.httpClient.Timeout == 0 {
		// do not mutate the caller's client
		c := *o.httpClient
		c.Timeout = o.timeout
		o.httpClient = &c
	}
	return o
}
