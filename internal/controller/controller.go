// Package controller sequences tunnel and route provisioning against the
// host's startup and gates the connector on the outcome.
package controller

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cloudflare/cloudflare-tunnel-provisioner/internal/cloudflare"
	"github.com/cloudflare/cloudflare-tunnel-provisioner/internal/ingress"
	"github.com/cloudflare/cloudflare-tunnel-provisioner/internal/tunnel"
)

// Controller walks the declared tunnels in one explicit ordered pipeline:
// provision the identity and token, then the tunnel's route batch, publishing
// phase transitions and releasing the per-tunnel gate on success. Different
// tunnels run concurrently; within one tunnel the steps are strictly
// sequential.
type Controller struct {
	api     cloudflare.API
	options options
	log     *logrus.Logger

	names  []string
	routes map[string][]*ingress.Route
	gates  map[string]*Gate

	tunnels tunnel.Registry

	tunnelProv *tunnel.Provisioner
	routeProv  *ingress.Provisioner
}

// Result carries the per-entity outcome of one orchestration run, keyed by
// tunnel name or route hostname.
type Result struct {
	mu     sync.Mutex
	errors map[string]error
}

func newResult() *Result {
	return &Result{errors: map[string]error{}}
}

func (r *Result) record(entity string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[entity] = err
}

// EntityErr returns the outcome recorded for an entity.
func (r *Result) EntityErr(entity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors[entity]
}

// Err folds the per-entity outcomes into a single error, nil when every
// entity succeeded.
func (r *Result) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var msgs []string
	for entity, err := range r.errors {
		if err != nil {
			msgs = append(msgs, entity+": "+err.Error())
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return errors.New("provisioning failed: " + strings.Join(msgs, "; "))
}

// New builds a controller for the declared tunnels and routes. Configuration
// errors surface here, before any network call: in auto-provision mode the
// api must be present, and every route must reference a declared tunnel.
func New(api cloudflare.API, log *logrus.Logger, names []string, routes []*ingress.Route, opts ...Option) (*Controller, error) {
	o := collectOptions(opts)
	if o.publisher == nil {
		o.publisher = &logPublisher{log: log}
	}

	if len(names) == 0 {
		return nil, errors.New("no tunnel declared")
	}
	if api == nil && !o.external() {
		return nil, errors.New("api client required unless a connector token is supplied")
	}

	c := &Controller{
		api:     api,
		options: o,
		log:     log,
		routes:  map[string][]*ingress.Route{},
		gates:   map[string]*Gate{},
	}

	for _, name := range names {
		if name == "" {
			return nil, errors.New("tunnel name must not be empty")
		}
		if _, dup := c.gates[name]; dup {
			return nil, errors.Errorf("tunnel %q declared twice", name)
		}
		c.names = append(c.names, name)
		c.gates[name] = NewGate()
	}

	hostnames := map[string]struct{}{}
	for _, route := range routes {
		if _, ok := c.gates[route.Tunnel]; !ok {
			return nil, errors.Errorf("route %q references undeclared tunnel %q", route.Hostname, route.Tunnel)
		}
		key := route.Tunnel + "/" + route.Hostname
		if _, dup := hostnames[key]; dup {
			return nil, errors.Errorf("route %q declared twice for tunnel %q", route.Hostname, route.Tunnel)
		}
		hostnames[key] = struct{}{}
		route.Status = ingress.StatusStarting
		c.routes[route.Tunnel] = append(c.routes[route.Tunnel], route)
	}

	if !o.external() {
		c.tunnelProv = tunnel.NewProvisioner(api, log)
		c.routeProv = ingress.NewProvisioner(api, log, o.ingressOptions...)
	}
	return c, nil
}

// Gate returns the start gate for a declared tunnel.
func (c *Controller) Gate(name string) *Gate {
	return c.gates[name]
}

// Token returns the connector token for a declared tunnel. It is only
// present once the tunnel's gate has been released.
func (c *Controller) Token(name string) (string, bool) {
	t, ok := c.tunnels.Load(name)
	if !ok || t.Token == "" {
		return "", false
	}
	return t.Token, true
}

// Tunnels exposes the provisioned tunnel registry.
func (c *Controller) Tunnels() *tunnel.Registry {
	return &c.tunnels
}

// Run executes one orchestration run and returns the per-entity outcome.
// The returned error folds every entity failure; gates of failed tunnels
// stay closed.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	res := newResult()

	if c.options.external() {
		err := c.runExternal(ctx, res)
		return res, err
	}

	var wg sync.WaitGroup
	for _, name := range c.names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			c.runTunnel(ctx, name, res)
		}(name)
	}
	wg.Wait()
	return res, res.Err()
}

// runExternal hands the operator-supplied token through without any api
// call; the run is purely descriptive.
func (c *Controller) runExternal(ctx context.Context, res *Result) error {
	token, err := c.options.externalSource.Value(ctx, c.options.externalName)
	if err != nil {
		err = errors.Wrapf(err, "fetch connector token %q", c.options.externalName)
		for _, name := range c.names {
			c.options.publisher.PublishTunnel(name, tunnel.StatusFailed, err.Error())
			res.record(name, err)
		}
		return res.Err()
	}
	if token == "" {
		err := errors.Errorf("connector token %q is empty", c.options.externalName)
		for _, name := range c.names {
			c.options.publisher.PublishTunnel(name, tunnel.StatusFailed, err.Error())
			res.record(name, err)
		}
		return res.Err()
	}

	for _, name := range c.names {
		c.tunnels.Store(name, &tunnel.Tunnel{Name: name, Token: token, Status: tunnel.StatusRunning})
		c.options.publisher.PublishTunnel(name, tunnel.StatusRunning, "externally provisioned")
		res.record(name, nil)
		for _, route := range c.routes[name] {
			route.Status = ingress.StatusFinished
			c.options.publisher.PublishRoute(route.Hostname, ingress.StatusFinished, "externally provisioned")
			res.record(route.Hostname, nil)
		}
		c.gates[name].Release()
	}
	return nil
}

func (c *Controller) runTunnel(ctx context.Context, name string, res *Result) {
	pub := c.options.publisher
	routes := c.routes[name]

	pub.PublishTunnel(name, tunnel.StatusProvisioning, "provisioning tunnel")
	t, err := c.tunnelProv.Provision(ctx, name)
	if err != nil {
		metricsConfig.tunnelFailures.Inc()
		pub.PublishTunnel(name, tunnel.StatusFailed, err.Error())
		res.record(name, err)
		// routes cannot be configured without a tunnel id
		for _, route := range routes {
			route.Status = ingress.StatusFailed
			pub.PublishRoute(route.Hostname, ingress.StatusFailed, "tunnel provisioning failed")
			res.record(route.Hostname, err)
		}
		return
	}

	c.tunnels.Store(name, t)
	metricsConfig.tunnelsProvisioned.Inc()
	pub.PublishTunnel(name, tunnel.StatusRunning, "tunnel provisioned")
	res.record(name, nil)

	// the connector only needs the token; a failed route batch does not
	// keep the gate closed once the tunnel itself provisioned
	defer c.gates[name].Release()

	if len(routes) == 0 {
		c.log.WithFields(logrus.Fields{
			"tunnel": name,
		}).Debugf("no routes declared, pushing catch-all only")
	}

	for _, route := range routes {
		pub.PublishRoute(route.Hostname, ingress.StatusConfiguring, "configuring route")
	}
	if err := c.routeProv.ProvisionBatch(ctx, t.ID, routes); err != nil {
		for _, route := range routes {
			metricsConfig.routeFailures.Inc()
			pub.PublishRoute(route.Hostname, ingress.StatusFailed, err.Error())
			res.record(route.Hostname, err)
		}
		return
	}
	metricsConfig.ingressPushes.Inc()
	for _, route := range routes {
		metricsConfig.routesConfigured.Inc()
		pub.PublishRoute(route.Hostname, ingress.StatusFinished, "route configured")
		res.record(route.Hostname, nil)
	}
}
