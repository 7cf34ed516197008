package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/cloudflare/cloudflare-tunnel-provisioner/internal/ingress"
)

const routeDelim = "="

// RouteMixin is a kingpin convenience function
func RouteMixin(s kingpin.Settings) (val *RouteValue) {
	val = &RouteValue{}
	s.SetValue(val)
	return
}

// RouteSpec is one declared route: public hostname to internal target,
// optionally pinned to a tunnel by name.
type RouteSpec struct {
	Tunnel   string
	Hostname string
	Target   ingress.Target
}

// RouteValue is a repeatable '<tunnel>/<hostname>=<target-url>' flag
// implementing the Value interface; the tunnel prefix may be omitted when
// exactly one tunnel is declared.
type RouteValue []RouteSpec

// Set values the route from a string or errors.
func (r *RouteValue) Set(val string) error {
	parts := strings.SplitN(strings.TrimSpace(val), routeDelim, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("expected '[<tunnel>/]<hostname>=<target-url>' got '%s'", val)
	}

	spec := RouteSpec{Hostname: parts[0]}
	if i := strings.Index(parts[0], "/"); i >= 0 {
		spec.Tunnel = parts[0][:i]
		spec.Hostname = parts[0][i+1:]
		if spec.Tunnel == "" || spec.Hostname == "" {
			return fmt.Errorf("expected '[<tunnel>/]<hostname>=<target-url>' got '%s'", val)
		}
	}

	target, err := parseTarget(parts[1])
	if err != nil {
		return fmt.Errorf("route %s: %v", spec.Hostname, err)
	}
	spec.Target = target

	*r = append(*r, spec)
	return nil
}

func (r *RouteValue) String() (val string) {
	for i, spec := range *r {
		val += fmt.Sprintf("%s%s%s", spec.Hostname, routeDelim, spec.Target.URL())
		if i != len(*r)-1 {
			val += ", "
		}
	}
	return
}

func (r *RouteValue) IsCumulative() bool {
	return true
}

// Routes resolves the declared specs against the tunnel names, assigning
// unpinned routes to the single declared tunnel.
func (r *RouteValue) Routes(tunnels []string) ([]*ingress.Route, error) {
	routes := make([]*ingress.Route, 0, len(*r))
	for _, spec := range *r {
		name := spec.Tunnel
		if name == "" {
			if len(tunnels) != 1 {
				return nil, fmt.Errorf("route %s must name its tunnel when several tunnels are declared", spec.Hostname)
			}
			name = tunnels[0]
		}
		routes = append(routes, &ingress.Route{
			Hostname: spec.Hostname,
			Target:   spec.Target,
			Tunnel:   name,
		})
	}
	return routes, nil
}

// parseTarget reads a service address; scheme and port fall back to the
// route provisioner defaults when left out.
func parseTarget(val string) (target ingress.Target, err error) {
	if !strings.Contains(val, "://") {
		val = ingress.SchemeDefault + "://" + val
	}
	u, err := url.Parse(val)
	if err != nil {
		return target, err
	}
	if u.Hostname() == "" {
		return target, fmt.Errorf("target '%s' has no host", val)
	}

	port := 0
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return target, err
		}
	}
	return ingress.Target{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Port:   port,
	}, nil
}
