// Package ingress provisions dns records and builds the per-tunnel routing
// table from the declared routes.
package ingress

import (
	"fmt"
	"strings"
)

// Status is the lifecycle phase of a route during one orchestration run.
type Status string

const (
	// StatusStarting before the batch has been invoked
	StatusStarting Status = "Starting"
	// StatusConfiguring while dns and ingress are being provisioned
	StatusConfiguring Status = "Configuring"
	// StatusFinished terminal success
	StatusFinished Status = "Finished"
	// StatusFailed terminal failure
	StatusFailed Status = "Failed"
)

const (
	// SchemeDefault applies when the target's scheme cannot be determined
	SchemeDefault = "http"
	// PortDefault applies when the target's port cannot be determined
	PortDefault = 80
)

// Target is the internal service address a route forwards to.
type Target struct {
	Scheme string
	Host   string
	Port   int
}

// URL renders the service target for an ingress rule, falling back to http
// and port 80 when scheme or port are undetermined.
func (t Target) URL() string {
	scheme := t.Scheme
	if scheme == "" {
		scheme = SchemeDefault
	}
	port := t.Port
	if port <= 0 {
		port = PortDefault
	}
	return fmt.Sprintf("%s://%s:%d", scheme, t.Host, port)
}

// Route maps a public hostname to an internal service target, associated
// with one tunnel by name. DNSCreated and RulePushed are set by the
// provisioner as each side effect lands.
type Route struct {
	Hostname   string
	Target     Target
	Tunnel     string
	DNSCreated bool
	RulePushed bool
	Status     Status
}

// Validate rejects routes whose hostname is not a fully-qualified domain
// name, before any network call is made.
func (r *Route) Validate() error {
	host := strings.TrimSpace(r.Hostname)
	if host == "" {
		return fmt.Errorf("route hostname must not be empty")
	}
	if !strings.Contains(strings.Trim(host, "."), ".") {
		return fmt.Errorf("route hostname %q must be a fully-qualified domain name", r.Hostname)
	}
	if r.Target.Host == "" {
		return fmt.Errorf("route %q target host must not be empty", r.Hostname)
	}
	return nil
}

// ZoneLookupDomain derives the zone-lookup domain from a hostname: the last
// two dot-separated labels. Incorrect for multi-level public suffixes such
// as co.uk; a known limitation, not special-cased.
func ZoneLookupDomain(hostname string) string {
	labels := strings.Split(strings.Trim(hostname, "."), ".")
	if len(labels) <= 2 {
		return strings.Trim(hostname, ".")
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
