package ingress

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cloudflare/cloudflare-tunnel-provisioner/internal/cloudflare"
)

// ZoneNotFoundError marks a batch failure caused by a hostname whose zone is
// not managed by the account.
type ZoneNotFoundError struct {
	Domain string
}

func (e *ZoneNotFoundError) Error() string {
	return fmt.Sprintf("zone not found for domain %q", e.Domain)
}

// Provisioner creates dns records and pushes the routing table for one
// tunnel's declared routes.
type Provisioner struct {
	api     cloudflare.API
	options options
	log     *logrus.Logger
}

// NewProvisioner builds a provisioner over the given api.
func NewProvisioner(api cloudflare.API, log *logrus.Logger, opts ...Option) *Provisioner {
	return &Provisioner{
		api:     api,
		options: collectOptions(opts),
		log:     log,
	}
}

// ProvisionBatch processes every route of one tunnel in declaration order:
// zone lookup, dns record, ingress rule. The complete table, terminated by
// exactly one catch-all rule, is pushed in a single replace call afterward.
//
// All-or-nothing: any failure other than an already-existing dns record
// aborts the batch before the push and marks every route failed, including
// ones that succeeded individually. The table is never pushed half-built.
func (p *Provisioner) ProvisionBatch(ctx context.Context, tunnelID string, routes []*Route) error {
	if tunnelID == "" {
		return errors.New("tunnel id must be set before routes are provisioned")
	}

	err := p.provisionAll(ctx, tunnelID, routes)
	if err != nil {
		for _, route := range routes {
			route.Status = StatusFailed
		}
		return err
	}
	for _, route := range routes {
		route.RulePushed = true
		route.Status = StatusFinished
	}
	return nil
}

func (p *Provisioner) provisionAll(ctx context.Context, tunnelID string, routes []*Route) error {
	target := tunnelID + "." + p.options.anchorDomain
	rules := make([]cloudflare.IngressRule, 0, len(routes)+1)
	seen := make(map[string]struct{}, len(routes))

	for _, route := range routes {
		route.Status = StatusConfiguring
		if err := route.Validate(); err != nil {
			return err
		}

		// every non-catch-all hostname must be unique within the table
		if _, dup := seen[route.Hostname]; dup {
			return errors.Errorf("duplicate route hostname %q in batch", route.Hostname)
		}
		seen[route.Hostname] = struct{}{}

		domain := ZoneLookupDomain(route.Hostname)
		zone, err := p.api.ZoneByDomain(ctx, domain)
		if err != nil {
			return errors.Wrapf(err, "lookup zone for %q", domain)
		}
		if zone == nil {
			return &ZoneNotFoundError{Domain: domain}
		}

		if err := p.ensureDNSRecord(ctx, zone, route, target); err != nil {
			return err
		}

		rules = append(rules, cloudflare.IngressRule{
			Hostname: route.Hostname,
			Service:  route.Target.URL(),
		})
	}

	rules = append(rules, cloudflare.IngressRule{Service: CatchAllService})
	if err := p.api.ReplaceIngressConfiguration(ctx, tunnelID, rules); err != nil {
		return errors.Wrapf(err, "replace ingress configuration for tunnel %s", tunnelID)
	}

	p.log.WithFields(logrus.Fields{
		"tunnel": tunnelID,
		"rules":  len(rules),
	}).Infof("ingress configuration pushed")
	return nil
}

func (p *Provisioner) ensureDNSRecord(ctx context.Context, zone *cloudflare.Zone, route *Route, target string) error {
	_, err := p.api.CreateOrUpdateDNSRecord(ctx, zone.ID, cloudflare.DNSRecord{
		Type:    "CNAME",
		Name:    route.Hostname,
		Content: target,
		Proxied: p.options.proxied,
	})
	if err != nil && !cloudflare.IsAlreadyExists(err) {
		return errors.Wrapf(err, "create dns record for %q", route.Hostname)
	}
	route.DNSCreated = true

	p.log.WithFields(logrus.Fields{
		"hostname": route.Hostname,
		"zone":     zone.Name,
		"target":   target,
	}).Debugf("dns record in place")
	return nil
}
