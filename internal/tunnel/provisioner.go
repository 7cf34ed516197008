package tunnel

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cloudflare/cloudflare-tunnel-provisioner/internal/cloudflare"
)

// Provisioner produces an id and connector token for a tunnel name.
type Provisioner struct {
	api cloudflare.API
	log *logrus.Logger
}

// NewProvisioner builds a provisioner over the given api.
func NewProvisioner(api cloudflare.API, log *logrus.Logger) *Provisioner {
	return &Provisioner{
		api: api,
		log: log,
	}
}

// Provision looks the tunnel up by name, creates it if absent, and fetches
// the connector token for the resulting id. Failures are not retried here;
// re-invoking the whole step is the only retry mechanism. A tunnel created
// just before a later step fails is not rolled back (at-least-once creation;
// concurrent runs against one name can race and duplicate remote entities).
func (p *Provisioner) Provision(ctx context.Context, name string) (*Tunnel, error) {
	if name == "" {
		return nil, errors.New("tunnel name must not be empty")
	}

	remote, err := p.api.TunnelByName(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "lookup tunnel %q", name)
	}

	if remote == nil {
		p.log.WithFields(logrus.Fields{
			"tunnel": name,
		}).Infof("tunnel not found, creating")
		remote, err = p.api.CreateTunnel(ctx, name)
		if err != nil {
			return nil, errors.Wrapf(err, "create tunnel %q", name)
		}
	} else {
		p.log.WithFields(logrus.Fields{
			"tunnel": name,
			"id":     remote.ID,
		}).Debugf("tunnel found")
	}

	token, err := p.api.TunnelToken(ctx, remote.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch token for tunnel %q (%s)", name, remote.ID)
	}

	return &Tunnel{
		Name:   name,
		ID:     remote.ID,
		Token:  token,
		Status: StatusRunning,
	}, nil
}
