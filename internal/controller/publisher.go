package controller

import (
	"github.com/sirupsen/logrus"

	"github.com/cloudflare/cloudflare-tunnel-provisioner/internal/ingress"
	"github.com/cloudflare/cloudflare-tunnel-provisioner/internal/tunnel"
)

// Publisher receives every entity phase transition for external
// observability. Implementations must not block.
type Publisher interface {
	PublishTunnel(name string, status tunnel.Status, msg string)
	PublishRoute(hostname string, status ingress.Status, msg string)
}

// logPublisher is the default publisher, writing transitions to the log.
type logPublisher struct {
	log *logrus.Logger
}

func (p *logPublisher) PublishTunnel(name string, status tunnel.Status, msg string) {
	entry := p.log.WithFields(logrus.Fields{
		"tunnel": name,
		"status": status,
	})
	if status == tunnel.StatusFailed {
		entry.Errorf("%s", msg)
		return
	}
	entry.Infof("%s", msg)
}

func (p *logPublisher) PublishRoute(hostname string, status ingress.Status, msg string) {
	entry := p.log.WithFields(logrus.Fields{
		"hostname": hostname,
		"status":   status,
	})
	if status == ingress.StatusFailed {
		entry.Errorf("%s", msg)
		return
	}
	entry.Infof("%s", msg)
}
