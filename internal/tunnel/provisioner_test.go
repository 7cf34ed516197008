package tunnel

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloudflare/cloudflare-tunnel-provisioner/internal/cloudflare"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestProvisionCreatesMissingTunnel(t *testing.T) {
	t.Parallel()
	api := &cloudflare.MockAPI{}
	api.On("TunnelByName", mock.Anything, "my-tunnel").Return(nil, nil)
	api.On("CreateTunnel", mock.Anything, "my-tunnel").Return(&cloudflare.Tunnel{ID: "tun-1", Name: "my-tunnel"}, nil)
	api.On("TunnelToken", mock.Anything, "tun-1").Return("opaque-token", nil)

	p := NewProvisioner(api, testLogger())
	tun, err := p.Provision(context.Background(), "my-tunnel")
	require.NoError(t, err)

	assert.Equal(t, "tun-1", tun.ID)
	assert.Equal(t, "opaque-token", tun.Token)
	assert.Equal(t, StatusRunning, tun.Status)
	api.AssertNumberOfCalls(t, "CreateTunnel", 1)
	api.AssertNumberOfCalls(t, "TunnelToken", 1)
}

func TestProvisionReusesExistingTunnel(t *testing.T) {
	t.Parallel()
	api := &cloudflare.MockAPI{}
	api.On("TunnelByName", mock.Anything, "my-tunnel").Return(&cloudflare.Tunnel{ID: "tun-7", Name: "my-tunnel"}, nil)
	api.On("TunnelToken", mock.Anything, "tun-7").Return("opaque-token", nil)

	p := NewProvisioner(api, testLogger())
	tun, err := p.Provision(context.Background(), "my-tunnel")
	require.NoError(t, err)

	assert.Equal(t, "tun-7", tun.ID)
	api.AssertNotCalled(t, "CreateTunnel", mock.Anything, mock.Anything)
}

func TestProvisionFailures(t *testing.T) {
	t.Parallel()
	for name, test := range map[string]struct {
		tunnel string
		setup  func(api *cloudflare.MockAPI)
	}{
		"empty-name": {
			tunnel: "",
			setup:  func(api *cloudflare.MockAPI) {},
		},
		"lookup-error": {
			tunnel: "my-tunnel",
			setup: func(api *cloudflare.MockAPI) {
				api.On("TunnelByName", mock.Anything, "my-tunnel").Return(nil, errors.New("connection refused"))
			},
		},
		"create-error": {
			tunnel: "my-tunnel",
			setup: func(api *cloudflare.MockAPI) {
				api.On("TunnelByName", mock.Anything, "my-tunnel").Return(nil, nil)
				api.On("CreateTunnel", mock.Anything, "my-tunnel").Return(nil, errors.New("permission denied"))
			},
		},
		"token-error": {
			tunnel: "my-tunnel",
			setup: func(api *cloudflare.MockAPI) {
				api.On("TunnelByName", mock.Anything, "my-tunnel").Return(nil, nil)
				api.On("CreateTunnel", mock.Anything, "my-tunnel").Return(&cloudflare.Tunnel{ID: "tun-1", Name: "my-tunnel"}, nil)
				api.On("TunnelToken", mock.Anything, "tun-1").Return("", errors.New("service unavailable"))
			},
		},
	} {
		api := &cloudflare.MockAPI{}
		test.setup(api)

		p := NewProvisioner(api, testLogger())
		tun, err := p.Provision(context.Background(), test.tunnel)
		assert.Errorf(t, err, "test '%s' expected error", name)
		assert.Nilf(t, tun, "test '%s' expected no tunnel", name)
	}
}
