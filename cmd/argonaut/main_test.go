package main

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloudflare/cloudflare-tunnel-provisioner/internal/cloudflare"
	"github.com/cloudflare/cloudflare-tunnel-provisioner/internal/controller"
	"github.com/cloudflare/cloudflare-tunnel-provisioner/internal/ingress"
)

func TestLogrusLevel(t *testing.T) {
	t.Parallel()
	for name, test := range map[string]struct {
		in  int
		out logrus.Level
	}{
		"verbose-0": {
			in:  0,
			out: logrus.PanicLevel,
		},
		"verbose-1": {
			in:  1,
			out: logrus.FatalLevel,
		},
		"verbose-2": {
			in:  2,
			out: logrus.ErrorLevel,
		},
		"verbose-3": {
			in:  3,
			out: logrus.WarnLevel,
		},
		"verbose-4": {
			in:  4,
			out: logrus.InfoLevel,
		},
		"verbose-5": {
			in:  5,
			out: logrus.DebugLevel,
		},
		"verbose-100": {
			in:  100,
			out: logrus.DebugLevel,
		},
		"verbose-negative": {
			in:  -1,
			out: logrus.PanicLevel,
		},
	} {
		assert.Equalf(t, test.out, logruslevel(test.in), "test '%s' loglevel mismatch", name)
	}
}

func TestTunnelFailuresRouteOnlyNotFatal(t *testing.T) {
	t.Parallel()
	// tunnel provisions, route batch fails on zone lookup: the process
	// must keep running so readiness can flip once the gate releases
	api := &cloudflare.MockAPI{}
	api.On("TunnelByName", mock.Anything, "my-tunnel").Return(&cloudflare.Tunnel{ID: "T", Name: "my-tunnel"}, nil)
	api.On("TunnelToken", mock.Anything, "T").Return("opaque-token", nil)
	api.On("ZoneByDomain", mock.Anything, "unmanaged.net").Return(nil, nil)

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	routes := []*ingress.Route{
		{Hostname: "a.unmanaged.net", Tunnel: "my-tunnel", Target: ingress.Target{Host: "10.0.0.1", Port: 8080}},
	}
	ctrl, err := controller.New(api, log, []string{"my-tunnel"}, routes)
	require.NoError(t, err)

	res, runErr := ctrl.Run(context.Background())
	require.Error(t, runErr, "folded run error carries the route failure")

	assert.NoError(t, tunnelFailures(res, []string{"my-tunnel"}))
	assert.True(t, ctrl.Gate("my-tunnel").Released())
}

func TestTunnelFailuresFatal(t *testing.T) {
	t.Parallel()
	api := &cloudflare.MockAPI{}
	api.On("TunnelByName", mock.Anything, "my-tunnel").Return(nil, errors.New("connection refused"))

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	ctrl, err := controller.New(api, log, []string{"my-tunnel"}, nil)
	require.NoError(t, err)

	res, runErr := ctrl.Run(context.Background())
	require.Error(t, runErr)

	err = tunnelFailures(res, []string{"my-tunnel"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "my-tunnel")
	assert.False(t, ctrl.Gate("my-tunnel").Released())
}
