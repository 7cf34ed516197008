package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloudflare/cloudflare-tunnel-provisioner/internal/cloudflare"
	"github.com/cloudflare/cloudflare-tunnel-provisioner/internal/ingress"
	"github.com/cloudflare/cloudflare-tunnel-provisioner/internal/tunnel"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// recordingPublisher captures phase transitions in arrival order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishTunnel(name string, status tunnel.Status, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, "tunnel/"+name+"/"+string(status))
}

func (p *recordingPublisher) PublishRoute(hostname string, status ingress.Status, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, "route/"+hostname+"/"+string(status))
}

func (p *recordingPublisher) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	copy(out, p.events)
	return out
}

func TestNewConfigurationErrors(t *testing.T) {
	t.Parallel()
	api := &cloudflare.MockAPI{}
	for name, test := range map[string]struct {
		api    cloudflare.API
		names  []string
		routes []*ingress.Route
		opts   []Option
	}{
		"no-tunnel": {
			api:   api,
			names: nil,
		},
		"empty-name": {
			api:   api,
			names: []string{""},
		},
		"duplicate-name": {
			api:   api,
			names: []string{"a", "a"},
		},
		"missing-api": {
			api:   nil,
			names: []string{"a"},
		},
		"route-undeclared-tunnel": {
			api:   api,
			names: []string{"a"},
			routes: []*ingress.Route{
				{Hostname: "x.example.com", Tunnel: "b", Target: ingress.Target{Host: "10.0.0.1"}},
			},
		},
		"route-duplicate-hostname": {
			api:   api,
			names: []string{"a"},
			routes: []*ingress.Route{
				{Hostname: "x.example.com", Tunnel: "a", Target: ingress.Target{Host: "10.0.0.1"}},
				{Hostname: "x.example.com", Tunnel: "a", Target: ingress.Target{Host: "10.0.0.2"}},
			},
		},
	} {
		_, err := New(test.api, testLogger(), test.names, test.routes, test.opts...)
		assert.Errorf(t, err, "test '%s' expected configuration error", name)
	}
	// configuration errors surface before any network call
	api.AssertNotCalled(t, "TunnelByName", mock.Anything, mock.Anything)
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()
	api := &cloudflare.MockAPI{}
	api.On("TunnelByName", mock.Anything, "my-tunnel").Return(nil, nil)
	api.On("CreateTunnel", mock.Anything, "my-tunnel").Return(&cloudflare.Tunnel{ID: "T", Name: "my-tunnel"}, nil)
	api.On("TunnelToken", mock.Anything, "T").Return("opaque-token", nil)
	api.On("ZoneByDomain", mock.Anything, "example.com").Return(&cloudflare.Zone{ID: "zone-1", Name: "example.com"}, nil)
	api.On("CreateOrUpdateDNSRecord", mock.Anything, "zone-1", mock.Anything).Return(&cloudflare.DNSRecord{}, nil)

	var pushed []cloudflare.IngressRule
	api.On("ReplaceIngressConfiguration", mock.Anything, "T", mock.Anything).Run(func(args mock.Arguments) {
		pushed = args.Get(2).([]cloudflare.IngressRule)
	}).Return(nil)

	routes := []*ingress.Route{
		{Hostname: "a.example.com", Tunnel: "my-tunnel", Target: ingress.Target{Host: "10.0.0.1", Port: 8080}},
		{Hostname: "b.example.com", Tunnel: "my-tunnel", Target: ingress.Target{Host: "10.0.0.2", Port: 9090}},
	}
	pub := &recordingPublisher{}
	c, err := New(api, testLogger(), []string{"my-tunnel"}, routes, StatePublisher(pub))
	require.NoError(t, err)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err())

	// identity and token landed exactly once
	api.AssertNumberOfCalls(t, "CreateTunnel", 1)
	api.AssertNumberOfCalls(t, "TunnelToken", 1)

	// two records, each pointing at the canonical address
	dnsCalls := 0
	for _, call := range api.Calls {
		if call.Method == "CreateOrUpdateDNSRecord" {
			dnsCalls++
			rec := call.Arguments.Get(2).(cloudflare.DNSRecord)
			assert.Equal(t, "T."+ingress.AnchorDomainDefault, rec.Content)
		}
	}
	assert.Equal(t, 2, dnsCalls)

	// three rules in declaration order, catch-all last
	require.Len(t, pushed, 3)
	assert.Equal(t, cloudflare.IngressRule{Hostname: "a.example.com", Service: "http://10.0.0.1:8080"}, pushed[0])
	assert.Equal(t, cloudflare.IngressRule{Hostname: "b.example.com", Service: "http://10.0.0.2:9090"}, pushed[1])
	assert.Equal(t, cloudflare.IngressRule{Service: ingress.CatchAllService}, pushed[2])

	assert.True(t, c.Gate("my-tunnel").Released())
	token, ok := c.Token("my-tunnel")
	require.True(t, ok)
	assert.Equal(t, "opaque-token", token)

	events := pub.all()
	assert.Equal(t, "tunnel/my-tunnel/Provisioning", events[0])
	assert.Equal(t, "tunnel/my-tunnel/Running", events[1])
	assert.Contains(t, events, "route/a.example.com/Finished")
	assert.Contains(t, events, "route/b.example.com/Finished")
}

func TestRunGateOrdering(t *testing.T) {
	t.Parallel()
	api := &cloudflare.MockAPI{}
	api.On("TunnelByName", mock.Anything, "my-tunnel").Return(&cloudflare.Tunnel{ID: "T", Name: "my-tunnel"}, nil)
	api.On("TunnelToken", mock.Anything, "T").Return("opaque-token", nil)
	api.On("ReplaceIngressConfiguration", mock.Anything, "T", mock.Anything).Return(nil)

	c, err := New(api, testLogger(), []string{"my-tunnel"}, nil)
	require.NoError(t, err)

	gate := c.Gate("my-tunnel")
	started := make(chan string, 1)
	go func() {
		// connector start action, strictly ordered after the gate
		if err := gate.Wait(context.Background()); err == nil {
			token, _ := c.Token("my-tunnel")
			started <- token
		}
	}()

	assert.False(t, gate.Released())
	_, err = c.Run(context.Background())
	require.NoError(t, err)

	select {
	case token := <-started:
		// token visible before the start action runs
		assert.Equal(t, "opaque-token", token)
	case <-time.After(5 * time.Second):
		t.Fatal("connector start never observed")
	}
}

func TestRunFailureKeepsGateClosed(t *testing.T) {
	t.Parallel()
	api := &cloudflare.MockAPI{}
	api.On("TunnelByName", mock.Anything, "my-tunnel").Return(nil, errors.New("connection refused"))

	routes := []*ingress.Route{
		{Hostname: "a.example.com", Tunnel: "my-tunnel", Target: ingress.Target{Host: "10.0.0.1", Port: 8080}},
	}
	pub := &recordingPublisher{}
	c, err := New(api, testLogger(), []string{"my-tunnel"}, routes, StatePublisher(pub))
	require.NoError(t, err)

	res, err := c.Run(context.Background())
	require.Error(t, err)
	assert.Error(t, res.EntityErr("my-tunnel"))
	assert.Error(t, res.EntityErr("a.example.com"))

	assert.False(t, c.Gate("my-tunnel").Released())
	_, ok := c.Token("my-tunnel")
	assert.False(t, ok)

	assert.Contains(t, pub.all(), "tunnel/my-tunnel/Failed")
	assert.Contains(t, pub.all(), "route/a.example.com/Failed")
	assert.Equal(t, ingress.StatusFailed, routes[0].Status)
}

func TestRunRouteFailureStillReleasesGate(t *testing.T) {
	t.Parallel()
	api := &cloudflare.MockAPI{}
	api.On("TunnelByName", mock.Anything, "my-tunnel").Return(&cloudflare.Tunnel{ID: "T", Name: "my-tunnel"}, nil)
	api.On("TunnelToken", mock.Anything, "T").Return("opaque-token", nil)
	api.On("ZoneByDomain", mock.Anything, "unmanaged.net").Return(nil, nil)

	routes := []*ingress.Route{
		{Hostname: "a.unmanaged.net", Tunnel: "my-tunnel", Target: ingress.Target{Host: "10.0.0.1", Port: 8080}},
	}
	c, err := New(api, testLogger(), []string{"my-tunnel"}, routes)
	require.NoError(t, err)

	res, err := c.Run(context.Background())
	require.Error(t, err)
	assert.NoError(t, res.EntityErr("my-tunnel"))
	assert.Error(t, res.EntityErr("a.unmanaged.net"))

	// the tunnel provisioned, so the connector may still start
	assert.True(t, c.Gate("my-tunnel").Released())
	api.AssertNotCalled(t, "ReplaceIngressConfiguration", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunConcurrentTunnels(t *testing.T) {
	t.Parallel()
	api := &cloudflare.MockAPI{}
	api.On("TunnelByName", mock.Anything, "tun-a").Return(&cloudflare.Tunnel{ID: "A", Name: "tun-a"}, nil)
	api.On("TunnelByName", mock.Anything, "tun-b").Return(&cloudflare.Tunnel{ID: "B", Name: "tun-b"}, nil)
	api.On("TunnelToken", mock.Anything, "A").Return("token-a", nil)
	api.On("TunnelToken", mock.Anything, "B").Return("token-b", nil)
	api.On("ReplaceIngressConfiguration", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	c, err := New(api, testLogger(), []string{"tun-a", "tun-b"}, nil)
	require.NoError(t, err)

	_, err = c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, c.Tunnels().Len())
	for name, want := range map[string]string{"tun-a": "token-a", "tun-b": "token-b"} {
		token, ok := c.Token(name)
		require.Truef(t, ok, "token for %s missing", name)
		assert.Equal(t, want, token)
	}
}

func TestRunExternalMode(t *testing.T) {
	t.Parallel()
	routes := []*ingress.Route{
		{Hostname: "a.example.com", Tunnel: "my-tunnel", Target: ingress.Target{Host: "10.0.0.1", Port: 8080}},
	}
	pub := &recordingPublisher{}
	c, err := New(nil, testLogger(), []string{"my-tunnel"}, routes,
		ExternalToken(StaticSecret("operator-token"), "TUNNEL_TOKEN"),
		StatePublisher(pub),
	)
	require.NoError(t, err)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err())

	assert.True(t, c.Gate("my-tunnel").Released())
	token, ok := c.Token("my-tunnel")
	require.True(t, ok)
	assert.Equal(t, "operator-token", token)
	assert.Contains(t, pub.all(), "tunnel/my-tunnel/Running")
}

func TestRunExternalModeEmptyToken(t *testing.T) {
	t.Parallel()
	c, err := New(nil, testLogger(), []string{"my-tunnel"}, nil,
		ExternalToken(StaticSecret(""), "TUNNEL_TOKEN"))
	require.NoError(t, err)

	_, err = c.Run(context.Background())
	require.Error(t, err)
	assert.False(t, c.Gate("my-tunnel").Released())
}
