package cloudflare

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockAPI implements API for tests; behavior is configured per test with
// the usual mock expectations.
type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) TunnelByName(ctx context.Context, name string) (*Tunnel, error) {
	args := m.Called(ctx, name)
	t, _ := args.Get(0).(*Tunnel)
	return t, args.Error(1)
}

func (m *MockAPI) CreateTunnel(ctx context.Context, name string) (*Tunnel, error) {
	args := m.Called(ctx, name)
	t, _ := args.Get(0).(*Tunnel)
	return t, args.Error(1)
}

func (m *MockAPI) TunnelToken(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockAPI) ZoneByDomain(ctx context.Context, domain string) (*Zone, error) {
	args := m.Called(ctx, domain)
	z, _ := args.Get(0).(*Zone)
	return z, args.Error(1)
}

func (m *MockAPI) CreateOrUpdateDNSRecord(ctx context.Context, zoneID string, record DNSRecord) (*DNSRecord, error) {
	args := m.Called(ctx, zoneID, record)
	r, _ := args.Get(0).(*DNSRecord)
	return r, args.Error(1)
}

func (m *MockAPI) ReplaceIngressConfiguration(ctx context.Context, tunnelID string, rules []IngressRule) error {
	args := m.Called(ctx, tunnelID, rules)
	return args.Error(0)
}
