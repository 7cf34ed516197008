// Package cloudflare is a typed facade over the subset of the Cloudflare v4
// REST API needed to provision tunnels, dns records and ingress tables.
package cloudflare

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// API is the operation set consumed by the provisioners. Implemented by
// Client; replaced by a mock in tests.
type API interface {
	// TunnelByName returns the first tunnel with an exact name match,
	// or nil when the name is unknown to the account.
	TunnelByName(ctx context.Context, name string) (*Tunnel, error)

	// CreateTunnel registers a new tunnel under the account scope with a
	// client-side random secret.
	CreateTunnel(ctx context.Context, name string) (*Tunnel, error)

	// TunnelToken fetches the opaque connector credential for a tunnel id.
	TunnelToken(ctx context.Context, id string) (string, error)

	// ZoneByDomain returns the zone owning the domain, or nil when the
	// domain is not managed by the account.
	ZoneByDomain(ctx context.Context, domain string) (*Zone, error)

	// CreateOrUpdateDNSRecord creates a record; when the record already
	// exists it is located and updated in place instead.
	CreateOrUpdateDNSRecord(ctx context.Context, zoneID string, record DNSRecord) (*DNSRecord, error)

	// ReplaceIngressConfiguration pushes a complete routing table for the
	// tunnel. Full replace, last writer wins.
	ReplaceIngressConfiguration(ctx context.Context, tunnelID string, rules []IngressRule) error
}

// Client implements API against the live endpoint.
type Client struct {
	accountID string
	token     string
	clientID  string
	options   options
	log       *logrus.Logger
}

// NewClient builds a client scoped to one account, authenticating every call
// with the bearer token.
func NewClient(accountID, token string, log *logrus.Logger, opts ...Option) *Client {
	return &Client{
		accountID: accountID,
		token:     token,
		clientID:  uuid.NewString(),
		options:   collectOptions(opts),
		log:       log,
	}
}

// envelope is the uniform response wrapper used by every endpoint.
type envelope struct {
	Success  bool              `json:"success"`
	Errors   []ErrorDetail     `json:"errors"`
	Messages []json.RawMessage `json:"messages"`
	Result   json.RawMessage   `json:"result"`
}

// do performs one call and decodes the envelope result into out (out may be
// nil). A failed envelope surfaces as *APIError; everything else is a
// transport failure and always fatal.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload *bytes.Buffer
	if body != nil {
		payload = &bytes.Buffer{}
		if err := json.NewEncoder(payload).Encode(body); err != nil {
			return errors.Wrapf(err, "encode request %s %s", method, path)
		}
	}

	req, err := func() (*http.Request, error) {
		if payload != nil {
			return http.NewRequestWithContext(ctx, method, c.options.baseURL+path, payload)
		}
		return http.NewRequestWithContext(ctx, method, c.options.baseURL+path, nil)
	}()
	if err != nil {
		return errors.Wrapf(err, "build request %s %s", method, path)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.log.WithFields(logrus.Fields{
		"client": c.clientID,
		"method": method,
		"path":   path,
	}).Debugf("cloudflare api call")

	resp, err := c.options.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "call %s %s", method, path)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return errors.Wrapf(err, "decode response %s %s: status %d", method, path, resp.StatusCode)
	}
	if !env.Success {
		return &APIError{StatusCode: resp.StatusCode, Errors: env.Errors}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("call %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return errors.Wrapf(err, "decode result %s %s", method, path)
		}
	}
	return nil
}

// TunnelByName returns the first tunnel with an exact name match, or nil.
func (c *Client) TunnelByName(ctx context.Context, name string) (*Tunnel, error) {
	q := url.Values{}
	q.Set("name", name)
	q.Set("is_deleted", "false")
	path := fmt.Sprintf("/accounts/%s/cfd_tunnel?%s", url.PathEscape(c.accountID), q.Encode())

	var tunnels []Tunnel
	if err := c.do(ctx, http.MethodGet, path, nil, &tunnels); err != nil {
		return nil, err
	}
	for i := range tunnels {
		if tunnels[i].Name == name {
			return &tunnels[i], nil
		}
	}
	return nil, nil
}

// CreateTunnel registers a new tunnel. The secret is generated client-side
// on every call and never reused across attempts.
func (c *Client) CreateTunnel(ctx context.Context, name string) (*Tunnel, error) {
	secret, err := tunnelSecret()
	if err != nil {
		return nil, errors.Wrap(err, "generate tunnel secret")
	}
	body := map[string]interface{}{
		"name":          name,
		"tunnel_secret": secret,
		"config_src":    "cloudflare",
	}
	path := fmt.Sprintf("/accounts/%s/cfd_tunnel", url.PathEscape(c.accountID))

	var t Tunnel
	if err := c.do(ctx, http.MethodPost, path, body, &t); err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{
		"tunnel": t.Name,
		"id":     t.ID,
	}).Infof("tunnel created")
	return &t, nil
}

// TunnelToken fetches the opaque connector credential for a tunnel id.
func (c *Client) TunnelToken(ctx context.Context, id string) (string, error) {
	path := fmt.Sprintf("/accounts/%s/cfd_tunnel/%s/token", url.PathEscape(c.accountID), url.PathEscape(id))

	var token string
	if err := c.do(ctx, http.MethodGet, path, nil, &token); err != nil {
		return "", err
	}
	if token == "" {
		return "", errors.Errorf("tunnel %s: empty token returned", id)
	}
	return token, nil
}

// ZoneByDomain returns the zone owning the domain, or nil.
func (c *Client) ZoneByDomain(ctx context.Context, domain string) (*Zone, error) {
	q := url.Values{}
	q.Set("name", domain)
	q.Set("account.id", c.accountID)

	var zones []Zone
	if err := c.do(ctx, http.MethodGet, "/zones?"+q.Encode(), nil, &zones); err != nil {
		return nil, err
	}
	if len(zones) == 0 {
		return nil, nil
	}
	return &zones[0], nil
}

// CreateOrUpdateDNSRecord attempts creation; on an "already exists" class of
// error the existing record is located and updated in place instead.
func (c *Client) CreateOrUpdateDNSRecord(ctx context.Context, zoneID string, record DNSRecord) (*DNSRecord, error) {
	if record.TTL == 0 {
		record.TTL = ttlAutomatic
	}
	path := fmt.Sprintf("/zones/%s/dns_records", url.PathEscape(zoneID))

	var created DNSRecord
	err := c.do(ctx, http.MethodPost, path, record, &created)
	if err == nil {
		return &created, nil
	}
	if !IsAlreadyExists(err) {
		return nil, err
	}

	existing, ferr := c.findDNSRecord(ctx, zoneID, record.Type, record.Name)
	if ferr != nil {
		return nil, ferr
	}
	if existing == nil {
		// reported as a duplicate but not locatable, surface the original
		return nil, err
	}

	record.ID = existing.ID
	upath := fmt.Sprintf("/zones/%s/dns_records/%s", url.PathEscape(zoneID), url.PathEscape(existing.ID))
	var updated DNSRecord
	if err := c.do(ctx, http.MethodPut, upath, record, &updated); err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{
		"zone":     zoneID,
		"hostname": record.Name,
	}).Debugf("dns record existed, updated in place")
	return &updated, nil
}

func (c *Client) findDNSRecord(ctx context.Context, zoneID, rtype, name string) (*DNSRecord, error) {
	q := url.Values{}
	q.Set("type", rtype)
	q.Set("name", name)
	path := fmt.Sprintf("/zones/%s/dns_records?%s", url.PathEscape(zoneID), q.Encode())

	var records []DNSRecord
	if err := c.do(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// ReplaceIngressConfiguration pushes the complete routing table in a single
// replace call.
func (c *Client) ReplaceIngressConfiguration(ctx context.Context, tunnelID string, rules []IngressRule) error {
	body := map[string]interface{}{
		"config": map[string]interface{}{
			"ingress": rules,
		},
	}
	path := fmt.Sprintf("/accounts/%s/cfd_tunnel/%s/configurations", url.PathEscape(c.accountID), url.PathEscape(tunnelID))
	return c.do(ctx, http.MethodPut, path, body, nil)
}

// tunnelSecret generates a strong random secret for tunnel creation.
func tunnelSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
