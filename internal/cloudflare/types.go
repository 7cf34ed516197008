package cloudflare

// Tunnel is a named outbound-connection identity registered with the edge,
// identified by a remotely assigned id.
type Tunnel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Zone is a DNS-managed domain owning one or more public hostnames.
type Zone struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DNSRecord maps a public hostname to the tunnel's canonical address.
type DNSRecord struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Proxied bool   `json:"proxied"`
	TTL     int    `json:"ttl"`
}

// IngressRule is one entry of a tunnel's routing table. A rule without a
// hostname is the catch-all and must terminate the table.
type IngressRule struct {
	Hostname string `json:"hostname,omitempty"`
	Service  string `json:"service"`
}

// ttlAutomatic selects provider-managed TTL on dns records.
const ttlAutomatic = 1
