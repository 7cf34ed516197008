// Package tunnel finds-or-creates tunnel identities and obtains their
// connector tokens.
package tunnel

// Status is the lifecycle phase of a tunnel during one orchestration run.
type Status string

const (
	// StatusStarting before the provisioner has been invoked
	StatusStarting Status = "Starting"
	// StatusProvisioning while the identity and token are being obtained
	StatusProvisioning Status = "Provisioning"
	// StatusRunning once id and token are set, terminal success
	StatusRunning Status = "Running"
	// StatusFailed terminal failure, the connector must not start
	StatusFailed Status = "Failed"
)

// Tunnel is a named outbound-connection identity. ID and Token are written
// once by the provisioner and read-only afterward; write-before-read
// ordering is enforced by the coordinator's gate, not by locking.
type Tunnel struct {
	Name   string
	ID     string
	Token  string
	Status Status
}
