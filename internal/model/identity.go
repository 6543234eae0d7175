package model

import (
	"net"
	"strconv"
	"time"
)

// Identity is a synthetic account record. Immutable once generated.
type Identity struct {
	Email     string    `json:"email"`
	Password  string    `json:"password"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	BirthDate time.Time `json:"birth_date"`
	Domain    string    `json:"domain"`
}

// ProxyCredential is one egress proxy drawn from the caller-supplied list
type ProxyCredential struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Addr returns host:port
func (p ProxyCredential) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// String renders the proxy without its credentials so it is safe to log
func (p ProxyCredential) String() string {
	return p.Addr()
}

// SessionHandle represents one live shared browser-automation session.
// It is owned by the worker that acquired it until released.
type SessionHandle struct {
	SessionID      string           `json:"session_id"`
	RemoteEndpoint string           `json:"remote_endpoint"`
	Proxy          *ProxyCredential `json:"proxy,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// SubBatch is an ordered group of identities sharing one session.
// Indexes holds each identity's position in the original request.
type SubBatch struct {
	Number     int
	Identities []Identity
	Indexes    []int
}

// Len returns the number of identities in the sub-batch
func (b SubBatch) Len() int {
	return len(b.Identities)
}

// RegistrationOutcome is the per-identity result of the registration phase
type RegistrationOutcome struct {
	Identity Identity `json:"identity"`
	Success  bool     `json:"success"`
	Err      error    `json:"-"`
}

// Error returns the failure message, or empty on success
func (o RegistrationOutcome) Error() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
