package model

import "time"

// GrantMethod identifies which OAuth grant produced a token
type GrantMethod string

const (
	GrantMethodPassword   GrantMethod = "password"
	GrantMethodDeviceCode GrantMethod = "device_code"
)

// TokenGrant is the terminal artifact of the authorization phase
type TokenGrant struct {
	Email        string      `json:"email"`
	ClientID     string      `json:"client_id"`
	RefreshToken string      `json:"refresh_token"`
	AccessToken  string      `json:"access_token"`
	ExpiresIn    int64       `json:"expires_in,omitempty"`
	Method       GrantMethod `json:"method"`
}

// Line renders the grant as an export line: email|clientId|refreshToken
func (g TokenGrant) Line() string {
	return g.Email + "|" + g.ClientID + "|" + g.RefreshToken
}

// TokenOutcome is the per-identity result of AcquireMany
type TokenOutcome struct {
	Identity Identity
	Grant    *TokenGrant
	Err      error
}

// Success reports whether a grant was obtained
func (o TokenOutcome) Success() bool {
	return o.Err == nil && o.Grant != nil
}

// DeviceCodeSession is an in-flight device authorization. Never persisted.
type DeviceCodeSession struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	Message                 string
	ExpiresAt               time.Time
	IntervalSeconds         int
}
