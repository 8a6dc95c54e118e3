// Package auth implements token acquisition and caching for secured
// services: the identity manager, pluggable token stores and the resource
// proxy registry.
package auth

import (
	"time"
)

// Flavor describes which security model issued a token, which decides the
// channel the token travels on.
type Flavor string

const (
	// FlavorServer tokens come from an on-premises server and travel as an
	// agstoken cookie.
	FlavorServer Flavor = "server"
	// FlavorHosted tokens come from the hosted platform portal and travel
	// as a token query parameter bound to a referer.
	FlavorHosted Flavor = "hosted"
	// FlavorAdmin tokens target the admin surface and travel as a token
	// query parameter.
	FlavorAdmin Flavor = "admin"
)

// Token is an opaque credential scoped to a normalized service domain.
type Token struct {
	Value   string    `json:"value"`
	Expires time.Time `json:"expires"`
	Domain  string    `json:"domain"`
	Flavor  Flavor    `json:"flavor"`
	// Referer is the origin the token was issued for. Hosted tokens only.
	Referer string `json:"referer,omitempty"`
}

// Expired reports whether the token is unusable at the given instant.
func (t Token) Expired(now time.Time) bool {
	return !t.Expires.After(now)
}

// UsesQueryParam reports whether the token is sent as a query parameter
// rather than a cookie.
func (t Token) UsesQueryParam() bool {
	return t.Flavor == FlavorHosted || t.Flavor == FlavorAdmin
}

func (t Token) String() string {
	return t.Value
}

// CookieName is the cookie carrying on-premises server tokens.
const CookieName = "agstoken"
