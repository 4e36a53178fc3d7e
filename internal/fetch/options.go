package fetch

import (
	"crypto/tls"
	"time"
)

// RedirectPolicy controls whether the client follows HTTP redirects.
// The default denies all, matching §4.B.
type RedirectPolicy int

const (
	RedirectDenyAll RedirectPolicy = iota
	RedirectAllowAll
)

// Credentials carries basic/digest authentication material, presented only
// when the server challenges for it (§4.B: "presented on challenge").
type Credentials struct {
	Username string
	Password string

	// ClientCertificate, when set, is presented proactively at the TLS
	// handshake layer for UseClientCertificate-style policies. This is
	// distinct from a server-initiated TLS client-certificate challenge
	// mid-handshake, which this client declines (§4.B).
	ClientCertificate *tls.Certificate
}

// Options configures a single Fetch call.
type Options struct {
	FollowRedirects RedirectPolicy
	Resume          bool
	OnlyIfChanged   bool
	Timeout         time.Duration
	MinTLS          uint16
	Credentials     *Credentials

	// CABundlePath, if set, names a PEM CA bundle that replaces the system
	// trust store.
	CABundlePath string
}

const defaultTimeout = 60 * time.Second

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return defaultTimeout
}

func (o Options) minTLSVersion() uint16 {
	if o.MinTLS != 0 {
		return o.MinTLS
	}
	return tls.VersionTLS12
}
