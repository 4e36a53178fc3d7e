package fetch

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
)

// buildTLSConfig constructs the TLS client configuration for a fetch,
// honoring the configured minimum protocol version, an optional CA bundle
// override, and an optional proactively-presented client certificate.
//
// Grounded on the teacher's LoadClientTLSConfig: certificate/CA loading and
// ServerName derivation from the target URL are unchanged; minVersion and the
// certificate become per-request options here instead of load-time
// constants, since a single Client serves many distinct repository hosts.
func buildTLSConfig(targetURL string, opts Options) (*tls.Config, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("parse target URL: %w", err)
	}
	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("target URL missing hostname")
	}

	cfg := &tls.Config{
		MinVersion: opts.minTLSVersion(),
		ServerName: parsed.Hostname(),
	}

	if opts.CABundlePath != "" {
		data, err := os.ReadFile(opts.CABundlePath)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("invalid CA bundle")
		}
		cfg.RootCAs = pool
	}

	if opts.Credentials != nil && opts.Credentials.ClientCertificate != nil {
		cfg.Certificates = []tls.Certificate{*opts.Credentials.ClientCertificate}
	}

	// A server-initiated client-certificate request mid-handshake (a TLS
	// CertificateRequest with no certificate configured above) is declined
	// by presenting an empty certificate list, which crypto/tls already does
	// by default when Certificates is unset — no further action needed.

	return cfg, nil
}
