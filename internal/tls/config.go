package tls

import (
	"crypto/tls"
	"fmt"
)

// ParseVersion maps "1.2" and "1.3" to crypto/tls constants. The empty
// string means TLS 1.2.
func ParseVersion(v string) (uint16, error) {
	switch v {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedVersion, v)
	}
}

// ServerConfig returns a server tls.Config that takes its certificate from
// r on every handshake.
func ServerConfig(r *CertReloader, minVersion string) (*tls.Config, error) {
	v, err := ParseVersion(minVersion)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:     v,
		GetCertificate: r.GetCertificate,
	}, nil
}
