package tls

import "errors"

// Sentinel errors.
var (
	// ErrCertificateNotFound is returned when no certificate is loaded.
	ErrCertificateNotFound = errors.New("certificate not found")

	// ErrReloaderClosed is returned after Close.
	ErrReloaderClosed = errors.New("certificate reloader is closed")

	// ErrUnsupportedVersion is returned for an unknown minimum TLS version.
	ErrUnsupportedVersion = errors.New("unsupported TLS version")
)
