//go:build windows

package store

import "crypto/x509"

// systemRootCertificates has no portable equivalent on Windows: the
// CryptoAPI "ROOT" store is reachable through x509.SystemCertPool for
// Verify calls, but crypto/x509 exposes no public API to enumerate the
// individual certificates it contains. OsBackend on Windows therefore
// always reports an empty anchor set; callers on Windows should use
// FileBackend with an explicit root.crt instead.
func systemRootCertificates() ([]*x509.Certificate, error) {
	return nil, nil
}
