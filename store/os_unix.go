//go:build !windows

package store

import (
	"crypto/x509"
	"os"
)

// systemRootBundlePaths lists the CA bundle files crypto/x509 itself reads
// on Unix-like systems. x509.CertPool has no public API to enumerate the
// certificates it holds (SystemCertPool returns an opaque pool meant only
// for Verify), so OsBackend reads the same well-known bundle files crypto/
// x509 consults internally to get concrete *x509.Certificate values for
// its AnchorSet.
var systemRootBundlePaths = []string{
	"/etc/ssl/certs/ca-certificates.crt",
	"/etc/pki/tls/certs/ca-bundle.crt",
	"/etc/ssl/ca-bundle.pem",
	"/etc/pki/tls/cacert.pem",
	"/etc/pki/ca-trust/extracted/pem/tls-ca-bundle.pem",
	"/etc/ssl/cert.pem",
}

func systemRootCertificates() ([]*x509.Certificate, error) {
	for _, path := range systemRootBundlePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		ders, err := splitBundle(data)
		if err != nil {
			continue
		}
		certs := make([]*x509.Certificate, 0, len(ders))
		for _, der := range ders {
			c, err := x509.ParseCertificate(der)
			if err == nil {
				certs = append(certs, c)
			}
		}
		if len(certs) > 0 {
			return certs, nil
		}
	}
	return nil, nil
}
