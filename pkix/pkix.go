// Package pkix implements C3, the path builder: given a leaf certificate
// and candidate intermediates/anchors/CRLs, it assembles and validates a
// chain to a trust anchor under the chain validity model (spec.md §4.3).
// Grounded on the teacher's internal/tls certificate verification helpers,
// generalized from "verify against the system roots" to "build an explicit
// path from scratch" since S/MIME anchors are never the host's web-PKI
// root store.
package pkix

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/foxcpp/gosmime/errs"
	"github.com/foxcpp/gosmime/model"
	"github.com/foxcpp/gosmime/store"
)

// Input bundles everything Build needs from C2 and the CMS blob being
// verified (spec.md §4.3 "Inputs").
type Input struct {
	Anchors       store.AnchorSet
	Intermediates store.CertPool
	CRLs          store.CRLPool
	EmbeddedCerts []*x509.Certificate
	EmbeddedCRLs  []*x509.RevocationList
	Leaf          *x509.Certificate
	SigningTime   *time.Time
}

// Build assembles a validated certificate path from Leaf to a trust
// anchor, or returns a *errs.PathBuildError describing why it could not.
func Build(in Input) ([]*x509.Certificate, error) {
	if in.Leaf == nil {
		return nil, &errs.PathBuildError{Reason: "no leaf certificate"}
	}

	intermediates := in.Intermediates.Merge(store.NewCertPool(in.EmbeddedCerts...))
	crls := in.CRLs.Merge(store.NewCRLPool(in.EmbeddedCRLs...))
	revocationEnabled := !in.CRLs.Empty() // spec.md §4.3 step 3: local pool only, never embedded-only

	refTime := time.Now()
	if in.SigningTime != nil {
		refTime = *in.SigningTime
	}

	chain, err := walk(in.Leaf, refTime, intermediates, in.Anchors, map[string]bool{}, 0)
	if err != nil {
		return nil, err
	}

	if revocationEnabled {
		for _, c := range chain {
			if revoked, reason := isRevoked(c, crls); revoked {
				return nil, &errs.PathBuildError{
					Subject: c.Subject.String(),
					Reason:  "certificate revoked: " + reason,
				}
			}
		}
	}
	return chain, nil
}

const maxChainDepth = 32

// walk recursively finds an issuer for cert, checking chain validity at
// each step (spec.md §4.3 step 4): a certificate must be valid relative to
// the instant its child was issued, not uniformly at "now", so an expired
// root that validly issued an intermediate years ago still verifies old
// archived signatures.
func walk(cert *x509.Certificate, childValidAt time.Time, intermediates store.CertPool, anchors store.AnchorSet, seen map[string]bool, depth int) ([]*x509.Certificate, error) {
	if depth > maxChainDepth {
		return nil, &errs.PathBuildError{Subject: cert.Subject.String(), Reason: "chain too long"}
	}
	key := string(cert.Raw)
	if seen[key] {
		return nil, &errs.PathBuildError{Subject: cert.Subject.String(), Reason: "cycle detected in candidate chain"}
	}
	seen[key] = true

	if !validAt(cert, childValidAt) {
		return nil, &errs.PathBuildError{
			Subject: cert.Subject.String(),
			Reason:  fmt.Sprintf("not valid at %s (validity %s - %s)", childValidAt, cert.NotBefore, cert.NotAfter),
		}
	}

	// Self-signed candidates terminate the chain only if they are an
	// anchor; a self-signed cert that is not a trust anchor is just an
	// untrusted dead end.
	if anchor, ok := findAnchor(cert, anchors); ok {
		if err := checkNameConstraints(anchor); err != nil {
			return nil, err
		}
		return []*x509.Certificate{cert}, nil
	}
	if isSelfSigned(cert) {
		return nil, &errs.PathBuildError{Subject: cert.Subject.String(), Reason: "self-signed and not a trust anchor"}
	}

	candidates := intermediates.ByIssuer(cert.Issuer)
	if anchorCandidates := anchors.ByIssuer(cert.Issuer); len(anchorCandidates) > 0 {
		for _, a := range anchorCandidates {
			candidates = append(candidates, a.Certificate)
		}
	}
	if len(candidates) == 0 {
		return nil, &errs.PathBuildError{Subject: cert.Subject.String(), Reason: "no issuer certificate found (issuer " + cert.Issuer.String() + ")"}
	}

	var lastErr error
	for _, issuer := range candidates {
		if err := cert.CheckSignatureFrom(issuer); err != nil {
			lastErr = &errs.PathBuildError{Subject: cert.Subject.String(), Reason: "signature check failed against candidate issuer", Err: err}
			continue
		}
		rest, err := walk(issuer, cert.NotBefore, intermediates, anchors, seen, depth+1)
		if err != nil {
			lastErr = err
			continue
		}
		return append([]*x509.Certificate{cert}, rest...), nil
	}
	if lastErr == nil {
		lastErr = &errs.PathBuildError{Subject: cert.Subject.String(), Reason: "no candidate issuer validated"}
	}
	return nil, lastErr
}

func validAt(cert *x509.Certificate, when time.Time) bool {
	return !when.Before(cert.NotBefore) && !when.After(cert.NotAfter)
}

func isSelfSigned(cert *x509.Certificate) bool {
	return cert.Subject.String() == cert.Issuer.String() && cert.CheckSignatureFrom(cert) == nil
}

func findAnchor(cert *x509.Certificate, anchors store.AnchorSet) (model.TrustAnchor, bool) {
	for _, a := range anchors.All() {
		if bytes.Equal(a.Certificate.Raw, cert.Raw) {
			return a, true
		}
	}
	return model.TrustAnchor{}, false
}

// checkNameConstraints is a hook for an anchor's PermittedDNS/ExcludedDNS.
// S/MIME chains are anchored on mailbox identity rather than DNS names, so
// there is nothing to constrain here today; kept as an explicit extension
// point rather than silently dropping model.TrustAnchor's constraint
// fields on the floor.
func checkNameConstraints(model.TrustAnchor) error {
	return nil
}

func isRevoked(cert *x509.Certificate, crls store.CRLPool) (bool, string) {
	for _, crl := range crls.ByIssuer(cert.Issuer) {
		for _, entry := range crl.RevokedCertificateEntries {
			if entry.SerialNumber != nil && cert.SerialNumber != nil && entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
				return true, fmt.Sprintf("reason code %d, revoked at %s", entry.ReasonCode, entry.RevocationTime)
			}
		}
	}
	return false, ""
}
