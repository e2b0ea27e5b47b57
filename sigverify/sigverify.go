// Package sigverify implements C5, the verification orchestrator: pure
// glue around C3 (pkix.Build) and the SignerInfo metadata C4 extracts from
// a parsed SignedData. Every signer is processed concurrently and gets a
// record; path building runs only for signers whose signature verified and
// whose certificate was found, the others carry the crypto or lookup
// failure as their ChainException. Grounded on the teacher's use of
// golang.org/x/sync/errgroup to
// fan out independent per-item work and join it back into one ordered
// result slice.
package sigverify

import (
	"crypto/x509"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foxcpp/gosmime/errs"
	"github.com/foxcpp/gosmime/internal/metrics"
	"github.com/foxcpp/gosmime/model"
	"github.com/foxcpp/gosmime/pkix"
	"github.com/foxcpp/gosmime/store"
)

// SignerCandidate is everything Process needs about one SignerInfo,
// already extracted from the CMS wire format by C4.
type SignerCandidate struct {
	RawSignedData  []byte
	SigningTime    *time.Time
	SignerCert     *x509.Certificate // nil if not found in blob or store
	CryptoVerified bool
	CryptoErr      error
}

// Context carries the certificate pools a Verify call needs, assembled
// once per call (spec.md §4.3 "Inputs").
type Context struct {
	Anchors       store.AnchorSet
	Intermediates store.CertPool
	CRLs          store.CRLPool
	EmbeddedCerts []*x509.Certificate
	EmbeddedCRLs  []*x509.RevocationList
}

// Process builds the DigitalSignatureCollection for a set of signer
// candidates, never failing the whole call on a per-signer error (spec.md
// §4.5: "returned whole — per-signature errors never abort the overall
// verify").
func Process(ctx Context, candidates []SignerCandidate) model.DigitalSignatureCollection {
	out := make(model.DigitalSignatureCollection, len(candidates))
	var g errgroup.Group
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			out[i] = processOne(ctx, c)
			return nil
		})
	}
	_ = g.Wait() // processOne never returns an error; errgroup here is pure fan-out/join
	return out
}

func processOne(ctx Context, c SignerCandidate) model.DigitalSignature {
	sig := model.DigitalSignature{SignerInfoRaw: c.RawSignedData, CreationDate: c.SigningTime, SignerCertificate: c.SignerCert}

	switch {
	case !c.CryptoVerified:
		sig.ChainException = &errs.CmsError{Op: "verify: signature", Err: c.CryptoErr}
		metrics.VerifyOutcomesTotal.WithLabelValues("chain_exception").Inc()
	case c.SignerCert == nil:
		sig.ChainException = &errs.PathBuildError{Reason: "signer certificate not found in blob or local store"}
		metrics.VerifyOutcomesTotal.WithLabelValues("no_signer_cert").Inc()
	default:
		chain, err := pkix.Build(pkix.Input{
			Anchors:       ctx.Anchors,
			Intermediates: ctx.Intermediates,
			CRLs:          ctx.CRLs,
			EmbeddedCerts: ctx.EmbeddedCerts,
			EmbeddedCRLs:  ctx.EmbeddedCRLs,
			Leaf:          c.SignerCert,
			SigningTime:   c.SigningTime,
		})
		if err != nil {
			sig.ChainException = err
			metrics.VerifyOutcomesTotal.WithLabelValues("chain_exception").Inc()
		} else {
			sig.Chain = chain
			metrics.VerifyOutcomesTotal.WithLabelValues("ok").Inc()
		}
	}
	return sig
}
