// Package sqlcache wraps a store.Backend with a database/sql-backed cache
// for intermediates and CRLs, the "searchable cert store" spec.md §4.2
// names for GetIntermediates/GetCRLs given a real index instead of a
// linear scan over an in-memory slice — useful once an address book grows
// past what fits comfortably in FileBackend's concatenated bundle file.
//
// Grounded on the teacher's storage/ SQL helpers (prepared statements,
// driver-agnostic schema, one package importing all three drivers for
// side effect registration) generalized from mail storage to a two-table
// certificate cache. The schema and statements are written in SQLite's
// dialect (BLOB columns, ? placeholders, INSERT OR IGNORE). The lib/pq and
// go-sql-driver/mysql drivers are registered as well, but these statements
// are not valid as written for Postgres or MySQL.
package sqlcache

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/foxcpp/gosmime/digest"
	"github.com/foxcpp/gosmime/errs"
	"github.com/foxcpp/gosmime/internal/log"
	"github.com/foxcpp/gosmime/mailbox"
	"github.com/foxcpp/gosmime/model"
	"github.com/foxcpp/gosmime/selector"
	"github.com/foxcpp/gosmime/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS intermediates (
	subject TEXT NOT NULL,
	issuer  TEXT NOT NULL,
	der     BLOB NOT NULL,
	UNIQUE(der)
);
CREATE TABLE IF NOT EXISTS crls (
	issuer TEXT NOT NULL,
	der    BLOB NOT NULL,
	UNIQUE(der)
);
`

// Backend decorates an inner store.Backend: certificate/key/recipient/
// signer lookups and trusted anchors pass straight through to inner,
// while GetIntermediates, GetCRLs, ImportCertificate and ImportCRL are
// served from the SQL-indexed cache instead.
type Backend struct {
	inner store.Backend
	db    *sql.DB
	log   log.Logger
}

// Open connects to driverName/dataSourceName (e.g. "sqlite3",
// "/var/lib/gosmime/cache.db") and ensures the cache schema exists.
func Open(driverName, dataSourceName string, inner store.Backend, logger log.Logger) (*Backend, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, &errs.IOError{Op: "sqlcache open", Err: err}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &errs.IOError{Op: "sqlcache migrate", Err: err}
	}
	return &Backend{inner: inner, db: db, log: logger}, nil
}

func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) GetCertificate(sel selector.Selector) (*x509.Certificate, error) {
	return b.inner.GetCertificate(sel)
}

func (b *Backend) GetPrivateKey(sel selector.Selector) (crypto.Signer, error) {
	return b.inner.GetPrivateKey(sel)
}

func (b *Backend) GetTrustedAnchors() (store.AnchorSet, error) {
	return b.inner.GetTrustedAnchors()
}

func (b *Backend) GetIntermediates() (store.CertPool, error) {
	rows, err := b.db.Query(`SELECT der FROM intermediates`)
	if err != nil {
		return store.CertPool{}, &errs.IOError{Op: "sqlcache query intermediates", Err: err}
	}
	defer rows.Close()

	var certs []*x509.Certificate
	for rows.Next() {
		var der []byte
		if err := rows.Scan(&der); err != nil {
			return store.CertPool{}, &errs.IOError{Op: "sqlcache scan intermediates", Err: err}
		}
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return store.CertPool{}, &errs.IOError{Op: "sqlcache parse intermediate", Err: err}
		}
		certs = append(certs, c)
	}
	return store.NewCertPool(certs...), rows.Err()
}

// ByIssuer queries the SQL index directly rather than materializing every
// row into a CertPool first, for deployments where that table is large.
func (b *Backend) ByIssuer(issuer pkix.Name) ([]*x509.Certificate, error) {
	rows, err := b.db.Query(`SELECT der FROM intermediates WHERE issuer = ?`, issuer.String())
	if err != nil {
		return nil, &errs.IOError{Op: "sqlcache query by issuer", Err: err}
	}
	defer rows.Close()

	var certs []*x509.Certificate
	for rows.Next() {
		var der []byte
		if err := rows.Scan(&der); err != nil {
			return nil, &errs.IOError{Op: "sqlcache scan by issuer", Err: err}
		}
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, &errs.IOError{Op: "sqlcache parse by issuer", Err: err}
		}
		certs = append(certs, c)
	}
	return certs, rows.Err()
}

func (b *Backend) GetCRLs() (store.CRLPool, error) {
	rows, err := b.db.Query(`SELECT der FROM crls`)
	if err != nil {
		return store.CRLPool{}, &errs.IOError{Op: "sqlcache query crls", Err: err}
	}
	defer rows.Close()

	var crls []*x509.RevocationList
	for rows.Next() {
		var der []byte
		if err := rows.Scan(&der); err != nil {
			return store.CRLPool{}, &errs.IOError{Op: "sqlcache scan crls", Err: err}
		}
		c, err := x509.ParseRevocationList(der)
		if err != nil {
			return store.CRLPool{}, &errs.IOError{Op: "sqlcache parse crl", Err: err}
		}
		crls = append(crls, c)
	}
	return store.NewCRLPool(crls...), rows.Err()
}

func (b *Backend) GetCMSRecipient(mbox mailbox.Mailbox) (model.Recipient, error) {
	return b.inner.GetCMSRecipient(mbox)
}

func (b *Backend) GetCMSSigner(mbox mailbox.Mailbox, pref digest.Algorithm) (model.CmsSigner, error) {
	return b.inner.GetCMSSigner(mbox, pref)
}

// ImportCertificate writes CA certificates into the cache table and passes
// every other certificate to inner. INSERT OR IGNORE is SQLite syntax;
// MySQL (INSERT IGNORE) and Postgres (ON CONFLICT DO NOTHING) reject it.
func (b *Backend) ImportCertificate(cert *x509.Certificate) error {
	if !cert.IsCA {
		return b.inner.ImportCertificate(cert)
	}
	_, err := b.db.Exec(
		`INSERT OR IGNORE INTO intermediates (subject, issuer, der) VALUES (?, ?, ?)`,
		cert.Subject.String(), cert.Issuer.String(), cert.Raw,
	)
	if err != nil {
		return &errs.IOError{Op: "sqlcache insert intermediate", Err: err}
	}
	return nil
}

func (b *Backend) ImportCRL(crl *x509.RevocationList) error {
	_, err := b.db.Exec(
		`INSERT OR IGNORE INTO crls (issuer, der) VALUES (?, ?)`,
		crl.Issuer.String(), crl.Raw,
	)
	if err != nil {
		return &errs.IOError{Op: "sqlcache insert crl", Err: err}
	}
	return nil
}

func (b *Backend) ImportPKCS12(data []byte, password string) error {
	return b.inner.ImportPKCS12(data, password)
}
