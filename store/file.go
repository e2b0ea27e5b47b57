// FileBackend is the default C2 backend (spec.md §4.2, §9): four
// well-known bundle files under <root>, concatenated DER/PEM for
// certificates and CRLs, PKCS#12 for the personal key. Grounded on the
// teacher's internal/tls.FileLoader (certificate reload-from-disk pattern)
// generalized to four independently-typed bundles instead of one
// cert/key pair, plus the teacher's "write-new-then-rename" convention
// used throughout its storage layer for crash-safe persistence.
package store

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pkcs12"
	"golang.org/x/sync/singleflight"

	"github.com/foxcpp/gosmime/digest"
	"github.com/foxcpp/gosmime/errs"
	"github.com/foxcpp/gosmime/internal/log"
	"github.com/foxcpp/gosmime/internal/metrics"
	"github.com/foxcpp/gosmime/mailbox"
	"github.com/foxcpp/gosmime/model"
	"github.com/foxcpp/gosmime/selector"
)

// FileConfig enumerates the FileBackend paths (spec.md §9 "Configuration
// for the file backend"). Zero values fall back to <root>/<name>.
type FileConfig struct {
	Root            string
	AddressbookPath string
	RootPath        string
	RevokedPath     string
	UserPath        string
	Password        string
}

func (c FileConfig) resolve() FileConfig {
	root := c.Root
	if root == "" {
		root = DefaultRoot
	}
	if c.AddressbookPath == "" {
		c.AddressbookPath = filepath.Join(root, "addressbook.crt")
	}
	if c.RootPath == "" {
		c.RootPath = filepath.Join(root, "root.crt")
	}
	if c.RevokedPath == "" {
		c.RevokedPath = filepath.Join(root, "revoked.crl")
	}
	if c.UserPath == "" {
		c.UserPath = filepath.Join(root, "user.p12")
	}
	c.Root = root
	return c
}

// FileBackend implements Backend over the four bundle files.
type FileBackend struct {
	cfg FileConfig
	log log.Logger
	lk  *advisoryLock

	mu           sync.RWMutex
	addressbook  []*x509.Certificate
	anchors      []*x509.Certificate
	crls         []*x509.RevocationList
	userCerts    []*x509.Certificate
	userKey      crypto.Signer
	loadedUserOK bool

	group singleflight.Group
}

// NewFileBackend constructs a FileBackend against cfg, filling unset paths
// from DefaultRoot.
func NewFileBackend(cfg FileConfig, log log.Logger) *FileBackend {
	cfg = cfg.resolve()
	return &FileBackend{
		cfg: cfg,
		log: log,
		lk:  newAdvisoryLock(cfg.Root),
	}
}

func (b *FileBackend) ensureLoaded() error {
	_, err, _ := b.group.Do("load", func() (interface{}, error) {
		b.mu.RLock()
		loaded := b.loadedUserOK || len(b.addressbook) > 0 || len(b.anchors) > 0
		b.mu.RUnlock()
		if loaded {
			return nil, nil
		}
		return nil, b.reload()
	})
	return err
}

func (b *FileBackend) reload() error {
	addressbook, err := loadCertBundle(b.cfg.AddressbookPath)
	if err != nil {
		return err
	}
	anchors, err := loadCertBundle(b.cfg.RootPath)
	if err != nil {
		return err
	}
	crls, err := loadCRLBundle(b.cfg.RevokedPath)
	if err != nil {
		return err
	}

	var userCerts []*x509.Certificate
	var userKey crypto.Signer
	loadedUserOK := false
	if data, err := os.ReadFile(b.cfg.UserPath); err == nil {
		key, cert, caCerts, err := pkcs12.DecodeChain(data, b.cfg.Password)
		if err != nil {
			return &errs.IOError{Op: "load user.p12", Err: err}
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return &errs.IOError{Op: "load user.p12", Err: fmt.Errorf("private key does not implement crypto.Signer")}
		}
		userKey = signer
		userCerts = append([]*x509.Certificate{cert}, caCerts...)
		loadedUserOK = true
	} else if !os.IsNotExist(err) {
		return &errs.IOError{Op: "load user.p12", Err: err}
	}

	b.mu.Lock()
	b.addressbook = addressbook
	b.anchors = anchors
	b.crls = crls
	b.userCerts = userCerts
	b.userKey = userKey
	b.loadedUserOK = loadedUserOK
	b.mu.Unlock()

	b.log.Debugf("loaded store: %d addressbook, %d anchors, %d crls, user=%v",
		len(addressbook), len(anchors), len(crls), loadedUserOK)
	return nil
}

func (b *FileBackend) GetCertificate(sel selector.Selector) (*x509.Certificate, error) {
	if err := b.ensureLoaded(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, pool := range [][]*x509.Certificate{b.userCerts, b.addressbook, b.anchors} {
		for _, c := range pool {
			if sel.Matches(c) {
				return c, nil
			}
		}
	}
	return nil, nil
}

func (b *FileBackend) GetPrivateKey(sel selector.Selector) (crypto.Signer, error) {
	if err := b.ensureLoaded(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.userCerts {
		if sel.Matches(c) {
			return b.userKey, nil
		}
	}
	return nil, nil
}

func (b *FileBackend) GetTrustedAnchors() (AnchorSet, error) {
	if err := b.ensureLoaded(); err != nil {
		return AnchorSet{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	anchors := make([]model.TrustAnchor, 0, len(b.anchors))
	for _, c := range b.anchors {
		anchors = append(anchors, model.TrustAnchor{
			Certificate:  c,
			PermittedDNS: c.PermittedDNSDomains,
			ExcludedDNS:  c.ExcludedDNSDomains,
		})
	}
	return NewAnchorSet(anchors...), nil
}

func (b *FileBackend) GetIntermediates() (CertPool, error) {
	if err := b.ensureLoaded(); err != nil {
		return CertPool{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	var intermediates []*x509.Certificate
	for _, c := range b.addressbook {
		if c.IsCA {
			intermediates = append(intermediates, c)
		}
	}
	return NewCertPool(intermediates...), nil
}

func (b *FileBackend) GetCRLs() (CRLPool, error) {
	if err := b.ensureLoaded(); err != nil {
		return CRLPool{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return NewCRLPool(b.crls...), nil
}

func (b *FileBackend) GetCMSRecipient(mbox mailbox.Mailbox) (model.Recipient, error) {
	if err := b.ensureLoaded(); err != nil {
		return model.Recipient{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, pool := range [][]*x509.Certificate{b.userCerts, b.addressbook} {
		for _, c := range pool {
			if certHasMailbox(c, mbox.AddrSpec) {
				return model.NewRecipient(c), nil
			}
		}
	}
	return model.Recipient{}, NotFound(mbox, "no certificate in addressbook.crt or user.p12 matches")
}

func (b *FileBackend) GetCMSSigner(mbox mailbox.Mailbox, pref digest.Algorithm) (model.CmsSigner, error) {
	if err := b.ensureLoaded(); err != nil {
		return model.CmsSigner{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.userCerts {
		if certHasMailbox(c, mbox.AddrSpec) {
			return model.CmsSigner{Certificate: c, PrivateKey: b.userKey, Digest: pref}, nil
		}
	}
	return model.CmsSigner{}, NotFound(mbox, "no certificate in user.p12 matches")
}

func certHasMailbox(c *x509.Certificate, addr string) bool {
	return selector.Email(addr).Matches(c)
}

func (b *FileBackend) ImportCertificate(cert *x509.Certificate) error {
	if err := b.ensureLoaded(); err != nil {
		return err
	}
	unlock, err := b.lk.Acquire(10 * time.Second)
	if err != nil {
		return err
	}
	defer unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.addressbook {
		if bytes.Equal(c.Raw, cert.Raw) {
			metrics.ImportsTotal.WithLabelValues("certificate", "duplicate").Inc()
			return nil // idempotent (spec.md §3 Invariants)
		}
	}
	if err := appendDERAtomic(b.cfg.AddressbookPath, cert.Raw); err != nil {
		metrics.ImportsTotal.WithLabelValues("certificate", "error").Inc()
		return err
	}
	b.addressbook = append(b.addressbook, cert)
	metrics.ImportsTotal.WithLabelValues("certificate", "ok").Inc()
	return nil
}

func (b *FileBackend) ImportCRL(crl *x509.RevocationList) error {
	if err := b.ensureLoaded(); err != nil {
		return err
	}
	unlock, err := b.lk.Acquire(10 * time.Second)
	if err != nil {
		return err
	}
	defer unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.crls {
		if bytes.Equal(c.Raw, crl.Raw) {
			metrics.ImportsTotal.WithLabelValues("crl", "duplicate").Inc()
			return nil
		}
	}
	if err := appendDERAtomic(b.cfg.RevokedPath, crl.Raw); err != nil {
		metrics.ImportsTotal.WithLabelValues("crl", "error").Inc()
		return err
	}
	b.crls = append(b.crls, crl)
	metrics.ImportsTotal.WithLabelValues("crl", "ok").Inc()
	return nil
}

func (b *FileBackend) ImportPKCS12(data []byte, password string) error {
	key, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return &errs.IOError{Op: "import user.p12", Err: err}
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return &errs.IOError{Op: "import user.p12", Err: fmt.Errorf("private key does not implement crypto.Signer")}
	}

	unlock, err := b.lk.Acquire(10 * time.Second)
	if err != nil {
		return err
	}
	defer unlock()

	if err := writeFileAtomic(b.cfg.UserPath, data); err != nil {
		return err
	}

	b.mu.Lock()
	b.userKey = signer
	b.userCerts = append([]*x509.Certificate{cert}, caCerts...)
	b.loadedUserOK = true
	b.mu.Unlock()
	return nil
}

// appendDERAtomic appends a single DER record to a bundle file by
// rewriting the whole bundle to a temp file and renaming over the
// original, so a crash mid-import never truncates the store (spec.md
// §4.2 "File backend").
func appendDERAtomic(path string, der []byte) error {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return &errs.IOError{Op: "read " + path, Err: err}
	}
	buf := make([]byte, 0, len(existing)+len(der))
	buf = append(buf, existing...)
	buf = append(buf, der...)
	return writeFileAtomic(path, buf)
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return &errs.IOError{Op: "mkdir", Err: err}
	}
	tmp := path + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return &errs.IOError{Op: "write " + tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &errs.IOError{Op: "rename " + tmp, Err: err}
	}
	return nil
}

// loadCertBundle reads a file of concatenated DER or PEM certificates.
func loadCertBundle(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &errs.IOError{Op: "read " + path, Err: err}
	}
	ders, err := splitBundle(data)
	if err != nil {
		return nil, &errs.IOError{Op: "parse " + path, Err: err}
	}
	certs := make([]*x509.Certificate, 0, len(ders))
	for _, der := range ders {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, &errs.IOError{Op: "parse " + path, Err: err}
		}
		certs = append(certs, c)
	}
	return certs, nil
}

// loadCRLBundle reads a file of concatenated DER CRLs.
func loadCRLBundle(path string) ([]*x509.RevocationList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &errs.IOError{Op: "read " + path, Err: err}
	}
	ders, err := splitBundle(data)
	if err != nil {
		return nil, &errs.IOError{Op: "parse " + path, Err: err}
	}
	crls := make([]*x509.RevocationList, 0, len(ders))
	for _, der := range ders {
		c, err := x509.ParseRevocationList(der)
		if err != nil {
			return nil, &errs.IOError{Op: "parse " + path, Err: err}
		}
		crls = append(crls, c)
	}
	return crls, nil
}

// splitBundle breaks a file that is either a sequence of PEM blocks or a
// sequence of concatenated DER records into individual DER byte slices.
func splitBundle(data []byte) ([][]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if bytes.HasPrefix(trimmed, []byte("-----BEGIN")) {
		var out [][]byte
		rest := data
		for {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			out = append(out, block.Bytes)
		}
		return out, nil
	}
	return SplitDERSequences(data)
}
