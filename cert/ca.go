// Package cert implements the certificate authority and leaf-certificate
// minter used to terminate MITM'd TLS connections.
package cert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/proxide/proxide/internal/perr"
)

const (
	caValidity   = 10 * 365 * 24 * time.Hour
	leafValidity = 365 * 24 * time.Hour
	leafBackdate = 5 * time.Minute
	safetyMargin = time.Hour
)

// CA mints leaf certificates for arbitrary hosts, signed by a long-lived
// root keypair. Implementations must be safe for concurrent use.
type CA interface {
	// GetCert returns a cached or freshly minted leaf certificate for host.
	GetCert(host string) (*tls.Certificate, error)

	// GetRootCA returns the CA's own certificate.
	GetRootCA() *x509.Certificate
}

// SelfSignCA is a CA backed by a PEM-encoded RSA keypair persisted on disk.
type SelfSignCA struct {
	certPath string
	keyPath  string
	cert     *x509.Certificate
	key      *rsa.PrivateKey

	serial atomic.Uint64

	mu    sync.RWMutex
	cache map[string]*tls.Certificate
}

// NewSelfSignCA loads the CA keypair from dir, generating and persisting a
// new one if none exists. An empty dir uses the default store path.
func NewSelfSignCA(dir string) (CA, error) {
	return LoadOrCreateCA(dir, false)
}

// LoadOrCreateCA loads a CA from the default-named cert/key files under
// dir, or generates them if missing. When forceCreate is true, any
// existing CA material is overwritten. An empty dir uses the default
// per-user store path.
func LoadOrCreateCA(dir string, forceCreate bool) (CA, error) {
	storeDir, err := getStorePath(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve CA store path: %w", err)
	}
	return LoadOrCreateCAFiles(
		filepath.Join(storeDir, "proxide-ca-cert.pem"),
		filepath.Join(storeDir, "proxide-ca-key.pem"),
		forceCreate,
	)
}

// LoadOrCreateCAFiles loads a CA from the given certificate and private-key
// PEM files, independently path-addressable per spec's `--ca-cert`/
// `--ca-key` CLI flags, generating them if missing. When forceCreate is
// true, existing material at either path is overwritten. Empty paths
// default to the standard filenames under the per-user store path.
func LoadOrCreateCAFiles(certPath, keyPath string, forceCreate bool) (CA, error) {
	if certPath == "" || keyPath == "" {
		storeDir, err := getStorePath("")
		if err != nil {
			return nil, perr.New(perr.ConfigError, "resolve CA store path", err)
		}
		if certPath == "" {
			certPath = filepath.Join(storeDir, "proxide-ca-cert.pem")
		}
		if keyPath == "" {
			keyPath = filepath.Join(storeDir, "proxide-ca-key.pem")
		}
	}

	ca := &SelfSignCA{
		certPath: certPath,
		keyPath:  keyPath,
		cache:    make(map[string]*tls.Certificate),
	}

	if !forceCreate {
		if err := ca.load(); err == nil {
			return ca, nil
		} else if !os.IsNotExist(err) {
			return nil, perr.New(perr.ConfigError, fmt.Sprintf("load CA from %s/%s", certPath, keyPath), err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(certPath), 0o700); err != nil {
		return nil, perr.New(perr.ConfigError, "create CA cert dir", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, perr.New(perr.ConfigError, "create CA key dir", err)
	}
	if err := ca.generate(); err != nil {
		return nil, perr.New(perr.ConfigError, "generate CA", err)
	}

	certOut, err := os.OpenFile(ca.caFile(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, perr.New(perr.ConfigError, "create CA cert file", err)
	}
	defer certOut.Close()
	if err := ca.saveTo(certOut); err != nil {
		return nil, perr.New(perr.ConfigError, "save CA cert", err)
	}

	keyOut, err := os.OpenFile(ca.keyFile(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, perr.New(perr.ConfigError, "create CA key file", err)
	}
	defer keyOut.Close()
	if err := pemEncodeKey(keyOut, x509.MarshalPKCS1PrivateKey(ca.key)); err != nil {
		return nil, perr.New(perr.ConfigError, "save CA key", err)
	}

	return ca, nil
}

// getStorePath resolves the directory the CA's PEM files live in, defaulting
// to a per-user config directory when dir is empty.
func getStorePath(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "proxide"), nil
}

func (ca *SelfSignCA) caFile() string {
	return ca.certPath
}

func (ca *SelfSignCA) keyFile() string {
	return ca.keyPath
}

func (ca *SelfSignCA) load() error {
	certPEM, err := os.ReadFile(ca.caFile())
	if err != nil {
		return err
	}
	keyPEM, err := os.ReadFile(ca.keyFile())
	if err != nil {
		return err
	}

	certBlock, _ := pemDecode(certPEM, "CERTIFICATE")
	if certBlock == nil {
		return errors.New("no CERTIFICATE PEM block found")
	}
	caCert, err := x509.ParseCertificate(certBlock)
	if err != nil {
		return fmt.Errorf("parse CA cert: %w", err)
	}

	keyBlock, _ := pemDecode(keyPEM, "RSA PRIVATE KEY")
	if keyBlock == nil {
		return errors.New("no RSA PRIVATE KEY PEM block found")
	}
	caKey, err := x509.ParsePKCS1PrivateKey(keyBlock)
	if err != nil {
		return fmt.Errorf("parse CA key: %w", err)
	}

	ca.cert = caCert
	ca.key = caKey
	ca.serial.Store(uint64(caCert.SerialNumber.Int64()) + 1)
	return nil
}

func (ca *SelfSignCA) generate() error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "Proxide Local CA",
			Organization: []string{"Proxide"},
		},
		NotBefore:             time.Now().Add(-leafBackdate),
		NotAfter:              time.Now().Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create CA cert: %w", err)
	}
	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("parse generated CA cert: %w", err)
	}

	ca.cert = parsed
	ca.key = key
	ca.serial.Store(1)
	return nil
}

// saveTo writes the CA's certificate as a single PEM block to w. The
// private key is not written here; LoadOrCreateCAFiles writes it to
// ca.keyFile() separately.
func (ca *SelfSignCA) saveTo(w io.Writer) error {
	return pemEncodeCert(w, ca.cert.Raw)
}

// GetRootCA returns the CA's own certificate.
func (ca *SelfSignCA) GetRootCA() *x509.Certificate {
	return ca.cert
}

// GetCert returns a cached or freshly minted leaf certificate for host.
func (ca *SelfSignCA) GetCert(host string) (*tls.Certificate, error) {
	ca.mu.RLock()
	if c, ok := ca.cache[host]; ok && time.Until(c.Leaf.NotAfter) > safetyMargin {
		ca.mu.RUnlock()
		return c, nil
	}
	ca.mu.RUnlock()

	leaf, err := ca.mintLeaf(host)
	if err != nil {
		return nil, perr.New(perr.TlsError, "mint leaf for "+host, err)
	}

	ca.mu.Lock()
	ca.cache[host] = leaf
	ca.mu.Unlock()
	return leaf, nil
}

// mintLeaf synthesizes a new leaf certificate for host, signed by the CA.
func (ca *SelfSignCA) mintLeaf(host string) (*tls.Certificate, error) {
	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate leaf key: %w", err)
	}

	serial := ca.serial.Add(1)

	template := &x509.Certificate{
		SerialNumber: new(big.Int).SetUint64(serial),
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    time.Now().Add(-leafBackdate),
		NotAfter:     time.Now().Add(leafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &leafKey.PublicKey, ca.key)
	if err != nil {
		return nil, fmt.Errorf("sign leaf cert for %s: %w", host, err)
	}

	leaf := &tls.Certificate{
		Certificate: [][]byte{der, ca.cert.Raw},
		PrivateKey:  leafKey,
	}
	leaf.Leaf, err = x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse minted leaf for %s: %w", host, err)
	}
	return leaf, nil
}
