package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/acme/autocert"
)

// TLS modes accepted by SetupTLS.
const (
	TLSModeOff        = "off"
	TLSModeSelfSigned = "self-signed"
	TLSModeCustom     = "custom"
	TLSModeACME       = "acme"
)

// TLSOptions selects how the listener is secured.
type TLSOptions struct {
	Mode     string
	Dir      string // self-signed material and ACME cache
	CertFile string // custom mode
	KeyFile  string // custom mode
	Domains  []string
}

// TLSResult is the outcome of SetupTLS. Config is nil in off mode;
// ACMEManager is set only in acme mode and must serve HTTP-01 challenges.
type TLSResult struct {
	Config      *tls.Config
	ACMEManager *autocert.Manager
	CertFile    string
}

// SetupTLS builds the listener TLS configuration for opts.Mode.
func SetupTLS(opts TLSOptions) (*TLSResult, error) {
	switch opts.Mode {
	case "", TLSModeOff:
		return &TLSResult{}, nil
	case TLSModeCustom:
		cfg, err := loadKeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, err
		}
		return &TLSResult{Config: cfg, CertFile: opts.CertFile}, nil
	case TLSModeSelfSigned:
		certFile := filepath.Join(opts.Dir, "gateway.crt")
		keyFile := filepath.Join(opts.Dir, "gateway.key")
		if !fileExists(certFile) || !fileExists(keyFile) {
			if err := os.MkdirAll(opts.Dir, 0700); err != nil {
				return nil, fmt.Errorf("create tls dir: %w", err)
			}
			if err := generateSelfSigned(certFile, keyFile); err != nil {
				return nil, fmt.Errorf("generate self-signed cert: %w", err)
			}
		}
		cfg, err := loadKeyPair(certFile, keyFile)
		if err != nil {
			return nil, err
		}
		return &TLSResult{Config: cfg, CertFile: certFile}, nil
	case TLSModeACME:
		if len(opts.Domains) == 0 {
			return nil, fmt.Errorf("acme mode requires at least one domain")
		}
		cacheDir := filepath.Join(opts.Dir, "acme-certs")
		if err := os.MkdirAll(cacheDir, 0700); err != nil {
			return nil, fmt.Errorf("create acme cache: %w", err)
		}
		manager := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(opts.Domains...),
			Cache:      autocert.DirCache(cacheDir),
		}
		cfg := manager.TLSConfig()
		cfg.MinVersion = tls.VersionTLS12
		return &TLSResult{Config: cfg, ACMEManager: manager}, nil
	default:
		return nil, fmt.Errorf("unknown tls mode %q", opts.Mode)
	}
}

// loadKeyPair keeps TLS 1.2 as the floor for device firmware.
func loadKeyPair(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS keypair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func generateSelfSigned(certFile, keyFile string) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}

	dnsNames := []string{"localhost"}
	if hostname, err := os.Hostname(); err == nil {
		dnsNames = append(dnsNames, hostname)
	}
	ips := []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	if addrs, err := net.InterfaceAddrs(); err == nil {
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
				ips = append(ips, ipNet.IP)
			}
		}
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return err
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Raidware"},
			CommonName:   "Raidware Gateway",
		},
		DNSNames:              dnsNames,
		IPAddresses:           ips,
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(2 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return err
	}
	if err := writePEM(certFile, "CERTIFICATE", der); err != nil {
		return err
	}
	return writePEM(keyFile, "EC PRIVATE KEY", keyDER)
}

func writePEM(path, blockType string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck
	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: data})
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
