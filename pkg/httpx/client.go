package httpx

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"
)

// DefaultClientTimeout bounds every outbound IdP/continuation request.
const DefaultClientTimeout = 30 * time.Second

// pinnedCipherSuites is the fixed TLS 1.2 cipher list offered to the IdP.
// TLS 1.3 suites are not configurable in crypto/tls and are always enabled.
var pinnedCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// PinnedPool builds a certificate pool from the given PEM bundle files.
// The pool intentionally excludes the system trust store: the IdP must
// present a certificate from the operator-provisioned chain.
func PinnedPool(pemFiles ...string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	ok := false
	for _, path := range pemFiles {
		if path == "" {
			continue
		}
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read ca bundle %s: %w", path, err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates parsed from %s", path)
		}
		ok = true
	}
	if !ok {
		return nil, fmt.Errorf("no ca bundle configured")
	}
	return pool, nil
}

// NewPinnedClient returns an HTTP client that only trusts the given pool
// and never follows redirects; the flow engine inspects Location headers
// itself.
func NewPinnedClient(pool *x509.CertPool) *http.Client {
	return &http.Client{
		Timeout: DefaultClientTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs:      pool,
				MinVersion:   tls.VersionTLS12,
				CipherSuites: pinnedCipherSuites,
			},
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// NewMTLSClient returns an HTTP client holding a client certificate for
// the connector's mutual-TLS endpoint, trusting only the connector CA.
func NewMTLSClient(pool *x509.CertPool, certFile, keyFile string) (*http.Client, error) {
	tlsCfg := &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}
	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load client keypair: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return &http.Client{
		Timeout:   DefaultClientTimeout,
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
	}, nil
}

// NoRedirectClient wraps an existing client with redirect-following disabled.
func NoRedirectClient(base *http.Client) *http.Client {
	return &http.Client{
		Timeout:   base.Timeout,
		Transport: base.Transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
