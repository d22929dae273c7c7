// Copyright 2026 The sgcore Authors. All rights reserved.

// Package pki builds mutual-TLS 1.3 configurations for rpc.Server and
// rpc.Client from a CA and leaf certificate/key on disk. Unlike a
// short-lived backup job's one-shot dial, a Host or Manager process keeps
// its *tls.Config alive for as long as the process runs — so both
// constructors here hand the returned config a certReloader instead of a
// fixed Certificates slice, and every handshake re-stats the leaf files
// and reloads them if they changed. That lets an operator rotate a
// worker's certificate (cron, a secrets manager push) without restarting
// the process, at the cost of one os.Stat per accepted/dialed connection.
package pki

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"
)

// NewClientTLSConfig builds a TLS 1.3 config for an rpc.Client dialing a
// Host or Manager: it presents clientCertPath/clientKeyPath as its own
// identity and verifies the remote server against caCertPath.
func NewClientTLSConfig(caCertPath, clientCertPath, clientKeyPath string) (*tls.Config, error) {
	reloader, err := newCertReloader(clientCertPath, clientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("pki: loading client certificate: %w", err)
	}
	caPool, err := loadCACertPool(caCertPath)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:           tls.VersionTLS13,
		GetClientCertificate: reloader.getClientCertificate,
		RootCAs:              caPool,
	}, nil
}

// NewServerTLSConfig builds a TLS 1.3 config for an rpc.Server terminating
// connections from a Manager-spawned worker or a Manager's inbound
// control connections: it requires and verifies a client certificate
// signed by caCertPath, and presents serverCertPath/serverKeyPath as its
// own identity.
func NewServerTLSConfig(caCertPath, serverCertPath, serverKeyPath string) (*tls.Config, error) {
	reloader, err := newCertReloader(serverCertPath, serverKeyPath)
	if err != nil {
		return nil, fmt.Errorf("pki: loading server certificate: %w", err)
	}
	caPool, err := loadCACertPool(caCertPath)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:     tls.VersionTLS13,
		GetCertificate: reloader.getCertificate,
		ClientCAs:      caPool,
		ClientAuth:     tls.RequireAndVerifyClientCert,
	}, nil
}

func loadCACertPool(caCertPath string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("pki: reading CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("pki: failed to parse CA certificate from %s", caCertPath)
	}

	return pool, nil
}

// certReloader holds one leaf certificate/key pair and re-reads it from
// disk whenever either file's mtime has advanced past what was last
// loaded, so a long-running Host or Manager picks up a rotated
// certificate without a restart.
type certReloader struct {
	certPath, keyPath string

	mu      sync.Mutex
	cert    tls.Certificate
	certAt  time.Time
	keyAt   time.Time
}

func newCertReloader(certPath, keyPath string) (*certReloader, error) {
	r := &certReloader{certPath: certPath, keyPath: keyPath}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *certReloader) reload() error {
	cert, err := tls.LoadX509KeyPair(r.certPath, r.keyPath)
	if err != nil {
		return err
	}
	certAt, keyAt := r.modTimes()

	r.mu.Lock()
	r.cert = cert
	r.certAt, r.keyAt = certAt, keyAt
	r.mu.Unlock()
	return nil
}

func (r *certReloader) modTimes() (cert, key time.Time) {
	if fi, err := os.Stat(r.certPath); err == nil {
		cert = fi.ModTime()
	}
	if fi, err := os.Stat(r.keyPath); err == nil {
		key = fi.ModTime()
	}
	return cert, key
}

// current returns the cached certificate, reloading first if either file
// on disk is newer than what's cached. A reload failure (e.g. the file is
// mid-write) keeps serving the last good certificate rather than failing
// the handshake outright.
func (r *certReloader) current() tls.Certificate {
	certAt, keyAt := r.modTimes()

	r.mu.Lock()
	stale := certAt.After(r.certAt) || keyAt.After(r.keyAt)
	cached := r.cert
	r.mu.Unlock()

	if !stale {
		return cached
	}
	if err := r.reload(); err != nil {
		return cached
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cert
}

func (r *certReloader) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert := r.current()
	return &cert, nil
}

func (r *certReloader) getClientCertificate(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	cert := r.current()
	return &cert, nil
}
