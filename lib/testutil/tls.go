// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// PKI names the PEM files written by [NewPKI].
type PKI struct {
	CAFile string

	ServerCertFile string
	ServerKeyFile  string

	ClientCertFile string
	ClientKeyFile  string

	// RogueCertFile and RogueKeyFile form a client identity signed by
	// a different, untrusted CA.
	RogueCertFile string
	RogueKeyFile  string
}

// NewPKI writes a throwaway certificate authority, a server
// certificate valid for 127.0.0.1 and localhost, a client certificate
// signed by the same CA, and a client certificate signed by an
// unrelated CA.
func NewPKI(t *testing.T) PKI {
	t.Helper()
	dir := t.TempDir()

	caKey, caCert := newCA(t, "gyrid test ca")
	rogueCAKey, rogueCACert := newCA(t, "rogue ca")

	pki := PKI{
		CAFile:         filepath.Join(dir, "ca.pem"),
		ServerCertFile: filepath.Join(dir, "server.pem"),
		ServerKeyFile:  filepath.Join(dir, "server.key"),
		ClientCertFile: filepath.Join(dir, "client.pem"),
		ClientKeyFile:  filepath.Join(dir, "client.key"),
		RogueCertFile:  filepath.Join(dir, "rogue.pem"),
		RogueKeyFile:   filepath.Join(dir, "rogue.key"),
	}
	writePEM(t, pki.CAFile, "CERTIFICATE", caCert.Raw)

	issueLeaf(t, caKey, caCert, "localhost", x509.ExtKeyUsageServerAuth, pki.ServerCertFile, pki.ServerKeyFile)
	issueLeaf(t, caKey, caCert, "scanner-01", x509.ExtKeyUsageClientAuth, pki.ClientCertFile, pki.ClientKeyFile)
	issueLeaf(t, rogueCAKey, rogueCACert, "scanner-99", x509.ExtKeyUsageClientAuth, pki.RogueCertFile, pki.RogueKeyFile)
	return pki
}

// serials keeps certificates issued within one test binary distinct.
var serials atomic.Uint64

func nextSerial() *big.Int {
	return new(big.Int).SetUint64(serials.Add(1))
}

func newCA(t *testing.T, name string) (*ecdsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating CA key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          nextSerial(),
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             time.Now().Add(-time.Hour), //nolint:realclock certificate validity
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating CA certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsing CA certificate: %v", err)
	}
	return key, cert
}

func issueLeaf(t *testing.T, caKey *ecdsa.PrivateKey, caCert *x509.Certificate, commonName string, usage x509.ExtKeyUsage, certPath, keyPath string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: nextSerial(),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour), //nolint:realclock certificate validity
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
		DNSNames:     []string{commonName},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
	if err != nil {
		t.Fatalf("creating certificate for %s: %v", commonName, err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshaling key: %v", err)
	}
	writePEM(t, certPath, "CERTIFICATE", der)
	writePEM(t, keyPath, "EC PRIVATE KEY", keyDER)
}

func writePEM(t *testing.T, path, blockType string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}
