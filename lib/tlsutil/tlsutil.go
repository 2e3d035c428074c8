// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

// Package tlsutil builds crypto/tls configurations from the PEM file
// names in [config.TLSConfig].
//
// Scanner links use mutual TLS: the server presents its certificate
// and requires every scanner to present one signed by the configured
// CA. Forwarding links dial out with an optional client certificate
// and verify the upstream against the system pool plus the configured
// CA.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/Roel/Gyrid-server-sub000/lib/config"
)

// ServerConfig returns a server-side configuration requiring and
// verifying client certificates, or nil when TLS is not configured.
func ServerConfig(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading server certificate: %w", err)
	}

	clientCAs := x509.NewCertPool()
	if err := appendPEMFile(clientCAs, cfg.CAFile); err != nil {
		return nil, fmt.Errorf("loading client CA: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    clientCAs,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ClientConfig returns a client-side configuration, or nil when TLS
// is not configured. A certificate is presented only when CertFile is
// set.
func ClientConfig(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	if cfg.CAFile != "" {
		if err := appendPEMFile(rootCAs, cfg.CAFile); err != nil {
			return nil, fmt.Errorf("loading server CA: %w", err)
		}
	}

	tlsConfig := &tls.Config{
		RootCAs:    rootCAs,
		ServerName: cfg.ServerName,
		MinVersion: tls.VersionTLS12,
	}
	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func appendPEMFile(pool *x509.CertPool, path string) error {
	if path == "" {
		return errors.New("no CA file configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if !pool.AppendCertsFromPEM(data) {
		return fmt.Errorf("no certificates found in %s", path)
	}
	return nil
}
