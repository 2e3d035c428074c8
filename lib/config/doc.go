// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the gyrid-server configuration.
//
// Configuration is read from a single YAML file named by:
//   - the GYRID_CONFIG environment variable, or
//   - the --config flag passed to the command
//
// There is no automatic discovery. The file is merged over [Default],
// path fields have ${VAR} and ${VAR:-default} expanded, and
// [Config.Validate] reports every problem at once. Durations are Go
// duration strings ("10s", "1m").
//
// Example:
//
//	listen:
//	  address: ":2583"
//	  tls:
//	    cert_file: /etc/gyrid/server.pem
//	    key_file: /etc/gyrid/server.key
//	    ca_file: /etc/gyrid/scanners-ca.pem
//	keepalive:
//	  interval: 60s
//	projects:
//	  source: /etc/gyrid/projects.jsonc
//	plugins:
//	  inserver:
//	    enabled: true
//	    address: inserver.example.org:2584
package config
