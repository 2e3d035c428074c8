// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"net"
	"slices"
	"strings"
	"sync"

	"github.com/Roel/Gyrid-server-sub000/lib/metrics"
	"github.com/Roel/Gyrid-server-sub000/transport"
)

var _ transport.Handler = (*Server)(nil)

// Server runs a Session for every connection handed to it by a
// transport.Listener.
type Server struct {
	config Config

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// NewServer creates a Server. config.Router is required.
func NewServer(config Config) *Server {
	if config.Router == nil {
		panic("session.NewServer: Router is required")
	}
	return &Server{
		config:   config.withDefaults(),
		sessions: make(map[*Session]struct{}),
	}
}

// ServeConn implements transport.Handler.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	session := New(conn, s.config)

	s.mu.Lock()
	s.sessions[session] = struct{}{}
	s.mu.Unlock()
	metrics.ConnectionsActive.Inc()

	defer func() {
		metrics.ConnectionsActive.Dec()
		s.mu.Lock()
		delete(s.sessions, session)
		s.mu.Unlock()
	}()

	if err := session.Run(ctx); err != nil {
		session.logger.Warn("connection ended with error", "hostname", session.Hostname(), "error", err)
	}
}

// Sessions returns the open sessions, ordered by peer address.
func (s *Server) Sessions() []*Session {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()
	slices.SortFunc(sessions, func(a, b *Session) int {
		return strings.Compare(a.address, b.address)
	})
	return sessions
}
