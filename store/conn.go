package store

import (
	"context"
	"sync/atomic"
)

// ConnState reports whether any scoped connection is open.
type ConnState uint8

const (
	Disconnected ConnState = iota
	Connected
)

func (c ConnState) String() string {
	if c == Connected {
		return "connected"
	}
	return "disconnected"
}

// Stats counts scoped connections opened and released by a Store.
type Stats struct {
	Connects    int64
	Disconnects int64
}

type connCounters struct {
	connects    atomic.Int64
	disconnects atomic.Int64
	open        atomic.Int64
}

// withConn runs fn inside one scoped connection. The session is released on
// every path, and any error from connect or fn is mapped with subject.
func (s *Store) withConn(ctx context.Context, op, subject string, fn func(ctx context.Context, sess Session) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	sess, err := s.backend.Connect(ctx, s.config)
	if err != nil {
		return s.mapError(err, op, subject)
	}
	s.conns.connects.Add(1)
	s.conns.open.Add(1)
	s.logger.Debug("connected", "op", op, "database", s.config.Database)

	defer s.disconnect(op, sess)

	return s.mapError(fn(ctx, sess), op, subject)
}

// disconnect releases sess. Close failures are logged and never returned.
func (s *Store) disconnect(op string, sess Session) {
	if err := sess.Close(); err != nil {
		s.logger.Warn("disconnect failed", "op", op, "error", err)
	}
	s.conns.open.Add(-1)
	s.conns.disconnects.Add(1)
	s.logger.Debug("disconnected", "op", op, "database", s.config.Database)
}

// ConnState reports whether a scoped connection is currently open.
func (s *Store) ConnState() ConnState {
	if s.conns.open.Load() > 0 {
		return Connected
	}
	return Disconnected
}

// Stats returns the number of scoped connections opened and released so far.
func (s *Store) Stats() Stats {
	return Stats{
		Connects:    s.conns.connects.Load(),
		Disconnects: s.conns.disconnects.Load(),
	}
}
