// Package server accepts client connections and runs the protocol loop:
// one handler goroutine per connection, a concurrency ceiling enforced at
// accept time, and per-operation socket deadlines.
package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vaultguard/internal/cryptoutil"
	"vaultguard/internal/protocol"
	"vaultguard/internal/session"
	"vaultguard/internal/store"
)

// Options is the startup configuration read once by the constructor.
type Options struct {
	MaxClients    int
	SocketTimeout time.Duration
	StorageDir    string
	MaxFileSize   uint64
}

// Server is the protocol engine's explicit context: configuration, the
// session registry, persistence and crypto, wired at construction.
type Server struct {
	opts   Options
	reg    *session.Registry
	gw     store.Gateway
	crypto cryptoutil.Provider
	log    zerolog.Logger

	ln       net.Listener
	sem      chan struct{}
	wg       sync.WaitGroup
	shutdown atomic.Bool
	started  time.Time
}

func New(opts Options, reg *session.Registry, gw store.Gateway, provider cryptoutil.Provider, log zerolog.Logger) *Server {
	if opts.MaxClients <= 0 {
		opts.MaxClients = 50
	}
	if opts.SocketTimeout <= 0 {
		opts.SocketTimeout = time.Minute
	}
	if opts.MaxFileSize == 0 {
		opts.MaxFileSize = protocol.MaxFileSize
	}
	return &Server{
		opts:   opts,
		reg:    reg,
		gw:     gw,
		crypto: provider,
		log:    log,
		sem:    make(chan struct{}, opts.MaxClients),
	}
}

// LoadPersisted populates the registry from the gateway. A load failure is
// fatal: serving with unknown client identity state is worse than not
// serving.
func (s *Server) LoadPersisted() error {
	recs, err := s.gw.LoadClients()
	if err != nil {
		return fmt.Errorf("load clients: %w", err)
	}
	for _, rec := range recs {
		c, err := s.clientFromRecord(&rec)
		if err != nil {
			return err
		}
		if err := s.reg.Insert(c); err != nil {
			return fmt.Errorf("client %q: %w", rec.Name, err)
		}
	}
	s.log.Info().Int("clients", len(recs)).Msg("persisted clients loaded")
	return nil
}

// clientFromRecord rebuilds an in-memory session from a persisted record.
// An unreadable stored public key is dropped, not fatal; the client redoes
// the key exchange.
func (s *Server) clientFromRecord(rec *store.ClientRecord) (*session.Client, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("client %q: bad id: %w", rec.Name, err)
	}
	c := session.NewClient(id, rec.Name)
	if len(rec.PublicKey) == protocol.PublicKeyLen {
		if pub, err := s.crypto.ImportPublicKey(rec.PublicKey); err == nil {
			c.SetPublicKey(pub, rec.PublicKey)
		} else {
			s.log.Warn().Str("client", rec.Name).Err(err).Msg("stored public key unusable")
		}
	}
	return c, nil
}

// reviveClient restores an idle-evicted identity from persistence so a
// later reconnect is not locked out. Returns nil when no matching record
// exists.
func (s *Server) reviveClient(id uuid.UUID, name string) *session.Client {
	rec, err := s.gw.FindClient(id)
	if err != nil {
		s.log.Error().Str("client", name).Err(err).Msg("persisted client lookup failed")
		return nil
	}
	if rec == nil || rec.Name != name {
		return nil
	}
	c, err := s.clientFromRecord(rec)
	if err != nil {
		s.log.Warn().Str("client", name).Err(err).Msg("persisted identity unusable")
		return nil
	}
	if _, hasKey := c.PublicKey(); !hasKey {
		// Without a key the reconnect will be denied anyway; leaving the
		// registry untouched keeps the name free for a re-register.
		return nil
	}
	if err := s.reg.Insert(c); err != nil {
		// Lost a race with a concurrent reconnect or a re-registration
		// under the same name; defer to whoever won.
		cur, ok := s.reg.Get(id)
		if !ok {
			return nil
		}
		return cur
	}
	s.log.Info().Str("client", name).Msg("evicted identity restored from persistence")
	return c
}

// Serve runs the accept loop on ln until Shutdown. Connections beyond the
// ceiling are refused outright.
func (s *Server) Serve(ln net.Listener) error {
	s.ln = ln
	s.started = time.Now()
	s.log.Info().Str("addr", ln.Addr().String()).Int("max_clients", s.opts.MaxClients).Msg("server listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn().Err(err).Msg("accept failed")
			continue
		}
		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn().Str("peer", conn.RemoteAddr().String()).Msg("concurrency ceiling reached, refusing connection")
			// The peer gets an explicit refusal so it can back off instead
			// of treating the close as a network fault.
			conn.SetWriteDeadline(time.Now().Add(s.opts.SocketTimeout))
			if err := protocol.WriteResponse(conn, protocol.NewServerError()); err != nil {
				s.log.Debug().Err(err).Msg("refusal write failed")
			}
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Shutdown stops accepting, signals handlers and waits for them to drain.
func (s *Server) Shutdown() {
	s.shutdown.Store(true)
	if s.ln != nil {
		s.ln.Close()
	}
	s.wg.Wait()
}

// handleConn runs the synchronous read-decode-dispatch-encode-write cycle
// until the peer closes, a protocol error occurs or shutdown is observed.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() { <-s.sem }()
	defer conn.Close()

	peer := conn.RemoteAddr().String()
	for !s.shutdown.Load() {
		if err := conn.SetDeadline(time.Now().Add(s.opts.SocketTimeout)); err != nil {
			return
		}
		req, err := protocol.ReadRequest(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				s.log.Debug().Str("peer", peer).Msg("socket timeout, dropping connection")
				return
			}
			s.log.Warn().Str("peer", peer).Err(err).Msg("malformed frame, dropping connection")
			return
		}

		resp, drop := s.dispatch(req, peer)
		if resp != nil {
			if err := protocol.WriteResponse(conn, resp); err != nil {
				s.log.Warn().Str("peer", peer).Err(err).Msg("write response failed")
				return
			}
		}
		if drop {
			return
		}
	}
}

// Uptime reports time since Serve started.
func (s *Server) Uptime() time.Duration {
	if s.started.IsZero() {
		return 0
	}
	return time.Since(s.started)
}

// MaxClients returns the configured concurrency ceiling.
func (s *Server) MaxClients() int { return s.opts.MaxClients }

// Addr returns the bound listen address, or empty before Serve.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}
