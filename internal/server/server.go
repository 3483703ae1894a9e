// Package server hosts the TCP front of the game server: it accepts
// connections, reads one framed request each, hands it to the framework and
// writes the response back before closing.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/playtable/gameserver/internal/config"
	"github.com/playtable/gameserver/internal/framework"
	"github.com/playtable/gameserver/internal/protocol"
)

// Server accepts client connections and drives the one-request-per-
// connection protocol.
type Server struct {
	cfg config.Server
	fw  *framework.Framework

	listener net.Listener
	mu       sync.Mutex
}

// NewServer creates a server that hands parsed requests to fw.
func NewServer(cfg config.Server, fw *framework.Framework) *Server {
	return &Server{cfg: cfg, fw: fw}
}

// Addr returns the address the server listens on, or nil before Run.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the listener and stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Run begins listening on the configured address and serves until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	return s.Serve(ctx, ln)
}

// Serve accepts connections from a ready listener. Exposed for tests that
// need an arbitrary listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		slog.Info("game server started", "address", ln.Addr())
		acceptLoop(ctx, &wg, s, ln)
	})

	wg.Wait()

	return nil
}

func acceptLoop(ctx context.Context, wg *sync.WaitGroup, srv *Server, ln net.Listener) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				slog.Error("Failed to accept new connection", "error", err)
				continue
			}
			wg.Go(func() {
				handleConnection(ctx, srv, conn)
			})
		}
	}
}

// handleConnection runs one request/response exchange. The read and the
// write each get the connection timeout; the framework call in between may
// legitimately block for up to the game timeout (long-poll reads).
func handleConnection(ctx context.Context, srv *Server, conn net.Conn) {
	done := make(chan struct{})
	defer close(done)
	defer conn.Close()

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	remote := conn.RemoteAddr()
	srv.logInfo("connection accepted", "remote", remote)

	timeout := srv.cfg.ConnectionTimeoutDuration()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	var resp protocol.Response

	req, err := protocol.ReadRequest(conn, srv.cfg.BufferSize, srv.cfg.RequestSizeMax)
	switch {
	case err == nil:
		resp = srv.fw.Handle(ctx, req)
	case errors.Is(err, protocol.ErrClientDisconnect):
		// Silent: the peer is gone, there is nobody to respond to.
		srv.logError("disconnect by client", "remote", remote)
		return
	case errors.Is(err, protocol.ErrRequestTooLarge),
		errors.Is(err, protocol.ErrBinaryData),
		errors.Is(err, protocol.ErrCorruptJSON):
		srv.logError(err.Error(), "remote", remote)
		resp = protocol.ServerError(err.Error())
	case isTimeout(err):
		srv.logError("connection timed out on server", "remote", remote)
		resp = protocol.ServerError("connection timed out on server")
	default:
		srv.logError("unexpected error reading request", "remote", remote, "error", err)
		resp = protocol.ServerError("internal error")
	}

	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := protocol.WriteResponse(conn, resp); err != nil {
		srv.logError("failed to send response", "remote", remote, "error", err)
		return
	}

	srv.logInfo("connection closed by server", "remote", remote)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (s *Server) logInfo(msg string, args ...any) {
	if s.cfg.Log.ServerInfo {
		slog.Info(msg, args...)
	}
}

func (s *Server) logError(msg string, args ...any) {
	if s.cfg.Log.ServerErrors {
		slog.Error(msg, args...)
	}
}
