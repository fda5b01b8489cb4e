package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/renodectl/internal/observability"
	"github.com/danmuck/renodectl/internal/packet"
	"github.com/danmuck/renodectl/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	ReplyInvalid = "ERROR: Invalid packet format\n"
	ReplyStorage = "ERROR: Storage failure\n"
	nodeName     = "receiver"
)

var ErrAlreadyServing = errors.New("receiver: already serving")

// Store is the persistence the receiver writes to and the admin surface reads from.
type Store interface {
	Insert(ctx context.Context, rec store.Record) (int64, error)
	List(ctx context.Context, limit int) ([]store.Record, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// Config configures the TCP listener and optional admin HTTP surface.
type Config struct {
	Addr        string
	AdminAddr   string
	AdminToken  string
	ReadTimeout time.Duration
	CorsOrigins []string
}

// Server accepts firmware connections and persists decoded readings.
type Server struct {
	cfg     Config
	store   Store
	started time.Time

	mu      sync.Mutex
	serving bool
	ln      net.Listener
	adminLn net.Listener
	conns   map[net.Conn]struct{}
	ready   chan struct{}

	router *gin.Engine
}

func New(cfg Config, st Store) *Server {
	observability.RegisterMetrics()
	return &Server{
		cfg:   cfg,
		store: st,
		conns: make(map[net.Conn]struct{}),
		ready: make(chan struct{}),
	}
}

// Ready is closed once the TCP listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound TCP address, nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// AdminAddr returns the bound admin HTTP address, nil when disabled.
func (s *Server) AdminAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adminLn == nil {
		return nil
	}
	return s.adminLn.Addr()
}

// Serve blocks until ctx is cancelled or a listener fails. Open client
// connections are closed and their handlers awaited before returning.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.serving {
		s.mu.Unlock()
		return ErrAlreadyServing
	}
	s.serving = true
	s.mu.Unlock()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("receiver: listen %s: %w", s.cfg.Addr, err)
	}

	var adminLn net.Listener
	if s.cfg.AdminAddr != "" {
		adminLn, err = lc.Listen(ctx, "tcp", s.cfg.AdminAddr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("receiver: admin listen %s: %w", s.cfg.AdminAddr, err)
		}
	}

	s.mu.Lock()
	s.ln = ln
	s.adminLn = adminLn
	s.started = time.Now()
	s.mu.Unlock()
	close(s.ready)

	log.Info().
		Str("addr", ln.Addr().String()).
		Str("admin_addr", s.cfg.AdminAddr).
		Msg("receiver.Server.Serve listening")

	g, gctx := errgroup.WithContext(ctx)

	var httpSrv *http.Server
	if adminLn != nil {
		httpSrv = &http.Server{Handler: s.HTTPRouter(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := httpSrv.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("receiver: admin serve: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		_ = ln.Close()
		s.closeConns()
		if httpSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}
		return nil
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return fmt.Errorf("receiver: accept: %w", err)
			}
			if !s.track(conn) {
				_ = conn.Close()
				return nil
			}
			g.Go(func() error {
				defer s.untrack(conn)
				s.handleConn(gctx, conn)
				return nil
			})
		}
	})

	err = g.Wait()
	log.Info().Err(err).Msg("receiver.Server.Serve stopped")
	return err
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	sessionID := uuid.NewString()
	logger := log.With().
		Str("session", sessionID).
		Str("remote", conn.RemoteAddr().String()).
		Logger()

	observability.ConnectionOpened()
	defer observability.ConnectionClosed()
	logger.Info().Msg("receiver.Server.handleConn connected")
	defer logger.Info().Msg("receiver.Server.handleConn disconnected")

	reader := packet.NewReader(conn)
	for {
		if s.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		raw, err := reader.Next()
		if err != nil {
			if errors.Is(err, packet.ErrDesync) || errors.Is(err, packet.ErrShortPacket) {
				observability.RecordPacket(false, packet.Reason(err), 0)
				logger.Warn().Err(err).Msg("receiver.Server.handleConn rejected stream bytes")
				if werr := writeReply(conn, ReplyInvalid); werr != nil {
					return
				}
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Msg("receiver.Server.handleConn read failed")
			return
		}

		reply := s.HandleFrame(ctx, sessionID, raw, logger)
		if err := writeReply(conn, reply); err != nil {
			logger.Warn().Err(err).Msg("receiver.Server.handleConn reply failed")
			return
		}
	}
}

// HandleFrame decodes and stores one frame and returns the line to send back.
func (s *Server) HandleFrame(ctx context.Context, sessionID string, raw []byte, logger zerolog.Logger) string {
	reading, err := packet.Decode(raw)
	if err != nil {
		observability.RecordPacket(false, packet.Reason(err), len(raw))
		logger.Warn().Err(err).Int("bytes", len(raw)).Msg("receiver.Server.HandleFrame invalid packet")
		return ReplyInvalid
	}

	id, err := s.store.Insert(ctx, store.Record{
		Reading:    reading,
		PacketSize: len(raw),
		SessionID:  sessionID,
	})
	if err != nil {
		observability.RecordStoreError()
		observability.RecordPacket(false, "store", len(raw))
		logger.Error().Err(err).Str("device", reading.DeviceID).Msg("receiver.Server.HandleFrame store failed")
		return ReplyStorage
	}

	observability.RecordPacket(true, "ok", len(raw))
	logger.Info().
		Int64("id", id).
		Str("device", reading.DeviceID).
		Float64("temperature", reading.Temperature).
		Float64("humidity", reading.Humidity).
		Msg("receiver.Server.HandleFrame stored")
	return Ack(reading.DeviceID)
}

// Ack is the acknowledgement line for a stored reading.
func Ack(deviceID string) string {
	return "ACK: Data received from " + deviceID + "\n"
}

func writeReply(conn net.Conn, reply string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := io.WriteString(conn, reply)
	return err
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	if s.conns != nil {
		delete(s.conns, conn)
	}
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for conn := range conns {
		_ = conn.Close()
	}
}
