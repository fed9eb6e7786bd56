// Package smtp implements the submission server: a per-connection command
// state machine that authenticates a sender, collects the envelope and body,
// and hands completed messages to the mailbox store.
package smtp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/willowmail/willow/credential"
	"github.com/willowmail/willow/logger"
	"github.com/willowmail/willow/mailbox"
	"github.com/willowmail/willow/pkg/metrics"
	serverPkg "github.com/willowmail/willow/server"
	"github.com/willowmail/willow/server/idgen"
)

type SMTPServer struct {
	addr     string
	name     string
	hostname string
	domain   string

	creds credential.Store
	mail  mailbox.Store

	appCtx context.Context
	cancel context.CancelFunc

	idleTimeout     time.Duration
	maxMessageBytes int64

	limiter *serverPkg.ConnectionLimiter

	totalConnections         atomic.Int64
	authenticatedConnections atomic.Int64

	// Active session tracking for graceful shutdown
	activeSessionsMutex sync.Mutex
	activeSessions      map[*SMTPSession]struct{}
	sessionsWg          sync.WaitGroup
}

type SMTPServerOptions struct {
	Hostname            string
	Domain              string // Local mail domain for recipient resolution
	MaxConnections      int
	MaxConnectionsPerIP int
	MaxMessageBytes     int64
	IdleTimeout         time.Duration
}

func New(appCtx context.Context, name, addr string, creds credential.Store, mail mailbox.Store, options SMTPServerOptions) (*SMTPServer, error) {
	if options.Domain == "" {
		return nil, fmt.Errorf("SMTP server requires a local domain")
	}

	serverCtx, serverCancel := context.WithCancel(appCtx)

	idleTimeout := options.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	maxMessageBytes := options.MaxMessageBytes
	if maxMessageBytes <= 0 {
		maxMessageBytes = 10 * 1024 * 1024
	}
	hostname := options.Hostname
	if hostname == "" {
		hostname = options.Domain
	}

	s := &SMTPServer{
		addr:            addr,
		name:            name,
		hostname:        hostname,
		domain:          options.Domain,
		creds:           creds,
		mail:            mail,
		appCtx:          serverCtx,
		cancel:          serverCancel,
		idleTimeout:     idleTimeout,
		maxMessageBytes: maxMessageBytes,
		limiter:         serverPkg.NewConnectionLimiter("SMTP", options.MaxConnections, options.MaxConnectionsPerIP),
		activeSessions:  make(map[*SMTPSession]struct{}),
	}
	return s, nil
}

func (s *SMTPServer) Start(errChan chan error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.cancel()
		errChan <- fmt.Errorf("failed to create SMTP listener: %w", err)
		return
	}
	defer listener.Close()

	logger.Info("SMTP server listening", "name", s.name, "addr", s.addr, "domain", s.domain, "idle_timeout", s.idleTimeout)

	go func() {
		<-s.appCtx.Done()
		logger.Debug("SMTP: stopping", "name", s.name)
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.appCtx.Done():
				logger.Info("SMTP server stopped gracefully", "name", s.name)
				return
			default:
				errChan <- err
				return
			}
		}

		releaseConn, err := s.limiter.Accept(conn.RemoteAddr())
		if err != nil {
			logger.Debug("SMTP: connection rejected", "name", s.name, "error", err)
			fmt.Fprintf(conn, "421 %s Too many connections, try again later\r\n", s.hostname)
			conn.Close()
			continue
		}

		sessionCtx, sessionCancel := context.WithCancel(s.appCtx)

		totalCount := s.totalConnections.Add(1)
		metrics.ConnectionsTotal.WithLabelValues("smtp").Inc()
		metrics.ConnectionsCurrent.WithLabelValues("smtp").Inc()

		session := &SMTPSession{
			server:      s,
			conn:        conn,
			id:          idgen.New(),
			remoteAddr:  conn.RemoteAddr().String(),
			ctx:         sessionCtx,
			cancel:      sessionCancel,
			releaseConn: releaseConn,
		}

		logger.Debug("SMTP: new connection", "name", s.name, "id", session.id, "remote", session.remoteAddr, "total_connections", totalCount)

		s.addSession(session)
		s.sessionsWg.Add(1)
		go func() {
			defer s.sessionsWg.Done()
			defer s.removeSession(session)
			session.handleConnection()
		}()
	}
}

// Close shuts the server down, waiting briefly for active sessions to
// drain. Sessions blocked on reads are unblocked by closing their sockets.
func (s *SMTPServer) Close() {
	s.cancel()
	s.closeActiveSessions()
	s.waitForSessionsDrain(30 * time.Second)
}

func (s *SMTPServer) waitForSessionsDrain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.sessionsWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Debug("SMTP: all sessions drained gracefully", "name", s.name)
	case <-time.After(timeout):
		logger.Debug("SMTP: session drain timeout, forcing shutdown", "name", s.name, "timeout", timeout)
	}
}

func (s *SMTPServer) closeActiveSessions() {
	s.activeSessionsMutex.Lock()
	sessions := make([]*SMTPSession, 0, len(s.activeSessions))
	for session := range s.activeSessions {
		sessions = append(sessions, session)
	}
	s.activeSessionsMutex.Unlock()

	for _, session := range sessions {
		fmt.Fprintf(session.conn, "421 %s Service shutting down, closing transmission channel\r\n", s.hostname)
		session.conn.Close()
	}
}

func (s *SMTPServer) addSession(session *SMTPSession) {
	s.activeSessionsMutex.Lock()
	defer s.activeSessionsMutex.Unlock()
	s.activeSessions[session] = struct{}{}
}

func (s *SMTPServer) removeSession(session *SMTPSession) {
	s.activeSessionsMutex.Lock()
	defer s.activeSessionsMutex.Unlock()
	delete(s.activeSessions, session)
}

// GetTotalConnections returns the current total connection count.
func (s *SMTPServer) GetTotalConnections() int64 {
	return s.totalConnections.Load()
}
