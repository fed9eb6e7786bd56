// Package pop3 implements the retrieval server: per-connection sessions
// that authenticate a user, expose a fixed snapshot of their mailbox and
// commit deletions only at explicit session close.
package pop3

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

const (
	// Maximum number of client errors tolerated before the connection is terminated
	pop3MaxErrorsAllowed = 10
	// Default wait before answering a failed command, slows brute force attempts
	pop3DefaultErrorDelay = 500 * time.Millisecond
)

type POP3Server struct {
	addr   string
	name   string
	domain string

	creds credential.Store
	mail  mailbox.Store

	appCtx context.Context
	cancel context.CancelFunc

	idleTimeout time.Duration
	errorDelay  time.Duration

	limiter *serverPkg.ConnectionLimiter

	totalConnections         atomic.Int64
	authenticatedConnections atomic.Int64

	// Active session tracking for graceful shutdown
	activeSessionsMutex sync.Mutex
	activeSessions      map[*POP3Session]struct{}
	sessionsWg          sync.WaitGroup
}

type POP3ServerOptions struct {
	Domain              string // Local mail domain; USER accepts bare usernames or local addresses
	MaxConnections      int
	MaxConnectionsPerIP int
	IdleTimeout         time.Duration
	ErrorDelay          time.Duration // Negative disables the failed-command delay
}

func New(appCtx context.Context, name, addr string, creds credential.Store, mail mailbox.Store, options POP3ServerOptions) (*POP3Server, error) {
	if options.Domain == "" {
		return nil, fmt.Errorf("POP3 server requires a local domain")
	}

	serverCtx, serverCancel := context.WithCancel(appCtx)

	idleTimeout := options.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	errorDelay := options.ErrorDelay
	if errorDelay == 0 {
		errorDelay = pop3DefaultErrorDelay
	} else if errorDelay < 0 {
		errorDelay = 0
	}

	s := &POP3Server{
		addr:           addr,
		name:           name,
		domain:         options.Domain,
		creds:          creds,
		mail:           mail,
		appCtx:         serverCtx,
		cancel:         serverCancel,
		idleTimeout:    idleTimeout,
		errorDelay:     errorDelay,
		limiter:        serverPkg.NewConnectionLimiter("POP3", options.MaxConnections, options.MaxConnectionsPerIP),
		activeSessions: make(map[*POP3Session]struct{}),
	}
	return s, nil
}

func (s *POP3Server) Start(errChan chan error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.cancel()
		errChan <- fmt.Errorf("failed to create POP3 listener: %w", err)
		return
	}
	defer listener.Close()

	logger.Info("POP3 server listening", "name", s.name, "addr", s.addr, "idle_timeout", s.idleTimeout)

	go func() {
		<-s.appCtx.Done()
		logger.Debug("POP3: stopping", "name", s.name)
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.appCtx.Done():
				logger.Info("POP3 server stopped gracefully", "name", s.name)
				return
			default:
				errChan <- err
				return
			}
		}

		releaseConn, err := s.limiter.Accept(conn.RemoteAddr())
		if err != nil {
			logger.Debug("POP3: connection rejected", "name", s.name, "error", err)
			fmt.Fprint(conn, "-ERR Too many connections, try again later\r\n")
			conn.Close()
			continue
		}

		sessionCtx, sessionCancel := context.WithCancel(s.appCtx)

		totalCount := s.totalConnections.Add(1)
		metrics.ConnectionsTotal.WithLabelValues("pop3").Inc()
		metrics.ConnectionsCurrent.WithLabelValues("pop3").Inc()

		session := &POP3Session{
			server:      s,
			conn:        conn,
			id:          idgen.New(),
			remoteAddr:  conn.RemoteAddr().String(),
			ctx:         sessionCtx,
			cancel:      sessionCancel,
			releaseConn: releaseConn,
			marked:      make(map[int]bool),
		}

		logger.Debug("POP3: new connection", "name", s.name, "id", session.id, "remote", session.remoteAddr, "total_connections", totalCount)

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
// drain. Pending deletion marks in open sessions are discarded, exactly
// as for an abrupt disconnect.
func (s *POP3Server) Close() {
	s.cancel()
	s.closeActiveSessions()
	s.waitForSessionsDrain(30 * time.Second)
}

func (s *POP3Server) waitForSessionsDrain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.sessionsWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Debug("POP3: all sessions drained gracefully", "name", s.name)
	case <-time.After(timeout):
		logger.Debug("POP3: session drain timeout, forcing shutdown", "name", s.name, "timeout", timeout)
	}
}

func (s *POP3Server) closeActiveSessions() {
	s.activeSessionsMutex.Lock()
	sessions := make([]*POP3Session, 0, len(s.activeSessions))
	for session := range s.activeSessions {
		sessions = append(sessions, session)
	}
	s.activeSessionsMutex.Unlock()

	for _, session := range sessions {
		fmt.Fprint(session.conn, "-ERR Server shutting down, please reconnect\r\n")
		session.conn.Close()
	}
}

func (s *POP3Server) addSession(session *POP3Session) {
	s.activeSessionsMutex.Lock()
	defer s.activeSessionsMutex.Unlock()
	s.activeSessions[session] = struct{}{}
}

func (s *POP3Server) removeSession(session *POP3Session) {
	s.activeSessionsMutex.Lock()
	defer s.activeSessionsMutex.Unlock()
	delete(s.activeSessions, session)
}

// GetTotalConnections returns the current total connection count.
func (s *POP3Server) GetTotalConnections() int64 {
	return s.totalConnections.Load()
}

// GetAuthenticatedConnections returns the current authenticated connection count.
func (s *POP3Server) GetAuthenticatedConnections() int64 {
	return s.authenticatedConnections.Load()
}
