package pop3

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/willowmail/willow/helpers"
	"github.com/willowmail/willow/logger"
	"github.com/willowmail/willow/mailbox"
	"github.com/willowmail/willow/pkg/metrics"
)

type sessionState int

const (
	stateUnauthenticated sessionState = iota
	stateUserSet
	stateTransaction
)

type POP3Session struct {
	server      *POP3Server
	conn        net.Conn
	id          string
	remoteAddr  string
	ctx         context.Context
	cancel      context.CancelFunc
	releaseConn func()

	state    sessionState
	username string // Local part supplied by USER
	address  string // username@domain once authenticated

	// Snapshot of the mailbox captured when PASS succeeds. Message
	// numbers are 1-based indexes into this slice and never change for
	// the lifetime of the session, regardless of concurrent delivery
	// or deletion marks.
	snapshot []mailbox.Message

	// marked holds 0-based snapshot indexes of messages marked for
	// deletion. Marks are applied to the store only at QUIT.
	marked map[int]bool

	errorsCount int
}

func (s *POP3Session) handleConnection() {
	defer s.close()

	reader := bufio.NewReader(s.conn)
	writer := bufio.NewWriter(s.conn)

	s.reply(writer, "+OK POP3 server ready")

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(s.server.idleTimeout))

		line, err := reader.ReadString('\n')
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				s.log("idle timeout, closing connection")
				s.reply(writer, "-ERR Idle timeout, closing connection")
			} else {
				s.log("read error: %v", err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		command, arg := splitCommand(line)

		switch command {
		case "USER":
			s.handleUser(writer, arg)
		case "PASS":
			s.handlePass(writer, arg)
		case "STAT":
			s.handleStat(writer)
		case "LIST":
			s.handleList(writer, arg)
		case "UIDL":
			s.handleUidl(writer, arg)
		case "RETR":
			s.handleRetr(writer, arg)
		case "DELE":
			s.handleDele(writer, arg)
		case "RSET":
			s.handleRset(writer)
		case "NOOP":
			if s.requireTransaction(writer, command) {
				s.replyCmd(writer, command, "+OK")
			}
		case "QUIT":
			s.handleQuit(writer)
			return
		default:
			s.log("unknown command: %s", command)
			s.replyCmd(writer, command, "-ERR Unknown command")
			if s.tooManyErrors(writer) {
				return
			}
		}

		if s.errorsCount > pop3MaxErrorsAllowed {
			return
		}
	}
}

// handleUser records the username for a subsequent PASS. The argument
// may be a bare username or a full address in the local domain.
func (s *POP3Session) handleUser(writer *bufio.Writer, arg string) {
	if s.state == stateTransaction {
		s.replyCmd(writer, "USER", "-ERR Already authenticated")
		return
	}
	if arg == "" {
		s.failCmd(writer, "USER", "-ERR Missing username argument")
		return
	}

	username := arg
	if strings.Contains(arg, "@") {
		local, domain := helpers.SplitEmailAddress(arg)
		if domain != s.server.domain {
			s.failCmd(writer, "USER", "-ERR No mailbox for that address here")
			return
		}
		username = local
	}

	exists, err := s.server.creds.UserExists(s.ctx, username)
	if err != nil {
		s.log("USER storage error for %q: %v", username, err)
		s.replyCmd(writer, "USER", "-ERR Server error, try again later")
		return
	}
	if !exists {
		s.failCmd(writer, "USER", "-ERR No such user here")
		return
	}

	s.username = username
	s.state = stateUserSet
	s.replyCmd(writer, "USER", "+OK User accepted, send PASS")
}

// handlePass authenticates the pending user and, on success, captures
// the mailbox snapshot the rest of the session operates on.
func (s *POP3Session) handlePass(writer *bufio.Writer, arg string) {
	if s.state != stateUserSet {
		s.failCmd(writer, "PASS", "-ERR Send USER first")
		return
	}
	if arg == "" {
		s.failCmd(writer, "PASS", "-ERR Missing password argument")
		return
	}

	ok, err := s.server.creds.Authenticate(s.ctx, s.username, arg)
	if err != nil {
		s.log("PASS storage error for %q: %v", s.username, err)
		metrics.AuthenticationAttempts.WithLabelValues("pop3", "error").Inc()
		s.replyCmd(writer, "PASS", "-ERR Server error during authentication, try again later")
		return
	}
	if !ok {
		s.log("authentication failed for %q", s.username)
		metrics.AuthenticationAttempts.WithLabelValues("pop3", "failure").Inc()
		s.failCmd(writer, "PASS", "-ERR Authentication failed")
		return
	}

	address := s.username + "@" + s.server.domain
	snapshot, err := s.server.mail.ListMessages(s.ctx, address)
	if err != nil {
		s.log("failed to load mailbox for %q: %v", address, err)
		s.replyCmd(writer, "PASS", "-ERR Failed to open mailbox, try again later")
		return
	}

	s.address = address
	s.snapshot = snapshot
	s.marked = make(map[int]bool)
	s.state = stateTransaction
	s.server.authenticatedConnections.Add(1)
	metrics.AuthenticationAttempts.WithLabelValues("pop3", "success").Inc()

	s.log("authenticated as %q, %d messages", address, len(snapshot))
	s.replyCmd(writer, "PASS", fmt.Sprintf("+OK Mailbox open, %d messages", len(snapshot)))
}

func (s *POP3Session) handleStat(writer *bufio.Writer) {
	if !s.requireTransaction(writer, "STAT") {
		return
	}
	count, size := statTotals(s.snapshot, s.marked)
	s.replyCmd(writer, "STAT", fmt.Sprintf("+OK %d %d", count, size))
}

func (s *POP3Session) handleList(writer *bufio.Writer, arg string) {
	if !s.requireTransaction(writer, "LIST") {
		return
	}

	if arg != "" {
		idx, ok := s.resolveMessageNumber(writer, "LIST", arg)
		if !ok {
			return
		}
		s.replyCmd(writer, "LIST", fmt.Sprintf("+OK %d %d", idx+1, s.snapshot[idx].Size))
		return
	}

	count, size := statTotals(s.snapshot, s.marked)
	s.replyCmd(writer, "LIST", fmt.Sprintf("+OK %d messages (%d octets)", count, size))
	for _, line := range buildListResponseLines(s.snapshot, s.marked) {
		s.writeLine(writer, line)
	}
	s.writeLine(writer, ".")
	writer.Flush()
}

func (s *POP3Session) handleUidl(writer *bufio.Writer, arg string) {
	if !s.requireTransaction(writer, "UIDL") {
		return
	}

	if arg != "" {
		idx, ok := s.resolveMessageNumber(writer, "UIDL", arg)
		if !ok {
			return
		}
		s.replyCmd(writer, "UIDL", fmt.Sprintf("+OK %d %s", idx+1, s.snapshot[idx].ContentHash))
		return
	}

	s.replyCmd(writer, "UIDL", "+OK Unique-id listing follows")
	for i, msg := range s.snapshot {
		if s.marked[i] {
			continue
		}
		s.writeLine(writer, fmt.Sprintf("%d %s", i+1, msg.ContentHash))
	}
	s.writeLine(writer, ".")
	writer.Flush()
}

func (s *POP3Session) handleRetr(writer *bufio.Writer, arg string) {
	if !s.requireTransaction(writer, "RETR") {
		return
	}

	idx, ok := s.resolveMessageNumber(writer, "RETR", arg)
	if !ok {
		return
	}

	msg, err := s.server.mail.GetMessage(s.ctx, s.snapshot[idx].ID)
	if err != nil {
		s.log("RETR failed for message %d: %v", s.snapshot[idx].ID, err)
		s.replyCmd(writer, "RETR", "-ERR Failed to retrieve message, try again later")
		return
	}

	rendered := helpers.RenderMessage(msg.Sender, msg.Recipient, msg.Subject, msg.ReceivedAt, msg.Body)

	s.replyCmd(writer, "RETR", fmt.Sprintf("+OK %d octets", len(rendered)))
	writer.WriteString(dotStuff(rendered))
	if !strings.HasSuffix(rendered, "\r\n") {
		writer.WriteString("\r\n")
	}
	s.writeLine(writer, ".")
	writer.Flush()
}

func (s *POP3Session) handleDele(writer *bufio.Writer, arg string) {
	if !s.requireTransaction(writer, "DELE") {
		return
	}

	idx, valid := parseMessageNumber(arg, len(s.snapshot))
	if !valid {
		s.failCmd(writer, "DELE", "-ERR No such message")
		return
	}
	if s.marked[idx] {
		s.failCmd(writer, "DELE", "-ERR Message already marked for deletion")
		return
	}

	s.marked[idx] = true
	s.replyCmd(writer, "DELE", fmt.Sprintf("+OK Message %d marked for deletion", idx+1))
}

func (s *POP3Session) handleRset(writer *bufio.Writer) {
	if !s.requireTransaction(writer, "RSET") {
		return
	}
	s.marked = make(map[int]bool)
	count, size := statTotals(s.snapshot, s.marked)
	s.replyCmd(writer, "RSET", fmt.Sprintf("+OK Mailbox has %d messages (%d octets)", count, size))
}

// handleQuit commits pending deletion marks and ends the session. Marks
// are only ever applied here; any other way out of the session leaves
// the mailbox untouched.
func (s *POP3Session) handleQuit(writer *bufio.Writer) {
	if s.state == stateTransaction && len(s.marked) > 0 {
		ids := make([]int64, 0, len(s.marked))
		for idx := range s.marked {
			ids = append(ids, s.snapshot[idx].ID)
		}
		if err := s.server.mail.Expunge(s.ctx, ids...); err != nil {
			s.log("expunge failed: %v", err)
			s.replyCmd(writer, "QUIT", "-ERR Failed to remove deleted messages")
			return
		}
		metrics.MessagesExpunged.Add(float64(len(ids)))
		s.log("expunged %d messages", len(ids))
	}
	s.replyCmd(writer, "QUIT", "+OK POP3 server signing off")
}

// resolveMessageNumber parses a message-number argument and rejects
// out-of-range or deletion-marked messages.
func (s *POP3Session) resolveMessageNumber(writer *bufio.Writer, command, arg string) (int, bool) {
	idx, valid := parseMessageNumber(arg, len(s.snapshot))
	if !valid {
		s.failCmd(writer, command, "-ERR No such message")
		return 0, false
	}
	if s.marked[idx] {
		s.failCmd(writer, command, "-ERR Message is marked for deletion")
		return 0, false
	}
	return idx, true
}

func (s *POP3Session) requireTransaction(writer *bufio.Writer, command string) bool {
	if s.state != stateTransaction {
		s.failCmd(writer, command, "-ERR Authentication required")
		return false
	}
	return true
}

// failCmd sends an error response after the configured delay and counts
// the error toward the per-session limit.
func (s *POP3Session) failCmd(writer *bufio.Writer, command, response string) {
	if s.server.errorDelay > 0 {
		time.Sleep(s.server.errorDelay)
	}
	s.errorsCount++
	s.replyCmd(writer, command, response)
}

func (s *POP3Session) tooManyErrors(writer *bufio.Writer) bool {
	s.errorsCount++
	if s.errorsCount > pop3MaxErrorsAllowed {
		s.log("too many errors, closing connection")
		s.reply(writer, "-ERR Too many errors, closing connection")
		return true
	}
	return false
}

func (s *POP3Session) reply(writer *bufio.Writer, response string) {
	s.writeLine(writer, response)
	writer.Flush()
}

func (s *POP3Session) replyCmd(writer *bufio.Writer, command, response string) {
	status := "ok"
	if strings.HasPrefix(response, "-ERR") {
		status = "err"
	}
	metrics.CommandsTotal.WithLabelValues("pop3", command, status).Inc()
	s.reply(writer, response)
}

func (s *POP3Session) writeLine(writer *bufio.Writer, line string) {
	writer.WriteString(line)
	writer.WriteString("\r\n")
}

func (s *POP3Session) close() {
	s.conn.Close()
	s.cancel()
	if s.releaseConn != nil {
		s.releaseConn()
	}
	if s.state == stateTransaction {
		s.server.authenticatedConnections.Add(-1)
	}
	s.server.totalConnections.Add(-1)
	metrics.ConnectionsCurrent.WithLabelValues("pop3").Dec()
	s.log("connection closed")
}

func (s *POP3Session) log(format string, args ...interface{}) {
	logger.Debugf("POP3[%s] %s: %s", s.server.name, s.id, fmt.Sprintf(format, args...))
}

// splitCommand splits a command line into an upper-cased verb and its
// raw argument string.
func splitCommand(line string) (string, string) {
	parts := strings.SplitN(strings.TrimSpace(line), " ", 2)
	command := strings.ToUpper(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}
	return command, arg
}

// parseMessageNumber converts a 1-based message-number argument into a
// 0-based snapshot index, rejecting anything outside 1..count.
func parseMessageNumber(arg string, count int) (int, bool) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > count {
		return 0, false
	}
	return n - 1, true
}
