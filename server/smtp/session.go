package smtp

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"time"

	"github.com/willowmail/willow/helpers"
	"github.com/willowmail/willow/logger"
	"github.com/willowmail/willow/mailbox"
	"github.com/willowmail/willow/pkg/metrics"
)

// sessionState tracks the SMTP command sequence. Authentication is
// required before the greeting; the remaining states follow RFC 5321's
// envelope ordering.
type sessionState int

const (
	stateInit      sessionState = iota // Awaiting AUTH
	stateGreeting                      // Authenticated, awaiting HELO/EHLO
	stateGreeted                       // Greeted, awaiting MAIL
	stateMailSet                       // Sender set, awaiting RCPT
	stateRcptSet                       // At least one recipient, awaiting RCPT or DATA
	stateReceiving                     // Accumulating raw body lines until a lone dot
)

type SMTPSession struct {
	server     *SMTPServer
	conn       net.Conn
	id         string
	remoteAddr string

	ctx         context.Context
	cancel      context.CancelFunc
	releaseConn func()

	state        sessionState
	authUsername string
	sender       string
	recipients   []string
	dataBuffer   strings.Builder
	dataTooLarge bool
}

func (s *SMTPSession) handleConnection() {
	defer s.cancel()
	defer s.close()

	reader := bufio.NewReader(s.conn)
	writer := bufio.NewWriter(s.conn)

	s.reply(writer, "220 "+s.server.hostname+" Willow SMTP service ready, authenticate with AUTH <username> <password>")

	for {
		s.conn.SetReadDeadline(time.Now().Add(s.server.idleTimeout))

		line, err := reader.ReadString('\n')
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				s.reply(writer, "421 "+s.server.hostname+" Idle timeout, closing transmission channel")
				s.log("timed out")
			} else if err == io.EOF {
				s.log("client dropped connection")
			} else {
				s.log("read error: %v", err)
			}
			if s.state == stateReceiving {
				// Body never terminated; nothing may be stored
				s.log("connection lost during DATA, message discarded")
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")

		if s.state == stateReceiving {
			if line == "." {
				s.finishData(writer)
			} else {
				s.appendDataLine(line)
			}
			continue
		}

		cmd, arg := splitCommand(line)

		if s.state == stateInit && cmd != "AUTH" && cmd != "QUIT" {
			s.replyCmd(writer, cmd, "530 Authentication required")
			continue
		}

		switch cmd {
		case "AUTH":
			s.handleAuth(writer, arg)

		case "HELO", "EHLO":
			s.handleHelo(writer, cmd, arg)

		case "MAIL":
			s.handleMailFrom(writer, arg)

		case "RCPT":
			s.handleRcptTo(writer, arg)

		case "DATA":
			s.handleData(writer)

		case "NOOP":
			s.replyCmd(writer, cmd, "250 OK")

		case "QUIT":
			s.replyCmd(writer, cmd, "221 "+s.server.hostname+" Service closing transmission channel")
			return

		default:
			s.replyCmd(writer, cmd, "500 Command unrecognized")
		}
	}
}

// handleAuth processes "AUTH <username> <password>". It is the explicit
// login step: MAIL FROM is later checked against the identity it
// establishes.
func (s *SMTPSession) handleAuth(writer *bufio.Writer, arg string) {
	if s.state != stateInit {
		s.replyCmd(writer, "AUTH", "503 Already authenticated")
		return
	}

	tokens := strings.Fields(arg)
	if len(tokens) != 2 {
		s.replyCmd(writer, "AUTH", "501 Syntax error, use: AUTH <username> <password>")
		return
	}

	ok, err := s.server.creds.Authenticate(s.ctx, tokens[0], tokens[1])
	if err != nil {
		s.log("authentication error: %v", err)
		metrics.AuthenticationAttempts.WithLabelValues("smtp", "error").Inc()
		s.replyCmd(writer, "AUTH", "454 Temporary authentication failure")
		return
	}
	if !ok {
		s.log("authentication failed for %q", tokens[0])
		metrics.AuthenticationAttempts.WithLabelValues("smtp", "failure").Inc()
		s.replyCmd(writer, "AUTH", "535 Authentication credentials invalid")
		return
	}

	s.authUsername = tokens[0]
	s.state = stateGreeting
	authCount := s.server.authenticatedConnections.Add(1)
	metrics.AuthenticationAttempts.WithLabelValues("smtp", "success").Inc()
	s.log("authenticated as %q (authenticated connections: %d)", s.authUsername, authCount)
	s.replyCmd(writer, "AUTH", "235 Authentication successful")
}

// handleHelo greets and resets the envelope. The greeting is re-entrant:
// a HELO in any post-auth state discards the sender, recipients and any
// buffered body.
func (s *SMTPSession) handleHelo(writer *bufio.Writer, cmd, arg string) {
	s.resetEnvelope()
	s.state = stateGreeted
	s.replyCmd(writer, cmd, "250 "+s.server.hostname+" Hello "+strings.TrimSpace(arg))
}

func (s *SMTPSession) handleMailFrom(writer *bufio.Writer, arg string) {
	if s.state != stateGreeted {
		s.replyCmd(writer, "MAIL", "503 Bad sequence of commands")
		return
	}

	rest, ok := cutPrefixFold(arg, "FROM:")
	if !ok {
		s.replyCmd(writer, "MAIL", "501 Syntax error in parameters or arguments")
		return
	}
	addr, err := helpers.ParseAddress(rest)
	if err != nil {
		s.replyCmd(writer, "MAIL", "501 Syntax error in parameters or arguments")
		return
	}

	// The sender identity must be the authenticated one; usernames are
	// case-sensitive, so the comparison is exact.
	local, _ := helpers.SplitEmailAddress(addr)
	if local != s.authUsername {
		s.log("rejected MAIL FROM %q for authenticated user %q", addr, s.authUsername)
		s.replyCmd(writer, "MAIL", "550 Sender not authorized, use the authenticated identity")
		return
	}

	s.sender = addr
	s.state = stateMailSet
	s.replyCmd(writer, "MAIL", "250 OK")
}

func (s *SMTPSession) handleRcptTo(writer *bufio.Writer, arg string) {
	if s.state != stateMailSet && s.state != stateRcptSet {
		s.replyCmd(writer, "RCPT", "503 Bad sequence of commands")
		return
	}

	rest, ok := cutPrefixFold(arg, "TO:")
	if !ok {
		s.replyCmd(writer, "RCPT", "501 Syntax error in parameters or arguments")
		return
	}
	addr, err := helpers.ParseAddress(rest)
	if err != nil {
		s.replyCmd(writer, "RCPT", "501 Syntax error in parameters or arguments")
		return
	}

	local, domain := helpers.SplitEmailAddress(addr)
	if domain != strings.ToLower(s.server.domain) {
		s.replyCmd(writer, "RCPT", "550 Relaying to remote domains not permitted")
		return
	}

	exists, err := s.server.creds.UserExists(s.ctx, local)
	if err != nil {
		s.log("recipient lookup error: %v", err)
		s.replyCmd(writer, "RCPT", "451 Requested action aborted, local error in processing")
		return
	}
	if !exists {
		s.replyCmd(writer, "RCPT", "550 No such user here")
		return
	}

	s.recipients = append(s.recipients, addr)
	s.state = stateRcptSet
	s.replyCmd(writer, "RCPT", "250 OK")
}

func (s *SMTPSession) handleData(writer *bufio.Writer) {
	if s.state != stateRcptSet || len(s.recipients) == 0 {
		s.replyCmd(writer, "DATA", "503 Bad sequence of commands")
		return
	}
	s.state = stateReceiving
	s.dataBuffer.Reset()
	s.dataTooLarge = false
	s.replyCmd(writer, "DATA", "354 Start mail input, end with <CRLF>.<CRLF>")
}

// appendDataLine accumulates one raw body line. Lines are kept verbatim
// with a normalized CRLF terminator. Once the size cap is exceeded the
// rest of the body is consumed but dropped, and the final reply is 552.
func (s *SMTPSession) appendDataLine(line string) {
	if s.dataTooLarge {
		return
	}
	if int64(s.dataBuffer.Len()+len(line)+2) > s.server.maxMessageBytes {
		s.dataTooLarge = true
		s.dataBuffer.Reset()
		return
	}
	s.dataBuffer.WriteString(line)
	s.dataBuffer.WriteString("\r\n")
}

// finishData commits the buffered message: an optional Subject header is
// extracted and the message is fanned out to every recipient in a single
// atomic store operation.
func (s *SMTPSession) finishData(writer *bufio.Writer) {
	defer func() {
		s.dataBuffer.Reset()
		s.resetEnvelope()
		s.state = stateGreeted
	}()

	if s.dataTooLarge {
		s.log("message discarded, size exceeds %d bytes", s.server.maxMessageBytes)
		s.replyCmd(writer, "DATA", "552 Message size exceeds fixed maximum")
		return
	}

	subject, body := helpers.ExtractSubject(s.dataBuffer.String())

	delivery := mailbox.Delivery{
		Sender:     s.sender,
		Recipients: s.recipients,
		Subject:    subject,
		Body:       body,
		ReceivedAt: time.Now().UTC(),
	}
	if err := s.server.mail.Deliver(s.ctx, delivery); err != nil {
		s.log("delivery failed: %v", err)
		s.replyCmd(writer, "DATA", "451 Requested action aborted, local error in processing")
		return
	}

	metrics.MessagesDelivered.Add(float64(len(delivery.Recipients)))
	s.log("message accepted for %d recipient(s)", len(delivery.Recipients))
	s.replyCmd(writer, "DATA", "250 OK: Message accepted for delivery")
}

func (s *SMTPSession) resetEnvelope() {
	s.sender = ""
	s.recipients = nil
	s.dataBuffer.Reset()
	s.dataTooLarge = false
}

func (s *SMTPSession) reply(writer *bufio.Writer, line string) {
	writer.WriteString(line)
	writer.WriteString("\r\n")
	writer.Flush()
}

// replyCmd writes a response and records the command outcome metric,
// treating 2xx/3xx codes as success.
func (s *SMTPSession) replyCmd(writer *bufio.Writer, cmd, line string) {
	status := "ok"
	if line != "" && line[0] != '2' && line[0] != '3' {
		status = "error"
	}
	metrics.CommandsTotal.WithLabelValues("smtp", cmd, status).Inc()
	s.reply(writer, line)
}

func (s *SMTPSession) close() {
	s.conn.Close()
	if s.releaseConn != nil {
		s.releaseConn()
	}

	totalCount := s.server.totalConnections.Add(-1)
	if s.state != stateInit {
		s.server.authenticatedConnections.Add(-1)
	}
	metrics.ConnectionsCurrent.WithLabelValues("smtp").Dec()
	s.log("closed (connections: total=%d)", totalCount)
}

func (s *SMTPSession) log(format string, args ...any) {
	logger.Debugf("SMTP[%s] %s: "+format, append([]any{s.server.name, s.id}, args...)...)
}

// splitCommand separates the command verb from its argument string.
func splitCommand(line string) (string, string) {
	line = strings.TrimSpace(line)
	cmd, arg, found := strings.Cut(line, " ")
	if !found {
		return strings.ToUpper(cmd), ""
	}
	return strings.ToUpper(cmd), strings.TrimSpace(arg)
}

// cutPrefixFold is strings.CutPrefix with ASCII case folding on the prefix.
func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return strings.TrimSpace(s[len(prefix):]), true
}
