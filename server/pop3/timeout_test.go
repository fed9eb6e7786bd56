package pop3

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/willowmail/willow/mailbox"
)

// TestIdleTimeoutClosesSessionAndDiscardsMarks verifies that an idle
// session receives the timeout notice, loses its connection, and that
// deletion marks pending at that point are never committed.
func TestIdleTimeoutClosesSessionAndDiscardsMarks(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping timeout test in short mode")
	}

	mail := mailbox.NewMemory()
	deliver(t, mail, "bob@example.com", "First", "body one", "alice@example.com")
	deliver(t, mail, "bob@example.com", "Second", "body two", "alice@example.com")

	addr := startTestServerWithOptions(t, map[string]string{"alice": "secret"}, mail, POP3ServerOptions{
		Domain:      testDomain,
		IdleTimeout: 500 * time.Millisecond,
		ErrorDelay:  -1,
	})

	c := dialTestClient(t, addr)
	c.login("alice", "secret")
	c.expect("DELE 1", "+OK")

	// Go idle past the timeout and read the server's parting error.
	time.Sleep(time.Second)
	notice := c.readLine()
	if !strings.HasPrefix(notice, "-ERR") || !strings.Contains(notice, "Idle timeout") {
		t.Fatalf("expected idle timeout error, got %q", notice)
	}

	// The server closes the socket after the notice.
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := c.reader.ReadString('\n'); err == nil {
		t.Fatal("expected connection to be closed after idle timeout")
	}

	// A timed-out session commits nothing.
	messages, err := mail.ListMessages(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("failed to list messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages after idle timeout, got %d", len(messages))
	}
}
