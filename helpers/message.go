package helpers

import (
	"strings"
	"time"
)

// NormalizeCRLF rewrites any mix of LF and CRLF line endings to CRLF.
func NormalizeCRLF(text string) string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(normalized, "\n", "\r\n")
}

// ExtractSubject splits a raw DATA body into an optional decoded Subject
// and the remaining body. Only a leading header block is inspected: lines
// up to the first empty line. If a "Subject:" header is found there, it is
// removed from the returned body along with the header block separator;
// otherwise the body is returned untouched.
func ExtractSubject(data string) (subject, body string) {
	normalized := NormalizeCRLF(data)
	headerEnd := strings.Index(normalized, "\r\n\r\n")
	if headerEnd < 0 {
		return "", normalized
	}

	headerBlock := normalized[:headerEnd]
	rest := normalized[headerEnd+4:]

	var kept []string
	found := false
	for _, line := range strings.Split(headerBlock, "\r\n") {
		if !found {
			if value, ok := strings.CutPrefix(line, "Subject:"); ok {
				subject = DecodeSubject(value)
				found = true
				continue
			}
			if value, ok := strings.CutPrefix(line, "subject:"); ok {
				subject = DecodeSubject(value)
				found = true
				continue
			}
		}
		kept = append(kept, line)
	}
	if !found {
		return "", normalized
	}
	if len(kept) == 0 {
		return subject, rest
	}
	return subject, strings.Join(kept, "\r\n") + "\r\n\r\n" + rest
}

// RenderMessage synthesizes the on-the-wire form of a stored message:
// a minimal header block followed by the body. POP3 RETR returns exactly
// this text, and the stored message size is its length.
func RenderMessage(sender, recipient, subject string, receivedAt time.Time, body string) string {
	var b strings.Builder
	b.WriteString("From: " + sender + "\r\n")
	b.WriteString("To: " + recipient + "\r\n")
	b.WriteString("Date: " + receivedAt.UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("Subject: " + EncodeSubject(subject) + "\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}
