package helpers

import (
	"encoding/base64"
	"strings"
)

const (
	encodedWordPrefix = "=?UTF-8?B?"
	encodedWordSuffix = "?="
)

// DecodeSubject decodes a Subject header value. A single-segment RFC 2047
// encoded word of the form =?UTF-8?B?...?= is base64-decoded; anything else
// (including malformed encoded words and multi-segment encodings) is
// returned verbatim.
func DecodeSubject(value string) string {
	trimmed := strings.TrimSpace(value)
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, encodedWordPrefix) || !strings.HasSuffix(trimmed, encodedWordSuffix) {
		return trimmed
	}
	payload := trimmed[len(encodedWordPrefix) : len(trimmed)-len(encodedWordSuffix)]
	if payload == "" || strings.Contains(payload, "?") {
		return trimmed
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return trimmed
	}
	return string(decoded)
}

// EncodeSubject wraps a subject in a UTF-8 base64 encoded word when it
// contains characters outside printable ASCII; plain subjects pass through.
func EncodeSubject(subject string) string {
	for _, r := range subject {
		if r < 32 || r > 126 {
			return encodedWordPrefix + base64.StdEncoding.EncodeToString([]byte(subject)) + encodedWordSuffix
		}
	}
	return subject
}
