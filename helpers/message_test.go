package helpers

import (
	"strings"
	"testing"
	"time"
)

func TestNormalizeCRLF(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"a\nb", "a\r\nb"},
		{"a\r\nb", "a\r\nb"},
		{"a\nb\r\nc\n", "a\r\nb\r\nc\r\n"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeCRLF(tt.input); got != tt.want {
			t.Errorf("NormalizeCRLF(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestExtractSubject(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		wantSubject string
		wantBody    string
	}{
		{
			name:        "subject in header block",
			data:        "Subject: Hello\r\n\r\nBody text\r\n",
			wantSubject: "Hello",
			wantBody:    "Body text\r\n",
		},
		{
			name:        "subject among other headers",
			data:        "X-First: a\r\nSubject: Hello\r\nX-Last: b\r\n\r\nBody\r\n",
			wantSubject: "Hello",
			wantBody:    "X-First: a\r\nX-Last: b\r\n\r\nBody\r\n",
		},
		{
			name:        "no header block",
			data:        "Just a plain body without headers\r\n",
			wantSubject: "",
			wantBody:    "Just a plain body without headers\r\n",
		},
		{
			name:        "no subject header",
			data:        "X-Header: value\r\n\r\nBody\r\n",
			wantSubject: "",
			wantBody:    "X-Header: value\r\n\r\nBody\r\n",
		},
		{
			name:        "lowercase subject",
			data:        "subject: lower\r\n\r\nBody\r\n",
			wantSubject: "lower",
			wantBody:    "Body\r\n",
		},
		{
			name:        "encoded subject decoded",
			data:        "Subject: =?UTF-8?B?R3LDvMOfZQ==?=\r\n\r\nBody\r\n",
			wantSubject: "Grüße",
			wantBody:    "Body\r\n",
		},
		{
			name:        "subject line after body separator is body",
			data:        "X-Header: value\r\n\r\nSubject: not a header\r\n",
			wantSubject: "",
			wantBody:    "X-Header: value\r\n\r\nSubject: not a header\r\n",
		},
		{
			name:        "LF input normalized",
			data:        "Subject: Hi\n\nBody\n",
			wantSubject: "Hi",
			wantBody:    "Body\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, body := ExtractSubject(tt.data)
			if subject != tt.wantSubject {
				t.Errorf("subject = %q, want %q", subject, tt.wantSubject)
			}
			if body != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
		})
	}
}

func TestRenderMessage(t *testing.T) {
	receivedAt := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	rendered := RenderMessage("alice@example.com", "bob@example.com", "Hello", receivedAt, "Body line.\r\n")

	wantLines := []string{
		"From: alice@example.com",
		"To: bob@example.com",
		"Date: Fri, 15 Mar 2024 10:30:00 +0000",
		"Subject: Hello",
		"",
		"Body line.",
	}
	got := strings.Split(strings.TrimSuffix(rendered, "\r\n"), "\r\n")
	if len(got) != len(wantLines) {
		t.Fatalf("rendered %d lines, want %d:\n%q", len(got), len(wantLines), rendered)
	}
	for i := range wantLines {
		if got[i] != wantLines[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], wantLines[i])
		}
	}
}

func TestRenderMessageEncodesSubject(t *testing.T) {
	rendered := RenderMessage("a@example.com", "b@example.com", "Grüße", time.Now(), "body")
	if !strings.Contains(rendered, "Subject: =?UTF-8?B?") {
		t.Errorf("non-ASCII subject should be encoded in rendered form:\n%q", rendered)
	}
}
