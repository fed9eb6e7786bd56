package helpers

import "testing"

func TestDecodeSubject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: "Hello world", want: "Hello world"},
		{name: "leading whitespace trimmed", input: "   Hello", want: "Hello"},
		{name: "encoded word", input: "=?UTF-8?B?SGVsbG8gd29ybGQ=?=", want: "Hello world"},
		{name: "encoded umlauts", input: "=?UTF-8?B?R3LDvMOfZQ==?=", want: "Grüße"},
		{name: "lowercase charset", input: "=?utf-8?B?SGVsbG8=?=", want: "Hello"},
		{name: "invalid base64 passes through", input: "=?UTF-8?B?not base64!?=", want: "=?UTF-8?B?not base64!?="},
		{name: "multi segment passes through", input: "=?UTF-8?B?SGk=?= =?UTF-8?B?dGhlcmU=?=", want: "=?UTF-8?B?SGk=?= =?UTF-8?B?dGhlcmU=?="},
		{name: "empty payload passes through", input: "=?UTF-8?B??=", want: "=?UTF-8?B??="},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeSubject(tt.input); got != tt.want {
				t.Errorf("DecodeSubject(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestEncodeSubject(t *testing.T) {
	if got := EncodeSubject("Plain ASCII subject"); got != "Plain ASCII subject" {
		t.Errorf("ASCII subject should pass through, got %q", got)
	}

	encoded := EncodeSubject("Grüße")
	if encoded == "Grüße" {
		t.Fatalf("non-ASCII subject should be encoded")
	}
	if got := DecodeSubject(encoded); got != "Grüße" {
		t.Errorf("round trip = %q, want Grüße", got)
	}
}
