package pop3

import (
	"testing"

	"github.com/willowmail/willow/mailbox"
)

// LIST must skip marked messages but preserve the numbering of the rest.
func TestListResponsePreservesMessageNumbers(t *testing.T) {
	tests := []struct {
		name     string
		snapshot []mailbox.Message
		marked   map[int]bool
		expected []string
	}{
		{
			name: "no marks",
			snapshot: []mailbox.Message{
				{ID: 1, Size: 100},
				{ID: 2, Size: 200},
				{ID: 3, Size: 300},
			},
			marked:   map[int]bool{},
			expected: []string{"1 100", "2 200", "3 300"},
		},
		{
			name: "middle message marked",
			snapshot: []mailbox.Message{
				{ID: 1, Size: 100},
				{ID: 2, Size: 200},
				{ID: 3, Size: 300},
			},
			marked:   map[int]bool{1: true},
			expected: []string{"1 100", "3 300"},
		},
		{
			name: "first message marked",
			snapshot: []mailbox.Message{
				{ID: 1, Size: 100},
				{ID: 2, Size: 200},
			},
			marked:   map[int]bool{0: true},
			expected: []string{"2 200"},
		},
		{
			name:     "empty mailbox",
			snapshot: nil,
			marked:   map[int]bool{},
			expected: []string{},
		},
		{
			name: "all marked",
			snapshot: []mailbox.Message{
				{ID: 1, Size: 100},
			},
			marked:   map[int]bool{0: true},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := buildListResponseLines(tt.snapshot, tt.marked)
			if len(lines) != len(tt.expected) {
				t.Fatalf("got %d lines, want %d: %v", len(lines), len(tt.expected), lines)
			}
			for i := range tt.expected {
				if lines[i] != tt.expected[i] {
					t.Errorf("line %d = %q, want %q", i, lines[i], tt.expected[i])
				}
			}
		})
	}
}

func TestStatTotalsExcludeMarked(t *testing.T) {
	snapshot := []mailbox.Message{
		{ID: 1, Size: 100},
		{ID: 2, Size: 200},
		{ID: 3, Size: 300},
	}

	count, size := statTotals(snapshot, map[int]bool{})
	if count != 3 || size != 600 {
		t.Errorf("statTotals() = %d, %d; want 3, 600", count, size)
	}

	count, size = statTotals(snapshot, map[int]bool{1: true})
	if count != 2 || size != 400 {
		t.Errorf("statTotals() with mark = %d, %d; want 2, 400", count, size)
	}
}

func TestDotStuff(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no dots",
			input:    "Line 1\r\nLine 2\r\nLine 3",
			expected: "Line 1\r\nLine 2\r\nLine 3",
		},
		{
			name:     "dot at start of line",
			input:    ".Line 1\r\nLine 2\r\n.Line 3",
			expected: "..Line 1\r\nLine 2\r\n..Line 3",
		},
		{
			name:     "dot terminator in body",
			input:    "Line 1\r\n.\r\nLine 2",
			expected: "Line 1\r\n..\r\nLine 2",
		},
		{
			name:     "dot in middle of line",
			input:    "This is a . in the middle\r\nAnother line",
			expected: "This is a . in the middle\r\nAnother line",
		},
		{
			name:     "empty message",
			input:    "",
			expected: "",
		},
		{
			name:     "single dot",
			input:    ".",
			expected: "..",
		},
		{
			name:     "just terminator sequence",
			input:    ".\r\n",
			expected: "..\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := dotStuff(tt.input)
			if result != tt.expected {
				t.Errorf("dotStuff() = %q, want %q", result, tt.expected)
			}
		})
	}
}
