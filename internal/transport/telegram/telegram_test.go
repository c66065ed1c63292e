package telegram

import (
	"strings"
	"testing"
)

func TestSplitText(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		limit int
		want  []string
	}{
		{"short passes through", "hello", 10, []string{"hello"}},
		{"exact limit", "12345", 5, []string{"12345"}},
		{"prefers newline", "aaa\nbbb\nccc", 8, []string{"aaa\nbbb", "ccc"}},
		{"hard cut without newline", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"empty", "", 5, []string{""}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := splitText(tc.in, tc.limit)
			if len(got) != len(tc.want) {
				t.Fatalf("chunks = %q, want %q", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("chunk %d = %q, want %q", i, got[i], tc.want[i])
				}
			}
			for i, c := range got {
				if len(c) > tc.limit {
					t.Fatalf("chunk %d exceeds limit: %d > %d", i, len(c), tc.limit)
				}
			}
		})
	}
}

func TestSplitTextReassembles(t *testing.T) {
	in := strings.Repeat("line one\nline two\n", 400)
	chunks := splitText(in, telegramTextLimit)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for %d bytes", len(in))
	}
	// Joining with the newlines trimmed at cut points must preserve content.
	joined := strings.Join(chunks, "\n")
	if strings.TrimRight(joined, "\n") != strings.TrimRight(in, "\n") {
		t.Fatalf("content lost across chunk boundaries")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Fatalf("truncate short = %q", got)
	}
	got := truncate(strings.Repeat("x", 20), 10)
	if len(got) != 10 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate long = %q", got)
	}
}
