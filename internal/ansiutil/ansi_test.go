package ansiutil

import "testing"

func TestStrip(t *testing.T) {
	cases := map[string]string{
		"plain text":                  "plain text",
		"\x1b[31mred\x1b[0m":          "red",
		"\x1b[1;32mbold green\x1b[0m": "bold green",
		"no \x1b[Hcursor move":        "no \x1b[Hcursor move", // not SGR, untouched
		"\x1b[2K\rclear line":         "\x1b[2K\rclear line",  // erase-line CSI, not SGR
	}
	for in, want := range cases {
		if got := Strip(in); got != want {
			t.Errorf("Strip(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsSpinnerFrame(t *testing.T) {
	tests := []struct {
		prev, next string
		want       bool
	}{
		{"work |", "work /", true},
		{"work /", "work -", true},
		{"work -", "work \\", true},
		{"work |  ", "work /", true}, // trailing whitespace ignored
		{"work |", "done", false},
		{"work |", "working |", false}, // length differs
		{"", "work |", false},
		{"build |", "build |", true}, // identical frame still counts
	}
	for _, tc := range tests {
		if got := IsSpinnerFrame(tc.prev, tc.next); got != tc.want {
			t.Errorf("IsSpinnerFrame(%q, %q) = %v, want %v", tc.prev, tc.next, got, tc.want)
		}
	}
}
