package promptdetect

import "testing"

func TestDetect(t *testing.T) {
	cases := []struct {
		line  string
		match bool
	}{
		{"PS C:\\Users\\dev> ", true},
		{"myuser@host:~/project$ ", true},
		{"root@host:/etc# ", true},
		{"\x1b[32muser@host\x1b[0m:~$ ", true},
		{"just some output", false},
		{"$ not at end of line, more text", false},
		{"almost$", false}, // missing trailing space
	}
	for _, tc := range cases {
		got := Detect(tc.line) != nil
		if got != tc.match {
			t.Errorf("Detect(%q) = %v, want %v", tc.line, got, tc.match)
		}
	}
}

func TestDetectIsStable(t *testing.T) {
	p := Detect("user@host:~$ ")
	if p == nil {
		t.Fatal("expected a match")
	}
	if !Matches(p, "other@box:/tmp$ ") {
		t.Error("compiled pattern should match a different POSIX prompt too")
	}
	if Matches(p, "PS C:\\> ") {
		t.Error("POSIX pattern should not match PowerShell prompt")
	}
}
