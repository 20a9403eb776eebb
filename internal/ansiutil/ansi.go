// Package ansiutil strips SGR color codes and recognizes spinner-frame
// repaints so the session heuristics engine can classify terminal output
// without tripping over cosmetic noise. It never mutates the bytes a
// caller stores — only the copies it hands back for classification.
package ansiutil

import "strings"

const esc = '\x1b'

// Strip removes SGR (Select Graphic Rendition) escape sequences of the form
// ESC [ <digits-and-semicolons> m. No other CSI sequence is touched, so a
// cursor-movement or screen-clear sequence passes through untouched.
//
// Implemented as a single-pass byte scan rather than regexp: the narrow
// grammar (digits, semicolons, terminating 'm') makes backtracking
// impossible, so there's nothing regexp buys us here.
func Strip(line string) string {
	if strings.IndexByte(line, esc) < 0 {
		return line
	}

	var b strings.Builder
	b.Grow(len(line))

	i := 0
	for i < len(line) {
		if line[i] == esc && i+1 < len(line) && line[i+1] == '[' {
			j := i + 2
			for j < len(line) && (line[j] == ';' || (line[j] >= '0' && line[j] <= '9')) {
				j++
			}
			if j < len(line) && line[j] == 'm' {
				i = j + 1
				continue
			}
			// Not an SGR sequence (different terminator) — leave untouched.
		}
		b.WriteByte(line[i])
		i++
	}
	return b.String()
}

// spinnerChars are the rotating glyphs a "frame" may end in.
const spinnerChars = `|/-\`

// IsSpinnerFrame reports whether next is a repaint of prev: after stripping
// ANSI and trailing whitespace, both have equal length, their final
// character is one of | / - \, and they are otherwise identical. This lets
// the engine skip classification on cosmetic spinner ticks while the raw
// bytes still land in the session buffer verbatim.
func IsSpinnerFrame(prev, next string) bool {
	p := strings.TrimRight(Strip(prev), " \t")
	n := strings.TrimRight(Strip(next), " \t")
	if p == "" || n == "" {
		return false
	}
	if len(p) != len(n) {
		return false
	}
	lastP, lastN := p[len(p)-1], n[len(n)-1]
	if !strings.ContainsRune(spinnerChars, rune(lastN)) {
		return false
	}
	if !strings.ContainsRune(spinnerChars, rune(lastP)) {
		return false
	}
	return p[:len(p)-1] == n[:len(n)-1]
}
