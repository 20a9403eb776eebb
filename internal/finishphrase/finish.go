// Package finishphrase tests output lines against a fixed set of
// case-insensitive completion idioms. A match is advisory only: it never
// by itself drives a session to completed, but an engine can use it to
// shorten a quiet window on a strong finish signal.
package finishphrase

import "regexp"

// phrases are compiled once at package init, as a fixed table rather than
// a tool-configurable one.
var phrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)[✔✓]`),
	regexp.MustCompile(`(?i)\bsuccess\b`),
	regexp.MustCompile(`(?i)\bdone\b`),
	regexp.MustCompile(`(?i)\bcompleted\b`),
	regexp.MustCompile(`(?i)all tests passed`),
	regexp.MustCompile(`(?i)\b(added|audited) \d+ packages?\b`),
	regexp.MustCompile(`(?i)\bup to date\b`),
	regexp.MustCompile(`(?i)built successfully`),
	regexp.MustCompile(`(?i)build succeeded`),
	regexp.MustCompile(`(?i)build failed`),
	regexp.MustCompile(`(?i)listening on https?`),
	regexp.MustCompile(`(?i)running on https?`),
	regexp.MustCompile(`(?i)\bpublished\b`),
	regexp.MustCompile(`(?i)\bpushed\b`),
	regexp.MustCompile(`(?i)done in \d+(\.\d+)?s`),
	regexp.MustCompile(`(?i)total time:\s*\d+[smh]`),
}

// LooksFinished reports whether line matches any known completion idiom.
// Advisory only: callers must not transition a session to completed on
// this result alone.
func LooksFinished(line string) bool {
	for _, p := range phrases {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}
