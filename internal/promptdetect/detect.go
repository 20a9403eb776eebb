// Package promptdetect recognizes shell-prompt re-appearance at the end of
// a line of output. Detection is deliberately narrow: the engine calibrates
// on the first match and never re-detects, so false positives here would
// be permanent for the life of a session (see termsession.Session's
// promptRe field).
package promptdetect

import (
	"regexp"

	"github.com/twistedxcom/termexecd/internal/ansiutil"
)

// builtins are tried in order; the first match wins.
var builtins = []*regexp.Regexp{
	// Windows PowerShell: "PS C:\some\path> "
	regexp.MustCompile(`PS .+> $`),
	// POSIX shell: "$ " or "# " at end of line.
	regexp.MustCompile(`[$#] $`),
}

// Detect tests line (after stripping ANSI) against the built-in prompt
// patterns and returns the matching compiled pattern, or nil if none match.
// The caller is responsible for caching the result; Detect itself is
// stateless.
func Detect(line string) *regexp.Regexp {
	stripped := ansiutil.Strip(line)
	for _, p := range builtins {
		if p.MatchString(stripped) {
			return p
		}
	}
	return nil
}

// Matches reports whether pattern matches line, stripping ANSI first. Used
// by the engine to re-test an already-calibrated pattern against new
// output without re-running Detect's candidate list.
func Matches(pattern *regexp.Regexp, line string) bool {
	if pattern == nil {
		return false
	}
	return pattern.MatchString(ansiutil.Strip(line))
}
