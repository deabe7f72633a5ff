// Package exclude compiles the declared exclusion patterns into the forms
// consumed by rsync (filter arguments), the event watcher (regular
// expressions) and the polling watcher (a gitignore-style matcher).
package exclude

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	mapset "github.com/deckarep/golang-set/v2"
	gitignore "github.com/sabhiram/go-gitignore"
)

// Set is an ordered, de-duplicated list of glob patterns. The zero value is
// an empty set. A Set is never modified after construction.
type Set struct {
	patterns []string
}

// Resolved holds the two exclusion sets of a configuration.
type Resolved struct {
	// Base applies to every operation.
	Base Set
	// Code applies to code pushes: Base plus every pull-only directory.
	Code Set
}

// Resolve builds the base and code sets. Blank entries and duplicates are
// dropped, first occurrence wins.
func Resolve(patterns []string, pullOnly []string) Resolved {
	seen := mapset.NewThreadUnsafeSet[string]()

	base := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || !seen.Add(p) {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			slog.Warn("exclude pattern is not a valid glob", "pattern", p)
		}
		base = append(base, p)
	}

	code := append(make([]string, 0, len(base)+len(pullOnly)), base...)
	for _, dir := range pullOnly {
		dir = strings.Trim(strings.TrimSpace(dir), "/")
		if dir == "" || !seen.Add(dir) {
			continue
		}
		code = append(code, dir)
	}

	return Resolved{
		Base: Set{patterns: base},
		Code: Set{patterns: code},
	}
}

// NewSet builds a standalone set from patterns.
func NewSet(patterns ...string) Set {
	return Resolve(patterns, nil).Base
}

// Patterns returns a copy of the patterns in order.
func (s Set) Patterns() []string {
	return append([]string(nil), s.patterns...)
}

func (s Set) Len() int {
	return len(s.patterns)
}

func (s Set) Contains(pattern string) bool {
	for _, p := range s.patterns {
		if p == pattern {
			return true
		}
	}
	return false
}

// Args renders the set as rsync filter arguments.
func (s Set) Args() []string {
	args := make([]string, 0, len(s.patterns))
	for _, p := range s.patterns {
		args = append(args, "--exclude="+p)
	}
	return args
}

// Regexes returns the regular-expression form of every pattern.
func (s Set) Regexes() []string {
	out := make([]string, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, GlobToRegex(p))
	}
	return out
}

// CompileRegexes compiles Regexes. A pattern whose conversion does not
// compile (an unbalanced bracket, say) is skipped with a warning.
func (s Set) CompileRegexes() []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(s.patterns))
	for _, expr := range s.Regexes() {
		re, err := regexp.Compile(expr)
		if err != nil {
			slog.Warn("exclude regex skipped", "regex", expr, "error", err)
			continue
		}
		res = append(res, re)
	}
	return res
}

// Matcher returns a matcher with the semantics rsync gives a bare
// --exclude pattern: a pattern without a slash matches at any depth.
func (s Set) Matcher() *Matcher {
	return &Matcher{ignore: gitignore.CompileIgnoreLines(s.patterns...)}
}

// Matcher tests slash-separated paths relative to the synced root.
type Matcher struct {
	ignore *gitignore.GitIgnore
}

func (m *Matcher) Match(relPath string) bool {
	if m == nil || m.ignore == nil {
		return false
	}
	return m.ignore.MatchesPath(relPath)
}

// GlobToRegex converts a glob into a regular expression matched against a
// slash-separated relative path. The glob must match whole path segments:
// ".git" matches ".git/HEAD" and "sub/.git" but not ".gitignore". A leading
// '/' anchors the glob at the root and a trailing '/' is dropped.
// Metacharacters are escaped, '*' and '?' stay inside one segment, "**"
// crosses segments and bracket expressions are kept as character classes.
func GlobToRegex(glob string) string {
	var sb strings.Builder
	sb.Grow(len(glob)*2 + 12)

	if rest, ok := strings.CutPrefix(glob, "/"); ok {
		glob = rest
		sb.WriteByte('^')
	} else {
		sb.WriteString("(^|/)")
	}
	glob = strings.TrimRight(glob, "/")

	runes := []rune(glob)
	inClass, classStart := false, false
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case classStart && r == '!':
			classStart = false
			sb.WriteByte('^')
		case inClass:
			classStart = false
			if r == ']' {
				inClass = false
			}
			sb.WriteRune(r)
		case r == '*' && i+1 < len(runes) && runes[i+1] == '*':
			i++
			if i+1 < len(runes) && runes[i+1] == '/' {
				i++
				sb.WriteString("(.*/)?")
			} else {
				sb.WriteString(".*")
			}
		case r == '*':
			sb.WriteString("[^/]*")
		case r == '?':
			sb.WriteString("[^/]")
		case r == '[':
			inClass, classStart = true, true
			sb.WriteRune(r)
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}

	sb.WriteString("(/|$)")
	return sb.String()
}
