package changes

import (
	"strings"
)

// Kind is the classification of one line of itemized rsync output.
type Kind int

const (
	Unrecognized Kind = iota
	Outbound
	Inbound
	Deleted
)

const deletingMarker = "*deleting"

func (k Kind) String() string {
	switch k {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	case Deleted:
		return "delete"
	default:
		return "unrecognized"
	}
}

// Line is a classified output line. Path is empty for Unrecognized lines.
type Line struct {
	Kind Kind
	Path string
}

// ClassifyLine classifies a single output line by its prefix:
//
//	>f<flags> <path>    outbound file change
//	<f<flags> <path>    inbound file change
//	*deleting <path>    deletion
//
// Anything else, including progress lines, is Unrecognized.
func ClassifyLine(line string) Line {
	switch {
	case strings.HasPrefix(line, ">f"):
		if path, ok := pathAfterFlags(line); ok {
			return Line{Kind: Outbound, Path: path}
		}
	case strings.HasPrefix(line, "<f"):
		if path, ok := pathAfterFlags(line); ok {
			return Line{Kind: Inbound, Path: path}
		}
	case strings.HasPrefix(line, deletingMarker):
		rest := line[len(deletingMarker):]
		if path, ok := trimSeparator(rest); ok {
			return Line{Kind: Deleted, Path: path}
		}
	}
	return Line{Kind: Unrecognized}
}

// pathAfterFlags skips the itemize flag field and the whitespace after it.
func pathAfterFlags(line string) (string, bool) {
	idx := strings.IndexAny(line, " \t")
	if idx < 0 {
		return "", false
	}
	return trimSeparator(line[idx:])
}

// trimSeparator requires at least one leading blank and strips the run of
// blanks. The remainder is the path, kept verbatim.
func trimSeparator(s string) (string, bool) {
	if s == "" || (s[0] != ' ' && s[0] != '\t') {
		return "", false
	}
	path := strings.TrimLeft(s, " \t")
	if path == "" {
		return "", false
	}
	return path, true
}
