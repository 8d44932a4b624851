package observe

import (
	"bytes"
	"path"
	"strings"
)

// Conflict marker prefixes. A region opens with <<<<<<<, may carry a
// ||||||| base section (diff3/zdiff3 styles), contains exactly one
// ======= separator, and closes with >>>>>>>.
const (
	markerOurs      = "<<<<<<<"
	markerBase      = "|||||||"
	markerSeparator = "======="
	markerTheirs    = ">>>>>>>"
)

// lockFilenames are exact basenames treated as lock files regardless of
// extension. Checked before extension classification so package-lock.json
// lands in the lock bucket, not json.
var lockFilenames = map[string]bool{
	"package-lock.json": true,
	"yarn.lock":         true,
	"Gemfile.lock":      true,
	"Cargo.lock":        true,
	"poetry.lock":       true,
	"composer.lock":     true,
	"Pipfile.lock":      true,
	"go.sum":            true,
}

// ClassifyConflict maps a path and its working-copy bytes to a conflict type.
func ClassifyConflict(p string, content []byte) ConflictType {
	base := path.Base(p)
	if lockFilenames[base] || strings.HasSuffix(base, ".lock") {
		return ConflictLock
	}
	switch strings.ToLower(path.Ext(base)) {
	case ".json":
		return ConflictJSON
	case ".yaml", ".yml":
		return ConflictYAML
	}
	if isBinary(content) {
		return ConflictBinary
	}
	return ConflictText
}

// isBinary sniffs for a null byte in the leading window, the same test git
// itself uses to decide a file is binary.
func isBinary(content []byte) bool {
	window := content
	if len(window) > 8000 {
		window = window[:8000]
	}
	return bytes.IndexByte(window, 0) >= 0
}

// hunk is one conflict region split into its two sides.
type hunk struct {
	ours   []string
	theirs []string
}

// ParseConflict scans one conflicted working copy and produces its
// ConflictDetail. Binary files carry no parseable markers; they are
// reported with a single opaque hunk and a zero trivial ratio.
func ParseConflict(p string, content []byte) (ConflictDetail, error) {
	kind := ClassifyConflict(p, content)
	if kind == ConflictBinary {
		return ConflictDetail{Path: p, Hunks: 1, Type: ConflictBinary}, nil
	}

	hunks, err := scanHunks(p, content)
	if err != nil {
		return ConflictDetail{}, err
	}

	trivial := 0
	for _, h := range hunks {
		if whitespaceOnly(h) {
			trivial++
		}
	}
	detail := ConflictDetail{Path: p, Hunks: len(hunks), Type: kind}
	if len(hunks) > 0 {
		detail.TrivialRatio = float64(trivial) / float64(len(hunks))
	}
	return detail, nil
}

// scanHunks walks the file line by line collecting conflict regions.
// Unbalanced or out-of-order markers are a ParseError.
func scanHunks(p string, content []byte) ([]hunk, error) {
	const (
		outside = iota
		inOurs
		inBase
		inTheirs
	)
	malformed := func(detail string) error {
		return &ParseError{Source: p, Detail: detail}
	}

	var hunks []hunk
	var cur hunk
	state := outside

	for _, line := range strings.Split(string(content), "\n") {
		switch {
		case strings.HasPrefix(line, markerOurs):
			if state != outside {
				return nil, malformed("nested <<<<<<< marker")
			}
			cur = hunk{}
			state = inOurs
		case strings.HasPrefix(line, markerBase):
			if state != inOurs {
				return nil, malformed("unexpected ||||||| marker")
			}
			state = inBase
		case strings.HasPrefix(line, markerSeparator):
			if state != inOurs && state != inBase {
				return nil, malformed("unexpected ======= marker")
			}
			state = inTheirs
		case strings.HasPrefix(line, markerTheirs):
			if state != inTheirs {
				return nil, malformed("unexpected >>>>>>> marker")
			}
			hunks = append(hunks, cur)
			state = outside
		default:
			switch state {
			case inOurs:
				cur.ours = append(cur.ours, line)
			case inTheirs:
				cur.theirs = append(cur.theirs, line)
			}
		}
	}
	if state != outside {
		return nil, malformed("unterminated conflict region")
	}
	return hunks, nil
}

// whitespaceOnly reports whether the two sides of a hunk differ only in
// whitespace or line endings. Such hunks count as trivially resolvable.
func whitespaceOnly(h hunk) bool {
	return collapse(h.ours) == collapse(h.theirs)
}

func collapse(lines []string) string {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(strings.Join(strings.Fields(strings.TrimRight(line, "\r")), " "))
		b.WriteByte('\n')
	}
	return b.String()
}
