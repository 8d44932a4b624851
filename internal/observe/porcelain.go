package observe

import (
	"strconv"
	"strings"
)

// StatusEntry is one changed or unmerged path from porcelain v2 output.
// XY holds the two-character index/worktree status codes.
type StatusEntry struct {
	XY       string
	Path     string
	OrigPath string
}

// Status is the decoded result of `git status --porcelain=v2 --branch
// --ahead-behind` plus untracked paths.
type Status struct {
	Branch   string
	Upstream string
	Commit   string
	Ahead    int
	Behind   int

	Changed   []StatusEntry
	Unmerged  []StatusEntry
	Untracked []string
}

// ParsePorcelain decodes porcelain v2 status output. Parsing is total:
// unrecognized headers are reported through warn and skipped; malformed
// entries are a ParseError carrying the offending line.
func ParsePorcelain(out string, warn func(string)) (*Status, error) {
	if warn == nil {
		warn = func(string) {}
	}
	st := &Status{}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		switch line[0] {
		case '#':
			if err := parseHeader(st, line, warn); err != nil {
				return nil, err
			}
		case '1':
			entry, err := parseOrdinary(line)
			if err != nil {
				return nil, err
			}
			st.Changed = append(st.Changed, entry)
		case '2':
			entry, err := parseRename(line)
			if err != nil {
				return nil, err
			}
			st.Changed = append(st.Changed, entry)
		case 'u':
			entry, err := parseUnmerged(line)
			if err != nil {
				return nil, err
			}
			st.Unmerged = append(st.Unmerged, entry)
		case '?':
			st.Untracked = append(st.Untracked, decodePath(strings.TrimPrefix(line, "? ")))
		case '!':
			// Ignored entries are not interesting here.
		default:
			return nil, &ParseError{Source: "status --porcelain=v2", Detail: "malformed entry: " + line}
		}
	}
	return st, nil
}

func parseHeader(st *Status, line string, warn func(string)) error {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 || !strings.HasPrefix(fields[1], "branch.") {
		warn("ignoring unrecognized status header: " + line)
		return nil
	}
	value := ""
	if len(fields) == 3 {
		value = fields[2]
	}
	switch fields[1] {
	case "branch.oid":
		st.Commit = value
	case "branch.head":
		st.Branch = value
	case "branch.upstream":
		st.Upstream = value
	case "branch.ab":
		parts := strings.Fields(value)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], "+") || !strings.HasPrefix(parts[1], "-") {
			return &ParseError{Source: "status --porcelain=v2", Detail: "malformed branch.ab header: " + line}
		}
		ahead, err1 := strconv.Atoi(parts[0][1:])
		behind, err2 := strconv.Atoi(parts[1][1:])
		if err1 != nil || err2 != nil {
			return &ParseError{Source: "status --porcelain=v2", Detail: "malformed branch.ab counts: " + line}
		}
		st.Ahead, st.Behind = ahead, behind
	default:
		warn("ignoring unrecognized status header: " + line)
	}
	return nil
}

// parseOrdinary decodes a `1 XY sub mH mI mW hH hI path` entry.
func parseOrdinary(line string) (StatusEntry, error) {
	fields := strings.SplitN(line, " ", 9)
	if len(fields) != 9 {
		return StatusEntry{}, &ParseError{Source: "status --porcelain=v2", Detail: "malformed changed entry: " + line}
	}
	return StatusEntry{XY: fields[1], Path: decodePath(fields[8])}, nil
}

// parseRename decodes a `2 XY sub mH mI mW hH hI Xscore path<TAB>origPath` entry.
func parseRename(line string) (StatusEntry, error) {
	fields := strings.SplitN(line, " ", 10)
	if len(fields) != 10 {
		return StatusEntry{}, &ParseError{Source: "status --porcelain=v2", Detail: "malformed rename entry: " + line}
	}
	paths := strings.SplitN(fields[9], "\t", 2)
	if len(paths) != 2 {
		return StatusEntry{}, &ParseError{Source: "status --porcelain=v2", Detail: "rename entry missing original path: " + line}
	}
	return StatusEntry{XY: fields[1], Path: decodePath(paths[0]), OrigPath: decodePath(paths[1])}, nil
}

// parseUnmerged decodes a `u XY sub m1 m2 m3 mW h1 h2 h3 path` entry.
func parseUnmerged(line string) (StatusEntry, error) {
	fields := strings.SplitN(line, " ", 11)
	if len(fields) != 11 {
		return StatusEntry{}, &ParseError{Source: "status --porcelain=v2", Detail: "malformed unmerged entry: " + line}
	}
	return StatusEntry{XY: fields[1], Path: decodePath(fields[10])}, nil
}

// decodePath reverses git's C-style quoting for paths with embedded spaces,
// quotes, or non-ASCII bytes. Unquoted paths pass through untouched, so the
// decode is byte-precise either way.
func decodePath(raw string) string {
	if len(raw) < 2 || raw[0] != '"' || raw[len(raw)-1] != '"' {
		return raw
	}
	body := raw[1 : len(raw)-1]
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i+1 >= len(body) {
			b.WriteByte(c)
			continue
		}
		i++
		switch body[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		case '0', '1', '2', '3':
			if i+2 < len(body) {
				if n, err := strconv.ParseUint(body[i:i+3], 8, 8); err == nil {
					b.WriteByte(byte(n))
					i += 2
					continue
				}
			}
			b.WriteByte(body[i])
		default:
			b.WriteByte(body[i])
		}
	}
	return b.String()
}
