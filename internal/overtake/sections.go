// Package overtake parses the section-based CSV exports written by the
// capture tool into lap records. A file is a sequence of `[Name]` marker
// lines, each opening either a key=value section or the delimited
// telemetry table.
package overtake

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/simracekit/pitwall/internal/errors"
)

var reMarker = regexp.MustCompile(`^\[([A-Za-z][A-Za-z0-9 _-]*)\]\s*$`)

// rawSection is one marker-delimited block, unvalidated.
type rawSection struct {
	name  string
	kv    map[string]string
	lines []string // non-blank body lines in file order
}

// splitSections cuts the input into marker-delimited sections. Content
// before the first marker is ignored; a file with no markers at all is
// not an export of ours.
func splitSections(r io.Reader, name string) (map[string]*rawSection, error) {
	sections := make(map[string]*rawSection)
	var current *rawSection

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			line = strings.TrimPrefix(line, "\uFEFF")
			first = false
		}
		line = strings.TrimRight(line, "\r")

		if m := reMarker.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			current = &rawSection{name: m[1], kv: make(map[string]string)}
			sections[current.name] = current
			continue
		}
		if current == nil {
			continue
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		current.lines = append(current.lines, trimmed)
		if k, v, ok := strings.Cut(trimmed, "="); ok {
			current.kv[normalizeKey(k)] = strings.TrimSpace(v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.NewIOTransient(name, err)
	}
	if len(sections) == 0 {
		return nil, errors.NewUnrecognizedFormat(name)
	}
	return sections, nil
}

// normalizeKey lowercases and trims a section key or table column name.
func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// sniffDelimiter picks the telemetry table delimiter from its header row.
// The capture tool emits semicolons in comma-decimal locales.
func sniffDelimiter(header string) string {
	if strings.Contains(header, ";") {
		return ";"
	}
	return ","
}

// splitRow splits one table line and trims each cell.
func splitRow(line, delim string) []string {
	parts := strings.Split(line, delim)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
