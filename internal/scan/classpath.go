package scan

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedIndex is returned for a classpath index line that is neither
// blank nor of the form - "path".
var ErrMalformedIndex = errors.New("malformed classpath index")

// ParseClasspathIndex returns the archive paths listed in a classpath index,
// in listed order. Blank lines are ignored.
func ParseClasspathIndex(data []byte) ([]string, error) {
	var names []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 4096), len(data)+1)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		name, ok := parseIndexLine(line)
		if !ok {
			return nil, fmt.Errorf("line %d: %q: %w", lineNo, line, ErrMalformedIndex)
		}
		names = append(names, name)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading classpath index: %w", err)
	}
	return names, nil
}

func parseIndexLine(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, "- ")
	if !ok {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	if len(rest) < 3 || rest[0] != '"' || rest[len(rest)-1] != '"' {
		return "", false
	}
	name := rest[1 : len(rest)-1]
	if strings.ContainsRune(name, '"') {
		return "", false
	}
	return name, true
}
