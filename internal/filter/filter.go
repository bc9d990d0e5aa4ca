// Package filter implements the blacklist consulted before any
// side-effecting browser work. The set is immutable after load and safe for
// concurrent use without locking.
package filter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// Set is an immutable blacklist. Exact entries are matched in O(1);
// entries containing a '*' wildcard are compiled to anchored patterns and
// matched in O(pattern-count).
type Set struct {
	exact    map[string]struct{}
	patterns []*regexp.Regexp
}

// Load parses a newline-delimited blacklist from r. Blank lines and lines
// starting with '#' are ignored, and duplicate entries collapse, so loading
// the same source twice yields an identical set.
func Load(r io.Reader) (*Set, error) {
	s := &Set{exact: make(map[string]struct{})}
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		entry := strings.ToLower(line)
		if _, dup := seen[entry]; dup {
			continue
		}
		seen[entry] = struct{}{}

		if strings.Contains(entry, "*") {
			re, err := compileWildcard(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid blacklist pattern %q: %w", line, err)
			}
			s.patterns = append(s.patterns, re)
			continue
		}
		s.exact[entry] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read blacklist: %w", err)
	}

	return s, nil
}

// LoadFile loads a blacklist from the file at path.
func LoadFile(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blacklist file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Load(f)
}

// IsBlocked reports whether candidate matches any blacklist entry.
// Matching is case-insensitive and has no side effects.
func (s *Set) IsBlocked(candidate string) bool {
	c := strings.ToLower(strings.TrimSpace(candidate))
	if _, ok := s.exact[c]; ok {
		return true
	}
	for _, re := range s.patterns {
		if re.MatchString(c) {
			return true
		}
	}
	return false
}

// Len returns the number of distinct entries in the set.
func (s *Set) Len() int {
	return len(s.exact) + len(s.patterns)
}

// compileWildcard turns a '*' wildcard entry into an anchored regexp.
// Every other character is matched literally.
func compileWildcard(entry string) (*regexp.Regexp, error) {
	parts := strings.Split(entry, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.Compile("^" + strings.Join(parts, ".*") + "$")
}
