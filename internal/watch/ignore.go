package watch

import (
	"path/filepath"
	"strings"
	"sync"
)

// IgnorePatterns matches paths against gitignore-style rules:
//
//	*.log                match files ending in .log at any depth
//	/build/              match the build directory at the root only
//	**/node_modules/**   match node_modules anywhere
//	!keep.log            re-include a previously ignored path
//
// Later rules override earlier ones.
type IgnorePatterns struct {
	mu    sync.RWMutex
	rules []ignoreRule
}

type ignoreRule struct {
	original string
	glob     string
	negate   bool
	dirOnly  bool
	rooted   bool
}

// NewIgnorePatterns creates a matcher with the given rules.
func NewIgnorePatterns(patterns ...string) *IgnorePatterns {
	ip := &IgnorePatterns{}
	for _, p := range patterns {
		ip.Add(p)
	}
	return ip
}

// Add appends a rule. Blank lines and comments are skipped.
func (ip *IgnorePatterns) Add(pattern string) {
	pattern = strings.TrimRight(pattern, " \t")
	if pattern == "" || strings.HasPrefix(pattern, "#") {
		return
	}

	r := ignoreRule{original: pattern}
	if strings.HasPrefix(pattern, "!") {
		r.negate = true
		pattern = pattern[1:]
	}
	if strings.HasSuffix(pattern, "/") {
		r.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}
	if strings.HasPrefix(pattern, "/") {
		r.rooted = true
		pattern = pattern[1:]
	}
	if pattern == "" {
		return
	}
	r.glob = pattern

	ip.mu.Lock()
	ip.rules = append(ip.rules, r)
	ip.mu.Unlock()
}

// Match reports whether path, relative to base, is ignored. An empty base
// matches path as given.
func (ip *IgnorePatterns) Match(path, base string, isDir bool) bool {
	rel := path
	if base != "" {
		if r, err := filepath.Rel(base, path); err == nil {
			rel = r
		}
	}
	rel = filepath.ToSlash(rel)
	parts := strings.Split(rel, "/")

	ip.mu.RLock()
	defer ip.mu.RUnlock()

	ignored := false
	for _, r := range ip.rules {
		if r.matches(rel, parts, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

// Patterns returns the original rule strings.
func (ip *IgnorePatterns) Patterns() []string {
	ip.mu.RLock()
	defer ip.mu.RUnlock()

	out := make([]string, len(ip.rules))
	for i, r := range ip.rules {
		out[i] = r.original
	}
	return out
}

func (r ignoreRule) matches(rel string, parts []string, isDir bool) bool {
	if strings.Contains(r.glob, "**") {
		return matchDoubleStar(r.glob, parts)
	}

	if r.rooted {
		if r.dirOnly && !isDir && len(parts) < 2 {
			return false
		}
		if strings.Contains(r.glob, "/") {
			return globPrefix(r.glob, parts)
		}
		return glob(r.glob, parts[0]) && (isDir || !r.dirOnly || len(parts) > 1)
	}

	if strings.Contains(r.glob, "/") {
		for i := range parts {
			if globPrefix(r.glob, parts[i:]) {
				return true
			}
		}
		return false
	}

	// A bare name matches any component; a dirOnly rule needs the match to
	// be a directory, either the path itself or one of its parents.
	for i, part := range parts {
		if !glob(r.glob, part) {
			continue
		}
		last := i == len(parts)-1
		if !r.dirOnly || !last || isDir {
			return true
		}
	}
	return false
}

// matchDoubleStar handles rules containing **, which spans any number of
// path components.
func matchDoubleStar(pattern string, parts []string) bool {
	segs := strings.Split(pattern, "/")
	return matchSegments(segs, parts)
}

func matchSegments(segs, parts []string) bool {
	for len(segs) > 0 {
		if segs[0] == "**" {
			rest := segs[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(parts); i++ {
				if matchSegments(rest, parts[i:]) {
					return true
				}
			}
			return false
		}
		if len(parts) == 0 || !glob(segs[0], parts[0]) {
			return false
		}
		segs, parts = segs[1:], parts[1:]
	}
	return len(parts) == 0
}

// globPrefix matches a slash-separated pattern against the leading
// components of parts.
func globPrefix(pattern string, parts []string) bool {
	segs := strings.Split(pattern, "/")
	if len(segs) > len(parts) {
		return false
	}
	for i, s := range segs {
		if !glob(s, parts[i]) {
			return false
		}
	}
	return true
}

func glob(pattern, name string) bool {
	ok, _ := filepath.Match(pattern, name)
	return ok
}

// DefaultIgnorePatterns are paths no plugin wants to watch.
var DefaultIgnorePatterns = []string{
	".git/",
	".svn/",
	".hg/",
	"node_modules/",
	".idea/",
	".vscode/",
	"*.swp",
	"*.swo",
	"*~",
	".DS_Store",
}
