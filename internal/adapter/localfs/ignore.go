package localfs

import (
	"path"
	"strings"
)

// DefaultIgnorePatterns covers system litter, editor droppings and build
// outputs that never belong in a sync tree.
var DefaultIgnorePatterns = []string{
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	"*.tmp",
	"*.temp",
	"~*",
	"*.swp",
	"*.swo",
	".*",
	".idea/**",
	".vscode/**",
	"node_modules/**",
	"target/**",
	"build/**",
	"dist/**",
	"__pycache__/**",
	"*.pyc",
	"*.log",
	"logs/**",
}

// Matcher answers whether a relative slash-separated path is ignored.
type Matcher struct {
	patterns []string
}

// NewMatcher compiles a pattern list; nil falls back to the defaults.
func NewMatcher(patterns []string) *Matcher {
	if patterns == nil {
		patterns = DefaultIgnorePatterns
	}
	return &Matcher{patterns: patterns}
}

// Ignored checks the path and each of its leading segments against every
// pattern, so "node_modules/**" hides the whole subtree.
func (m *Matcher) Ignored(relPath string) bool {
	relPath = strings.TrimPrefix(relPath, "/")
	for _, pattern := range m.patterns {
		if matchGlob(pattern, relPath) {
			return true
		}
		for _, seg := range strings.Split(relPath, "/") {
			if matchGlob(pattern, seg) {
				return true
			}
		}
	}
	return false
}

func matchGlob(pattern, p string) bool {
	if strings.Contains(pattern, "**") {
		prefix := strings.TrimSuffix(strings.SplitN(pattern, "**", 2)[0], "/")
		return prefix != "" && (p == prefix || strings.HasPrefix(p, prefix+"/"))
	}
	ok, err := path.Match(pattern, p)
	if err != nil {
		return false
	}
	if ok {
		return true
	}
	ok, _ = path.Match(pattern, path.Base(p))
	return ok
}
