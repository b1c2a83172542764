package policy

import (
	"regexp"
	"strings"

	"github.com/ryanuber/go-glob"
)

const (
	globPrefix      = "glob:"
	regexpPrefix    = "regexp:"
	regexpAltPrefix = "regex:"
)

// Pattern provides an interface to match branch names.
type Pattern interface {
	// Matches returns true if the given branch matches the pattern.
	Matches(branch string) bool
	// String returns the prefixed string representation.
	String() string
	// Valid returns true if the pattern is considered valid.
	Valid() bool
}

type GlobPattern string

// RegexpPattern matches by regular expression.
type RegexpPattern struct {
	pattern string // pattern without prefix
	regexp  *regexp.Regexp
}

// NewPattern instantiates a Pattern according to the prefix it finds.
// The prefix can be either `glob:` (default if omitted) or `regexp:`.
func NewPattern(pattern string) Pattern {
	switch {
	case strings.HasPrefix(pattern, regexpPrefix):
		pattern = strings.TrimPrefix(pattern, regexpPrefix)
		r, _ := regexp.Compile(pattern)
		return RegexpPattern{pattern, r}
	case strings.HasPrefix(pattern, regexpAltPrefix):
		pattern = strings.TrimPrefix(pattern, regexpAltPrefix)
		r, _ := regexp.Compile(pattern)
		return RegexpPattern{pattern, r}
	default:
		return GlobPattern(strings.TrimPrefix(pattern, globPrefix))
	}
}

func (g GlobPattern) Matches(branch string) bool {
	return glob.Glob(string(g), branch)
}

func (g GlobPattern) String() string {
	return globPrefix + string(g)
}

func (g GlobPattern) Valid() bool {
	return true
}

func (r RegexpPattern) Matches(branch string) bool {
	if r.regexp == nil {
		// Invalid regexp match anything
		return true
	}
	return r.regexp.MatchString(branch)
}

func (r RegexpPattern) String() string {
	return regexpPrefix + r.pattern
}

func (r RegexpPattern) Valid() bool {
	return r.regexp != nil
}
