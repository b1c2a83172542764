// Package convention interprets commit messages and release tags
// according to the conventional commit format. Classification is total:
// any message, however mangled, maps to a bump kind, with "no release"
// as the fallback.
package convention

import (
	"fmt"
	"regexp"
	"strings"
)

// BumpKind is the degree of version change a commit calls for. Kinds
// are ordered; when several commits are released together the largest
// kind wins.
type BumpKind int

const (
	None BumpKind = iota
	Patch
	Minor
	Major
)

func (k BumpKind) String() string {
	switch k {
	case Patch:
		return "patch"
	case Minor:
		return "minor"
	case Major:
		return "major"
	}
	return "none"
}

// ParseBumpKind is the inverse of String. Unrecognised names are an
// error rather than silently None, since they only ever come from
// stored records or API requests.
func ParseBumpKind(s string) (BumpKind, error) {
	switch s {
	case "none":
		return None, nil
	case "patch":
		return Patch, nil
	case "minor":
		return Minor, nil
	case "major":
		return Major, nil
	}
	return None, fmt.Errorf("unknown bump kind %q", s)
}

func (k BumpKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *BumpKind) UnmarshalText(text []byte) error {
	parsed, err := ParseBumpKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Max returns the more severe of two bump kinds.
func Max(a, b BumpKind) BumpKind {
	if a > b {
		return a
	}
	return b
}

var (
	subjectRE = regexp.MustCompile(`^(fix|feat|chore|docs|refactor|test|ci)(\(.+\))?(!)?: .+`)
	skipRE    = regexp.MustCompile(`\[(skip ci|ci skip)\]`)
)

// Classify maps a full commit message to the bump kind it calls for.
//
// The subject line must look like `type(scope)!: description`, with
// scope and `!` optional. `fix` asks for a patch bump and `feat` for a
// minor one; a `!` after the type, or a `BREAKING CHANGE:` line in the
// body, asks for a major bump whatever the type. Anything else,
// including messages that don't follow the convention at all, asks for
// no release. Release marker commits carry a `[skip ci]` token and are
// classified as None without further inspection.
func Classify(message string) BumpKind {
	subject := message
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		subject = message[:i]
	}
	subject = strings.TrimSpace(subject)

	if skipRE.MatchString(subject) {
		return None
	}
	m := subjectRE.FindStringSubmatch(subject)
	if m == nil {
		return None
	}
	if m[3] == "!" || hasBreakingChange(message) {
		return Major
	}
	switch m[1] {
	case "fix":
		return Patch
	case "feat":
		return Minor
	}
	return None
}

// ClassifyAll returns the highest bump kind called for by any of the
// given messages.
func ClassifyAll(messages []string) BumpKind {
	kind := None
	for _, m := range messages {
		kind = Max(kind, Classify(m))
	}
	return kind
}

// Description is the subject line with the conventional prefix
// stripped, for presentation in changelogs. A subject that doesn't
// follow the convention comes back whole.
func Description(message string) string {
	subject := message
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		subject = message[:i]
	}
	subject = strings.TrimSpace(subject)
	if m := subjectRE.FindStringSubmatch(subject); m != nil {
		return strings.TrimSpace(strings.TrimPrefix(subject, m[1]+m[2]+m[3]+":"))
	}
	return subject
}

func hasBreakingChange(message string) bool {
	for _, line := range strings.Split(message, "\n") {
		if strings.HasPrefix(line, "BREAKING CHANGE:") || strings.HasPrefix(line, "BREAKING-CHANGE:") {
			return true
		}
	}
	return false
}
