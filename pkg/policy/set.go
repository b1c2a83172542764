package policy

import "strings"

// Set is the collection of branch patterns the daemon watches. A
// branch is watched if any pattern matches it.
type Set []Pattern

// NewSet builds a Set from pattern specs as given in configuration,
// e.g. `master` or `glob:release-*` or `regexp:^hotfix/`.
func NewSet(specs []string) Set {
	var set Set
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		set = append(set, NewPattern(spec))
	}
	return set
}

func (s Set) Matches(branch string) bool {
	for _, p := range s {
		if p.Matches(branch) {
			return true
		}
	}
	return false
}

// Valid returns true if every pattern in the set is valid.
func (s Set) Valid() bool {
	for _, p := range s {
		if !p.Valid() {
			return false
		}
	}
	return true
}

func (s Set) String() string {
	specs := make([]string, len(s))
	for i, p := range s {
		specs[i] = p.String()
	}
	return strings.Join(specs, ",")
}
