package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIncluderFunc(t *testing.T) {
	in := IncluderFunc(func(s string) bool {
		return s == "included"
	})
	assert.True(t, in.IsIncluded("included"))
	assert.False(t, in.IsIncluded("excluded"))
}

func TestExcludeInclude(t *testing.T) {
	test := func(ei Includer, s string, expected bool) {
		if expected {
			t.Run("includes "+s, func(t *testing.T) {
				assert.True(t, ei.IsIncluded(s))
			})
		} else {
			t.Run("excludes "+s, func(t *testing.T) {
				assert.False(t, ei.IsIncluded(s))
			})
		}
	}

	// Only exclude stuff
	ei1 := ExcludeIncludeGlob{
		Exclude: []string{"kube-*"},
	}

	for _, s := range []string{
		"",
		"default",
		"staging",
		"team-kube",
	} {
		test(ei1, s, true)
	}

	for _, s := range []string{
		"kube-system",
		"kube-public",
	} {
		test(ei1, s, false)
	}

	// Explicitly include stuff
	ei2 := ExcludeIncludeGlob{
		Exclude: []string{"prod-locked"},
		Include: []string{"prod-*", "staging"},
	}

	for _, s := range []string{
		"staging",
		"prod-eu",
	} {
		test(ei2, s, true)
	}

	for _, s := range []string{
		"default",
		"prod-locked",
		"anything not explicitly included",
	} {
		test(ei2, s, false)
	}
}
