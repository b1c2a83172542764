package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGlobPattern(t *testing.T) {
	for _, test := range []struct {
		spec, branch string
		matches      bool
	}{
		{"master", "master", true},
		{"master", "develop", false},
		{"glob:master", "master", true},
		{"release-*", "release-1.x", true},
		{"release-*", "master", false},
		{"*", "anything", true},
	} {
		p := NewPattern(test.spec)
		assert.True(t, p.Valid())
		assert.Equal(t, test.matches, p.Matches(test.branch), "%s against %s", test.spec, test.branch)
	}
}

func TestRegexpPattern(t *testing.T) {
	p := NewPattern("regexp:^hotfix/")
	assert.True(t, p.Valid())
	assert.True(t, p.Matches("hotfix/login"))
	assert.False(t, p.Matches("feature/login"))

	alt := NewPattern("regex:^hotfix/")
	assert.True(t, alt.Matches("hotfix/login"))

	invalid := NewPattern("regexp:*[")
	assert.False(t, invalid.Valid())
}

func TestSet(t *testing.T) {
	set := NewSet([]string{"master", "glob:release-*", ""})
	assert.Len(t, set, 2)
	assert.True(t, set.Valid())
	assert.True(t, set.Matches("master"))
	assert.True(t, set.Matches("release-2.x"))
	assert.False(t, set.Matches("develop"))
	assert.Equal(t, "glob:master,glob:release-*", set.String())
}
