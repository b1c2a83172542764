package convention

import (
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	for _, test := range []struct {
		message string
		kind    BumpKind
	}{
		{"feat: add deploy hooks", Minor},
		{"feat(api): add deploy hooks", Minor},
		{"fix: stop leaking file handles", Patch},
		{"fix(daemon): stop leaking file handles", Patch},
		{"chore: bump base image", None},
		{"docs: rewrite install guide", None},
		{"refactor: split out the queue", None},
		{"test: cover tag parsing", None},
		{"ci: cache modules between runs", None},
		{"feat!: new auth backend", Major},
		{"fix(parser)!: reject empty scopes", Major},
		{"chore!: drop deprecated flags", Major},
		{"feat: persist sessions\n\nBREAKING CHANGE: the cookie format changed", Major},
		{"fix: rework storage\n\nlong explanation\nBREAKING-CHANGE: on-disk layout", Major},
		{"feat: mentions BREAKING CHANGE: only mid-line", Minor},

		// Not conventional commits at all.
		{"", None},
		{"update stuff", None},
		{"Feat: uppercase type", None},
		{"feat:missing space", None},
		{"feat(): empty scope", None},
		{"perf: unknown type", None},
		{"feat : stray space", None},

		// Release markers and skipped commits.
		{"chore(release): v1.3.0 [skip ci]", None},
		{"feat: would be minor [ci skip]", None},
	} {
		assert.Equal(t, test.kind, Classify(test.message), "message %q", test.message)
	}
}

func TestClassifyAll(t *testing.T) {
	assert.Equal(t, None, ClassifyAll(nil))
	assert.Equal(t, Minor, ClassifyAll([]string{
		"docs: readme",
		"fix: a bug",
		"feat: a feature",
	}))
	assert.Equal(t, Major, ClassifyAll([]string{
		"feat: a feature",
		"fix: tidy up\n\nBREAKING CHANGE: config renamed",
		"chore: noise",
	}))
}

func TestBumpKindOrdering(t *testing.T) {
	assert.Equal(t, Patch, Max(None, Patch))
	assert.Equal(t, Minor, Max(Minor, Patch))
	assert.Equal(t, Major, Max(Patch, Major))
	assert.Equal(t, None, Max(None, None))
}

func TestReleaseTags(t *testing.T) {
	for tag, ok := range map[string]bool{
		"v0.1.0":     true,
		"v1.2.3":     true,
		"v10.20.30":  true,
		"1.2.3":      false,
		"v1.2":       false,
		"v1.2.3-rc1": false,
		"v1.2.3+exp": false,
		"v01.2.3":    false,
		"latest":     false,
	} {
		assert.Equal(t, ok, IsReleaseTag(tag), "tag %q", tag)
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	v, err := ParseTag("v1.2.3")
	assert.NoError(t, err)
	assert.Equal(t, "v1.2.3", FormatTag(v))

	_, err = ParseTag("v1.2.3-rc1")
	assert.Error(t, err)
}

func TestBump(t *testing.T) {
	base := semver.Version{}
	assert.Equal(t, "v0.1.0", FormatTag(Bump(base, Minor)))

	v, err := ParseTag("v1.2.3")
	assert.NoError(t, err)
	assert.Equal(t, "v1.2.4", FormatTag(Bump(v, Patch)))
	assert.Equal(t, "v1.3.0", FormatTag(Bump(v, Minor)))
	assert.Equal(t, "v2.0.0", FormatTag(Bump(v, Major)))
	assert.Equal(t, "v1.2.3", FormatTag(Bump(v, None)))
}

func TestReleaseCommitMessageTerminates(t *testing.T) {
	v, err := ParseTag("v1.3.0")
	assert.NoError(t, err)
	msg := ReleaseCommitMessage(v)
	assert.Equal(t, "chore(release): v1.3.0 [skip ci]", msg)
	assert.Equal(t, None, Classify(msg))
}
