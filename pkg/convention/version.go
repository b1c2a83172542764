package convention

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
)

// Release tags are exactly `v<major>.<minor>.<patch>`; no prerelease
// or build metadata, no padding. Tags that don't match are somebody
// else's business and are ignored wholesale.
var tagRE = regexp.MustCompile(`^v(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)$`)

func IsReleaseTag(tag string) bool {
	return tagRE.MatchString(tag)
}

// ParseTag turns a release tag into the version it names. A repository
// with no release tags is at the zero version, `semver.Version{}`.
func ParseTag(tag string) (semver.Version, error) {
	if !tagRE.MatchString(tag) {
		return semver.Version{}, errors.Errorf("malformed release tag %q", tag)
	}
	v, err := semver.NewVersion(strings.TrimPrefix(tag, "v"))
	if err != nil {
		return semver.Version{}, errors.Wrapf(err, "parsing release tag %q", tag)
	}
	return *v, nil
}

func FormatTag(v semver.Version) string {
	return "v" + v.String()
}

// Bump applies a bump kind to a base version. Bumping by None is the
// identity; callers decide whether that means "don't release".
func Bump(v semver.Version, kind BumpKind) semver.Version {
	switch kind {
	case Major:
		return v.IncMajor()
	case Minor:
		return v.IncMinor()
	case Patch:
		return v.IncPatch()
	}
	return v
}

// ReleaseCommitMessage is the message for the marker commit that
// records a cut release on the branch. The `[skip ci]` token makes the
// marker classify as None, which is what stops release cutting from
// triggering itself forever.
func ReleaseCommitMessage(v semver.Version) string {
	return fmt.Sprintf("chore(release): %s [skip ci]", FormatTag(v))
}

// ReleaseTagMessage annotates the release tag itself.
func ReleaseTagMessage(v semver.Version) string {
	return fmt.Sprintf("Release %s", FormatTag(v))
}
