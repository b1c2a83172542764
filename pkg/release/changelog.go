package release

import (
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/cuttercd/cutter/pkg/convention"
	"github.com/cuttercd/cutter/pkg/vcs"
)

// Notes renders the changelog section for one release: the version
// heading, then the released commits grouped by what they called for,
// newest first within each group. Commits that called for nothing are
// left out; they rode along but have nothing to announce.
func Notes(v semver.Version, at time.Time, commits []vcs.Commit) string {
	var breaking, features, fixes []string
	for i := len(commits) - 1; i >= 0; i-- {
		c := commits[i]
		entry := fmt.Sprintf("- %s (%s)", convention.Description(c.Message), c.ShortID())
		switch convention.Classify(c.Message) {
		case convention.Major:
			breaking = append(breaking, entry)
		case convention.Minor:
			features = append(features, entry)
		case convention.Patch:
			fixes = append(fixes, entry)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s (%s)\n", convention.FormatTag(v), at.Format("2006-01-02"))
	section := func(title string, entries []string) {
		if len(entries) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n### %s\n\n", title)
		for _, e := range entries {
			b.WriteString(e)
			b.WriteByte('\n')
		}
	}
	section("Breaking changes", breaking)
	section("Features", features)
	section("Fixes", fixes)
	return b.String()
}
