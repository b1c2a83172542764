package release

import (
	"fmt"

	cuttererr "github.com/cuttercd/cutter/pkg/errors"
	"github.com/cuttercd/cutter/pkg/ledger"
)

// tagOwnershipError covers the repository and the ledger disagreeing
// about a release tag. Nothing automatic can be done about it.
func tagOwnershipError(err error) error {
	return &cuttererr.Error{
		Type: cuttererr.User,
		Err:  err,
		Help: `The repository already has this release tag, on a different commit
than the ledger says was released.

The ledger and the repository disagree about history, which usually
means somebody has pushed release tags by hand, or the ledger data has
been damaged. Cutter will not guess which. No further releases will be
cut on this branch until the tags and the ledger agree again.

Compare the tags upstream, e.g.

    git ls-remote --tags <upstream URL>

with the ledger contents (GET /v1/releases) to find the disagreement.
`,
	}
}

// staleDecisionError covers a decision losing its version number to a
// release cut in the meantime. Harmless; the next commit event will
// decide afresh against the current ledger.
func staleDecisionError(d Decision, taken ledger.Record) error {
	return &cuttererr.Error{
		Type: cuttererr.Conflict,
		Err: fmt.Errorf("version %s went to commit %s while deciding on commit %s",
			d.Tag(), taken.CommitID, d.Head),
		Help: `Another release was cut on this branch while this decision was being
made, and it took the version number this decision had chosen.

Nothing has been done. The decision was computed against ledger state
that no longer holds; the next commit event on the branch will decide
again from the current state.
`,
	}
}

// publishFailedError covers metadata publishing failing after the
// release itself has been cut.
func publishFailedError(err error) error {
	return &cuttererr.Error{
		Type: cuttererr.Transient,
		Err:  err,
		Help: `The release was cut, but publishing its metadata failed even after
retries.

The tag and the ledger record exist, and the build pipeline carries on
regardless; only the published release page is missing or incomplete.
Cutter fills it in if a cut for the same commit ever runs again; you
can also create the release page by hand.

If this keeps happening, check connectivity and credentials for the
metadata store.
`,
	}
}
