package daemon

import (
	"fmt"

	cuttererr "github.com/cuttercd/cutter/pkg/errors"
)

func unknownRunError(id string) error {
	return &cuttererr.Error{
		Type: cuttererr.Missing,
		Err:  fmt.Errorf("unknown run %q", id),
		Help: `Run not found

There is no run with this ID in flight, and none in the daemon's recent
history. Run history is kept in memory, so restarting the daemon loses
it; a run from before the last restart will give this error.

List current and recent runs with

    GET /v1/runs

If a run you just started gives this error repeatedly, that's probably
a bug. Please log an issue, with daemon logs if possible:

    https://github.com/cuttercd/cutter/issues
`,
	}
}

func runFinishedError(id string) error {
	return &cuttererr.Error{
		Type: cuttererr.Conflict,
		Err:  fmt.Errorf("run %q has already finished", id),
		Help: `The run has already finished

The run reached a terminal state before the cancellation arrived, so
there is nothing left to stop. Check its outcome with

    GET /v1/runs/<id>

If it deployed something you did not want, roll forward: revert the
offending commit and let the next release supersede it.
`,
	}
}

func notCancellableError(id string) error {
	return &cuttererr.Error{
		Type: cuttererr.User,
		Err:  fmt.Errorf("run %q is a decision, not a pipeline run", id),
		Help: `This run cannot be cancelled

Only pipeline runs (build through deploy) respond to cancellation, at
their phase boundaries. This run is a release decision, which is quick
and must finish or fail as a whole; interrupting one halfway could
leave a tag without its ledger record.

If the decision is taking long enough that you want to cancel it, it
is about to hit its own deadline anyway.
`,
	}
}
