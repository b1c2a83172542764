package pipeline

import (
	"fmt"

	cuttererr "github.com/cuttercd/cutter/pkg/errors"
)

func configMissingError(commitID string) error {
	return &cuttererr.Error{
		Type: cuttererr.User,
		Err:  fmt.Errorf("no %s in commit %s", ConfigFilename, commitID),
		Help: `The tagged commit has no pipeline definition

There is no ` + ConfigFilename + ` at the root of the tagged commit's
tree, so there is nothing to build or deploy. Commit one on the branch
and the next release cycle will pick it up; this run will not be
retried, since the tag pins a tree that cannot change.
`,
	}
}

func configInvalidError(err error) error {
	return &cuttererr.Error{
		Type: cuttererr.User,
		Err:  err,
		Help: `The pipeline definition could not be used

The ` + ConfigFilename + ` in the tagged commit failed validation; the
error above says which field. Fix the file on the branch and let the
next release cycle pick it up; this run will not be retried.
`,
	}
}

func buildFailedError(err error) error {
	return &cuttererr.Error{
		Type: cuttererr.Quality,
		Err:  err,
		Help: `The build failed for the tagged commit

The build command exited with an error, which means the commit this
release points at does not build. The tag stays in place and is not
built again; land a fix and let the next cycle cut a fresh release.
The command output is quoted in the error above.
`,
	}
}

func testsFailedError(err error, attempts int) error {
	return &cuttererr.Error{
		Type: cuttererr.Quality,
		Err:  fmt.Errorf("tests failed after %d attempt(s): %v", attempts, err),
		Help: `The test suite failed for the tagged commit

The test command did not pass within its allowed attempts. The tag
stays in place and is not tested again; land a fix and let the next
cycle cut a fresh release. If the suite is network-bound and merely
flaky, mark it so in ` + ConfigFilename + ` to allow retries.
`,
	}
}

func packageFailedError(err error) error {
	return &cuttererr.Error{
		Type: cuttererr.Quality,
		Err:  err,
		Help: `Packaging failed for the tagged commit

The package command exited with an error, or did not leave an artifact
where ` + ConfigFilename + ` says it would. The tag stays in place;
land a fix and let the next cycle cut a fresh release.
`,
	}
}
