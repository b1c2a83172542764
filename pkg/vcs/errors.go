package vcs

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"

	cuttererr "github.com/cuttercd/cutter/pkg/errors"
)

// ErrFileNotFound is the cause reported by FileAt when the commit's
// tree has no file at the path.
var ErrFileNotFound = errors.New("file not found in commit")

// TagConflictError means the tag we wanted already exists and points
// somewhere else. Somebody released out from under us; the cut must
// not proceed.
type TagConflictError struct {
	Tag      string
	Existing string
	Wanted   string
}

func (e TagConflictError) Error() string {
	return fmt.Sprintf("tag %s already points at %s, wanted %s", e.Tag, e.Existing, e.Wanted)
}

func IsTagConflict(err error) bool {
	_, ok := pkgerrors.Cause(err).(TagConflictError)
	return ok
}

func IsFileNotFound(err error) bool {
	return pkgerrors.Cause(err) == ErrFileNotFound
}

func CloningError(url string, actual error) error {
	return &cuttererr.Error{
		Type: cuttererr.User,
		Err:  actual,
		Help: `Could not clone the watched git repository

There was a problem cloning the repository,

    ` + url + `

This may be because the credentials supplied to cutterd do not grant
access, or because the repository has been moved, deleted, or never
existed. Please check that there is a repository at the address above
and that the deploy key or token cutterd runs with can read it.
`,
	}
}

func UpstreamNotWritableError(url string, actual error) error {
	return &cuttererr.Error{
		Type: cuttererr.User,
		Err:  actual,
		Help: `Could not write to the watched git repository

To cut releases, cutterd must be able to push tags and marker commits
to

    ` + url + `

This failure usually means the deploy key or token cutterd runs with
is read-only. Please grant it write access; without it cutterd can
decide releases but never cut them.
`,
	}
}

func PushError(url string, actual error) error {
	return &cuttererr.Error{
		Type: cuttererr.Transient,
		Err:  actual,
		Help: `Problem pushing to the watched git repository

There was a problem pushing a release tag or marker commit to

    ` + url + `

If this has worked before, it most likely means a fast-forward push
was not possible because new commits arrived while the release was
being cut. It is safe to try again.

If it has not worked before, the deploy key or token cutterd runs
with probably doesn't have write permission.
`,
	}
}
