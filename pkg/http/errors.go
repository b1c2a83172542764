package http

import (
	"errors"

	cuttererr "github.com/cuttercd/cutter/pkg/errors"
)

func MakeAPINotFound(path string) *cuttererr.Error {
	return &cuttererr.Error{
		Type: cuttererr.Missing,
		Help: `The API endpoint requested is not supported by this server.

This indicates that whatever sent the request -- a webhook
configuration, a script, or a tool -- was written against a different
version of the API. Please see

    https://github.com/cuttercd/cutter/releases

for a description of the API served by each release.

If you still have problems, please file an issue at

    https://github.com/cuttercd/cutter/issues

mentioning what you were attempting to do, and include this path:

    ` + path + `
`,
		Err: errors.New("API endpoint not found"),
	}
}
