package vcs

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/whilp/git-urls"
)

// Remote points at a git repo somewhere.
type Remote struct {
	// URL is where we clone from
	URL string `json:"url"`
}

func (r Remote) SafeURL() string {
	u, err := giturls.Parse(r.URL)
	if err != nil {
		return fmt.Sprintf("<unparseable: %s>", r.URL)
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}

// Repo returns the `owner/name` path of the remote, with any `.git`
// suffix trimmed. This is what release publishers (e.g., GitHub) use
// to address the repository's API.
func (r Remote) Repo() (owner, name string, err error) {
	u, err := giturls.Parse(r.URL)
	if err != nil {
		return "", "", err
	}
	path := strings.TrimSuffix(strings.TrimPrefix(u.Path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("remote %s has no owner/name path", r.SafeURL())
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
}

// Equivalent compares the given URL with the remote URL without taking
// protocols or `.git` suffixes into account.
func (r Remote) Equivalent(u string) bool {
	lu, err := giturls.Parse(r.URL)
	if err != nil {
		return false
	}
	ru, err := giturls.Parse(u)
	if err != nil {
		return false
	}
	trimPath := func(p string) string {
		return strings.TrimSuffix(strings.TrimPrefix(p, "/"), ".git")
	}
	return lu.Host == ru.Host && trimPath(lu.Path) == trimPath(ru.Path)
}
