// Package gogittest builds throwaway git repositories for tests,
// without shelling out to git. The upstream is a bare repo; commits
// are made in a side "dev" clone and pushed, the same way a developer
// would get commits there.
package gogittest

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "gopkg.in/src-d/go-git.v4"
	gitconfig "gopkg.in/src-d/go-git.v4/config"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/object"
	"gopkg.in/src-d/go-git.v4/plumbing/transport"
)

const Branch = "master"

type Upstream struct {
	// Dir is the path of the bare repository, usable as a clone URL.
	Dir string

	devDir string
	dev    *gogit.Repository
}

// NewUpstream creates a bare upstream with a single initial commit on
// master, and returns it with a cleanup function.
func NewUpstream(t *testing.T) (*Upstream, func()) {
	root, err := ioutil.TempDir("", "cutter-gogittest")
	if err != nil {
		t.Fatal(err)
	}
	cleanup := func() { os.RemoveAll(root) }

	bareDir := filepath.Join(root, "origin.git")
	if _, err := gogit.PlainInit(bareDir, true); err != nil {
		cleanup()
		t.Fatal(err)
	}

	devDir := filepath.Join(root, "dev")
	dev, err := gogit.PlainInit(devDir, false)
	if err != nil {
		cleanup()
		t.Fatal(err)
	}
	if _, err := dev.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{bareDir},
	}); err != nil {
		cleanup()
		t.Fatal(err)
	}

	u := &Upstream{Dir: bareDir, devDir: devDir, dev: dev}
	u.CommitFile(t, "README.md", "# fixture\n", "chore: initial commit")
	return u, cleanup
}

// CommitFile writes the file in the dev clone, commits it with the
// given message, pushes to the upstream, and returns the commit ID.
func (u *Upstream) CommitFile(t *testing.T, path, content, message string) string {
	u.pull(t)

	abspath := filepath.Join(u.devDir, path)
	if err := os.MkdirAll(filepath.Dir(abspath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(abspath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	wt, err := u.dev.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add(path); err != nil {
		t.Fatal(err)
	}
	sig := &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Now()}
	hash, err := wt.Commit(message, &gogit.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		t.Fatal(err)
	}
	u.push(t, "refs/heads/"+Branch)
	return hash.String()
}

// Tag puts a lightweight tag on the given commit and pushes it.
func (u *Upstream) Tag(t *testing.T, name, commitID string) {
	ref := plumbing.NewHashReference(plumbing.ReferenceName("refs/tags/"+name), plumbing.NewHash(commitID))
	if err := u.dev.Storer.SetReference(ref); err != nil {
		t.Fatal(err)
	}
	u.push(t, "refs/tags/"+name)
}

// Head returns the upstream's branch head, read from the bare repo.
func (u *Upstream) Head(t *testing.T) string {
	bare, err := gogit.PlainOpen(u.Dir)
	if err != nil {
		t.Fatal(err)
	}
	ref, err := bare.Reference(plumbing.NewBranchReferenceName(Branch), true)
	if err != nil {
		t.Fatal(err)
	}
	return ref.Hash().String()
}

// Tags returns the upstream's tags, read from the bare repo.
func (u *Upstream) Tags(t *testing.T) map[string]string {
	bare, err := gogit.PlainOpen(u.Dir)
	if err != nil {
		t.Fatal(err)
	}
	iter, err := bare.Tags()
	if err != nil {
		t.Fatal(err)
	}
	defer iter.Close()
	tags := map[string]string{}
	iter.ForEach(func(ref *plumbing.Reference) error {
		tags[ref.Name().Short()] = ref.Hash().String()
		return nil
	})
	return tags
}

func (u *Upstream) pull(t *testing.T) {
	wt, err := u.dev.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	err = wt.Pull(&gogit.PullOptions{RemoteName: "origin"})
	switch err {
	case nil, gogit.NoErrAlreadyUpToDate, transport.ErrEmptyRemoteRepository, plumbing.ErrReferenceNotFound:
	default:
		t.Fatal(err)
	}
}

func (u *Upstream) push(t *testing.T, ref string) {
	err := u.dev.Push(&gogit.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(ref + ":" + ref)},
	})
	if err != nil && err != gogit.NoErrAlreadyUpToDate {
		t.Fatal(err)
	}
}
