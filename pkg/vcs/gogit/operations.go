package gogit

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	gogit "gopkg.in/src-d/go-git.v4"
	gitconfig "gopkg.in/src-d/go-git.v4/config"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/object"

	"github.com/cuttercd/cutter/pkg/convention"
	"github.com/cuttercd/cutter/pkg/vcs"
)

// mirror makes a bare clone of the upstream under rootdir, with
// branches and tags mapped to their upstream names so reads look the
// same as they would against the origin.
func (r *Repo) mirror(ctx context.Context, rootdir, url string) (*gogit.Repository, string, error) {
	dir := filepath.Join(rootdir, "mirror.git")
	repo, err := gogit.PlainInit(dir, true)
	if err != nil {
		return nil, "", errors.Wrap(err, "initialising mirror")
	}
	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
		Fetch: []gitconfig.RefSpec{
			"+refs/heads/*:refs/heads/*",
			"+refs/tags/*:refs/tags/*",
		},
	})
	if err != nil {
		return nil, "", errors.Wrap(err, "configuring mirror remote")
	}
	err = repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: "origin",
		Auth:       r.auth,
	})
	if err != nil && err != gogit.NoErrAlreadyUpToDate {
		return nil, "", err
	}
	return repo, dir, nil
}

// fetch gets updated refs, and associated objects, from the upstream.
// Callers hold r.mu.
func (r *Repo) fetch(ctx context.Context) (changed bool, err error) {
	if r.repo == nil {
		return false, ErrNotCloned
	}
	err = r.repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: "origin",
		Auth:       r.auth,
	})
	if err == gogit.NoErrAlreadyUpToDate {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "fetching from origin")
	}
	return true, nil
}

// checkPush tests that the upstream will accept a push, by pushing a
// throwaway tag and deleting it again.
func (r *Repo) checkPush(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	head, err := anyBranchHead(r.repo)
	if err != nil {
		return err
	}
	name := plumbing.ReferenceName("refs/tags/" + CheckPushTag)
	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(name, head)); err != nil {
		return err
	}
	defer r.repo.Storer.RemoveReference(name)

	push := func(spec gitconfig.RefSpec) error {
		err := r.repo.PushContext(ctx, &gogit.PushOptions{
			RemoteName: "origin",
			RefSpecs:   []gitconfig.RefSpec{spec},
			Auth:       r.auth,
		})
		if err == gogit.NoErrAlreadyUpToDate {
			return nil
		}
		return err
	}
	if err := push(gitconfig.RefSpec("+" + name + ":" + name)); err != nil {
		return vcs.UpstreamNotWritableError(r.origin.SafeURL(), err)
	}
	return push(gitconfig.RefSpec(":" + name))
}

func anyBranchHead(repo *gogit.Repository) (plumbing.Hash, error) {
	iter, err := repo.Branches()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	defer iter.Close()
	ref, err := iter.Next()
	if err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "finding a branch head")
	}
	return ref.Hash(), nil
}

func branchNames(repo *gogit.Repository) ([]string, error) {
	iter, err := repo.Branches()
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var names []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())
		return nil
	})
	return names, err
}

// releaseTags maps release tag names to the commits they point at,
// resolving annotated tags through to the tagged commit.
func releaseTags(repo *gogit.Repository) (map[string]string, error) {
	iter, err := repo.Tags()
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	tags := map[string]string{}
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		if !convention.IsReleaseTag(name) {
			return nil
		}
		target, err := tagTarget(repo, ref)
		if err != nil {
			return err
		}
		tags[name] = target
		return nil
	})
	return tags, err
}

func tagTarget(repo *gogit.Repository, ref *plumbing.Reference) (string, error) {
	if tag, err := repo.TagObject(ref.Hash()); err == nil {
		return tag.Target.String(), nil
	} else if err != plumbing.ErrObjectNotFound {
		return "", err
	}
	// lightweight tag; the ref points straight at the commit
	return ref.Hash().String(), nil
}

func (r *Repo) signature() *object.Signature {
	return &object.Signature{
		Name:  r.userName,
		Email: r.userEmail,
		When:  time.Now(),
	}
}

func convertCommit(c *object.Commit, branch string, tags []string) vcs.Commit {
	parents := make([]string, len(c.ParentHashes))
	for i, h := range c.ParentHashes {
		parents[i] = h.String()
	}
	return vcs.Commit{
		ID:        c.Hash.String(),
		ParentIDs: parents,
		Branch:    branch,
		Message:   c.Message,
		Author:    c.Author.Name,
		Tags:      tags,
		At:        c.Committer.When,
	}
}

// ---- vcs.Source

func (r *Repo) Branches(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.errorIfNotReady(); err != nil {
		return nil, err
	}
	return branchNames(r.repo)
}

func (r *Repo) BranchHead(ctx context.Context, branch string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.errorIfNotReady(); err != nil {
		return "", err
	}
	ref, err := r.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return "", errors.Wrapf(err, "resolving branch %s", branch)
	}
	return ref.Hash().String(), nil
}

func (r *Repo) Commit(ctx context.Context, id string) (vcs.Commit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.errorIfNotReady(); err != nil {
		return vcs.Commit{}, err
	}
	c, err := r.repo.CommitObject(plumbing.NewHash(id))
	if err != nil {
		return vcs.Commit{}, errors.Wrapf(err, "looking up commit %s", id)
	}
	tags, err := releaseTags(r.repo)
	if err != nil {
		return vcs.Commit{}, err
	}
	return convertCommit(c, "", tagsFor(tags, id)), nil
}

// CommitsBetween walks first parents from `to` back to, but not
// including, `from`, and returns what it finds oldest first. It is an
// error for `from` to be absent from that line of history; better to
// refuse than to misreport what a release would contain.
func (r *Repo) CommitsBetween(ctx context.Context, branch, from, to string) ([]vcs.Commit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.errorIfNotReady(); err != nil {
		return nil, err
	}

	tags, err := releaseTags(r.repo)
	if err != nil {
		return nil, err
	}

	var (
		out   []vcs.Commit
		found = from == ""
		cur   = plumbing.NewHash(to)
		stop  plumbing.Hash
	)
	if from != "" {
		stop = plumbing.NewHash(from)
	}
	for !cur.IsZero() {
		if from != "" && cur == stop {
			found = true
			break
		}
		c, err := r.repo.CommitObject(cur)
		if err != nil {
			return nil, errors.Wrapf(err, "walking history of %s", branch)
		}
		out = append(out, convertCommit(c, branch, tagsFor(tags, c.Hash.String())))
		if len(c.ParentHashes) == 0 {
			break
		}
		cur = c.ParentHashes[0]
	}
	if !found {
		return nil, errors.Errorf("commit %s is not in the first-parent history of %s", from, to)
	}
	// oldest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func tagsFor(tags map[string]string, commitID string) []string {
	var names []string
	for name, target := range tags {
		if target == commitID {
			names = append(names, name)
		}
	}
	return names
}

func (r *Repo) ReleaseTags(ctx context.Context) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.errorIfNotReady(); err != nil {
		return nil, err
	}
	return releaseTags(r.repo)
}

// PushTag creates an annotated tag in the mirror and pushes it
// upstream. A tag that already exists on the same commit is fine;
// on a different commit it is a conflict, reported as such so the
// caller can treat the release as already cut by somebody else.
func (r *Repo) PushTag(ctx context.Context, tag, commitID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errorIfNotReady(); err != nil {
		return err
	}

	if existing, err := localTagTarget(r.repo, tag); err == nil {
		if existing == commitID {
			return nil
		}
		return vcs.TagConflictError{Tag: tag, Existing: existing, Wanted: commitID}
	}

	_, err := r.repo.CreateTag(tag, plumbing.NewHash(commitID), &gogit.CreateTagOptions{
		Tagger:  r.signature(),
		Message: message,
	})
	if err != nil {
		return errors.Wrapf(err, "creating tag %s", tag)
	}

	name := plumbing.ReferenceName("refs/tags/" + tag)
	err = r.repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(name + ":" + name)},
		Auth:       r.auth,
	})
	if err != nil && err != gogit.NoErrAlreadyUpToDate {
		// The usual cause is the tag existing upstream already, i.e.,
		// we lost a race. Drop our local tag so the next fetch can
		// bring the winner in, and report the conflict.
		r.repo.Storer.RemoveReference(name)
		return vcs.TagConflictError{Tag: tag, Wanted: commitID}
	}
	r.refreshed()
	return nil
}

func localTagTarget(repo *gogit.Repository, tag string) (string, error) {
	ref, err := repo.Reference(plumbing.ReferenceName("refs/tags/"+tag), true)
	if err != nil {
		return "", err
	}
	return tagTarget(repo, ref)
}

// PushMarker commits the given files on top of the branch head, in a
// throwaway working clone, and pushes the branch upstream.
func (r *Repo) PushMarker(ctx context.Context, branch, message string, files map[string][]byte) (string, error) {
	r.mu.RLock()
	if err := r.errorIfNotReady(); err != nil {
		r.mu.RUnlock()
		return "", err
	}
	mirrorDir := r.dir
	upstream := r.origin.URL
	r.mu.RUnlock()

	working, err := ioutil.TempDir(os.TempDir(), "cutter-working")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(working)

	repo, err := gogit.PlainCloneContext(ctx, working, false, &gogit.CloneOptions{
		URL:           mirrorDir,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
	})
	if err != nil {
		return "", errors.Wrapf(err, "cloning working copy of %s", branch)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", err
	}
	for path, data := range files {
		abspath := filepath.Join(working, path)
		if err := os.MkdirAll(filepath.Dir(abspath), 0755); err != nil {
			return "", err
		}
		if err := ioutil.WriteFile(abspath, data, 0644); err != nil {
			return "", err
		}
		if _, err := wt.Add(path); err != nil {
			return "", errors.Wrapf(err, "staging %s", path)
		}
	}
	sig := r.signature()
	hash, err := wt.Commit(message, &gogit.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return "", errors.Wrap(err, "committing marker")
	}

	if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "upstream",
		URLs: []string{upstream},
	}); err != nil {
		return "", err
	}
	name := plumbing.NewBranchReferenceName(branch)
	err = repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: "upstream",
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(name + ":" + name)},
		Auth:       r.auth,
	})
	if err != nil && err != gogit.NoErrAlreadyUpToDate {
		return "", vcs.PushError(vcs.Remote{URL: upstream}.SafeURL(), err)
	}
	// Get the marker into the mirror promptly, so listeners see it.
	r.Notify()
	return hash.String(), nil
}

// FileAt reads a single file from the tree of the given commit.
func (r *Repo) FileAt(ctx context.Context, commitID, path string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.errorIfNotReady(); err != nil {
		return nil, err
	}
	c, err := r.repo.CommitObject(plumbing.NewHash(commitID))
	if err != nil {
		return nil, errors.Wrapf(err, "looking up commit %s", commitID)
	}
	f, err := c.File(path)
	if err == object.ErrFileNotFound {
		return nil, errors.Wrapf(vcs.ErrFileNotFound, "%s at %s", path, commitID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s at %s", path, commitID)
	}
	contents, err := f.Contents()
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s at %s", path, commitID)
	}
	return []byte(contents), nil
}

// Export materializes the tree of the given commit under dir.
func (r *Repo) Export(ctx context.Context, commitID, dir string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.errorIfNotReady(); err != nil {
		return err
	}
	repo, err := gogit.PlainCloneContext(ctx, dir, false, &gogit.CloneOptions{
		URL:        r.dir,
		NoCheckout: true,
	})
	if err != nil {
		return errors.Wrap(err, "cloning for export")
	}
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}
	return wt.Checkout(&gogit.CheckoutOptions{
		Hash:  plumbing.NewHash(commitID),
		Force: true,
	})
}
