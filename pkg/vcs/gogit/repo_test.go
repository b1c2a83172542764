package gogit

import (
	"context"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuttercd/cutter/pkg/vcs"
	"github.com/cuttercd/cutter/pkg/vcs/gogit/gogittest"
)

func readyRepo(t *testing.T, u *gogittest.Upstream) (*Repo, func()) {
	repo := NewRepo(vcs.Remote{URL: u.Dir}, Timeout(30*time.Second), PollInterval(time.Hour))
	if err := repo.Ready(context.Background()); err != nil {
		t.Fatal(err)
	}
	return repo, repo.Clean
}

func TestCloneAndWalk(t *testing.T) {
	u, cleanup := gogittest.NewUpstream(t)
	defer cleanup()
	first := u.Head(t)
	second := u.CommitFile(t, "a.txt", "a", "feat: add a")
	third := u.CommitFile(t, "b.txt", "b", "fix: correct b")

	repo, clean := readyRepo(t, u)
	defer clean()

	ctx := context.Background()
	branches, err := repo.Branches(ctx)
	assert.NoError(t, err)
	assert.Contains(t, branches, gogittest.Branch)

	head, err := repo.BranchHead(ctx, gogittest.Branch)
	assert.NoError(t, err)
	assert.Equal(t, third, head)

	commits, err := repo.CommitsBetween(ctx, gogittest.Branch, first, head)
	assert.NoError(t, err)
	if assert.Len(t, commits, 2) {
		assert.Equal(t, second, commits[0].ID)
		assert.Equal(t, "feat: add a", commits[0].Subject())
		assert.Equal(t, third, commits[1].ID)
	}

	// from the root
	all, err := repo.CommitsBetween(ctx, gogittest.Branch, "", head)
	assert.NoError(t, err)
	assert.Len(t, all, 3)

	// `from` not an ancestor is an error, not an empty answer
	_, err = repo.CommitsBetween(ctx, gogittest.Branch, third, second)
	assert.Error(t, err)

	c, err := repo.Commit(ctx, second)
	assert.NoError(t, err)
	assert.Equal(t, "feat: add a", c.Subject())
}

func TestRefreshSeesNewCommits(t *testing.T) {
	u, cleanup := gogittest.NewUpstream(t)
	defer cleanup()
	repo, clean := readyRepo(t, u)
	defer clean()

	ctx := context.Background()
	before, err := repo.BranchHead(ctx, gogittest.Branch)
	assert.NoError(t, err)

	after := u.CommitFile(t, "c.txt", "c", "feat: add c")
	assert.NoError(t, repo.Refresh(ctx))

	head, err := repo.BranchHead(ctx, gogittest.Branch)
	assert.NoError(t, err)
	assert.NotEqual(t, before, head)
	assert.Equal(t, after, head)

	select {
	case <-repo.C():
	default:
		t.Error("expected a refresh signal after new commits arrived")
	}
}

func TestPushTag(t *testing.T) {
	u, cleanup := gogittest.NewUpstream(t)
	defer cleanup()
	a := u.CommitFile(t, "a.txt", "a", "feat: add a")
	b := u.CommitFile(t, "b.txt", "b", "fix: correct b")

	repo, clean := readyRepo(t, u)
	defer clean()

	ctx := context.Background()
	assert.NoError(t, repo.PushTag(ctx, "v0.1.0", a, "Release v0.1.0"))

	tags, err := repo.ReleaseTags(ctx)
	assert.NoError(t, err)
	assert.Equal(t, a, tags["v0.1.0"])

	// the upstream has it too
	assert.Contains(t, u.Tags(t), "v0.1.0")

	// pushing the same tag at the same commit is a no-op
	assert.NoError(t, repo.PushTag(ctx, "v0.1.0", a, "Release v0.1.0"))

	// at a different commit it is a conflict
	err = repo.PushTag(ctx, "v0.1.0", b, "Release v0.1.0")
	assert.True(t, vcs.IsTagConflict(err), "expected tag conflict, got %v", err)
}

func TestReleaseTagsIgnoresOtherFormats(t *testing.T) {
	u, cleanup := gogittest.NewUpstream(t)
	defer cleanup()
	a := u.CommitFile(t, "a.txt", "a", "feat: add a")
	u.Tag(t, "v0.1.0", a)
	u.Tag(t, "nightly-2020-01-01", a)
	u.Tag(t, "v0.1", a)

	repo, clean := readyRepo(t, u)
	defer clean()

	tags, err := repo.ReleaseTags(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, map[string]string{"v0.1.0": a}, tags)
}

func TestPushMarker(t *testing.T) {
	u, cleanup := gogittest.NewUpstream(t)
	defer cleanup()
	repo, clean := readyRepo(t, u)
	defer clean()

	ctx := context.Background()
	id, err := repo.PushMarker(ctx, gogittest.Branch, "chore(release): v0.1.0 [skip ci]", map[string][]byte{
		"CHANGELOG.md": []byte("## v0.1.0\n"),
	})
	assert.NoError(t, err)
	assert.Equal(t, id, u.Head(t))

	// after a refresh the mirror sees its own marker
	assert.NoError(t, repo.Refresh(ctx))
	head, err := repo.BranchHead(ctx, gogittest.Branch)
	assert.NoError(t, err)
	assert.Equal(t, id, head)

	c, err := repo.Commit(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, "chore(release): v0.1.0 [skip ci]", c.Subject())
}

func TestExport(t *testing.T) {
	u, cleanup := gogittest.NewUpstream(t)
	defer cleanup()
	a := u.CommitFile(t, "dir/file.txt", "hello", "feat: add file")
	u.CommitFile(t, "dir/file.txt", "changed", "fix: change file")

	repo, clean := readyRepo(t, u)
	defer clean()

	dir, err := ioutil.TempDir("", "cutter-export")
	assert.NoError(t, err)
	defer os.RemoveAll(dir)

	assert.NoError(t, repo.Export(context.Background(), a, dir))
	data, err := ioutil.ReadFile(dir + "/dir/file.txt")
	assert.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}
