package release

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuttercd/cutter/pkg/convention"
	"github.com/cuttercd/cutter/pkg/ledger"
	"github.com/cuttercd/cutter/pkg/vcs/mock"
)

const branch = "master"

func TestDecideFirstRelease(t *testing.T) {
	src := mock.NewSource()
	store := ledger.NewMem()
	src.CommitOn(branch, "feat: a")
	head := src.CommitOn(branch, "fix: b")

	d, err := Decide(context.Background(), src, store, branch, head.ID)
	assert.NoError(t, err)
	assert.True(t, d.ShouldRelease())
	assert.Equal(t, convention.Minor, d.Bump)
	assert.False(t, d.HasBase)
	assert.Len(t, d.Commits, 2)
	assert.Equal(t, "v0.1.0", d.Tag())
}

func TestDecideHeadAlreadyReleased(t *testing.T) {
	src := mock.NewSource()
	store := ledger.NewMem()
	head := src.CommitOn(branch, "feat: a")
	assert.NoError(t, store.AppendIfAbsent(context.Background(), ledger.Record{
		Tag:      "v1.2.3",
		Branch:   branch,
		CommitID: head.ID,
		Bump:     convention.Minor,
	}))

	d, err := Decide(context.Background(), src, store, branch, head.ID)
	assert.NoError(t, err)
	assert.True(t, d.AlreadyReleased)
	assert.False(t, d.ShouldRelease())
	assert.Equal(t, "head commit is already released", d.Reason())
}

func TestDecideFromLatestRelease(t *testing.T) {
	src := mock.NewSource()
	store := ledger.NewMem()
	released := src.CommitOn(branch, "feat: a")
	assert.NoError(t, store.AppendIfAbsent(context.Background(), ledger.Record{
		Tag:       "v1.0.0",
		Branch:    branch,
		CommitID:  released.ID,
		Bump:      convention.Minor,
		CreatedAt: time.Now(),
	}))
	src.CommitOn(branch, "docs: readme")
	head := src.CommitOn(branch, "fix: leak")

	d, err := Decide(context.Background(), src, store, branch, head.ID)
	assert.NoError(t, err)
	assert.True(t, d.ShouldRelease())
	assert.Equal(t, convention.Patch, d.Bump)
	assert.True(t, d.HasBase)
	assert.Equal(t, "v1.0.0", d.Base.Tag)
	// only the commits after the released one count
	assert.Len(t, d.Commits, 2)
	assert.Equal(t, "v1.0.1", d.Tag())
}

func TestDecideNothingWorthReleasing(t *testing.T) {
	src := mock.NewSource()
	store := ledger.NewMem()
	src.CommitOn(branch, "docs: typo")
	head := src.CommitOn(branch, "whoops")

	d, err := Decide(context.Background(), src, store, branch, head.ID)
	assert.NoError(t, err)
	assert.False(t, d.ShouldRelease())
	assert.Equal(t, convention.None, d.Bump)
	assert.Len(t, d.Commits, 2)
	assert.Equal(t, "none of 2 unreleased commits call for a release", d.Reason())
}

func TestDecideMarkerCommitEndsTheCycle(t *testing.T) {
	src := mock.NewSource()
	store := ledger.NewMem()
	released := src.CommitOn(branch, "feat: a")
	assert.NoError(t, store.AppendIfAbsent(context.Background(), ledger.Record{
		Tag:      "v0.1.0",
		Branch:   branch,
		CommitID: released.ID,
		Bump:     convention.Minor,
	}))
	head := src.CommitOn(branch, "chore(release): v0.1.0 [skip ci]")

	d, err := Decide(context.Background(), src, store, branch, head.ID)
	assert.NoError(t, err)
	assert.False(t, d.ShouldRelease())
}

func TestDecideBreakingChangeWins(t *testing.T) {
	src := mock.NewSource()
	store := ledger.NewMem()
	released := src.CommitOn(branch, "feat: a")
	assert.NoError(t, store.AppendIfAbsent(context.Background(), ledger.Record{
		Tag:      "v1.2.3",
		Branch:   branch,
		CommitID: released.ID,
		Bump:     convention.Minor,
	}))
	src.CommitOn(branch, "fix: small thing")
	head := src.CommitOn(branch, "feat!: new auth")

	d, err := Decide(context.Background(), src, store, branch, head.ID)
	assert.NoError(t, err)
	assert.Equal(t, convention.Major, d.Bump)
	assert.Equal(t, "v2.0.0", d.Tag())
}
