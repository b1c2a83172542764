package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuttercd/cutter/pkg/convention"
)

func record(tag, branch, commit string) Record {
	return Record{
		Tag:       tag,
		Branch:    branch,
		CommitID:  commit,
		Bump:      convention.Minor,
		CreatedAt: time.Now(),
		CreatedBy: "test",
	}
}

func TestAppendIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewMem()

	assert.NoError(t, store.AppendIfAbsent(ctx, record("v0.1.0", "master", "aaa")))

	// same tag, even on another commit
	assert.Equal(t, ErrAlreadyExists, store.AppendIfAbsent(ctx, record("v0.1.0", "master", "bbb")))
	// same commit, even under another tag
	assert.Equal(t, ErrAlreadyExists, store.AppendIfAbsent(ctx, record("v0.2.0", "master", "aaa")))

	assert.NoError(t, store.AppendIfAbsent(ctx, record("v0.2.0", "master", "bbb")))
}

func TestConcurrentAppendsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMem()
	rec := record("v1.0.0", "master", "ccc")

	const n = 20
	results := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.AppendIfAbsent(ctx, rec)
		}()
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		switch err {
		case nil:
			wins++
		case ErrAlreadyExists:
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, losses)
}

func TestLookups(t *testing.T) {
	ctx := context.Background()
	store := NewMem()
	assert.NoError(t, store.AppendIfAbsent(ctx, record("v0.1.0", "master", "aaa")))
	assert.NoError(t, store.AppendIfAbsent(ctx, record("v0.2.0", "master", "bbb")))
	assert.NoError(t, store.AppendIfAbsent(ctx, record("v1.0.1", "release-1.x", "ccc")))

	latest, ok, err := store.Latest(ctx, "master")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v0.2.0", latest.Tag)

	_, ok, err = store.Latest(ctx, "develop")
	assert.NoError(t, err)
	assert.False(t, ok)

	rec, ok, err := store.ByTag(ctx, "v1.0.1")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ccc", rec.CommitID)

	rec, ok, err = store.ByCommit(ctx, "bbb")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v0.2.0", rec.Tag)

	all, err := store.List(ctx, "")
	assert.NoError(t, err)
	assert.Len(t, all, 3)

	master, err := store.List(ctx, "master")
	assert.NoError(t, err)
	if assert.Len(t, master, 2) {
		assert.Equal(t, "v0.1.0", master[0].Tag)
		assert.Equal(t, "v0.2.0", master[1].Tag)
	}
}
