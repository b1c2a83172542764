package journal

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuttercd/cutter/pkg/convention"
	"github.com/cuttercd/cutter/pkg/ledger"
)

func tempPath(t *testing.T) (string, func()) {
	dir, err := ioutil.TempDir("", "cutter-journal")
	if err != nil {
		t.Fatal(err)
	}
	return filepath.Join(dir, "releases.jsonl"), func() { os.RemoveAll(dir) }
}

func record(tag, branch, commit string) ledger.Record {
	return ledger.Record{
		Tag:       tag,
		Branch:    branch,
		CommitID:  commit,
		Bump:      convention.Patch,
		CreatedAt: time.Now().UTC(),
		CreatedBy: "test",
	}
}

func TestAppendAndReload(t *testing.T) {
	path, cleanup := tempPath(t)
	defer cleanup()
	ctx := context.Background()

	store, err := Open(path)
	assert.NoError(t, err)
	assert.NoError(t, store.AppendIfAbsent(ctx, record("v0.1.0", "master", "aaa")))
	assert.NoError(t, store.AppendIfAbsent(ctx, record("v0.1.1", "master", "bbb")))
	assert.Equal(t, ledger.ErrAlreadyExists, store.AppendIfAbsent(ctx, record("v0.1.1", "master", "ccc")))
	assert.NoError(t, store.Close())

	// a new process sees the same records
	store, err = Open(path)
	assert.NoError(t, err)
	defer store.Close()

	latest, ok, err := store.Latest(ctx, "master")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v0.1.1", latest.Tag)
	assert.Equal(t, convention.Patch, latest.Bump)

	assert.Equal(t, ledger.ErrAlreadyExists, store.AppendIfAbsent(ctx, record("v0.1.0", "master", "zzz")))

	all, err := store.List(ctx, "master")
	assert.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTornFinalLineIsDropped(t *testing.T) {
	path, cleanup := tempPath(t)
	defer cleanup()
	ctx := context.Background()

	store, err := Open(path)
	assert.NoError(t, err)
	assert.NoError(t, store.AppendIfAbsent(ctx, record("v0.1.0", "master", "aaa")))
	assert.NoError(t, store.Close())

	// simulate a crash partway through an append
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0600)
	assert.NoError(t, err)
	_, err = f.WriteString(`{"tag":"v0.2.0","branch":"mas`)
	assert.NoError(t, err)
	assert.NoError(t, f.Close())

	store, err = Open(path)
	assert.NoError(t, err)
	defer store.Close()

	_, ok, err := store.ByTag(ctx, "v0.2.0")
	assert.NoError(t, err)
	assert.False(t, ok)

	// the tag from the torn append can still be recorded
	assert.NoError(t, store.AppendIfAbsent(ctx, record("v0.2.0", "master", "bbb")))
}

func TestConcurrentAppendsHaveOneWinner(t *testing.T) {
	path, cleanup := tempPath(t)
	defer cleanup()
	ctx := context.Background()

	store, err := Open(path)
	assert.NoError(t, err)
	defer store.Close()

	rec := record("v1.0.0", "master", "ccc")
	const n = 10
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

	var wins int
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.Equal(t, ledger.ErrAlreadyExists, err)
		}
	}
	assert.Equal(t, 1, wins)
}
