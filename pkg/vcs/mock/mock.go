// Package mock provides an in-memory vcs.Source, just enough of a
// repository simulation for exercising decision and release logic:
// linear branches, lightweight tags, and a refresh signal. Pushing a
// commit with CommitOn plays the part of a developer pushing upstream.
package mock

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/cuttercd/cutter/pkg/convention"
	"github.com/cuttercd/cutter/pkg/vcs"
)

type Source struct {
	mu       sync.Mutex
	seq      int
	commits  map[string]vcs.Commit
	files    map[string]map[string][]byte
	branches map[string]string
	tags     map[string]string

	refreshed chan struct{}

	// Failure injection; when non-nil the corresponding operation
	// fails with this error instead.
	PushTagErr    error
	PushMarkerErr error
}

var _ vcs.Source = &Source{}

func NewSource() *Source {
	return &Source{
		commits:   map[string]vcs.Commit{},
		files:     map[string]map[string][]byte{},
		branches:  map[string]string{},
		tags:      map[string]string{},
		refreshed: make(chan struct{}, 1),
	}
}

// CommitOn adds a commit on top of the branch head, creating the
// branch if needed, and signals a refresh. It returns the new commit.
func (s *Source) CommitOn(branch, message string) vcs.Commit {
	return s.CommitFilesOn(branch, message, nil)
}

// CommitFilesOn is CommitOn with file changes in the new commit's tree.
func (s *Source) CommitFilesOn(branch, message string, files map[string][]byte) vcs.Commit {
	s.mu.Lock()
	c := s.addCommit(branch, message, files)
	s.mu.Unlock()
	s.signal()
	return c
}

func (s *Source) addCommit(branch, message string, files map[string][]byte) vcs.Commit {
	s.seq++
	id := fmt.Sprintf("%040x", s.seq)
	// Each commit carries its whole tree: the parent's files with the
	// new ones laid over the top.
	tree := map[string][]byte{}
	var parents []string
	if head, ok := s.branches[branch]; ok {
		parents = []string{head}
		for k, v := range s.files[head] {
			tree[k] = v
		}
	}
	for k, v := range files {
		tree[k] = v
	}
	c := vcs.Commit{
		ID:        id,
		ParentIDs: parents,
		Branch:    branch,
		Message:   message,
		Author:    "dev",
		At:        time.Now(),
	}
	s.commits[id] = c
	s.branches[branch] = id
	s.files[id] = tree
	return c
}

func (s *Source) signal() {
	select {
	case s.refreshed <- struct{}{}:
	default:
	}
}

// ---- vcs.Source

func (s *Source) Ready(ctx context.Context) error {
	return nil
}

func (s *Source) Branches(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name := range s.branches {
		names = append(names, name)
	}
	return names, nil
}

func (s *Source) BranchHead(ctx context.Context, branch string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	head, ok := s.branches[branch]
	if !ok {
		return "", errors.Errorf("no branch %s", branch)
	}
	return head, nil
}

func (s *Source) Commit(ctx context.Context, id string) (vcs.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commits[id]
	if !ok {
		return vcs.Commit{}, errors.Errorf("no commit %s", id)
	}
	c.Tags = s.tagsFor(id)
	return c, nil
}

func (s *Source) CommitsBetween(ctx context.Context, branch, from, to string) ([]vcs.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []vcs.Commit
	cur := to
	found := from == ""
	for cur != "" {
		if from != "" && cur == from {
			found = true
			break
		}
		c, ok := s.commits[cur]
		if !ok {
			return nil, errors.Errorf("no commit %s", cur)
		}
		c.Tags = s.tagsFor(cur)
		out = append(out, c)
		if len(c.ParentIDs) == 0 {
			break
		}
		cur = c.ParentIDs[0]
	}
	if !found {
		return nil, errors.Errorf("commit %s is not in the first-parent history of %s", from, to)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Source) tagsFor(id string) []string {
	var names []string
	for name, target := range s.tags {
		if target == id {
			names = append(names, name)
		}
	}
	return names
}

func (s *Source) ReleaseTags(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tags := map[string]string{}
	for name, target := range s.tags {
		if convention.IsReleaseTag(name) {
			tags[name] = target
		}
	}
	return tags, nil
}

func (s *Source) PushTag(ctx context.Context, tag, commitID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PushTagErr != nil {
		return s.PushTagErr
	}
	if existing, ok := s.tags[tag]; ok {
		if existing == commitID {
			return nil
		}
		return vcs.TagConflictError{Tag: tag, Existing: existing, Wanted: commitID}
	}
	if _, ok := s.commits[commitID]; !ok {
		return errors.Errorf("no commit %s", commitID)
	}
	s.tags[tag] = commitID
	s.signal()
	return nil
}

func (s *Source) PushMarker(ctx context.Context, branch, message string, files map[string][]byte) (string, error) {
	s.mu.Lock()
	if s.PushMarkerErr != nil {
		s.mu.Unlock()
		return "", s.PushMarkerErr
	}
	if _, ok := s.branches[branch]; !ok {
		s.mu.Unlock()
		return "", errors.Errorf("no branch %s", branch)
	}
	c := s.addCommit(branch, message, files)
	s.mu.Unlock()
	s.signal()
	return c.ID, nil
}

func (s *Source) FileAt(ctx context.Context, commitID, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.commits[commitID]; !ok {
		return nil, errors.Errorf("no commit %s", commitID)
	}
	data, ok := s.files[commitID][path]
	if !ok {
		return nil, errors.Wrapf(vcs.ErrFileNotFound, "%s at %s", path, commitID)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *Source) Export(ctx context.Context, commitID, dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.commits[commitID]; !ok {
		return errors.Errorf("no commit %s", commitID)
	}
	if err := ioutil.WriteFile(filepath.Join(dir, "COMMIT"), []byte(commitID), 0644); err != nil {
		return err
	}
	for path, data := range s.files[commitID] {
		abspath := filepath.Join(dir, path)
		if err := os.MkdirAll(filepath.Dir(abspath), 0755); err != nil {
			return err
		}
		if err := ioutil.WriteFile(abspath, data, 0644); err != nil {
			return err
		}
	}
	return nil
}

func (s *Source) Refresh(ctx context.Context) error {
	return nil
}

func (s *Source) Notify() {
	s.signal()
}

func (s *Source) C() <-chan struct{} {
	return s.refreshed
}
