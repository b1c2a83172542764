// Package journal is a file-backed ledger.Store: one JSON document per
// line, append-only, synced to disk before an append is acknowledged.
// The whole journal is read at open and indexed in memory, which is
// fine for the sizes release histories reach.
package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/cuttercd/cutter/pkg/ledger"
)

type Store struct {
	path string

	mu       sync.Mutex
	f        *os.File
	byTag    map[string]ledger.Record
	byCommit map[string]ledger.Record
	order    []ledger.Record
}

var _ ledger.Store = &Store{}

// Open reads any existing journal at path and opens it for appending.
// A torn final line, as left by a crash mid-append, is dropped; the
// append it belonged to was never acknowledged.
func Open(path string) (*Store, error) {
	s := &Store{
		path:     path,
		byTag:    map[string]ledger.Record{},
		byCommit: map[string]ledger.Record{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, errors.Wrapf(err, "opening release journal %s", path)
	}
	s.f = f
	return s, nil
}

func (s *Store) load() error {
	data, err := ioutil.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "reading release journal %s", s.path)
	}

	type span struct {
		line []byte
		end  int64
	}
	var spans []span
	for start := 0; start < len(data); {
		end := len(data)
		if nl := bytes.IndexByte(data[start:], '\n'); nl >= 0 {
			end = start + nl + 1
		}
		line := bytes.TrimSpace(data[start:end])
		if len(line) > 0 {
			spans = append(spans, span{line: line, end: int64(end)})
		}
		start = end
	}

	var good int64
	for i, sp := range spans {
		var rec ledger.Record
		if err := json.Unmarshal(sp.line, &rec); err != nil {
			if i == len(spans)-1 {
				// A torn final line, as left by a crash mid-append.
				// The append was never acknowledged, so drop it.
				break
			}
			return errors.Wrapf(err, "corrupt release journal %s at entry %d", s.path, i+1)
		}
		if _, ok := s.byTag[rec.Tag]; ok {
			return errors.Errorf("corrupt release journal %s: duplicate tag %s", s.path, rec.Tag)
		}
		s.byTag[rec.Tag] = rec
		s.byCommit[rec.CommitID] = rec
		s.order = append(s.order, rec)
		good = sp.end
	}
	if good < int64(len(data)) {
		if err := os.Truncate(s.path, good); err != nil {
			return errors.Wrapf(err, "truncating torn entry from release journal %s", s.path)
		}
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *Store) AppendIfAbsent(ctx context.Context, rec ledger.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("release journal is closed")
	}
	if _, ok := s.byTag[rec.Tag]; ok {
		return ledger.ErrAlreadyExists
	}
	if _, ok := s.byCommit[rec.CommitID]; ok {
		return ledger.ErrAlreadyExists
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := s.f.Write(append(line, '\n')); err != nil {
		return errors.Wrapf(err, "appending to release journal %s", s.path)
	}
	if err := s.f.Sync(); err != nil {
		return errors.Wrapf(err, "syncing release journal %s", s.path)
	}

	s.byTag[rec.Tag] = rec
	s.byCommit[rec.CommitID] = rec
	s.order = append(s.order, rec)
	return nil
}

func (s *Store) Latest(ctx context.Context, branch string) (ledger.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		if s.order[i].Branch == branch {
			return s.order[i], true, nil
		}
	}
	return ledger.Record{}, false, nil
}

func (s *Store) ByTag(ctx context.Context, tag string) (ledger.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byTag[tag]
	return rec, ok, nil
}

func (s *Store) ByCommit(ctx context.Context, commitID string) (ledger.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byCommit[commitID]
	return rec, ok, nil
}

func (s *Store) List(ctx context.Context, branch string) ([]ledger.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Record
	for _, rec := range s.order {
		if branch == "" || rec.Branch == branch {
			out = append(out, rec)
		}
	}
	return out, nil
}
