package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/cuttercd/cutter/pkg/api"
	cuttererr "github.com/cuttercd/cutter/pkg/errors"
	"github.com/cuttercd/cutter/pkg/event"
	transport "github.com/cuttercd/cutter/pkg/http"
	"github.com/cuttercd/cutter/pkg/ledger"
	"github.com/cuttercd/cutter/pkg/pipeline"
)

type mockServer struct {
	PingFunc         func(ctx context.Context) error
	VersionFunc      func(ctx context.Context) (string, error)
	NotifyChangeFunc func(ctx context.Context, change api.Change) error
	ListRunsFunc     func(ctx context.Context, branch string) ([]pipeline.Run, error)
	RunStatusFunc    func(ctx context.Context, id string) (pipeline.Run, error)
	CancelRunFunc    func(ctx context.Context, id string) error
	SyncStatusFunc   func(ctx context.Context, branch string) (api.BranchStatus, error)
	ListReleasesFunc func(ctx context.Context, branch string) ([]ledger.Record, error)
}

func (m *mockServer) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockServer) Version(ctx context.Context) (string, error) {
	return m.VersionFunc(ctx)
}
func (m *mockServer) NotifyChange(ctx context.Context, change api.Change) error {
	return m.NotifyChangeFunc(ctx, change)
}
func (m *mockServer) ListRuns(ctx context.Context, branch string) ([]pipeline.Run, error) {
	return m.ListRunsFunc(ctx, branch)
}
func (m *mockServer) RunStatus(ctx context.Context, id string) (pipeline.Run, error) {
	return m.RunStatusFunc(ctx, id)
}
func (m *mockServer) CancelRun(ctx context.Context, id string) error {
	return m.CancelRunFunc(ctx, id)
}
func (m *mockServer) SyncStatus(ctx context.Context, branch string) (api.BranchStatus, error) {
	return m.SyncStatusFunc(ctx, branch)
}
func (m *mockServer) ListReleases(ctx context.Context, branch string) ([]ledger.Record, error) {
	return m.ListReleasesFunc(ctx, branch)
}

func newAPITestServer(t *testing.T, mock api.Server) (*httptest.Server, *mux.Router, *event.Broadcaster) {
	bus := event.NewBroadcaster(8)
	router := NewRouter()
	srv := httptest.NewServer(NewHandler(mock, router, bus, log.NewNopLogger()))
	t.Cleanup(srv.Close)
	return srv, router, bus
}

func apiURL(t *testing.T, srv *httptest.Server, router *mux.Router, route string, params ...string) string {
	u, err := transport.MakeURL(srv.URL, router, route, params...)
	assert.NoError(t, err)
	return u.String()
}

func TestPing(t *testing.T) {
	mock := &mockServer{PingFunc: func(context.Context) error { return nil }}
	srv, router, _ := newAPITestServer(t, mock)

	resp, err := http.Get(apiURL(t, srv, router, transport.Ping))
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestVersion(t *testing.T) {
	mock := &mockServer{VersionFunc: func(context.Context) (string, error) { return "1.2.3", nil }}
	srv, router, _ := newAPITestServer(t, mock)

	resp, err := http.Get(apiURL(t, srv, router, transport.Version))
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var version string
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&version))
	assert.Equal(t, "1.2.3", version)
}

func TestNotify(t *testing.T) {
	var got api.Change
	mock := &mockServer{NotifyChangeFunc: func(_ context.Context, change api.Change) error {
		got = change
		return nil
	}}
	srv, router, _ := newAPITestServer(t, mock)

	body, _ := json.Marshal(api.Change{Kind: api.GitChange, URL: "git@example.com:acme/rocket", Branch: "main"})
	resp, err := http.Post(apiURL(t, srv, router, transport.Notify), "application/json", bytes.NewReader(body))
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, api.GitChange, got.Kind)
	assert.Equal(t, "main", got.Branch)
}

func TestNotifyBadPayload(t *testing.T) {
	mock := &mockServer{NotifyChangeFunc: func(_ context.Context, change api.Change) error { return nil }}
	srv, router, _ := newAPITestServer(t, mock)

	resp, err := http.Post(apiURL(t, srv, router, transport.Notify), "application/json", bytes.NewReader([]byte("{")))
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListRuns(t *testing.T) {
	var askedBranch string
	mock := &mockServer{ListRunsFunc: func(_ context.Context, branch string) ([]pipeline.Run, error) {
		askedBranch = branch
		return []pipeline.Run{
			{ID: "run-1", Branch: branch, CommitID: "aaaa", Phase: pipeline.Succeeded},
		}, nil
	}}
	srv, router, _ := newAPITestServer(t, mock)

	resp, err := http.Get(apiURL(t, srv, router, transport.ListRuns) + "?branch=main")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "main", askedBranch)

	var runs []pipeline.Run
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	assert.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
}

func TestRunStatusMissing(t *testing.T) {
	mock := &mockServer{RunStatusFunc: func(_ context.Context, id string) (pipeline.Run, error) {
		return pipeline.Run{}, &cuttererr.Error{
			Type: cuttererr.Missing,
			Help: "no run with that ID",
			Err:  errors.New("run " + id + " not found"),
		}
	}}
	srv, router, _ := newAPITestServer(t, mock)

	req, _ := http.NewRequest("GET", apiURL(t, srv, router, transport.RunStatus, "id", "nope"), nil)
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var apiErr cuttererr.Error
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&apiErr))
	assert.Equal(t, cuttererr.Missing, apiErr.Type)
}

func TestCancelRun(t *testing.T) {
	var cancelled string
	mock := &mockServer{CancelRunFunc: func(_ context.Context, id string) error {
		cancelled = id
		return nil
	}}
	srv, router, _ := newAPITestServer(t, mock)

	resp, err := http.Post(apiURL(t, srv, router, transport.CancelRun, "id", "run-1"), "application/json", nil)
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "run-1", cancelled)
}

func TestCancelRunConflict(t *testing.T) {
	mock := &mockServer{CancelRunFunc: func(_ context.Context, id string) error {
		return &cuttererr.Error{
			Type: cuttererr.Conflict,
			Help: "the run already finished",
			Err:  errors.New("run finished"),
		}
	}}
	srv, router, _ := newAPITestServer(t, mock)

	resp, err := http.Post(apiURL(t, srv, router, transport.CancelRun, "id", "run-1"), "application/json", nil)
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSyncStatus(t *testing.T) {
	mock := &mockServer{SyncStatusFunc: func(_ context.Context, branch string) (api.BranchStatus, error) {
		return api.BranchStatus{
			Branch:  branch,
			Head:    "bbbb",
			Latest:  &ledger.Record{Tag: "v1.2.3", Branch: branch, CommitID: "aaaa"},
			Pending: 2,
		}, nil
	}}
	srv, _, _ := newAPITestServer(t, mock)

	resp, err := http.Get(srv.URL + "/v1/sync?branch=main")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var status api.BranchStatus
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "main", status.Branch)
	assert.Equal(t, 2, status.Pending)
	if assert.NotNil(t, status.Latest) {
		assert.Equal(t, "v1.2.3", status.Latest.Tag)
	}
}

func TestListReleases(t *testing.T) {
	mock := &mockServer{ListReleasesFunc: func(_ context.Context, branch string) ([]ledger.Record, error) {
		return []ledger.Record{
			{Tag: "v1.0.0", Branch: "main", CommitID: "aaaa"},
			{Tag: "v1.1.0", Branch: "main", CommitID: "bbbb"},
		}, nil
	}}
	srv, router, _ := newAPITestServer(t, mock)

	resp, err := http.Get(apiURL(t, srv, router, transport.ListReleases))
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var records []ledger.Record
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	assert.Len(t, records, 2)
	assert.Equal(t, "v1.1.0", records[1].Tag)
}

func TestNotFound(t *testing.T) {
	srv, _, _ := newAPITestServer(t, &mockServer{})

	resp, err := http.Get(srv.URL + "/v0/whatever")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEvents(t *testing.T) {
	srv, _, bus := newAPITestServer(t, &mockServer{})
	bus.LogEvent(event.Event{Type: event.EventCommit, Branch: "main", Message: "history"})

	u, _ := url.Parse(srv.URL + "/v1/events")
	u.Scheme = "ws"
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	assert.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first event.Event
	assert.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, event.EventCommit, first.Type)
	assert.Equal(t, "history", first.Message)

	bus.LogEvent(event.Event{Type: event.EventRelease, Branch: "main", Message: "live"})

	var second event.Event
	assert.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, event.EventRelease, second.Type)
	assert.Equal(t, "live", second.Message)
}
