package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/weaveworks/common/middleware"

	"github.com/cuttercd/cutter/pkg/api"
	"github.com/cuttercd/cutter/pkg/event"
	transport "github.com/cuttercd/cutter/pkg/http"
	"github.com/cuttercd/cutter/pkg/http/websocket"
	cuttermetrics "github.com/cuttercd/cutter/pkg/metrics"
)

var (
	requestDuration = stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: "cutter",
		Name:      "request_duration_seconds",
		Help:      "Time (in seconds) spent serving HTTP requests.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{cuttermetrics.LabelMethod, cuttermetrics.LabelRoute, "status_code", "ws"})
)

func init() {
	stdprometheus.MustRegister(requestDuration)
}

// An API server for the daemon
func NewRouter() *mux.Router {
	r := transport.NewAPIRouter()

	// We assume every request that doesn't match a route is a client
	// calling an old or hitherto unsupported API.
	r.NewRoute().Name("NotFound").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transport.WriteError(w, r, http.StatusNotFound, transport.MakeAPINotFound(r.URL.Path))
	})

	return r
}

func NewHandler(s api.Server, r *mux.Router, bus *event.Broadcaster, logger log.Logger) http.Handler {
	handle := HTTPServer{s, bus, logger}

	r.Get(transport.Ping).HandlerFunc(handle.Ping)
	r.Get(transport.Version).HandlerFunc(handle.Version)
	r.Get(transport.Notify).HandlerFunc(handle.Notify)

	r.Get(transport.ListRuns).HandlerFunc(handle.ListRuns)
	r.Get(transport.RunStatus).HandlerFunc(handle.RunStatus)
	r.Get(transport.CancelRun).HandlerFunc(handle.CancelRun)
	r.Get(transport.SyncStatus).HandlerFunc(handle.SyncStatus)
	r.Get(transport.ListReleases).HandlerFunc(handle.ListReleases)

	r.Get(transport.Events).HandlerFunc(handle.Events)

	return middleware.Instrument{
		RouteMatcher: r,
		Duration:     requestDuration,
	}.Wrap(r)
}

// ListenAndServe starts a HTTP server with a health endpoint and the
// given handler on the specified address, and shuts it down cleanly
// when stopCh closes.
func ListenAndServe(listenAddr string, handler http.Handler, logger log.Logger, stopCh <-chan struct{}) {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/", handler)

	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 1 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	logger.Log("info", fmt.Sprintf("starting HTTP server on %s", listenAddr))

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Log("error", fmt.Sprintf("HTTP server crashed %v", err))
		}
	}()

	// wait for close signal and attempt graceful shutdown
	<-stopCh
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log("warn", fmt.Sprintf("HTTP server graceful shutdown failed %v", err))
	} else {
		logger.Log("info", "HTTP server stopped")
	}
}

type HTTPServer struct {
	server api.Server
	bus    *event.Broadcaster
	logger log.Logger
}

func (s HTTPServer) Ping(w http.ResponseWriter, r *http.Request) {
	if err := s.server.Ping(r.Context()); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s HTTPServer) Version(w http.ResponseWriter, r *http.Request) {
	version, err := s.server.Version(r.Context())
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, version)
}

func (s HTTPServer) Notify(w http.ResponseWriter, r *http.Request) {
	var change api.Change
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(&change); err != nil {
		transport.WriteError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.server.NotifyChange(r.Context(), change); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s HTTPServer) ListRuns(w http.ResponseWriter, r *http.Request) {
	branch := r.URL.Query().Get("branch")
	runs, err := s.server.ListRuns(r.Context(), branch)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, runs)
}

func (s HTTPServer) RunStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	run, err := s.server.RunStatus(r.Context(), id)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, run)
}

func (s HTTPServer) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.server.CancelRun(r.Context(), id); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s HTTPServer) SyncStatus(w http.ResponseWriter, r *http.Request) {
	branch := mux.Vars(r)["branch"]
	status, err := s.server.SyncStatus(r.Context(), branch)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, status)
}

func (s HTTPServer) ListReleases(w http.ResponseWriter, r *http.Request) {
	branch := r.URL.Query().Get("branch")
	records, err := s.server.ListReleases(r.Context(), branch)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, records)
}

// Events upgrades to a websocket and streams the event feed: first
// the retained history, then new events as they happen, one JSON
// document per message.
func (s HTTPServer) Events(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		s.logger.Log("err", err)
		return
	}
	defer ws.Close()

	events, cancel := s.bus.Subscribe()
	defer cancel()

	enc := json.NewEncoder(ws)
	for _, e := range s.bus.Recent() {
		if err := enc.Encode(e); err != nil {
			if !websocket.IsExpectedWSCloseError(err) {
				s.logger.Log("err", err)
			}
			return
		}
	}

	// The peer never sends application data; reading is how we notice
	// it going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		buf := make([]byte, 128)
		for {
			if _, err := ws.Read(buf); err != nil {
				if !websocket.IsExpectedWSCloseError(err) {
					s.logger.Log("err", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case e := <-events:
			if err := enc.Encode(e); err != nil {
				if !websocket.IsExpectedWSCloseError(err) {
					s.logger.Log("err", err)
				}
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
