// Package server exposes the program store and runner over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/tliron/commonlog"

	"ledvm/pkg/asm"
	"ledvm/pkg/runner"
	"ledvm/pkg/store"
)

var log = commonlog.GetLogger("ledvm.server")

// MaxSourceBytes bounds an uploaded assembly listing.
const MaxSourceBytes = 1 << 20

const asmContentType = "text/x-asm"

// Runner is the part of *runner.Runner the control plane drives.
type Runner interface {
	Switch(ctx context.Context, name string) error
	Current() string
	Status() runner.Status
}

type Server struct {
	store  *store.Store
	runner Runner
	frames *Hub
	mux    *http.ServeMux
}

type Option func(*Server)

// WithFrames serves live frames from h at /frames.
func WithFrames(h *Hub) Option {
	return func(s *Server) { s.frames = h }
}

func New(s *store.Store, r Runner, opts ...Option) *Server {
	srv := &Server{
		store:  s,
		runner: r,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.mux.HandleFunc("GET /{$}", srv.handleIndex)
	srv.mux.HandleFunc("GET /status", srv.handleStatus)
	srv.mux.HandleFunc("GET /programs", srv.handleList)
	srv.mux.HandleFunc("GET /programs/{name}", srv.handleDownload)
	srv.mux.HandleFunc("GET /programs/{name}/info", srv.handleInfo)
	srv.mux.HandleFunc("POST /programs/{name}", srv.handleUpload)
	srv.mux.HandleFunc("DELETE /programs/{name}", srv.handleDelete)
	srv.mux.HandleFunc("GET /execute", srv.handleCurrent)
	srv.mux.HandleFunc("POST /execute/{name}", srv.handleExecute)
	if srv.frames != nil {
		srv.mux.HandleFunc("GET /frames", srv.handleFrames)
	}
	return srv
}

// Handler returns the routes wrapped with request logging.
func (s *Server) Handler() http.Handler {
	return logRequests(s.mux)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", addr)
		errs <- hs.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "ledvm: running %q\n", s.runner.Current())
}

type statusResponse struct {
	runner.Status
	Programs int `json:"programs"`
	Used     int `json:"used"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:   s.runner.Status(),
		Programs: len(s.store.List()),
		Used:     s.store.Used(),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	infos := s.store.List()
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	writeJSON(w, http.StatusOK, map[string][]string{"programs": names})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	e, err := s.store.Get(r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("ETag", `"`+e.Checksum+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(e.Code)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	for _, info := range s.store.List() {
		if info.Name == name {
			writeJSON(w, http.StatusOK, info)
			return
		}
	}
	writeError(w, store.ErrNotFound)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	source := isSource(r)

	limit := int64(store.MaxProgramBytes)
	if source {
		limit = MaxSourceBytes
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if int64(len(body)) > limit {
		writeError(w, store.ErrTooLarge)
		return
	}
	if len(body) == 0 {
		writeMessage(w, http.StatusBadRequest, "program data required")
		return
	}

	code := body
	if source {
		code, _, err = asm.Assemble(string(body))
		if err != nil {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := s.store.Put(name, code); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func isSource(r *http.Request) bool {
	if r.URL.Query().Get("format") == "asm" {
		return true
	}
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == asmContentType
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Current())
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Switch(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps store and runner errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrLocked):
		return http.StatusForbidden
	case errors.Is(err, store.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrQuotaExceeded):
		return http.StatusInsufficientStorage
	case errors.Is(err, runner.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeMessage(w, statusFor(err), err.Error())
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warningf("encoding response: %v", err)
	}
}
