// Package mhttp exposes a small HTTP status surface for a process
// hosting one or more validator instances.
package mhttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/mosaic-bft/mosaic/mengine"
	"github.com/mosaic-bft/mosaic/mnet"
)

type HTTPServer struct {
	done chan struct{}
}

type HTTPServerConfig struct {
	Listener net.Listener

	// The process-wide dispatch table; its keys are the hosted
	// validator ids.
	Handlers *mnet.HandlerMap

	// The hosted engine instances, keyed by validator id.
	Engines map[uint64]*mengine.Engine
}

func NewHTTPServer(ctx context.Context, log *slog.Logger, cfg HTTPServerConfig) *HTTPServer {
	srv := &http.Server{
		Handler: newMux(log, cfg),

		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	h := &HTTPServer{
		done: make(chan struct{}),
	}
	go h.serve(log, cfg.Listener, srv)
	go h.waitForShutdown(ctx, srv)

	return h
}

func (h *HTTPServer) Wait() {
	<-h.done
}

func (h *HTTPServer) waitForShutdown(ctx context.Context, srv *http.Server) {
	select {
	case <-h.done:
		// h.serve returned on its own, nothing left to do here.
		return
	case <-ctx.Done():
		// Forceful shutdown. We could probably log any returned error on this.
		_ = srv.Close()
	}
}

func (h *HTTPServer) serve(log *slog.Logger, ln net.Listener, srv *http.Server) {
	defer close(h.done)

	if err := srv.Serve(ln); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
			log.Info("HTTP server shutting down")
		} else {
			log.Info("HTTP server shutting down due to error", "err", err)
		}
	}
}

func newMux(log *slog.Logger, cfg HTTPServerConfig) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/validators", handleValidators(cfg)).Methods("GET")
	r.HandleFunc("/validators/{id:[0-9]+}/status", handleValidatorStatus(log, cfg)).Methods("GET")

	return r
}

func handleValidators(cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		var resp struct {
			ValidatorIDs []uint64
		}
		resp.ValidatorIDs = cfg.Handlers.IDs()

		_ = json.NewEncoder(w).Encode(resp)
	}
}

func handleValidatorStatus(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		id, err := strconv.ParseUint(mux.Vars(req)["id"], 10, 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		e, ok := cfg.Engines[id]
		if !ok {
			http.Error(w, "unknown validator id", http.StatusNotFound)
			return
		}

		st, ok := e.Status(req.Context())
		if !ok {
			http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
			return
		}

		if err := json.NewEncoder(w).Encode(st); err != nil {
			log.Warn("Failed to marshal validator status", "err", err)
			return
		}
	}
}
