package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kasuboski/amnis/pkg/logger"
	"github.com/kasuboski/amnis/pkg/manager"
	"github.com/kasuboski/amnis/pkg/storage/sqlite/schema/gen/model"
	"go.uber.org/zap"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// Manager is the part of the fetcher the status API exposes.
type Manager interface {
	Transfers() []manager.SessionView
	Episodes(ctx context.Context, showName string) ([]*model.Episode, error)
	ReconcileOnce(ctx context.Context) (manager.Plan, error)
}

type GenericResponse struct {
	Error    string `json:"error,omitempty"`
	Response any    `json:"response"`
}

// Server houses all dependencies for the status api such as loggers and the manager.
type Server struct {
	baseLogger *zap.SugaredLogger
	manager    Manager
}

// New creates a new status server
func New(logger *zap.SugaredLogger, manager Manager) Server {
	return Server{
		baseLogger: logger,
		manager:    manager,
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, err error) error {
	return writeResponse(w, status, GenericResponse{
		Error: err.Error(),
	})
}

func writeResponse(w http.ResponseWriter, status int, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	w.Header().Set("content-type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}

	_, err = w.Write(b)
	return err
}

// Router builds the routes served by Serve.
func (s Server) Router() http.Handler {
	rtr := mux.NewRouter()
	rtr.Use(s.LogMiddleware())
	rtr.HandleFunc("/healthz", s.Healthz()).Methods(http.MethodGet)

	api := rtr.PathPrefix("/api").Subrouter()

	v1 := api.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/transfers", s.ListTransfers()).Methods(http.MethodGet)
	v1.HandleFunc("/episodes", s.ListEpisodes()).Methods(http.MethodGet)
	v1.HandleFunc("/reconcile", s.Reconcile()).Methods(http.MethodPost)

	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
	)(rtr)
}

// Serve starts the http server and blocks until ctx is done
func (s Server) Serve(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: time.Second * 10,
	}

	errs := make(chan error, 1)
	go func() {
		s.baseLogger.Info("serving...", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second*3)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// Healthz is an endpoint that can be used for probes
func (s Server) Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := GenericResponse{
			Response: "ok",
		}
		writeResponse(w, http.StatusOK, response)
	}
}

// ListTransfers lists the transfers currently in flight
func (s Server) ListTransfers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, http.StatusOK, GenericResponse{
			Response: s.manager.Transfers(),
		})
	}
}

// ListEpisodes lists recorded episodes, optionally for one show given as ?show=
func (s Server) ListEpisodes() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromCtx(r.Context())

		episodes, err := s.manager.Episodes(r.Context(), r.URL.Query().Get("show"))
		if err != nil {
			log.Error("failed to list episodes", zap.Error(err))
			writeErrorResponse(w, http.StatusInternalServerError, errors.New("failed to list episodes"))
			return
		}

		writeResponse(w, http.StatusOK, GenericResponse{
			Response: episodes,
		})
	}
}

// Reconcile runs a reconcile cycle now. It waits for a running cycle to finish first.
func (s Server) Reconcile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromCtx(r.Context())

		plan, err := s.manager.ReconcileOnce(r.Context())
		if err != nil {
			log.Error("reconcile failed", zap.Error(err))
			writeErrorResponse(w, http.StatusBadGateway, err)
			return
		}

		writeResponse(w, http.StatusOK, GenericResponse{
			Response: plan,
		})
	}
}
