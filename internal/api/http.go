package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yourname/runmatch/internal/match"
	"github.com/yourname/runmatch/internal/stream"
	"github.com/yourname/runmatch/internal/ws"
	"github.com/yourname/runmatch/pkg/types"
)

// UserHeader carries the caller identity set by the upstream auth gateway.
const UserHeader = "X-User-Id"

// Waiting is the part of the coordinator the HTTP layer drives.
type Waiting interface {
	Register(ctx context.Context, id, distance string) (types.MessageResponse, error)
	Subscribe(id string) (*stream.Stream, error)
	Cancel(ctx context.Context, id string) (types.MessageResponse, error)
}

type router struct {
	w      Waiting
	logger *zap.Logger
}

func NewRouter(w Waiting, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &router{w: w, logger: logger.Named("api")}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID, middleware.RealIP, r.requestLogger, middleware.Recoverer)

	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.Route("/waiting", func(wr chi.Router) {
		wr.Post("/", r.handleRegister)
		wr.Delete("/", r.handleCancel)
		wr.Get("/event", r.handleEvents)
		wr.Get("/ws", r.handleWS)
	})

	return mux
}

func (r *router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()
		defer func() {
			r.logger.Debug("request",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("requestID", middleware.GetReqID(req.Context())),
			)
		}()
		next.ServeHTTP(ww, req)
	})
}

func (r *router) handleRegister(w http.ResponseWriter, req *http.Request) {
	var p types.CreateWaitingRequest
	if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := r.w.Register(req.Context(), req.Header.Get(UserHeader), p.Distance)
	if err != nil {
		r.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (r *router) handleCancel(w http.ResponseWriter, req *http.Request) {
	resp, err := r.w.Cancel(req.Context(), req.Header.Get(UserHeader))
	if err != nil {
		r.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEvents streams waiting events as server-sent events.
func (r *router) handleEvents(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	s, err := r.w.Subscribe(req.Header.Get(UserHeader))
	if err != nil {
		r.writeErr(w, err)
		return
	}
	defer s.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		ev, err := s.Recv(req.Context())
		if err != nil {
			return
		}
		data, _ := json.Marshal(types.WaitingEventResponse{Event: ev})
		if _, err := w.Write([]byte("event: waiting\ndata: " + string(data) + "\n\n")); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (r *router) handleWS(w http.ResponseWriter, req *http.Request) {
	s, err := r.w.Subscribe(req.Header.Get(UserHeader))
	if err != nil {
		r.writeErr(w, err)
		return
	}
	ws.Serve(w, req, s, r.logger)
}

func (r *router) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, match.ErrMissingUser):
		writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
	case errors.Is(err, match.ErrInvalidDistance):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, stream.ErrNotOpen):
		writeError(w, http.StatusNotFound, "no waiting registration for user")
	case errors.Is(err, stream.ErrAlreadyAttached):
		writeError(w, http.StatusConflict, "event stream already attached")
	default:
		r.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.MessageResponse{Message: msg})
}
