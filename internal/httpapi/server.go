package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/usecase"
)

const defaultUpcoming = 5

// Service is the schedule and check surface the API drives.
type Service interface {
	State() usecase.SchedulerState
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	List(ctx context.Context) ([]domain.Schedule, error)
	Create(ctx context.Context, in usecase.ScheduleInput) (domain.Schedule, error)
	Enable(ctx context.Context, id string) (domain.Schedule, error)
	Disable(ctx context.Context, id string) (domain.Schedule, error)
	Toggle(ctx context.Context, id string) (domain.Schedule, error)
	Delete(ctx context.Context, id string) error
	RunNow(ctx context.Context, protocols []domain.Protocol) (domain.ExecutionRecord, error)
	History(ctx context.Context, limit int) ([]domain.ExecutionRecord, error)
	Upcoming(ctx context.Context, n int) ([]usecase.UpcomingRun, error)
}

var _ Service = (*usecase.ScheduleService)(nil)

// Handler serves the JSON control API.
type Handler struct {
	svc     Service
	metrics http.Handler
	logger  *slog.Logger
}

// NewHandler builds the API; metricsHandler may be nil.
func NewHandler(svc Service, metricsHandler http.Handler, logger *slog.Logger) *Handler {
	if metricsHandler == nil {
		metricsHandler = http.NotFoundHandler()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, metrics: metricsHandler, logger: logger.With("component", "httpapi")}
}

// Router returns the chi mux with every route mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", h.metrics)

	r.Route("/schedules", func(r chi.Router) {
		r.Get("/", h.listSchedules)
		r.Post("/", h.createSchedule)
		r.Post("/{id}/enable", h.mutate(h.svc.Enable))
		r.Post("/{id}/disable", h.mutate(h.svc.Disable))
		r.Post("/{id}/toggle", h.mutate(h.svc.Toggle))
		r.Delete("/{id}", h.deleteSchedule)
	})

	r.Post("/checks", h.runCheck)
	r.Get("/history", h.history)

	r.Route("/scheduler", func(r chi.Router) {
		r.Get("/", h.schedulerStatus)
		r.Post("/start", h.startScheduler)
		r.Post("/stop", h.stopScheduler)
	})
	return r
}

// NewServer wraps the router with bounded timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Minute,
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"scheduler": string(h.svc.State()),
	})
}

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.svc.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if schedules == nil {
		schedules = []domain.Schedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	var in usecase.ScheduleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sched, err := h.svc.Create(r.Context(), in)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sched)
}

func (h *Handler) mutate(op func(context.Context, string) (domain.Schedule, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sched, err := op(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sched)
	}
}

func (h *Handler) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkRequest struct {
	Protocols []string `json:"protocols"`
}

func (h *Handler) runCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var protocols []domain.Protocol
	for _, raw := range req.Protocols {
		p, err := domain.ParseProtocol(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		protocols = append(protocols, p)
	}

	record, err := h.svc.RunNow(r.Context(), protocols)
	if err != nil {
		h.logger.Warn("manual run not recorded", "error", err)
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", domain.HistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	records, err := h.svc.History(r.Context(), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	if records == nil {
		records = []domain.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

type schedulerView struct {
	State    usecase.SchedulerState `json:"state"`
	Upcoming []usecase.UpcomingRun  `json:"upcoming"`
}

func (h *Handler) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	n, err := intQuery(r, "upcoming", defaultUpcoming)
	if err != nil {
		writeError(w, http.StatusBadRequest, "upcoming must be an integer")
		return
	}
	runs, err := h.svc.Upcoming(r.Context(), n)
	if err != nil {
		h.fail(w, err)
		return
	}
	if runs == nil {
		runs = []usecase.UpcomingRun{}
	}
	writeJSON(w, http.StatusOK, schedulerView{State: h.svc.State(), Upcoming: runs})
}

func (h *Handler) startScheduler(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Start(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(h.svc.State())})
}

func (h *Handler) stopScheduler(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Stop(r.Context()); err != nil {
		h.logger.Warn("scheduler stop incomplete", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(h.svc.State())})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	var unknown *domain.UnknownProtocolError
	switch {
	case errors.Is(err, usecase.ErrInvalidSchedule), errors.As(err, &unknown):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrScheduleNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(start).Round(time.Millisecond),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func intQuery(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
