// Package admin serves an HTTP API for inspecting and driving a module
// registry.
package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoCodeAlone/labmodular"
)

// Handler routes the admin API:
//
//	GET    /modules                    registry snapshot
//	GET    /modules/{name}             one module
//	POST   /modules/{name}/activate    ?mode=single skips dependency activation
//	POST   /modules/{name}/deactivate
//	POST   /modules/{name}/reload
//	DELETE /modules/{name}             unload
//	GET    /order                      activation order and resolution errors
//	POST   /checkpoint                 persist status of active modules
//	GET    /exposures                  remote exposure table
//	GET    /healthz                    503 while any module is broken
//	GET    /metrics                    Prometheus metrics
type Handler struct {
	registry *labmodular.Registry
	logger   labmodular.Logger
	gatherer prometheus.Gatherer
	router   chi.Router
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(logger labmodular.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithGatherer serves /metrics from gatherer. The default is a private
// prometheus registry holding a RegistryCollector.
func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(h *Handler) {
		if gatherer != nil {
			h.gatherer = gatherer
		}
	}
}

// NewHandler builds the admin API over registry.
func NewHandler(registry *labmodular.Registry, opts ...Option) *Handler {
	h := &Handler{registry: registry, logger: labmodular.NopLogger{}}
	for _, opt := range opts {
		opt(h)
	}
	if h.gatherer == nil {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(labmodular.NewRegistryCollector(registry, ""))
		h.gatherer = promReg
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Route("/modules", func(r chi.Router) {
		r.Get("/", h.listModules)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", h.getModule)
			r.Delete("/", h.unloadModule)
			r.Post("/activate", h.activateModule)
			r.Post("/deactivate", h.deactivateModule)
			r.Post("/reload", h.reloadModule)
		})
	})
	r.Get("/order", h.getOrder)
	r.Post("/checkpoint", h.checkpoint)
	r.Get("/exposures", h.listExposures)
	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Exposure is the JSON form of one exposure table entry.
type Exposure struct {
	Name      string `json:"name"`
	Module    string `json:"module"`
	Interface string `json:"interface"`
}

// Order is the JSON form of the activation order.
type Order struct {
	Order  []string `json:"order"`
	Errors []string `json:"errors,omitempty"`
}

// Health summarizes module states. Status is "healthy", "degraded" when
// some module is blocked by a resolution error, or "unhealthy" when some
// module is broken.
type Health struct {
	Status  string   `json:"status"`
	Broken  []string `json:"broken,omitempty"`
	Blocked []string `json:"blocked,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) listModules(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.registry.Snapshot())
}

func (h *Handler) getModule(w http.ResponseWriter, r *http.Request) {
	info, err := h.registry.Describe(chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handler) activateModule(w http.ResponseWriter, r *http.Request) {
	mode := labmodular.ActivateWithDependencies
	switch m := r.URL.Query().Get("mode"); m {
	case "", "with-dependencies":
	case "single":
		mode = labmodular.ActivateSingle
	default:
		h.writeError(w, fmt.Errorf("%w: %q", ErrInvalidMode, m))
		return
	}
	name := chi.URLParam(r, "name")
	h.respond(w, name, h.registry.Activate(r.Context(), name, mode))
}

func (h *Handler) deactivateModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h.respond(w, name, h.registry.Deactivate(r.Context(), name))
}

func (h *Handler) reloadModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h.respond(w, name, h.registry.Reload(r.Context(), name))
}

func (h *Handler) unloadModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.registry.Unload(r.Context(), name); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getOrder(w http.ResponseWriter, _ *http.Request) {
	order, err := h.registry.Order()
	resp := Order{Order: order}
	if resp.Order == nil {
		resp.Order = []string{}
	}
	if err != nil {
		resp.Errors = splitJoined(err)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) checkpoint(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Checkpoint(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listExposures(w http.ResponseWriter, _ *http.Request) {
	exposures := h.registry.Exposures()
	out := make([]Exposure, 0, len(exposures))
	for _, e := range exposures {
		out = append(out, Exposure{Name: e.Name, Module: e.Instance.Name(), Interface: e.Interface.String()})
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	report := Health{Status: "healthy"}
	for _, info := range h.registry.Snapshot() {
		switch {
		case info.State == labmodular.StateBroken:
			report.Broken = append(report.Broken, info.Name)
		case info.Error != "":
			report.Blocked = append(report.Blocked, info.Name)
		}
	}
	status := http.StatusOK
	switch {
	case len(report.Broken) > 0:
		report.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	case len(report.Blocked) > 0:
		report.Status = "degraded"
	}
	h.writeJSON(w, status, report)
}

// respond writes the module description after a lifecycle operation. A
// failed operation still reports the error, with the status code of its
// class.
func (h *Handler) respond(w http.ResponseWriter, name string, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	info, err := h.registry.Describe(name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Admin request failed", "error", err)
	} else {
		h.logger.Debug("Admin request rejected", "status", status, "error", err)
	}
	h.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode admin response", "error", err)
	}
}

// StatusCode maps registry errors to HTTP status codes.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, labmodular.ErrModuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidMode):
		return http.StatusBadRequest
	case errors.Is(err, labmodular.ErrStillDepended),
		errors.Is(err, labmodular.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, labmodular.ErrUnresolvedDependency),
		errors.Is(err, labmodular.ErrAmbiguousCapability),
		errors.Is(err, labmodular.ErrDependencyCycle):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func splitJoined(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, splitJoined(e)...)
		}
		return out
	}
	return []string{err.Error()}
}
