// Package httpapi is the loopback listener browsers reach at the end of
// a relying-party redirect chain. Every request it receives is deep-link
// content; the handler parks until the flow terminates and answers with
// the redirect the IdP produced.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/healthsign/authagent/internal/agent/domain"
	"github.com/healthsign/authagent/pkg/httpx"
	"github.com/healthsign/authagent/pkg/slogx"
)

// Engine is the flow surface the listener drives.
type Engine interface {
	Submit(content string) <-chan domain.Result
	Cancel()
}

// Router holds shared dependencies for the listener handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	engine       Engine
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
}

func NewRouter(engine Engine, buildVersion string, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		engine:       engine,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	trigger := &TriggerHandler{Engine: r.engine, Logger: r.logger}

	r.Mux.Handle("GET /status", StatusHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("POST /cancel", CancelHandler(r.engine))

	// Everything else is deep-link content; the path IS the payload.
	r.Mux.Handle("/",
		httpx.Chain(http.HandlerFunc(trigger.Handle),
			httpx.RateLimitByIP(httpx.CallbackLimit),
		),
	)
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// StatusHandler reports liveness, uptime and version; the send command
// uses it to find a running agent.
func StatusHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"uptime":  time.Since(startTime).String(),
			"version": version,
		})
	}
}

// CancelHandler aborts the active flow on behalf of the user.
func CancelHandler(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		engine.Cancel()
		w.WriteHeader(http.StatusNoContent)
	}
}
