// Package http exposes the gateway's HTTP surface: the websocket upgrade
// endpoint, the auth boundary, the relay upload/download collaborator, and
// the history query path.
package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"msghub/internal/access"
	"msghub/internal/auth"
	"msghub/internal/store"
	"msghub/internal/transfer"
	"msghub/internal/transport/ws"

	obsmw "msghub/internal/observability/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handler struct {
	authSvc   *auth.Service
	tokens    *auth.Tokens
	store     *store.Store
	guard     *access.Guard
	transfers *transfer.Negotiator
	log       *slog.Logger
	uploadDir string
}

func NewRouter(
	authSvc *auth.Service,
	tokens *auth.Tokens,
	st *store.Store,
	guard *access.Guard,
	transfers *transfer.Negotiator,
	gateway *ws.Gateway,
	log *slog.Logger,
	uploadDir string,
	corsOrigins string,
) http.Handler {
	h := &Handler{
		authSvc:   authSvc,
		tokens:    tokens,
		store:     st,
		guard:     guard,
		transfers: transfers,
		log:       log,
		uploadDir: uploadDir,
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(obsmw.WithRequestAndTrace)
	r.Use(obsmw.WithMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(corsOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id", "X-Transfer-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// The realtime channel; the connection authenticates itself in-band.
	r.Get("/ws", gateway.HandleWS)

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(30, 1*time.Minute))
			r.Post("/auth/register", h.handleRegister)
			r.Post("/auth/login", h.handleLogin)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Get("/messages", h.handleHistory)
			r.Post("/files", h.handleUpload)
			r.Get("/files/{fileID}", h.handleDownload)
		})
	})

	return r
}

func splitOrigins(raw string) []string {
	out := []string{}
	for _, o := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(o); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
