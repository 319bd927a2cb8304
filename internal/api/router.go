package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/oryxsec/scanhub/internal/api/handlers"
	"github.com/oryxsec/scanhub/internal/api/middleware"
	"github.com/oryxsec/scanhub/internal/scans"
	"github.com/oryxsec/scanhub/pkg/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type RouterConfig struct {
	DB      *gorm.DB
	Manager *scans.Manager
	Config  *config.Config
	Logger  *slog.Logger
}

func NewRouter(rc RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(rc.Logger))
	r.Use(middleware.Logging(rc.Logger))
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(middleware.Auth(rc.Config.API.AuthSecret))

	scanHandler := handlers.NewScanHandler(rc.DB, rc.Manager)
	targetHandler := handlers.NewTargetHandler(rc.DB)
	probeHandler := handlers.NewProbeHandler(rc.DB, rc.Config.Probes)
	healthHandler := handlers.NewHealthHandler(rc.Manager.Engines())
	authHandler := handlers.NewAuthHandler(rc.Config.API.AuthSecret, rc.Config.API.TokenExpiry())

	r.Get("/health", healthHandler.Check)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/auth/token", authHandler.Token)

	r.Route("/scans", func(r chi.Router) {
		r.Post("/", scanHandler.Create)
		r.Get("/", scanHandler.List)
		r.Get("/{id}", scanHandler.Get)
		r.Get("/{id}/report", scanHandler.Report)
	})

	r.Route("/targets", func(r chi.Router) {
		r.Get("/", targetHandler.List)
		r.Get("/{id}", targetHandler.Get)
	})

	r.Get("/probes", probeHandler.List)

	return r
}
