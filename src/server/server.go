package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"positionengine/src/auth"
	"positionengine/src/controller"
	"positionengine/src/handler"
	"positionengine/src/repository"
	"positionengine/src/watchdog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logger "github.com/sirupsen/logrus"
)

// Deps are the components the HTTP surface exposes.
type Deps struct {
	Controller *controller.Controller
	Watchdog   *watchdog.Watchdog
	Orders     *repository.OrderRepository
	Positions  *repository.PositionRepository
}

// NewRouter builds the routes. Everything but /healthcheck requires an upstream-authenticated user.
func NewRouter(deps Deps) http.Handler {
	// Router with middleware
	r := chi.NewRouter()
	// === Global Middleware ===
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser)

		r.Post("/instructions", handler.ExecuteInstructionHandler(deps.Controller))
		r.Get("/orders", handler.SearchOrdersHandler(deps.Orders))
		r.Get("/positions", handler.ListPositionsHandler(deps.Positions))
		r.Post("/positions/{id}/close", handler.ClosePositionHandler(deps.Controller))
		r.Post("/watchdog/sweep", handler.TriggerSweepHandler(deps.Watchdog))
		r.Post("/watchdog/orders/{id}/check", handler.CheckOrderHandler(deps.Orders, deps.Watchdog))
	})

	return r
}

// StartServer serves h until ctx is done, then shuts down gracefully.
func StartServer(ctx context.Context, port string, h http.Handler) {
	// Server setup
	addr := ":" + port
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
