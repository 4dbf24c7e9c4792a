package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"ordersync/internal/config"
	handlers "ordersync/internal/http-server/handlers/errors"
	"ordersync/internal/http-server/handlers/order"
	"ordersync/internal/http-server/middleware/authenticate"
	"ordersync/internal/http-server/middleware/timeout"
	"ordersync/internal/lib/sl"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

type Handler interface {
	authenticate.Authenticate
	order.Core
}

func newRouter(log *slog.Logger, handler Handler) http.Handler {
	router := chi.NewRouter()
	router.Use(timeout.Timeout(5))
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(render.SetContentType(render.ContentTypeJSON))
	router.Use(authenticate.New(log, handler))

	router.NotFound(handlers.NotFound(log))
	router.MethodNotAllowed(handlers.NotAllowed(log))

	router.Route("/ordersync", func(v1 chi.Router) {
		v1.Route("/webhook", func(webhook chi.Router) {
			webhook.Route("/order", func(r chi.Router) {
				r.Post("/", order.ReconcileOrder(log, handler))
			})
		})
	})

	return router
}

// New builds the webhook router and serves it until ctx is cancelled.
func New(ctx context.Context, conf *config.Config, log *slog.Logger, handler Handler) error {

	server := Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	router := newRouter(log, handler)

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:           router,
		ErrorLog:          httpLog,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverAddress := fmt.Sprintf("%s:%s", conf.Listen.BindIP, conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	server.log.Info("starting api server", slog.String("address", serverAddress))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.httpServer.Shutdown(shutdownCtx); err != nil {
			server.log.With(sl.Err(err)).Warn("api server shutdown")
		}
	}()

	err = server.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
