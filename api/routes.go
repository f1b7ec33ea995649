package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/carson-networks/ledger-server/internal/handlers/v1/account"
	"github.com/carson-networks/ledger-server/internal/handlers/v1/status"
	"github.com/carson-networks/ledger-server/internal/handlers/v1/transaction"
	"github.com/carson-networks/ledger-server/internal/logging"
	"github.com/carson-networks/ledger-server/internal/service"
)

type Rest struct {
	Logger  *logrus.Logger
	Port    string
	Service *service.Service
	Storage status.Pinger
	// Metrics serves /metrics when set.
	Metrics http.Handler

	mu     sync.Mutex
	server *http.Server
}

// Router builds the chi router with every route mounted.
func (r *Rest) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	statusHandler := status.NewHandler(r.Storage)
	router.HandleFunc("/status", logging.LoggingWrapper("Status", r.Logger, statusHandler.Handler))
	if r.Metrics != nil {
		router.Handle("/metrics", r.Metrics)
	}

	api := humachi.New(router, huma.DefaultConfig("Ledger", "1.0.0"))
	api.UseMiddleware(logging.Middleware(r.Logger))

	transaction.NewCreateTransactionHandler(r.Service.Transaction).Register(api)
	transaction.NewGetTransactionHandler(r.Service.Transaction).Register(api)
	transaction.NewListTransactionsHandler(r.Service.Transaction).Register(api)
	account.NewCreateAccountHandler(r.Service.Account).Register(api)
	account.NewGetAccountHandler(r.Service.Account).Register(api)
	account.NewListAccountsHandler(r.Service.Account).Register(api)

	return router
}

// Serve blocks until the server is shut down.
func (r *Rest) Serve() error {
	server := r.httpServer()

	r.Logger.WithField("port", r.Port).Info("HttpServer.Serve.listening")
	err := server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		r.Logger.WithError(err).Error("HttpServer.Serve.listen error")
		return err
	}
	r.Logger.Info("HttpServer.Serve.shutting down")
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (r *Rest) Shutdown(ctx context.Context) error {
	return r.httpServer().Shutdown(ctx)
}

func (r *Rest) httpServer() *http.Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.server == nil {
		r.server = &http.Server{
			Addr:              ":" + r.Port,
			Handler:           r.Router(),
			ReadTimeout:       time.Duration(30) * time.Second,
			WriteTimeout:      time.Duration(30) * time.Second,
			IdleTimeout:       time.Duration(10) * time.Second,
			ReadHeaderTimeout: time.Duration(10) * time.Second,
		}
	}
	return r.server
}
