package main

import (
	"advisor/database"
	"advisor/entities/funnels"
	"advisor/entities/leads"
	"advisor/funnel"
	"advisor/middlewares"
	"advisor/sink"
	"advisor/utils"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const SESSION_SWEEP_INTERVAL = 5 * time.Minute

func main() {
	utils.LoadEnvVariables()

	cfg, err := utils.ParseServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERRO] %v\n", err)
		os.Exit(1)
	}

	logger := utils.NewLogger(os.Stdout, cfg.Env)
	slog.SetDefault(logger)

	if cfg.IsRelease() {
		fmt.Printf("\033[1;31;47m[ATENÇÃO] Rodando em ambiente de PRODUÇÃO!\033[0m\n")
	} else {
		fmt.Printf("[INFO] Ambiente atual: %s\n", cfg.Env)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := utils.SetupTracing(ctx, "advisor", cfg.OtelEndpoint)
	if err != nil {
		logger.Error("setup tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	funnelConfig, err := utils.LoadFunnelConfig(cfg.FunnelConfig)
	if err != nil {
		logger.Error("load funnel config", "path", cfg.FunnelConfig, "error", err)
		os.Exit(1)
	}

	router, err := funnel.NewRouter(funnelConfig)
	if err != nil {
		logger.Error("compile funnel routes", "error", err)
		os.Exit(1)
	}
	if err := router.Validate(); err != nil {
		logger.Warn("funnel paths without a video", "error", err)
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("open lead store", "backend", cfg.StoreBackend, "error", err, "internal_code", utils.CANNOT_CONNECT_TO_STORE)
		os.Exit(1)
	}
	defer closeStore()

	sinkOpts := []sink.Option{sink.WithLogger(logger)}
	if cfg.RedisURI != "" {
		cache, err := openIndexCache(ctx, cfg.RedisURI)
		if err != nil {
			logger.Warn("redis index cache disabled", "error", err)
		} else {
			defer cache.Close()
			sinkOpts = append(sinkOpts, sink.WithIndexCache(cache))
		}
	}
	leadSink := sink.New(store, sinkOpts...)

	funnelsHandler := funnels.NewHandler(funnels.HandlerOptions{
		Config:         funnelConfig,
		Router:         router,
		Persister:      leadSink,
		Logger:         logger,
		PersistTimeout: cfg.StoreTimeout,
	})
	defer funnelsHandler.Close()
	go sweepSessions(ctx, funnelsHandler, logger)

	leadsHandler := leads.NewHandler(leadSink, cfg.StoreTimeout, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		utils.SendResponse(w, http.StatusOK, "ok", nil, 0)
	})
	mux.HandleFunc("GET /v1/config", funnelsHandler.GetConfig)

	mux.HandleFunc("POST /v1/funnels", funnelsHandler.CreateOne)
	mux.HandleFunc("GET /v1/funnels/{id}", funnelsHandler.GetOne)
	mux.HandleFunc("DELETE /v1/funnels/{id}", funnelsHandler.DeleteOne)
	mux.HandleFunc("POST /v1/funnels/{id}/intake", funnelsHandler.SubmitIntake)
	mux.HandleFunc("POST /v1/funnels/{id}/choice", funnelsHandler.ChoosePath)
	mux.HandleFunc("POST /v1/funnels/{id}/skip", funnelsHandler.Skip)
	mux.HandleFunc("POST /v1/funnels/{id}/back", funnelsHandler.Back)
	mux.HandleFunc("POST /v1/funnels/{id}/feedback", funnelsHandler.SubmitFeedback)
	mux.HandleFunc("GET /v1/ws/funnels/{id}", funnelsHandler.ServeWebSocket)

	mux.HandleFunc("POST /v1/leads", leadsHandler.CreateOne)

	handler := otelhttp.NewHandler(mux, "advisor")
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           middlewares.SecurityHeaders(middlewares.Cors(cfg.AllowedOrigins)(handler)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	fmt.Printf("Servidor iniciado na porta %s às %s\n", cfg.Port, time.Now().Format("2006-01-02 15:04:05"))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server", "error", err)
	}
}

func openStore(ctx context.Context, cfg utils.ServerConfig, logger *slog.Logger) (sink.Store, func(), error) {
	logger = logger.With("backend", cfg.StoreBackend)

	switch cfg.StoreBackend {
	case utils.BACKEND_SHEETS:
		credentials, err := cfg.GoogleCredentialsJSON()
		if err != nil {
			return nil, nil, err
		}
		svc, err := database.NewSheetsService(ctx, credentials)
		if err != nil {
			return nil, nil, err
		}
		return database.NewSheetsStore(svc), func() {}, nil

	case utils.BACKEND_MONGODB:
		store, err := database.NewMongoStore(cfg.MongoURI, database.GetDB(cfg.Env))
		if err != nil {
			return nil, nil, err
		}
		indexCtx, cancel := context.WithTimeout(ctx, database.MONGO_TIMEOUT)
		defer cancel()
		if err := store.EnsureIndexes(indexCtx); err != nil {
			logger.Warn("ensure mongodb indexes", "error", err)
		}
		return store, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), database.MONGO_TIMEOUT)
			defer cancel()
			store.Close(closeCtx)
		}, nil

	case utils.BACKEND_MYSQL:
		store, err := database.NewMySQLStore(cfg.MySQLURI)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil

	case utils.BACKEND_SQLITE:
		store, err := database.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil

	case utils.BACKEND_MEMORY:
		logger.Warn("leads are kept in memory only")
		return database.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func openIndexCache(ctx context.Context, uri string) (*database.RedisIndexCache, error) {
	cache, err := database.NewRedisIndexCache(uri)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		cache.Close()
		return nil, err
	}
	return cache, nil
}

func sweepSessions(ctx context.Context, h *funnels.Handler, logger *slog.Logger) {
	ticker := time.NewTicker(SESSION_SWEEP_INTERVAL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := h.Sweep(now, funnels.SESSION_IDLE_TIMEOUT); n > 0 {
				logger.Info("closed idle funnel sessions", "count", n)
			}
		}
	}
}
