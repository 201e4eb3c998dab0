package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mikhael221/gighub-realtime/internal/auth"
	"github.com/mikhael221/gighub-realtime/internal/config"
	"github.com/mikhael221/gighub-realtime/internal/observability/logging"
	"github.com/mikhael221/gighub-realtime/internal/observability/metrics"
	"github.com/mikhael221/gighub-realtime/internal/realtime"
	"github.com/mikhael221/gighub-realtime/internal/service"
	"github.com/mikhael221/gighub-realtime/internal/store"
	transport "github.com/mikhael221/gighub-realtime/internal/transport/http"
	"github.com/mikhael221/gighub-realtime/internal/transport/ws"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}

	logger := logging.NewLogger(logging.Config{
		ServiceName: "realtime",
		Environment: env,
		Level:       os.Getenv("LOG_LEVEL"),
	})

	slog.SetDefault(logger)
	metrics.MustRegister("realtime")

	logger.Info("starting service")

	cfg := config.Load()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		logger.Error("gorm open", "error", err)
		os.Exit(1)
	}

	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		logger.Error("auto migrate", "error", err)
		os.Exit(1)
	}

	presence := realtime.NewPresence()
	groups := realtime.NewGroups(logger)
	masterSecret := []byte(cfg.MasterSecret)

	chat := service.NewChatService(st, presence, groups, masterSecret, logger)
	calls := service.NewCallService(st, presence, groups, chat, logger)
	notifications := service.NewNotificationService(st, presence, groups, masterSecret, logger)

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	wsHandler := ws.NewHandler(verifier, presence, groups, chat, calls, notifications, logger, ws.HandlerOptions{
		WriteTimeout: cfg.WSWriteTimeout,
		PongTimeout:  cfg.WSPongTimeout,
		SendBuffer:   cfg.WSSendBuffer,
	})

	router := transport.NewRouter(chat, notifications, logger, transport.RouterOptions{
		Verifier:    verifier,
		CORSOrigins: cfg.CORSOrigins,
		PageSize:    cfg.HistoryPageSize,
		WSHandler:   wsHandler,
		Metrics:     promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("realtime service listening", "addr", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
