package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	flag "github.com/spf13/pflag"

	"marketchat/internal/chat"
	"marketchat/internal/config"
	"marketchat/internal/database"
	"marketchat/internal/handler"
	"marketchat/internal/identity"
	"marketchat/internal/notify"
	"marketchat/internal/realtime"
)

// 開発環境で JWT_SECRET が未設定のときに使う鍵
const devJWTSecret = "marketchat-development-secret"

func main() {
	var (
		envFile  = flag.String("env-file", ".env", "path to the .env file")
		port     = flag.String("port", "", "listen port (overrides SERVER_PORT)")
		driver   = flag.String("store", "", "storage backend: mysql, mongo or memory (overrides STORE_DRIVER)")
		logLevel = flag.String("log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	)
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          "marketchat",
	})

	// .envファイルを読み込み
	if err := godotenv.Load(*envFile); err != nil {
		logger.Warnf("⚠️  .env file not found, using default values: %v", err)
	}

	// 環境変数を読み込み (フラグが優先)
	cfg := config.Load()
	if *port != "" {
		cfg.ServerPort = *port
	}
	if *driver != "" {
		cfg.StoreDriver = *driver
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("⚠️  Unknown log level %q, using info", cfg.LogLevel)
		level = log.InfoLevel
	}
	logger.SetLevel(level)

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("❌ Invalid configuration: %v", err)
	}
	if cfg.JWTSecret == "" {
		logger.Warn("⚠️  JWT_SECRET not set, using the development secret")
		cfg.JWTSecret = devJWTSecret
	}

	// ストア接続を初期化
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	st, err := database.Open(openCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatalf("❌ Failed to initialize database: %v", err)
	}
	defer st.Close(context.Background())

	// サービスとリアルタイムハブ
	router := realtime.NewRouter()
	directory := chat.NewDirectory(st, logger.WithPrefix("chat"))
	messages := chat.NewMessageLog(st, logger.WithPrefix("chat"))
	outbox := notify.NewOutbox(st, router, logger.WithPrefix("notify"))
	hub := realtime.NewHub(router, directory, messages, outbox, logger.WithPrefix("ws"))

	h := handler.New(cfg, logger.WithPrefix("http"), identity.NewVerifier(cfg.JWTSecret), directory, messages, outbox, hub)

	// CORS対応
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS", "PUT"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Length"},
		MaxAge:           300,
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           c.Handler(h.SetupRouter()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Println("========================================")
	fmt.Println("  Marketchat Realtime Server")
	fmt.Println("========================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Server: http://localhost:%s\n", cfg.ServerPort)
	fmt.Printf("  WebSocket: ws://localhost:%s/ws\n", cfg.ServerPort)
	switch cfg.StoreDriver {
	case config.StoreMySQL:
		fmt.Printf("  Database: %s@%s:%s/%s\n", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)
	case config.StoreMongo:
		fmt.Printf("  Database: mongo %s\n", cfg.MongoDB)
	default:
		fmt.Println("  Database: in-memory")
	}
	fmt.Printf("  Allowed Origins: %v\n", cfg.AllowedOrigins)
	fmt.Println("========================================")

	go func() {
		logger.Info("🚀 Server started successfully")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("❌ Server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	hub.Close()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("❌ Shutdown error: %v", err)
	}
}
