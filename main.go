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

	"github.com/gorilla/mux"
	"github.com/pliu/securedm/internal/auth"
	"github.com/pliu/securedm/internal/blob"
	"github.com/pliu/securedm/internal/chat"
	"github.com/pliu/securedm/internal/config"
	"github.com/pliu/securedm/internal/handlers"
	"github.com/pliu/securedm/internal/middleware"
	"github.com/pliu/securedm/internal/store/sqlstore"
	"github.com/pliu/securedm/internal/verify"
	"github.com/pliu/securedm/internal/ws"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, err := newLogger(cfg.Log.Development)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Database
	store, err := sqlstore.New(cfg.DB.Driver, cfg.DB.DSN, log.Named("store"))
	if err != nil {
		return err
	}
	defer store.Close()

	blobs, err := blob.NewBadgerStore(cfg.Blob.Dir, log.Named("blob"))
	if err != nil {
		return err
	}
	defer blobs.Close()

	// Initialize WebSocket Hub
	hub := ws.NewHub(log.Named("ws"))
	go hub.Run(ctx)

	var (
		publisher chat.Publisher = hub
		codes     verify.CodeStore
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		relay := ws.NewRedisRelay(rdb, hub, log.Named("relay"))
		if err := relay.Start(ctx); err != nil {
			return fmt.Errorf("redis relay: %w", err)
		}
		publisher = relay
		codes = verify.NewRedisStore(rdb)
	} else {
		codes = verify.NewMemoryStore()
	}

	sessions, err := auth.NewSessions(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.SessionTTL)
	if err != nil {
		return err
	}
	verifier := &verify.Service{
		Codes: codes,
		Sender: &verify.SMTPGatewaySender{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			Gateway:  cfg.SMTP.Gateway,
			Log:      log.Named("sms"),
		},
		CodeTTL: cfg.Verify.CodeTTL,
		Log:     log.Named("verify"),
	}
	identities := &auth.Service{
		Store:          store,
		Sessions:       sessions,
		AllowedDomains: cfg.Auth.AllowedDomains,
		Log:            log.Named("auth"),
	}
	if cfg.Auth.RequirePhoneVerification {
		identities.Phones = verifier
	}

	// Initialize Handlers
	authHandler := &handlers.AuthHandler{Identities: identities, Verifier: verifier, Log: log}
	chatHandler := &handlers.ChatHandler{
		Chat:           chat.NewService(store, blobs, publisher, log.Named("chat")),
		Hub:            hub,
		MaxUploadBytes: cfg.Blob.MaxUploadBytes,
		Log:            log,
	}

	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(log.Named("http")))

	// Public endpoints
	r.HandleFunc("/validate-email", authHandler.ValidateEmail).Methods("POST")
	r.HandleFunc("/verify/phone", authHandler.RequestPhoneCode).Methods("POST")
	r.HandleFunc("/verify/code", authHandler.VerifyPhoneCode).Methods("POST")
	r.HandleFunc("/signup", authHandler.Signup).Methods("POST")
	r.HandleFunc("/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}).Methods("GET")

	// Authenticated endpoints
	api := r.NewRoute().Subrouter()
	api.Use(middleware.AuthMiddleware(sessions))
	api.HandleFunc("/users/search", chatHandler.SearchUsers).Methods("GET")
	api.HandleFunc("/threads", chatHandler.StartThread).Methods("POST")
	api.HandleFunc("/threads", chatHandler.ListThreads).Methods("GET")
	api.HandleFunc("/threads/{id:[0-9]+}/messages", chatHandler.GetThreadMessages).Methods("GET")
	api.HandleFunc("/contacts/{id:[0-9]+}/messages", chatHandler.GetContactMessages).Methods("GET")
	api.HandleFunc("/messages", chatHandler.SendMessage).Methods("POST")
	api.HandleFunc("/messages/{id:[0-9]+}/read", chatHandler.MarkRead).Methods("POST")
	api.HandleFunc("/files/{id}", chatHandler.GetFile).Methods("GET")

	// WebSocket Endpoint
	api.HandleFunc("/ws", chatHandler.ServeWs)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("starting server", zap.String("addr", cfg.HTTP.Addr), zap.String("db", cfg.DB.Driver))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
