package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codechat/internal/call"
	"codechat/internal/config"
	"codechat/internal/domain"
	"codechat/internal/httpserver"
	"codechat/internal/security"
	"codechat/internal/store/memory"
	"codechat/internal/store/postgres"
	"codechat/internal/store/sqlite"
	"codechat/internal/ws"
)

func openStore(cfg *config.Config) (users domain.UserRepository, groups domain.GroupRepository, messages domain.MessageRepository, closer func(), err error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, nil, nil, nil, err
		}
		return sqlite.NewUserRepo(db), sqlite.NewGroupRepo(db), sqlite.NewMessageRepo(db), func() { db.Close() }, nil
	case config.StorePostgres:
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, nil, nil, nil, err
		}
		return postgres.NewUserRepo(db), postgres.NewGroupRepo(db), postgres.NewMessageRepo(db), func() { db.Close() }, nil
	default:
		s := memory.New()
		return s.Users(), s.Groups(), s.Messages(), func() {}, nil
	}
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Storage backend
	users, groups, messages, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open store (%s): %v", cfg.StoreBackend, err)
	}
	defer closeStore()

	// Security components
	tokenSvc := security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)
	passwordHasher := security.NewPasswordHasher(0)

	encryptor, err := security.NewEncryptor([]byte(cfg.EncryptKey))
	if err != nil {
		log.Fatalf("failed to initialize encryptor: %v", err)
	}

	// Connection registry and call state
	hub := ws.NewHub(cfg.PresenceGrace(), cfg.SendBufferSize)
	machine := call.NewMachine(ws.NewHubNotifier(hub), cfg.RingWindow())

	// When the presence grace window expires without a reconnect, the user
	// goes offline for everyone.
	hub.OnIdle(func(userID int64) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := users.SetPresence(ctx, userID, domain.PresenceOffline); err != nil {
			log.Printf("[main] set offline for user %d: %v", userID, err)
		}
		hub.BroadcastPresence(userID, domain.PresenceOffline)
	})

	// Build HTTP router
	router := httpserver.NewRouter(cfg, users, groups, messages, hub, machine, tokenSvc, passwordHasher, encryptor)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		log.Printf("Starting %s server on %s (store=%s)\n", cfg.AppName, cfg.HTTPAddr(), cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
