package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"codechat/internal/call"
	"codechat/internal/config"
	"codechat/internal/domain"
	"codechat/internal/security"
	"codechat/internal/service"
	"codechat/internal/ws"
)

// NewRouter constructs the main HTTP router and wires routes, services, and middleware.
func NewRouter(
	cfg *config.Config,
	users domain.UserRepository,
	groups domain.GroupRepository,
	messages domain.MessageRepository,
	hub *ws.Hub,
	machine *call.Machine,
	tokens *security.TokenService,
	hasher *security.PasswordHasher,
	encryptor *security.Encryptor,
) http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Services
	authSvc := service.NewAuthService(users, tokens, hasher)
	userSvc := service.NewUserService(users)
	groupSvc := service.NewGroupService(groups, users)
	msgSvc := service.NewMessageService(users, groups, messages, encryptor, cfg.MaxMessagesPerConversation)

	msgRouter := ws.NewRouter(hub, msgSvc)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message":"codechat API","version":"1.0.0"}`))
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Auth routes (no auth required)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handleRegister(authSvc))
			r.Post("/login", handleLogin(authSvc))
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(tokens, users))

			r.Post("/auth/logout", handleLogout(userSvc))
			r.Get("/auth/me", handleMe())

			// Users
			r.Route("/users", func(r chi.Router) {
				r.Get("/", handleListUsers(userSvc))
				r.Get("/online", handleListOnlineUsers(userSvc))
				r.Get("/{userID}", handleGetUser(userSvc))
			})

			// Groups and rosters
			r.Route("/groups", func(r chi.Router) {
				r.Post("/", handleCreateGroup(groupSvc))
				r.Get("/", handleListGroups(groupSvc))
				r.Get("/mine", handleListMyGroups(groupSvc))
				r.Get("/{groupID}", handleGetGroup(groupSvc))
				r.Get("/{groupID}/members", handleListGroupMembers(groupSvc))
				r.Post("/{groupID}/members", handleAppendGroupMember(groupSvc))
				r.Delete("/{groupID}/members/{userID}", handleRemoveGroupMember(groupSvc))
			})

			// Conversation history (the offline delivery path) and REST send
			r.Route("/conversations", func(r chi.Router) {
				r.Get("/direct/{userID}/messages", handleListDirectMessages(msgSvc))
				r.Get("/group/{groupID}/messages", handleListGroupMessages(msgSvc))
				r.Post("/messages", handleCreateMessage(msgRouter))
			})

			// Uploads backing message attachments
			r.Mount("/uploads", UploadRoutes(cfg))
		})
	})

	// WebSocket endpoint
	r.Get("/ws", ws.MakeHandler(hub, msgRouter, machine, tokens, userSvc, msgSvc, cfg.CORSOrigins))

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeErr maps domain sentinels onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrDelivery):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
