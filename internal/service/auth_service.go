package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode/utf8"

	"codechat/internal/domain"
	"codechat/internal/security"
)

// AuthService handles registration and login. The resulting bearer token is
// what the WebSocket handshake resolves to a user id before registering the
// connection.
type AuthService struct {
	users  domain.UserRepository
	tokens *security.TokenService
	hash   *security.PasswordHasher
}

func NewAuthService(users domain.UserRepository, tokens *security.TokenService, hash *security.PasswordHasher) *AuthService {
	return &AuthService{
		users:  users,
		tokens: tokens,
		hash:   hash,
	}
}

type RegisterInput struct {
	Username    string
	Password    string
	AvatarColor string
}

type LoginInput struct {
	Username string
	Password string
}

type TokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        *domain.User `json:"user"`
}

// avatarPalette provides deterministic colors for users who do not pick one.
var avatarPalette = []string{
	"bg-emerald-700", "bg-sky-700", "bg-violet-700", "bg-rose-700",
	"bg-amber-700", "bg-teal-700", "bg-indigo-700", "bg-fuchsia-700",
}

func defaultAvatarColor(username string) string {
	h := fnv.New32a()
	h.Write([]byte(username))
	return avatarPalette[h.Sum32()%uint32(len(avatarPalette))]
}

func avatarInitial(username string) string {
	r, _ := utf8.DecodeRuneInString(username)
	if r == utf8.RuneError {
		return "?"
	}
	return strings.ToUpper(string(r))
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	if in.Username == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", domain.ErrValidation)
	}

	if _, err := s.users.GetByUsername(ctx, in.Username); err == nil {
		return nil, domain.ErrConflict
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("check username: %w", err)
	}

	hashed, err := s.hash.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	color := in.AvatarColor
	if color == "" {
		color = defaultAvatarColor(in.Username)
	}

	user := &domain.User{
		Username:       in.Username,
		HashedPassword: hashed,
		AvatarInitial:  avatarInitial(in.Username),
		AvatarColor:    color,
		Presence:       domain.PresenceOffline,
		IsActive:       true,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (*TokenResponse, error) {
	user, err := s.users.GetByUsername(ctx, in.Username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if !user.IsActive {
		return nil, domain.ErrUnauthorized
	}

	if err := s.hash.Verify(in.Password, user.HashedPassword); err != nil {
		return nil, domain.ErrUnauthorized
	}

	token, err := s.tokens.CreateForUser(user.ID)
	if err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	return &TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        user,
	}, nil
}
