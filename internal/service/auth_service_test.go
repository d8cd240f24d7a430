package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"codechat/internal/domain"
	"codechat/internal/security"
	"codechat/internal/service"
)

type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) Create(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockUserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) List(ctx context.Context) ([]*domain.User, error) {
	return nil, nil // Not used in auth tests
}

func (m *MockUserRepo) ListOnline(ctx context.Context) ([]*domain.User, error) {
	return nil, nil
}

func (m *MockUserRepo) SetPresence(ctx context.Context, userID int64, p domain.Presence) error {
	args := m.Called(ctx, userID, p)
	return args.Error(0)
}

func TestRegister(t *testing.T) {
	tokenSvc := security.NewTokenService("secret", time.Hour)
	hasher := security.NewPasswordHasher(4) // low cost for tests

	t.Run("Success", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher)

		mockRepo.On("GetByUsername", mock.Anything, "newuser").Return(nil, domain.ErrNotFound)
		mockRepo.On("Create", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
			return u.Username == "newuser" && u.IsActive && u.HashedPassword != "Password1!"
		})).Return(nil)

		user, err := svc.Register(context.Background(), service.RegisterInput{
			Username: "newuser",
			Password: "Password1!",
		})
		assert.NoError(t, err)
		assert.NotNil(t, user)
		assert.Equal(t, "newuser", user.Username)
		assert.Equal(t, "N", user.AvatarInitial)
		assert.NotEmpty(t, user.AvatarColor)
		assert.Equal(t, domain.PresenceOffline, user.Presence)
		mockRepo.AssertExpectations(t)
	})

	t.Run("UsernameTaken", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher)

		mockRepo.On("GetByUsername", mock.Anything, "existing").
			Return(&domain.User{ID: 1, Username: "existing"}, nil)

		_, err := svc.Register(context.Background(), service.RegisterInput{
			Username: "existing",
			Password: "Password1!",
		})
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("MissingFields", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher)

		_, err := svc.Register(context.Background(), service.RegisterInput{Username: "x"})
		assert.ErrorIs(t, err, domain.ErrValidation)

		_, err = svc.Register(context.Background(), service.RegisterInput{Password: "x"})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("ExplicitAvatarColorKept", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher)

		mockRepo.On("GetByUsername", mock.Anything, "artist").Return(nil, domain.ErrNotFound)
		mockRepo.On("Create", mock.Anything, mock.Anything).Return(nil)

		user, err := svc.Register(context.Background(), service.RegisterInput{
			Username:    "artist",
			Password:    "Password1!",
			AvatarColor: "bg-lime-700",
		})
		assert.NoError(t, err)
		assert.Equal(t, "bg-lime-700", user.AvatarColor)
	})
}

func TestLogin(t *testing.T) {
	tokenSvc := security.NewTokenService("secret", time.Hour)
	hasher := security.NewPasswordHasher(4)

	hashed, _ := hasher.Hash("Password1!")
	stored := &domain.User{
		ID:             7,
		Username:       "alice",
		HashedPassword: hashed,
		IsActive:       true,
	}

	t.Run("Success", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher)

		mockRepo.On("GetByUsername", mock.Anything, "alice").Return(stored, nil)

		resp, err := svc.Login(context.Background(), service.LoginInput{
			Username: "alice",
			Password: "Password1!",
		})
		assert.NoError(t, err)
		assert.Equal(t, "bearer", resp.TokenType)
		assert.Equal(t, stored.ID, resp.User.ID)

		claims, err := tokenSvc.Parse(resp.AccessToken)
		assert.NoError(t, err)
		subject, err := tokenSvc.Subject(claims)
		assert.NoError(t, err)
		assert.Equal(t, stored.ID, subject)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher)

		mockRepo.On("GetByUsername", mock.Anything, "alice").Return(stored, nil)

		_, err := svc.Login(context.Background(), service.LoginInput{
			Username: "alice",
			Password: "wrong",
		})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher)

		mockRepo.On("GetByUsername", mock.Anything, "ghost").Return(nil, domain.ErrNotFound)

		_, err := svc.Login(context.Background(), service.LoginInput{
			Username: "ghost",
			Password: "Password1!",
		})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("InactiveUser", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher)

		inactive := *stored
		inactive.IsActive = false
		mockRepo.On("GetByUsername", mock.Anything, "alice").Return(&inactive, nil)

		_, err := svc.Login(context.Background(), service.LoginInput{
			Username: "alice",
			Password: "Password1!",
		})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}
