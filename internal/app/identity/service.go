package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/nats-io/nuid"
	"github.com/taskloop/backend/internal/platform/auth"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingFields      = errors.New("all fields are required: username, email, password")
	ErrUserExists         = errors.New("user already exists, please login")
	ErrUserNotFound       = errors.New("user not found, please register")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// LoginResult carries the issued credential back to the boundary layer.
type LoginResult struct {
	Token    string
	Username string
}

type Service struct {
	Repo   Repository
	Tokens auth.Verifier
	NewID  func() string
}

func NewService(repo Repository, tokens auth.Verifier) *Service {
	return &Service{
		Repo:   repo,
		Tokens: tokens,
		NewID:  nuid.Next,
	}
}

// Register creates a user with a unique username. A duplicate username fails
// with ErrUserExists; registration succeeds exactly once per username.
func (s *Service) Register(ctx context.Context, username, email, password string) (User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return User{}, ErrMissingFields
	}

	if _, err := s.Repo.FindUserByUsername(ctx, username); err == nil {
		return User{}, ErrUserExists
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:           s.NewID(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.Repo.CreateUser(ctx, u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Login verifies the credentials and issues a bearer token. An unknown email
// fails distinctly (ErrUserNotFound) from a wrong password
// (ErrInvalidCredentials); the boundary maps them to 404 and 400.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	u, err := s.Repo.FindUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, ErrUserNotFound
		}
		return LoginResult{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.Tokens.Issue(u.ID, u.Username)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, Username: u.Username}, nil
}
