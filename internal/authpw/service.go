// Package authpw provides email/password credential handling: registration
// with a generated unique username, and login verification.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"taskhive/api/internal/store"
	"taskhive/api/internal/util"
)

// ErrBadCredentials is returned for any login failure. The message never
// distinguishes a missing account from a wrong password.
var ErrBadCredentials = errors.New("the credentials you have provided are incorrect")

// UserStore defines the storage interface for credential handling.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// RegisterRequest contains registration parameters.
type RegisterRequest struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	VPassword string
}

// Validate checks the registration fields and returns the first problem found.
func (r RegisterRequest) Validate() error {
	if strings.TrimSpace(r.FirstName) == "" {
		return errors.New("firstName is required")
	}
	if strings.TrimSpace(r.LastName) == "" {
		return errors.New("lastName is required")
	}
	if len(r.Email) < 6 || !strings.Contains(r.Email, "@") {
		return errors.New("a valid email address is required")
	}
	if len(r.Password) < 6 {
		return errors.New("password must be at least 6 characters")
	}
	if r.Password != r.VPassword {
		return errors.New("passwords do not match")
	}
	return nil
}

// Register creates a new user account with a hashed password and a generated
// unique username.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	if err := req.Validate(); err != nil {
		return store.User{}, err
	}

	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		return store.User{}, errors.New("a user is already registered with that email address")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	username, err := s.uniqueUsername(ctx, req.FirstName, req.LastName)
	if err != nil {
		return store.User{}, err
	}

	user := store.User{
		ID:            util.NewID("usr"),
		FirstName:     strings.TrimSpace(req.FirstName),
		LastName:      strings.TrimSpace(req.LastName),
		Email:         strings.ToLower(req.Email),
		Username:      username,
		PasswordHash:  string(hash),
		Projects:      []store.ProjectRef{},
		FollowedTasks: []store.FollowedTask{},
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login verifies an email/password pair and returns the matching user.
func (s *Service) Login(ctx context.Context, email, password string) (store.User, error) {
	if len(email) < 6 || password == "" {
		return store.User{}, ErrBadCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(email))
	if err != nil {
		return store.User{}, ErrBadCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrBadCredentials
	}
	return user, nil
}

// uniqueUsername builds "initials + up to six digits" and retries until the
// username is free.
func (s *Service) uniqueUsername(ctx context.Context, firstName, lastName string) (string, error) {
	first := strings.TrimSpace(firstName)
	last := strings.TrimSpace(lastName)
	if first == "" || last == "" {
		return "", errors.New("first and last name are required")
	}
	initials := strings.ToUpper(first[:1] + last[:1])

	for attempt := 0; attempt < 20; attempt++ {
		candidate := initials + util.RandomDigits(6)
		if _, err := s.store.GetUserByUsername(ctx, candidate); err != nil {
			return candidate, nil
		}
	}
	return "", errors.New("could not generate a unique username")
}
