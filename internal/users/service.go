package users

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"fleet-dispatch/pkg/apperr"
	"fleet-dispatch/pkg/jwt"
	"fleet-dispatch/pkg/logger"
	"fleet-dispatch/pkg/validation"
)

// Service contains account business logic.
type Service struct {
	repo Repository
	log  logger.Logger
}

// NewService creates a user service backed by the given repository.
func NewService(repo Repository, log logger.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// NewUser validates the request and builds a user with a hashed password.
// It does not persist anything.
func NewUser(req RegisterRequest, role string) (*User, error) {
	if !validation.ValidateName(req.Name) {
		return nil, apperr.BadRequestf("invalid name")
	}
	if !validation.ValidateEmail(req.Email) {
		return nil, apperr.BadRequestf("invalid email")
	}
	if !validation.ValidatePhone(req.Phone) {
		return nil, apperr.BadRequestf("invalid phone")
	}
	if !validation.ValidatePassword(req.Password) {
		return nil, apperr.BadRequestf("password must be 6-100 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &User{
		ID:           uuid.New().String(),
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.TrimSpace(req.Email),
		Phone:        strings.TrimSpace(req.Phone),
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// Register creates a staff account (admin or dispatcher).
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	role := req.Role
	if role == "" {
		role = RoleDispatcher
	}
	if role != RoleAdmin && role != RoleDispatcher {
		return nil, apperr.BadRequestf("role must be admin or dispatcher; drivers register via /drivers/register")
	}
	u, err := NewUser(req, role)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	s.log.Infof("created %s account %s", u.Role, u.ID)
	return u, nil
}

// CreateAccount persists a user built by NewUser. It joins the unit of work
// carried by ctx, if any.
func (s *Service) CreateAccount(ctx context.Context, u *User) error {
	return s.repo.Create(ctx, u)
}

// Authenticate checks credentials and returns the matching user.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperr.Unauthorizedf("invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, apperr.Unauthorizedf("invalid credentials")
	}
	return u, nil
}

// Login authenticates a staff user and returns a JWT.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	u, err := s.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	if u.Role == RoleDriver {
		return nil, apperr.Forbiddenf("drivers sign in via /drivers/login")
	}
	token, err := jwt.Generate(jwt.Claims{UserID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role})
	if err != nil {
		return nil, err
	}
	return &AuthResponse{Token: token, User: u}, nil
}

// GetByID fetches a single user by primary key.
func (s *Service) GetByID(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}
