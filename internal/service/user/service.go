package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/internal/repository"
	"github.com/jwalitptl/clinic-records/internal/service/audit"
	apperrors "github.com/jwalitptl/clinic-records/pkg/errors"
	"github.com/jwalitptl/clinic-records/pkg/logger"
	"github.com/jwalitptl/clinic-records/pkg/security"
)

var ErrUsernameTaken = errors.New("username already taken")

type UserServicer interface {
	CreateUser(ctx context.Context, req *model.CreateUserRequest) (*model.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	ListUsers(ctx context.Context) ([]*model.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, password string) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
}

type Service struct {
	repo        repository.UserRepository
	hasher      security.PasswordHasher
	audit       audit.Recorder
	log         *logger.Logger
	emailDomain string
	now         func() time.Time
}

func NewService(repo repository.UserRepository, hasher security.PasswordHasher, recorder audit.Recorder, log *logger.Logger, emailDomain string) *Service {
	return &Service{
		repo:        repo,
		hasher:      hasher,
		audit:       recorder,
		log:         log,
		emailDomain: emailDomain,
		now:         time.Now,
	}
}

// CreateUser hashes the password and fills in the default role and email.
func (s *Service) CreateUser(ctx context.Context, req *model.CreateUserRequest) (*model.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, apperrors.BadRequest("username is required", nil)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooShort) {
			return nil, apperrors.BadRequest(fmt.Sprintf("password must be at least %d characters", security.MinPasswordLen), err)
		}
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: hash,
		Role:         req.Role,
		ExpiresAt:    req.ExpiresAt,
		CreatedAt:    s.now().UTC(),
	}
	if user.Email == "" {
		user.Email = fmt.Sprintf("%s@%s", strings.ToLower(username), s.emailDomain)
	}
	if user.Role == "" {
		user.Role = model.RoleUser
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, apperrors.Conflict(fmt.Sprintf("user %s already exists", username), ErrUsernameTaken)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.log.Info("user created", "username", user.Username, "role", user.Role)
	s.audit.Record(ctx, model.AuditActionCreate, model.ResourceUser, user.ID.String(), &audit.LogOptions{
		Changes: map[string]interface{}{
			"username": user.Username,
			"email":    user.Email,
			"role":     user.Role,
		},
	})
	return user, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("user", err)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (s *Service) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	user, err := s.repo.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("user", err)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]*model.User, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *Service) UpdatePassword(ctx context.Context, id uuid.UUID, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooShort) {
			return apperrors.BadRequest(fmt.Sprintf("password must be at least %d characters", security.MinPasswordLen), err)
		}
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.repo.UpdatePassword(ctx, id, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("user", err)
		}
		return fmt.Errorf("failed to update password: %w", err)
	}

	// the hash itself never goes into the audit trail
	s.audit.Record(ctx, model.AuditActionEdit, model.ResourceUser, id.String(), &audit.LogOptions{
		Summary: map[string]interface{}{"password_changed": true},
	})
	return nil
}

func (s *Service) DeleteUser(ctx context.Context, id uuid.UUID) error {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("user", err)
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}

	s.log.Info("user deleted", "username", user.Username)
	s.audit.Record(ctx, model.AuditActionDelete, model.ResourceUser, id.String(), &audit.LogOptions{
		Old: map[string]interface{}{
			"username": user.Username,
			"email":    user.Email,
			"role":     user.Role,
		},
	})
	return nil
}
