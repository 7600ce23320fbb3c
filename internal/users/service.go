package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/grantkeeper/grantkeeper/internal/rbac"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	Create(ctx context.Context, email, passwordHash string, role rbac.Role, createdBy *int64) (User, error)
	CreateSuperadmin(ctx context.Context, email, passwordHash string) (bool, error)
	Get(ctx context.Context, id int64) (User, error)
}

// SubjectRemover deletes subjects together with their grant references.
type SubjectRemover interface {
	DeleteSubject(ctx context.Context, actor rbac.Actor, id int64) error
}

// Service handles account creation and removal.
type Service struct {
	repo    RepositoryPort
	remover SubjectRemover
	logger  *slog.Logger
	cost    int
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, remover SubjectRemover, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, remover: remover, logger: logger, cost: bcrypt.DefaultCost}
}

// Create registers an account on behalf of actor. A superadmin creates
// admins and users, an admin creates users, and the creator is recorded.
func (s *Service) Create(ctx context.Context, actor rbac.Actor, req CreateRequest) (*User, error) {
	role, err := rbac.ParseRole(req.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", rbac.ErrValidationFailed, err)
	}
	if err := rbac.DecideSubjectCreation(actor, role); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", rbac.ErrValidationFailed, err)
	}
	creator := actor.ID
	u, err := s.repo.Create(ctx, normalizeEmail(req.Email), string(hash), role, &creator)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, err
		}
		s.logger.ErrorContext(ctx, "create user", slog.String("role", role.String()), slog.Any("error", err))
		return nil, rbac.ErrStorageFailure
	}
	return &u, nil
}

// Delete removes an account. Grants it issued stay in place.
func (s *Service) Delete(ctx context.Context, actor rbac.Actor, id int64) error {
	return s.remover.DeleteSubject(ctx, actor, id)
}

// BootstrapSuperadmin creates the single superadmin when none exists yet.
func (s *Service) BootstrapSuperadmin(ctx context.Context, email, password string) (bool, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return false, errors.New("users: superadmin email and password required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return false, fmt.Errorf("users: hash superadmin password: %w", err)
	}
	created, err := s.repo.CreateSuperadmin(ctx, email, string(hash))
	if err != nil {
		return false, fmt.Errorf("users: create superadmin: %w", err)
	}
	if created {
		s.logger.InfoContext(ctx, "superadmin created", slog.String("email", email))
	}
	return created, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
