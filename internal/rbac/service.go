package rbac

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/grantkeeper/grantkeeper/internal/shared"
)

// AuditRecorder persists audit trail entries for committed mutations.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// RemoveResult describes a committed removal.
type RemoveResult struct {
	SubjectID int64    `json:"id"`
	ModuleID  int64    `json:"module_id"`
	Removed   int      `json:"removed"`
	Actions   []Action `json:"permissions"`
}

// CatalogListing is the full module and action catalog.
type CatalogListing struct {
	Modules     []Module     `json:"modules"`
	Permissions []Permission `json:"permissions"`
}

// Service orchestrates grant mutations and permission resolution.
type Service struct {
	repo    Repository
	audit   AuditRecorder
	metrics *Metrics
	logger  *slog.Logger
}

// NewService constructs a Service. audit and metrics may be nil.
func NewService(repo Repository, audit AuditRecorder, metrics *Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, metrics: metrics, logger: logger}
}

// Assign grants new actions to a subject on one module and returns the
// subject's resolved permissions.
func (s *Service) Assign(ctx context.Context, actor Actor, req MutationRequest) (*SubjectPermissions, error) {
	if _, _, err := s.mutate(ctx, OpAssign, actor, req); err != nil {
		return nil, err
	}
	return s.resolveOne(ctx, req.SubjectID)
}

// Replace swaps the subject's actions on one module for the requested set.
func (s *Service) Replace(ctx context.Context, actor Actor, req MutationRequest) (*SubjectPermissions, error) {
	if _, _, err := s.mutate(ctx, OpReplace, actor, req); err != nil {
		return nil, err
	}
	return s.resolveOne(ctx, req.SubjectID)
}

// Remove revokes the requested actions. Every action must currently be held.
func (s *Service) Remove(ctx context.Context, actor Actor, req MutationRequest) (*RemoveResult, error) {
	dec, n, err := s.mutate(ctx, OpRemove, actor, req)
	if err != nil {
		return nil, err
	}
	return &RemoveResult{SubjectID: dec.SubjectID, ModuleID: dec.ModuleID, Removed: n, Actions: dec.Actions()}, nil
}

func (s *Service) mutate(ctx context.Context, op Operation, actor Actor, req MutationRequest) (Decision, int, error) {
	var (
		dec     Decision
		changed int
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		in, err := loadDecisionInput(ctx, tx, op, actor, req)
		if err != nil {
			return err
		}
		if dec, err = Decide(in); err != nil {
			return err
		}
		changed, err = Apply(ctx, tx, dec)
		return err
	})
	err = s.classify(ctx, op.String(), err)
	s.metrics.observe(op, changed, err)
	if err != nil {
		return Decision{}, 0, err
	}
	s.record(ctx, actor, dec)
	return dec, changed, nil
}

func loadDecisionInput(ctx context.Context, tx TxRepository, op Operation, actor Actor, req MutationRequest) (DecisionInput, error) {
	in := DecisionInput{Op: op, Actor: actor, Requested: req.Permissions}

	target, err := tx.GetSubject(ctx, req.SubjectID)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return in, nil
	case err != nil:
		return in, err
	}
	in.Target = target

	module, err := tx.GetModule(ctx, req.ModuleID)
	switch {
	case errors.Is(err, ErrRecordNotFound):
	case err != nil:
		return in, err
	default:
		in.Module = module
	}

	if actor.Role == RoleAdmin {
		if in.ActorHoldsModule, err = tx.HasModuleGrant(ctx, actor.ID, req.ModuleID); err != nil {
			return in, err
		}
	}
	if in.Module == nil {
		return in, nil
	}

	var actions []Action
	for _, name := range dedupe(req.Permissions) {
		if a, err := ParseAction(name); err == nil {
			actions = append(actions, a)
		}
	}
	if in.Catalog, err = tx.PermissionsByAction(ctx, actions); err != nil {
		return in, err
	}
	if in.Held, err = tx.ListGrantActions(ctx, target.ID, module.ID); err != nil {
		return in, err
	}
	return in, nil
}

// DeleteSubject removes a subject. A superadmin deletes admins and users; an
// admin deletes only the users it created.
func (s *Service) DeleteSubject(ctx context.Context, actor Actor, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		target, err := tx.GetSubject(ctx, id)
		if err != nil && !errors.Is(err, ErrRecordNotFound) {
			return err
		}
		if err := DecideSubjectDeletion(actor, target); err != nil {
			return err
		}
		return RemoveSubject(ctx, tx, id)
	})
	if err = s.classify(ctx, "delete_subject", err); err != nil {
		return err
	}
	if s.audit != nil {
		entry := shared.AuditLog{ActorID: actor.ID, Action: "subject.delete", Entity: "users", EntityID: strconv.FormatInt(id, 10)}
		if err := s.audit.Record(ctx, entry); err != nil {
			s.logger.Warn("record audit", slog.String("action", entry.Action), slog.Any("error", err))
		}
	}
	return nil
}

// Resolve returns one subject's permissions. Subjects outside the actor's
// visible scope are reported as not found.
func (s *Service) Resolve(ctx context.Context, actor Actor, subjectID int64) (*SubjectPermissions, error) {
	var out *SubjectPermissions
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		subject, err := tx.GetSubject(ctx, subjectID)
		if errors.Is(err, ErrRecordNotFound) || (err == nil && !ScopeFor(actor).Covers(*subject)) {
			return newPolicyError(ErrNotFoundState, "subject not found")
		}
		if err != nil {
			return err
		}
		rows, err := tx.ResolvePermissions(ctx, ScopeSubject(subjectID))
		if err != nil {
			return err
		}
		if grouped := groupRows(rows); len(grouped) > 0 {
			out = &grouped[0]
			return nil
		}
		return newPolicyError(ErrNotFoundState, "subject not found")
	})
	if err = s.classify(ctx, "resolve", err); err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveVisible lists every subject the actor may see with its permissions.
func (s *Service) ResolveVisible(ctx context.Context, actor Actor) ([]SubjectPermissions, error) {
	return s.ResolveScope(ctx, ScopeFor(actor))
}

// ResolveScope lists the subjects selected by scope with their permissions.
func (s *Service) ResolveScope(ctx context.Context, scope Scope) ([]SubjectPermissions, error) {
	rows, err := s.repo.ResolvePermissions(ctx, scope)
	if err = s.classify(ctx, "resolve", err); err != nil {
		return nil, err
	}
	return groupRows(rows), nil
}

// Catalog lists all modules and permission actions.
func (s *Service) Catalog(ctx context.Context) (*CatalogListing, error) {
	modules, err := s.repo.ListModules(ctx)
	if err = s.classify(ctx, "catalog", err); err != nil {
		return nil, err
	}
	perms, err := s.repo.ListPermissions(ctx)
	if err = s.classify(ctx, "catalog", err); err != nil {
		return nil, err
	}
	if modules == nil {
		modules = []Module{}
	}
	if perms == nil {
		perms = []Permission{}
	}
	return &CatalogListing{Modules: modules, Permissions: perms}, nil
}

func (s *Service) resolveOne(ctx context.Context, subjectID int64) (*SubjectPermissions, error) {
	grouped, err := s.ResolveScope(ctx, ScopeSubject(subjectID))
	if err != nil {
		return nil, err
	}
	if len(grouped) == 0 {
		return nil, newPolicyError(ErrNotFoundState, "subject not found")
	}
	return &grouped[0], nil
}

// classify passes classified failures through and hides everything else
// behind ErrStorageFailure after logging it.
func (s *Service) classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if classified(err) {
		if errors.Is(err, errConsistency) {
			s.logger.WarnContext(ctx, "grant uniqueness enforced by storage", slog.String("op", op), slog.Any("error", err))
		}
		return err
	}
	s.logger.ErrorContext(ctx, "rbac storage failure", slog.String("op", op), slog.Any("error", err))
	return ErrStorageFailure
}

func (s *Service) record(ctx context.Context, actor Actor, d Decision) {
	if s.audit == nil {
		return
	}
	actions := make([]string, 0, len(d.Permissions))
	for _, a := range d.Actions() {
		actions = append(actions, a.String())
	}
	entry := shared.AuditLog{
		ActorID:  actor.ID,
		Action:   "rbac." + d.Op.String(),
		Entity:   "user_permissions",
		EntityID: strconv.FormatInt(d.SubjectID, 10),
		Meta:     map[string]any{"module_id": d.ModuleID, "permissions": actions},
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "record audit", slog.String("action", entry.Action), slog.Any("error", err))
	}
}
