package collab

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nuid"
	"github.com/taskloop/backend/internal/app/access"
	"github.com/taskloop/backend/internal/app/task"
)

var (
	ErrNotTaskCreator = errors.New("not authorized to share the task")
	ErrInvalidRole    = errors.New("invalid collaborator role")
	// ErrNoShares signals an empty-but-successful listing, surfaced as a 404
	// at the boundary.
	ErrNoShares = errors.New("no tasks shared")
)

// TaskReader loads the task snapshot the share authorization runs against.
type TaskReader interface {
	GetTask(ctx context.Context, taskID string) (task.Task, error)
}

// Service is the collaboration registry: sharing grants and the shared-task
// listing. Only the task's creator may share; the target user is not
// validated against the user store and self-shares are not rejected.
type Service struct {
	Repo  Repository
	Tasks TaskReader
	Now   func() time.Time
	NewID func() string
}

func NewService(repo Repository, tasks TaskReader) *Service {
	return &Service{
		Repo:  repo,
		Tasks: tasks,
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: nuid.Next,
	}
}

func validRole(role string) bool {
	switch role {
	case RoleOwner, RoleCollaborator, RoleViewer:
		return true
	default:
		return false
	}
}

func (s *Service) Share(ctx context.Context, taskID, granterID, targetUserID, role string) (Collaboration, error) {
	t, err := s.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return Collaboration{}, err
	}

	snap := access.TaskSnapshot{CreatedBy: t.CreatedBy, AssignedUsers: t.AssignedUsers}
	if d := access.Decide(granterID, snap, access.OpShare); !d.Allowed {
		return Collaboration{}, ErrNotTaskCreator
	}

	role = strings.TrimSpace(role)
	if role == "" {
		role = RoleCollaborator
	}
	if !validRole(role) {
		return Collaboration{}, ErrInvalidRole
	}

	c := Collaboration{
		ID:        s.NewID(),
		TaskID:    taskID,
		UserID:    targetUserID,
		Role:      role,
		InvitedAt: s.Now(),
	}
	if err := s.Repo.CreateCollaboration(ctx, c); err != nil {
		return Collaboration{}, err
	}
	return c, nil
}

func (s *Service) ListSharedWith(ctx context.Context, userID string) ([]SharedCollaboration, error) {
	shared, err := s.Repo.ListSharedWith(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(shared) == 0 {
		return nil, ErrNoShares
	}
	return shared, nil
}
