package task

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nuid"
	"github.com/taskloop/backend/internal/app/access"
	"github.com/taskloop/backend/internal/contracts"
	"go.uber.org/zap"
)

var (
	ErrMissingFields = errors.New("missing required field title and createdBy")
	ErrInvalidStatus = errors.New("invalid status")
	ErrNotCreator    = errors.New("not authorized")
	// ErrNoTasks signals an empty-but-successful listing; the boundary maps
	// it to a 404, matching the API contract.
	ErrNoTasks = errors.New("no tasks assigned or created")
)

type PublishFunc func(subject string, payload []byte) error

// Service is the task mutation gateway: it loads the task, consults the
// access evaluator, applies the mutation and publishes a realtime event.
type Service struct {
	Repo    Repository
	Publish PublishFunc
	Logger  *zap.Logger
	Now     func() time.Time
	NewID   func() string
}

func NewService(repo Repository, publish PublishFunc) *Service {
	return &Service{
		Repo:    repo,
		Publish: publish,
		Logger:  zap.NewNop(),
		Now:     func() time.Time { return time.Now().UTC() },
		NewID:   nuid.Next,
	}
}

type CreateRequest struct {
	Title         string
	Status        string
	CreatedBy     string
	AssignedUsers []string
	SessionID     string
}

// Patch holds the update fields; nil fields are left untouched.
type Patch struct {
	Title         *string   `json:"title"`
	Status        *string   `json:"status"`
	AssignedUsers *[]string `json:"assignedUser"`
}

func validStatus(status string) bool {
	switch status {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	default:
		return false
	}
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (Task, error) {
	title := strings.TrimSpace(req.Title)
	creator := strings.TrimSpace(req.CreatedBy)
	if title == "" || creator == "" {
		return Task{}, ErrMissingFields
	}
	status := strings.TrimSpace(req.Status)
	if status == "" {
		status = StatusPending
	}
	if !validStatus(status) {
		return Task{}, ErrInvalidStatus
	}
	assigned := req.AssignedUsers
	if assigned == nil {
		assigned = []string{}
	}

	now := s.Now()
	t := Task{
		ID:            s.NewID(),
		Title:         title,
		Status:        status,
		CreatedBy:     creator,
		AssignedUsers: assigned,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Repo.CreateTask(ctx, t); err != nil {
		return Task{}, err
	}

	s.publishEvent(contracts.KindTaskCreated, t, creator, req.SessionID)
	return t, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]Task, error) {
	tasks, err := s.Repo.ListVisibleTasks(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}
	return tasks, nil
}

func (s *Service) Update(ctx context.Context, taskID, userID, sessionID string, patch Patch) (Task, error) {
	t, err := s.Repo.GetTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if d := access.Decide(userID, snapshot(t), access.OpUpdate); !d.Allowed {
		return Task{}, ErrNotCreator
	}

	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return Task{}, ErrMissingFields
		}
		t.Title = title
	}
	if patch.Status != nil {
		if !validStatus(*patch.Status) {
			return Task{}, ErrInvalidStatus
		}
		t.Status = *patch.Status
	}
	if patch.AssignedUsers != nil {
		t.AssignedUsers = *patch.AssignedUsers
	}
	t.UpdatedAt = s.Now()

	if err := s.Repo.UpdateTask(ctx, t); err != nil {
		return Task{}, err
	}

	s.publishEvent(contracts.KindTaskUpdated, t, userID, sessionID)
	return t, nil
}

func (s *Service) Delete(ctx context.Context, taskID, userID, sessionID string) error {
	t, err := s.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if d := access.Decide(userID, snapshot(t), access.OpDelete); !d.Allowed {
		return ErrNotCreator
	}

	// Collaboration records referencing the task are left in place; the
	// shared listing joins on tasks and drops them.
	if err := s.Repo.DeleteTask(ctx, taskID); err != nil {
		return err
	}

	s.publishEvent(contracts.KindTaskDeleted, t, userID, sessionID)
	return nil
}

// Get loads a task snapshot without an authorization check; the caller is
// responsible for gating.
func (s *Service) Get(ctx context.Context, taskID string) (Task, error) {
	return s.Repo.GetTask(ctx, taskID)
}

func snapshot(t Task) access.TaskSnapshot {
	return access.TaskSnapshot{CreatedBy: t.CreatedBy, AssignedUsers: t.AssignedUsers}
}

// publishEvent is best-effort: the mutation already committed, so a publish
// failure is logged and not surfaced to the caller.
func (s *Service) publishEvent(kind string, t Task, actorUserID, sessionID string) {
	if s.Publish == nil {
		return
	}
	taskJSON, err := json.Marshal(t)
	if err != nil {
		s.Logger.Warn("marshal task event payload failed", zap.Error(err))
		return
	}
	event := contracts.TaskEvent{
		EventID:     s.NewID(),
		Kind:        kind,
		TaskID:      t.ID,
		ActorUserID: actorUserID,
		SessionID:   sessionID,
		Task:        taskJSON,
		OccurredAt:  s.Now(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.Logger.Warn("marshal task event failed", zap.Error(err))
		return
	}
	if err := s.Publish(contracts.EventSubject(kind), payload); err != nil {
		s.Logger.Warn("publish task event failed",
			zap.String("kind", kind),
			zap.String("task_id", t.ID),
			zap.Error(err),
		)
	}
}
