package collab

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taskloop/backend/internal/app/task"
)

const (
	RoleOwner        = "owner"
	RoleCollaborator = "collaborator"
	RoleViewer       = "viewer"
)

// Collaboration links one task to one user with a role. There is no
// uniqueness constraint on (task, user): duplicate shares create duplicate
// records.
type Collaboration struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task"`
	UserID    string    `json:"user"`
	Role      string    `json:"role"`
	InvitedAt time.Time `json:"invitedAt"`
}

// SharedCollaboration is the denormalized listing row: the relation joined
// with the referenced task's full current state.
type SharedCollaboration struct {
	ID        string    `json:"id"`
	Task      task.Task `json:"task"`
	UserID    string    `json:"user"`
	Role      string    `json:"role"`
	InvitedAt time.Time `json:"invitedAt"`
}

type Repository interface {
	EnsureSchema(ctx context.Context) error
	CreateCollaboration(ctx context.Context, c Collaboration) error
	ListSharedWith(ctx context.Context, userID string) ([]SharedCollaboration, error)
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

// No foreign key on task_id: deleting a task does not cascade, and dangling
// relations are tolerated (they drop out of the joined listing).
const createCollaborationsSQL = `
CREATE TABLE IF NOT EXISTS collaborations (
  id text PRIMARY KEY,
  task_id text NOT NULL,
  user_id text NOT NULL,
  role text NOT NULL DEFAULT 'collaborator',
  invited_at timestamptz NOT NULL DEFAULT now()
)`

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.Pool.Exec(ctx, createCollaborationsSQL)
	return err
}

func (r *PostgresRepository) CreateCollaboration(ctx context.Context, c Collaboration) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO collaborations (id, task_id, user_id, role, invited_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.TaskID, c.UserID, c.Role, c.InvitedAt,
	)
	return err
}

func (r *PostgresRepository) ListSharedWith(ctx context.Context, userID string) ([]SharedCollaboration, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT c.id, c.user_id, c.role, c.invited_at,
		        t.id, t.title, t.status, t.created_by, t.assigned_users, t.created_at, t.updated_at
		 FROM collaborations c
		 INNER JOIN tasks t ON t.id = c.task_id
		 WHERE c.user_id = $1
		 ORDER BY c.invited_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shared := make([]SharedCollaboration, 0)
	for rows.Next() {
		var sc SharedCollaboration
		if err := rows.Scan(
			&sc.ID, &sc.UserID, &sc.Role, &sc.InvitedAt,
			&sc.Task.ID, &sc.Task.Title, &sc.Task.Status, &sc.Task.CreatedBy,
			&sc.Task.AssignedUsers, &sc.Task.CreatedAt, &sc.Task.UpdatedAt,
		); err != nil {
			return nil, err
		}
		shared = append(shared, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return shared, nil
}
