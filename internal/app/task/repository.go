package task

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrTaskNotFound = errors.New("task not found")

const (
	StatusPending    = "pending"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
)

type Task struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Status        string    `json:"status"`
	CreatedBy     string    `json:"createdBy"`
	AssignedUsers []string  `json:"assignedUser"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Repository interface {
	EnsureSchema(ctx context.Context) error
	CreateTask(ctx context.Context, t Task) error
	GetTask(ctx context.Context, taskID string) (Task, error)
	// ListVisibleTasks applies the read-visibility predicate at query time:
	// tasks the user created or is assigned to.
	ListVisibleTasks(ctx context.Context, userID string) ([]Task, error)
	UpdateTask(ctx context.Context, t Task) error
	DeleteTask(ctx context.Context, taskID string) error
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

const createTasksSQL = `
CREATE TABLE IF NOT EXISTS tasks (
  id text PRIMARY KEY,
  title text NOT NULL,
  status text NOT NULL DEFAULT 'pending',
  created_by text NOT NULL,
  assigned_users text[] NOT NULL DEFAULT '{}',
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL
)`

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.Pool.Exec(ctx, createTasksSQL)
	return err
}

func (r *PostgresRepository) CreateTask(ctx context.Context, t Task) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO tasks (id, title, status, created_by, assigned_users, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Title, t.Status, t.CreatedBy, t.AssignedUsers, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (r *PostgresRepository) GetTask(ctx context.Context, taskID string) (Task, error) {
	var t Task
	err := r.Pool.QueryRow(ctx,
		`SELECT id, title, status, created_by, assigned_users, created_at, updated_at
		 FROM tasks
		 WHERE id = $1`,
		taskID,
	).Scan(&t.ID, &t.Title, &t.Status, &t.CreatedBy, &t.AssignedUsers, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, err
	}
	return t, nil
}

func (r *PostgresRepository) ListVisibleTasks(ctx context.Context, userID string) ([]Task, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT id, title, status, created_by, assigned_users, created_at, updated_at
		 FROM tasks
		 WHERE created_by = $1 OR $1 = ANY(assigned_users)
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]Task, 0)
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Title, &t.Status, &t.CreatedBy, &t.AssignedUsers, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTask writes the full mutable row. Concurrent updates to the same
// task race; the last commit wins.
func (r *PostgresRepository) UpdateTask(ctx context.Context, t Task) error {
	res, err := r.Pool.Exec(ctx,
		`UPDATE tasks
		 SET title = $2, status = $3, assigned_users = $4, updated_at = $5
		 WHERE id = $1`,
		t.ID, t.Title, t.Status, t.AssignedUsers, t.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteTask(ctx context.Context, taskID string) error {
	res, err := r.Pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}
