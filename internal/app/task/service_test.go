package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/taskloop/backend/internal/contracts"
)

type fakeRepo struct {
	tasks map[string]Task

	createErr error
	updateErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{tasks: map[string]Task{}}
}

func (f *fakeRepo) EnsureSchema(ctx context.Context) error { return nil }

func (f *fakeRepo) CreateTask(ctx context.Context, t Task) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeRepo) GetTask(ctx context.Context, taskID string) (Task, error) {
	t, ok := f.tasks[taskID]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return t, nil
}

func (f *fakeRepo) ListVisibleTasks(ctx context.Context, userID string) ([]Task, error) {
	out := []Task{}
	for _, t := range f.tasks {
		if t.CreatedBy == userID {
			out = append(out, t)
			continue
		}
		for _, assigned := range t.AssignedUsers {
			if assigned == userID {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRepo) UpdateTask(ctx context.Context, t Task) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.tasks[t.ID]; !ok {
		return ErrTaskNotFound
	}
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeRepo) DeleteTask(ctx context.Context, taskID string) error {
	if _, ok := f.tasks[taskID]; !ok {
		return ErrTaskNotFound
	}
	delete(f.tasks, taskID)
	return nil
}

type publishRecorder struct {
	subjects []string
	events   []contracts.TaskEvent
	err      error
}

func (p *publishRecorder) publish(subject string, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	var event contracts.TaskEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return err
	}
	p.subjects = append(p.subjects, subject)
	p.events = append(p.events, event)
	return nil
}

func newTestService(repo *fakeRepo, rec *publishRecorder) *Service {
	svc := NewService(repo, rec.publish)
	svc.Now = func() time.Time { return time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC) }
	next := 0
	svc.NewID = func() string {
		next++
		return "id-" + string(rune('0'+next))
	}
	return svc
}

func TestCreate_SetsDefaultsAndPublishes(t *testing.T) {
	repo := newFakeRepo()
	rec := &publishRecorder{}
	svc := newTestService(repo, rec)

	created, err := svc.Create(context.Background(), CreateRequest{
		Title:     "A",
		CreatedBy: "u1",
		SessionID: "sess-1",
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if created.Status != StatusPending {
		t.Fatalf("expected default pending status, got %q", created.Status)
	}
	if created.AssignedUsers == nil || len(created.AssignedUsers) != 0 {
		t.Fatalf("expected empty assigned set, got %#v", created.AssignedUsers)
	}

	if len(rec.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(rec.events))
	}
	event := rec.events[0]
	if event.Kind != contracts.KindTaskCreated || event.TaskID != created.ID || event.SessionID != "sess-1" || event.ActorUserID != "u1" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if rec.subjects[0] != "task.event.taskCreated" {
		t.Fatalf("unexpected subject: %q", rec.subjects[0])
	}

	var payloadTask Task
	if err := json.Unmarshal(event.Task, &payloadTask); err != nil {
		t.Fatalf("event task payload invalid: %v", err)
	}
	if payloadTask.Title != "A" {
		t.Fatalf("unexpected event task payload: %+v", payloadTask)
	}
}

func TestCreate_RequiresTitleAndCreator(t *testing.T) {
	svc := newTestService(newFakeRepo(), &publishRecorder{})

	if _, err := svc.Create(context.Background(), CreateRequest{CreatedBy: "u1"}); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields without title, got %v", err)
	}
	if _, err := svc.Create(context.Background(), CreateRequest{Title: "A"}); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields without creator, got %v", err)
	}
}

func TestCreate_RejectsUnknownStatus(t *testing.T) {
	svc := newTestService(newFakeRepo(), &publishRecorder{})
	_, err := svc.Create(context.Background(), CreateRequest{Title: "A", CreatedBy: "u1", Status: "archived"})
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestList_VisibilitySetAndEmptyIsNotFound(t *testing.T) {
	repo := newFakeRepo()
	repo.tasks["t1"] = Task{ID: "t1", Title: "mine", CreatedBy: "u1"}
	repo.tasks["t2"] = Task{ID: "t2", Title: "assigned", CreatedBy: "u2", AssignedUsers: []string{"u1"}}
	repo.tasks["t3"] = Task{ID: "t3", Title: "other", CreatedBy: "u2"}
	svc := newTestService(repo, &publishRecorder{})

	tasks, err := svc.List(context.Background(), "u1")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 visible tasks, got %d", len(tasks))
	}
	for _, task := range tasks {
		if task.ID == "t3" {
			t.Fatal("t3 must not be visible to u1")
		}
	}

	if _, err := svc.List(context.Background(), "u3"); !errors.Is(err, ErrNoTasks) {
		t.Fatalf("expected ErrNoTasks for empty set, got %v", err)
	}
}

func TestUpdate_CreatorOnly(t *testing.T) {
	repo := newFakeRepo()
	repo.tasks["t1"] = Task{ID: "t1", Title: "A", Status: StatusPending, CreatedBy: "u1", AssignedUsers: []string{"u2"}}
	rec := &publishRecorder{}
	svc := newTestService(repo, rec)

	title := "B"
	updated, err := svc.Update(context.Background(), "t1", "u1", "sess-1", Patch{Title: &title})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if updated.Title != "B" || updated.Status != StatusPending {
		t.Fatalf("unexpected updated task: %+v", updated)
	}
	if len(rec.events) != 1 || rec.events[0].Kind != contracts.KindTaskUpdated {
		t.Fatalf("expected taskUpdated event, got %+v", rec.events)
	}

	// Assigned users may read but not mutate.
	if _, err := svc.Update(context.Background(), "t1", "u2", "", Patch{Title: &title}); !errors.Is(err, ErrNotCreator) {
		t.Fatalf("expected ErrNotCreator, got %v", err)
	}
	if _, err := svc.Update(context.Background(), "missing", "u1", "", Patch{Title: &title}); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestUpdate_PatchLeavesUnsetFields(t *testing.T) {
	repo := newFakeRepo()
	repo.tasks["t1"] = Task{ID: "t1", Title: "A", Status: StatusPending, CreatedBy: "u1", AssignedUsers: []string{"u2"}}
	svc := newTestService(repo, &publishRecorder{})

	status := StatusCompleted
	updated, err := svc.Update(context.Background(), "t1", "u1", "", Patch{Status: &status})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if updated.Title != "A" || updated.Status != StatusCompleted || len(updated.AssignedUsers) != 1 {
		t.Fatalf("patch touched unset fields: %+v", updated)
	}
}

func TestDelete_CreatorOnlyAndPublishes(t *testing.T) {
	repo := newFakeRepo()
	repo.tasks["t1"] = Task{ID: "t1", Title: "A", CreatedBy: "u1"}
	rec := &publishRecorder{}
	svc := newTestService(repo, rec)

	if err := svc.Delete(context.Background(), "t1", "u2", ""); !errors.Is(err, ErrNotCreator) {
		t.Fatalf("expected ErrNotCreator, got %v", err)
	}
	if err := svc.Delete(context.Background(), "t1", "u1", "sess-9"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, ok := repo.tasks["t1"]; ok {
		t.Fatal("task was not deleted")
	}
	if len(rec.events) != 1 || rec.events[0].Kind != contracts.KindTaskDeleted || rec.events[0].SessionID != "sess-9" {
		t.Fatalf("expected taskDeleted event, got %+v", rec.events)
	}

	if err := svc.Delete(context.Background(), "t1", "u1", ""); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestMutation_PublishFailureIsNotSurfaced(t *testing.T) {
	repo := newFakeRepo()
	rec := &publishRecorder{err: errors.New("nats down")}
	svc := newTestService(repo, rec)

	created, err := svc.Create(context.Background(), CreateRequest{Title: "A", CreatedBy: "u1"})
	if err != nil {
		t.Fatalf("Create must succeed despite publish failure, got %v", err)
	}
	if _, ok := repo.tasks[created.ID]; !ok {
		t.Fatal("task was not stored")
	}
}
