package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aulnovauk/fieldops/internal/domain"
)

// TaskRepository abstracts all database access for tasks and their
// per-category counters.
type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) error
	GetByID(ctx context.Context, id string) (*domain.Task, error)
	UpdateStatus(ctx context.Context, id string, status domain.TaskStatus) error
	// UpdateStatusFrom moves the task to a new status only if it still
	// holds the expected one. Reports whether a row changed.
	UpdateStatusFrom(ctx context.Context, id string, from, to domain.TaskStatus) (bool, error)
	// UpdateAllocation sets the task's own allocation for one resource
	// type. Quota checks happen in the allocation tree before this call.
	UpdateAllocation(ctx context.Context, id string, rt domain.ResourceType, qty int) error
	// SaveCategory upserts one category's target/progress/SLA row.
	SaveCategory(ctx context.Context, taskID string, c domain.MaintenanceCategory, p *domain.CategoryProgress) error
	ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error)
	// ListActiveEndedBefore returns active tasks whose end date passed.
	ListActiveEndedBefore(ctx context.Context, cutoff time.Time) ([]*domain.Task, error)
}

type taskRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository wraps a pgxpool with the TaskRepository interface.
func NewTaskRepository(pool *pgxpool.Pool) TaskRepository {
	return &taskRepository{pool: pool}
}

func (r *taskRepository) Create(ctx context.Context, task *domain.Task) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tasks
			(id, region, name, location, starts_at, ends_at, status,
			 allocated_sim, allocated_ftth, created_by, manager_id, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		task.ID, task.Region, task.Name, task.Location, task.StartsAt, task.EndsAt,
		string(task.Status), task.AllocatedSim, task.AllocatedFtth,
		task.CreatedBy, task.ManagerID, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	for c, p := range task.Categories {
		if err := r.SaveCategory(ctx, task.ID, c, p); err != nil {
			return err
		}
	}
	return nil
}

func (r *taskRepository) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, region, name, location, starts_at, ends_at, status,
		       allocated_sim, allocated_ftth, created_by, manager_id, created_at, updated_at
		FROM tasks
		WHERE id = $1
	`, id)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.TaskNotFoundError{TaskID: id}
		}
		return nil, err
	}
	if err := r.loadCategories(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (r *taskRepository) UpdateStatus(ctx context.Context, id string, status domain.TaskStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks SET status = $1, updated_at = NOW() WHERE id = $2
	`, string(status), id)
	if err != nil {
		return fmt.Errorf("update status for task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.TaskNotFoundError{TaskID: id}
	}
	return nil
}

func (r *taskRepository) UpdateStatusFrom(ctx context.Context, id string, from, to domain.TaskStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3
	`, string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("update status for task %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *taskRepository) UpdateAllocation(ctx context.Context, id string, rt domain.ResourceType, qty int) error {
	col := "allocated_sim"
	if rt == domain.ResourceFTTH {
		col = "allocated_ftth"
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE tasks SET `+col+` = $1, updated_at = NOW() WHERE id = $2`, qty, id)
	if err != nil {
		return fmt.Errorf("update %s allocation for task %s: %w", rt, id, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.TaskNotFoundError{TaskID: id}
	}
	return nil
}

func (r *taskRepository) SaveCategory(ctx context.Context, taskID string, c domain.MaintenanceCategory, p *domain.CategoryProgress) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO task_categories (task_id, category, target, completed, estimated_hours, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_id, category) DO UPDATE
		SET target = $3, completed = $4, estimated_hours = $5, started_at = $6
	`, taskID, string(c), p.Target, p.Completed, p.EstimatedHours, p.StartedAt)
	if err != nil {
		return fmt.Errorf("save category %s for task %s: %w", c, taskID, err)
	}
	return nil
}

func (r *taskRepository) ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, region, name, location, starts_at, ends_at, status,
		       allocated_sim, allocated_ftth, created_by, manager_id, created_at, updated_at
		FROM tasks
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks by status %s: %w", status, err)
	}
	return r.collect(ctx, rows)
}

func (r *taskRepository) ListActiveEndedBefore(ctx context.Context, cutoff time.Time) ([]*domain.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, region, name, location, starts_at, ends_at, status,
		       allocated_sim, allocated_ftth, created_by, manager_id, created_at, updated_at
		FROM tasks
		WHERE status = 'active' AND ends_at IS NOT NULL AND ends_at < $1
		ORDER BY ends_at ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list overdue active tasks: %w", err)
	}
	return r.collect(ctx, rows)
}

func (r *taskRepository) collect(ctx context.Context, rows pgx.Rows) ([]*domain.Task, error) {
	defer rows.Close()
	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, task := range tasks {
		if err := r.loadCategories(ctx, task); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

func (r *taskRepository) loadCategories(ctx context.Context, task *domain.Task) error {
	rows, err := r.pool.Query(ctx, `
		SELECT category, target, completed, estimated_hours, started_at
		FROM task_categories
		WHERE task_id = $1
	`, task.ID)
	if err != nil {
		return fmt.Errorf("load categories for task %s: %w", task.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var c string
		p := &domain.CategoryProgress{}
		if err := rows.Scan(&c, &p.Target, &p.Completed, &p.EstimatedHours, &p.StartedAt); err != nil {
			return fmt.Errorf("scan category for task %s: %w", task.ID, err)
		}
		if task.Categories == nil {
			task.Categories = make(map[domain.MaintenanceCategory]*domain.CategoryProgress)
		}
		task.Categories[domain.MaintenanceCategory(c)] = p
	}
	return rows.Err()
}

// scanTask reads a task row from any pgx row type.
func scanTask(row interface {
	Scan(...any) error
}) (*domain.Task, error) {
	var task domain.Task
	var statusStr string
	err := row.Scan(
		&task.ID, &task.Region, &task.Name, &task.Location, &task.StartsAt, &task.EndsAt,
		&statusStr, &task.AllocatedSim, &task.AllocatedFtth,
		&task.CreatedBy, &task.ManagerID, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Status = domain.TaskStatus(statusStr)
	return &task, nil
}
