package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aulnovauk/fieldops/internal/domain"
)

// AssignmentRepository abstracts (task, member) assignment rows.
type AssignmentRepository interface {
	// Get returns the assignment for (taskID, memberID), or (nil, nil)
	// when no row exists yet — rows are created on first write.
	Get(ctx context.Context, taskID, memberID string) (*domain.Assignment, error)
	ListByTask(ctx context.Context, taskID string) ([]*domain.Assignment, error)
	Upsert(ctx context.Context, a *domain.Assignment) error
	// AddSold bumps the sold counter for one resource type. Returns
	// false when the bump would push sold above the member's target.
	AddSold(ctx context.Context, taskID, memberID string, rt domain.ResourceType, qty int) (bool, error)
	// SaveCategory upserts one member-category counter row.
	SaveCategory(ctx context.Context, taskID, memberID string, c domain.MaintenanceCategory, counts domain.CategoryCounts) error
	// UpdateSubmission moves submission status conditionally on the
	// current value. Returns false when the row was not in `from`.
	UpdateSubmission(ctx context.Context, taskID, memberID string, from, to domain.SubmissionStatus) (bool, error)
}

type assignmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssignmentRepository wraps a pgxpool with the AssignmentRepository interface.
func NewAssignmentRepository(pool *pgxpool.Pool) AssignmentRepository {
	return &assignmentRepository{pool: pool}
}

func (r *assignmentRepository) Get(ctx context.Context, taskID, memberID string) (*domain.Assignment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT task_id, member_id, sim_target, ftth_target, sim_sold, ftth_sold,
		       submission_status, created_at, updated_at
		FROM assignments
		WHERE task_id = $1 AND member_id = $2
	`, taskID, memberID)

	a, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get assignment %s/%s: %w", taskID, memberID, err)
	}
	if err := r.loadCategories(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *assignmentRepository) ListByTask(ctx context.Context, taskID string) ([]*domain.Assignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT task_id, member_id, sim_target, ftth_target, sim_sold, ftth_sold,
		       submission_status, created_at, updated_at
		FROM assignments
		WHERE task_id = $1
		ORDER BY created_at ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list assignments for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []*domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, a := range out {
		if err := r.loadCategories(ctx, a); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *assignmentRepository) Upsert(ctx context.Context, a *domain.Assignment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO assignments
			(task_id, member_id, sim_target, ftth_target, sim_sold, ftth_sold,
			 submission_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (task_id, member_id) DO UPDATE
		SET sim_target = $3, ftth_target = $4, submission_status = $7, updated_at = $9
	`,
		a.TaskID, a.MemberID, a.SimTarget, a.FtthTarget, a.SimSold, a.FtthSold,
		string(a.Submission), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert assignment %s/%s: %w", a.TaskID, a.MemberID, err)
	}
	for c, counts := range a.Categories {
		if err := r.SaveCategory(ctx, a.TaskID, a.MemberID, c, counts); err != nil {
			return err
		}
	}
	return nil
}

func (r *assignmentRepository) AddSold(ctx context.Context, taskID, memberID string, rt domain.ResourceType, qty int) (bool, error) {
	soldCol, targetCol := "sim_sold", "sim_target"
	if rt == domain.ResourceFTTH {
		soldCol, targetCol = "ftth_sold", "ftth_target"
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE assignments
		SET `+soldCol+` = `+soldCol+` + $3, updated_at = NOW()
		WHERE task_id = $1 AND member_id = $2 AND `+soldCol+` + $3 <= `+targetCol+`
	`, taskID, memberID, qty)
	if err != nil {
		return false, fmt.Errorf("add %d %s sold for %s/%s: %w", qty, rt, taskID, memberID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *assignmentRepository) SaveCategory(ctx context.Context, taskID, memberID string, c domain.MaintenanceCategory, counts domain.CategoryCounts) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO assignment_categories (task_id, member_id, category, target, completed)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (task_id, member_id, category) DO UPDATE
		SET target = $4, completed = $5
	`, taskID, memberID, string(c), counts.Target, counts.Completed)
	if err != nil {
		return fmt.Errorf("save category %s for %s/%s: %w", c, taskID, memberID, err)
	}
	return nil
}

func (r *assignmentRepository) UpdateSubmission(ctx context.Context, taskID, memberID string, from, to domain.SubmissionStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE assignments
		SET submission_status = $4, updated_at = NOW()
		WHERE task_id = $1 AND member_id = $2 AND submission_status = $3
	`, taskID, memberID, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("update submission for %s/%s: %w", taskID, memberID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *assignmentRepository) loadCategories(ctx context.Context, a *domain.Assignment) error {
	rows, err := r.pool.Query(ctx, `
		SELECT category, target, completed
		FROM assignment_categories
		WHERE task_id = $1 AND member_id = $2
	`, a.TaskID, a.MemberID)
	if err != nil {
		return fmt.Errorf("load categories for %s/%s: %w", a.TaskID, a.MemberID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var c string
		var counts domain.CategoryCounts
		if err := rows.Scan(&c, &counts.Target, &counts.Completed); err != nil {
			return fmt.Errorf("scan assignment category: %w", err)
		}
		if a.Categories == nil {
			a.Categories = make(map[domain.MaintenanceCategory]domain.CategoryCounts)
		}
		a.Categories[domain.MaintenanceCategory(c)] = counts
	}
	return rows.Err()
}

// scanAssignment reads an assignment row from any pgx row type.
func scanAssignment(row interface {
	Scan(...any) error
}) (*domain.Assignment, error) {
	var a domain.Assignment
	var submission string
	err := row.Scan(
		&a.TaskID, &a.MemberID, &a.SimTarget, &a.FtthTarget, &a.SimSold, &a.FtthSold,
		&submission, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Submission = domain.SubmissionStatus(submission)
	return &a, nil
}
