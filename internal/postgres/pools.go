package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aulnovauk/fieldops/internal/domain"
)

// PoolRepository abstracts resource-pool counter access. Every mutation
// is a conditional update so two processes can never both observe a
// stale `remaining` and over-commit.
type PoolRepository interface {
	Get(ctx context.Context, region string, rt domain.ResourceType) (*domain.ResourcePool, error)
	// SetTotal upserts the pool row with the new total, recomputing
	// remaining. Returns false when the new total is below the quantity
	// already allocated.
	SetTotal(ctx context.Context, region string, rt domain.ResourceType, newTotal int) (bool, error)
	// Reserve moves qty from remaining to allocated. Returns false when
	// remaining < qty.
	Reserve(ctx context.Context, region string, rt domain.ResourceType, qty int) (bool, error)
	// Release moves qty from allocated back to remaining. Returns false
	// when allocated < qty.
	Release(ctx context.Context, region string, rt domain.ResourceType, qty int) (bool, error)
	// RecordUsage increments used only. Returns false when used + qty
	// would exceed allocated.
	RecordUsage(ctx context.Context, region string, rt domain.ResourceType, qty int) (bool, error)
}

type poolRepository struct {
	pool *pgxpool.Pool
}

// NewPoolRepository wraps a pgxpool with the PoolRepository interface.
func NewPoolRepository(pool *pgxpool.Pool) PoolRepository {
	return &poolRepository{pool: pool}
}

func (r *poolRepository) Get(ctx context.Context, region string, rt domain.ResourceType) (*domain.ResourcePool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT region, resource_type, total, allocated, used, remaining, updated_at
		FROM resource_pools
		WHERE region = $1 AND resource_type = $2
	`, region, string(rt))

	var p domain.ResourcePool
	var typ string
	err := row.Scan(&p.Region, &typ, &p.Total, &p.Allocated, &p.Used, &p.Remaining, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.PoolNotFoundError{Region: region, Type: rt}
		}
		return nil, fmt.Errorf("get pool %s/%s: %w", region, rt, err)
	}
	p.Type = domain.ResourceType(typ)
	return &p, nil
}

func (r *poolRepository) SetTotal(ctx context.Context, region string, rt domain.ResourceType, newTotal int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO resource_pools (region, resource_type, total, allocated, used, remaining, updated_at)
		VALUES ($1, $2, $3, 0, 0, $3, NOW())
		ON CONFLICT (region, resource_type) DO UPDATE
		SET total = $3,
		    remaining = $3 - resource_pools.allocated,
		    updated_at = NOW()
		WHERE resource_pools.allocated <= $3
	`, region, string(rt), newTotal)
	if err != nil {
		return false, fmt.Errorf("set total for %s/%s: %w", region, rt, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *poolRepository) Reserve(ctx context.Context, region string, rt domain.ResourceType, qty int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE resource_pools
		SET allocated = allocated + $3,
		    remaining = remaining - $3,
		    updated_at = NOW()
		WHERE region = $1 AND resource_type = $2 AND remaining >= $3
	`, region, string(rt), qty)
	if err != nil {
		return false, fmt.Errorf("reserve %d %s in %s: %w", qty, rt, region, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *poolRepository) Release(ctx context.Context, region string, rt domain.ResourceType, qty int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE resource_pools
		SET allocated = allocated - $3,
		    remaining = remaining + $3,
		    updated_at = NOW()
		WHERE region = $1 AND resource_type = $2 AND allocated >= $3
	`, region, string(rt), qty)
	if err != nil {
		return false, fmt.Errorf("release %d %s in %s: %w", qty, rt, region, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *poolRepository) RecordUsage(ctx context.Context, region string, rt domain.ResourceType, qty int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE resource_pools
		SET used = used + $3,
		    updated_at = NOW()
		WHERE region = $1 AND resource_type = $2 AND used + $3 <= allocated
	`, region, string(rt), qty)
	if err != nil {
		return false, fmt.Errorf("record usage of %d %s in %s: %w", qty, rt, region, err)
	}
	return tag.RowsAffected() == 1, nil
}
