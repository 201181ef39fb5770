package store

import (
	"context"
	"time"

	"fleetdispatch/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const taskColumns = `id, tenant_id, status, eligible_workers, tried_workers,
        broadcast_count, broadcast_round, next_broadcast_at, expires_at,
        last_broadcast_at, validation_started_at, waiter_id, force_execute,
        assigned_worker, payload, created_at, updated_at`

// Postgres implements TaskStore on a pgx pool.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var t domain.Task
	if err := row.Scan(
		&t.ID, &t.TenantID, &t.Status, &t.EligibleWorkers, &t.TriedWorkers,
		&t.BroadcastCount, &t.BroadcastRound, &t.NextBroadcastAt, &t.ExpiresAt,
		&t.LastBroadcastAt, &t.ValidationStartedAt, &t.WaiterID, &t.ForceExecute,
		&t.AssignedWorker, &t.Payload, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *Postgres) Insert(ctx context.Context, t *domain.Task) error {
	_, err := p.db.Exec(ctx, `
        INSERT INTO tasks (id, tenant_id, status, eligible_workers, tried_workers,
            broadcast_count, broadcast_round, next_broadcast_at, expires_at,
            waiter_id, force_execute, payload, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
    `, t.ID, t.TenantID, t.Status, t.EligibleWorkers, t.TriedWorkers,
		t.BroadcastCount, t.BroadcastRound, t.NextBroadcastAt, t.ExpiresAt,
		t.WaiterID, t.ForceExecute, t.Payload)
	return err
}

// pgxCursor wraps pgx.Rows as a store.Cursor.
type pgxCursor struct {
	rows pgx.Rows
	cur  *domain.Task
	err  error
}

func (c *pgxCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	t, err := scanTask(c.rows)
	if err != nil {
		c.err = err
		return false
	}
	c.cur = t
	return true
}

func (c *pgxCursor) Task() *domain.Task { return c.cur }

func (c *pgxCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *pgxCursor) Close() { c.rows.Close() }

func (p *Postgres) QueryLive(ctx context.Context, tenantID string, maxRounds int) (Cursor, error) {
	rows, err := p.db.Query(ctx, `
        SELECT `+taskColumns+`
        FROM tasks
        WHERE tenant_id=$1 AND status=$2 AND assigned_worker=''
          AND next_broadcast_at <= NOW() AND expires_at > NOW()
          AND broadcast_round < $3
        ORDER BY next_broadcast_at
    `, tenantID, domain.StatusQueued, maxRounds)
	if err != nil {
		return nil, err
	}
	return &pgxCursor{rows: rows}, nil
}

func (p *Postgres) ConditionalUpdate(ctx context.Context, id uuid.UUID, expectedCount int, mut Mutation) (*domain.Task, error) {
	row := p.db.QueryRow(ctx, `
        UPDATE tasks
        SET eligible_workers=$3, tried_workers=$4, broadcast_round=$5,
            next_broadcast_at=$6, last_broadcast_at=$7,
            broadcast_count=broadcast_count+1, updated_at=NOW()
        WHERE id=$1 AND broadcast_count=$2
        RETURNING `+taskColumns+`
    `, id, expectedCount, mut.EligibleWorkers, mut.TriedWorkers,
		mut.BroadcastRound, mut.NextBroadcastAt, mut.LastBroadcastAt)
	t, err := scanTask(row)
	if err == pgx.ErrNoRows {
		// Lost the claim race: another instance advanced the count.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (p *Postgres) ListExpiredIDs(ctx context.Context, tenantID string, statuses []string, limit, clustering, bucket int) ([]uuid.UUID, error) {
	q := `
        SELECT id FROM tasks
        WHERE tenant_id=$1 AND status = ANY($2) AND expires_at <= NOW()`
	args := []any{tenantID, statuses}
	if clustering > 1 {
		q += ` AND mod(abs(hashtext(created_at::text)), $4) = $5`
		args = append(args, limit, clustering, bucket)
	} else {
		args = append(args, limit)
	}
	q += ` LIMIT $3`
	rows, err := p.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Postgres) ListStaleValidationIDs(ctx context.Context, tenantID string, before time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := p.db.Query(ctx, `
        SELECT id FROM tasks
        WHERE tenant_id=$1 AND validation_started_at IS NOT NULL
          AND validation_started_at <= $2
        LIMIT $3
    `, tenantID, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Postgres) FetchByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Task, error) {
	rows, err := p.db.Query(ctx, `
        SELECT `+taskColumns+`
        FROM tasks WHERE id = ANY($1)
    `, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (p *Postgres) FetchByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	t, err := scanTask(p.db.QueryRow(ctx, `
        SELECT `+taskColumns+`
        FROM tasks WHERE id=$1
    `, id))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (p *Postgres) FetchWaiter(ctx context.Context, id uuid.UUID) (string, error) {
	var waiterID string
	err := p.db.QueryRow(ctx, `SELECT waiter_id FROM tasks WHERE id=$1`, id).Scan(&waiterID)
	if err == pgx.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return waiterID, nil
}

func (p *Postgres) BulkDelete(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.db.Exec(ctx, `DELETE FROM tasks WHERE id = ANY($1)`, ids)
	return err
}
