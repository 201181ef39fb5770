// Package tenant gates scheduler work per tenant. Suspended tenants
// are skipped upstream of both engines; their tasks simply age out.
package tenant

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const StatusActive = "active"

type Gate struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

func NewGate(db *pgxpool.Pool, log zerolog.Logger) *Gate {
	return &Gate{db: db, log: log.With().Str("component", "tenant-gate").Logger()}
}

// IsEligible reports whether the tenant is active. Unknown tenants and
// lookup failures read as ineligible; the next cycle re-checks.
func (g *Gate) IsEligible(ctx context.Context, tenantID string) bool {
	var status string
	err := g.db.QueryRow(ctx, `SELECT status FROM tenants WHERE id=$1`, tenantID).Scan(&status)
	if err == pgx.ErrNoRows {
		return false
	}
	if err != nil {
		g.log.Warn().Err(err).Str("tenant", tenantID).Msg("tenant lookup failed")
		return false
	}
	return status == StatusActive
}

// ListActive returns the ids of all active tenants.
func ListActive(ctx context.Context, db *pgxpool.Pool) ([]string, error) {
	rows, err := db.Query(ctx, `SELECT id FROM tenants WHERE status=$1`, StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Ensure registers a tenant as active if it is not already known.
func Ensure(ctx context.Context, db *pgxpool.Pool, tenantID string) error {
	_, err := db.Exec(ctx, `
        INSERT INTO tenants (id, status) VALUES ($1, $2)
        ON CONFLICT (id) DO NOTHING
    `, tenantID, StatusActive)
	return err
}
