package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/humantask/internal/domain"
)

// Membership links a user to a group or role within a tenant.
type Membership struct {
	TenantID    string
	UserID      string
	Kind        domain.AssigneeKind
	PrincipalID string
}

// MembershipRepository resolves GROUP and ROLE membership for claim eligibility.
type MembershipRepository struct {
	pool *pgxpool.Pool
}

// NewMembershipRepository creates a new MembershipRepository.
func NewMembershipRepository(pool *pgxpool.Pool) *MembershipRepository {
	return &MembershipRepository{pool: pool}
}

// IsMember reports whether the user belongs to the group or role.
func (r *MembershipRepository) IsMember(
	ctx context.Context,
	tenantID, userID string,
	kind domain.AssigneeKind,
	principalID string,
) (bool, error) {
	if kind != domain.AssigneeGroup && kind != domain.AssigneeRole {
		return false, nil
	}

	query, args, err := psql.Select("1").From("principal_memberships").
		Where(sq.Eq{
			"tenant_id":    tenantID,
			"user_id":      userID,
			"kind":         kind,
			"principal_id": principalID,
		}).
		Prefix("SELECT EXISTS (").
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build IsMember query: %w", err)
	}

	var ok bool
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return ok, nil
}

// Add grants membership. Adding an existing membership is a no-op.
func (r *MembershipRepository) Add(ctx context.Context, m Membership) error {
	if m.Kind != domain.AssigneeGroup && m.Kind != domain.AssigneeRole {
		return fmt.Errorf("%w: membership kind must be GROUP or ROLE, got %q", domain.ErrValidation, m.Kind)
	}

	query, args, err := psql.Insert("principal_memberships").
		Columns("tenant_id", "user_id", "kind", "principal_id").
		Values(m.TenantID, m.UserID, m.Kind, m.PrincipalID).
		Suffix("ON CONFLICT DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build Add query: %w", err)
	}

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("add membership: %w", err)
	}
	return nil
}

// Remove revokes membership.
func (r *MembershipRepository) Remove(ctx context.Context, m Membership) error {
	query, args, err := psql.Delete("principal_memberships").
		Where(sq.Eq{
			"tenant_id":    m.TenantID,
			"user_id":      m.UserID,
			"kind":         m.Kind,
			"principal_id": m.PrincipalID,
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Remove query: %w", err)
	}

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("remove membership: %w", err)
	}
	return nil
}

// ListForUser returns every membership of a user within a tenant.
func (r *MembershipRepository) ListForUser(ctx context.Context, tenantID, userID string) ([]Membership, error) {
	query, args, err := psql.Select("tenant_id", "user_id", "kind", "principal_id").
		From("principal_memberships").
		Where(sq.Eq{"tenant_id": tenantID, "user_id": userID}).
		OrderBy("kind", "principal_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListForUser query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query memberships: %w", err)
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.TenantID, &m.UserID, &m.Kind, &m.PrincipalID); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
