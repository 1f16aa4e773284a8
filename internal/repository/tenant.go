package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type Organization struct {
	ID        uuid.UUID
	Name      string
	Plan      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type APIKey struct {
	KeyID      string
	OrgID      uuid.UUID
	SecretHash string
	Label      string
	Revoked    bool
	CreatedAt  time.Time
}

const getOrganizationByID = `
SELECT id, name, plan, active, created_at, updated_at
FROM organizations
WHERE id = $1
`

func (q *Queries) GetOrganizationByID(ctx context.Context, id uuid.UUID) (Organization, error) {
	row := q.db.QueryRowContext(ctx, getOrganizationByID, id)
	var o Organization
	err := row.Scan(&o.ID, &o.Name, &o.Plan, &o.Active, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

const getOrganizationByChatIdentity = `
SELECT o.id, o.name, o.plan, o.active, o.created_at, o.updated_at
FROM organizations o
JOIN chat_identities ci ON ci.org_id = o.id
WHERE ci.external_id = $1 AND o.active = TRUE
`

// GetOrganizationByChatIdentity looks up the organization a chat identity
// (e.g. "chat:42") is linked to. Inactive organizations resolve as not found.
func (q *Queries) GetOrganizationByChatIdentity(ctx context.Context, externalID string) (Organization, error) {
	row := q.db.QueryRowContext(ctx, getOrganizationByChatIdentity, externalID)
	var o Organization
	err := row.Scan(&o.ID, &o.Name, &o.Plan, &o.Active, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

const getAPIKey = `
SELECT key_id, org_id, secret_hash, label, revoked, created_at
FROM api_keys
WHERE key_id = $1
`

func (q *Queries) GetAPIKey(ctx context.Context, keyID string) (APIKey, error) {
	row := q.db.QueryRowContext(ctx, getAPIKey, keyID)
	var k APIKey
	err := row.Scan(&k.KeyID, &k.OrgID, &k.SecretHash, &k.Label, &k.Revoked, &k.CreatedAt)
	return k, err
}

const getOrganizationByAPIKeyID = `
SELECT o.id, o.name, o.plan, o.active, o.created_at, o.updated_at
FROM organizations o
JOIN api_keys k ON k.org_id = o.id
WHERE k.key_id = $1 AND k.revoked = FALSE AND o.active = TRUE
`

func (q *Queries) GetOrganizationByAPIKeyID(ctx context.Context, keyID string) (Organization, error) {
	row := q.db.QueryRowContext(ctx, getOrganizationByAPIKeyID, keyID)
	var o Organization
	err := row.Scan(&o.ID, &o.Name, &o.Plan, &o.Active, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

const createOrganization = `
INSERT INTO organizations (id, name, plan)
VALUES ($1, $2, $3)
RETURNING id, name, plan, active, created_at, updated_at
`

func (q *Queries) CreateOrganization(ctx context.Context, id uuid.UUID, name, plan string) (Organization, error) {
	row := q.db.QueryRowContext(ctx, createOrganization, id, name, plan)
	var o Organization
	err := row.Scan(&o.ID, &o.Name, &o.Plan, &o.Active, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

const updateOrganizationPlan = `
UPDATE organizations
SET plan = $2, updated_at = now()
WHERE id = $1
`

func (q *Queries) UpdateOrganizationPlan(ctx context.Context, id uuid.UUID, plan string) error {
	result, err := q.db.ExecContext(ctx, updateOrganizationPlan, id, plan)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const linkChatIdentity = `
INSERT INTO chat_identities (external_id, org_id)
VALUES ($1, $2)
ON CONFLICT (external_id) DO UPDATE SET org_id = EXCLUDED.org_id
`

func (q *Queries) LinkChatIdentity(ctx context.Context, externalID string, orgID uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, linkChatIdentity, externalID, orgID)
	return err
}

const listChatIdentitiesByOrg = `
SELECT external_id
FROM chat_identities
WHERE org_id = $1
ORDER BY created_at
`

// ListChatIdentitiesByOrg returns every linked chat identity for an
// organization. Used to invalidate cached tenant entries on plan changes.
func (q *Queries) ListChatIdentitiesByOrg(ctx context.Context, orgID uuid.UUID) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listChatIdentitiesByOrg, orgID)
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

const listAPIKeyIDsByOrg = `
SELECT key_id
FROM api_keys
WHERE org_id = $1 AND revoked = FALSE
ORDER BY created_at
`

func (q *Queries) ListAPIKeyIDsByOrg(ctx context.Context, orgID uuid.UUID) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listAPIKeyIDsByOrg, orgID)
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

const createAPIKey = `
INSERT INTO api_keys (key_id, org_id, secret_hash, label)
VALUES ($1, $2, $3, $4)
`

func (q *Queries) CreateAPIKey(ctx context.Context, keyID string, orgID uuid.UUID, secretHash, label string) error {
	_, err := q.db.ExecContext(ctx, createAPIKey, keyID, orgID, secretHash, label)
	return err
}

const revokeAPIKey = `
UPDATE api_keys
SET revoked = TRUE
WHERE key_id = $1
`

func (q *Queries) RevokeAPIKey(ctx context.Context, keyID string) error {
	_, err := q.db.ExecContext(ctx, revokeAPIKey, keyID)
	return err
}
