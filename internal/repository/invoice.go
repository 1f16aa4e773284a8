package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type Invoice struct {
	ID           uuid.UUID
	OrgID        uuid.UUID
	Number       string
	CustomerName string
	Status       string
	Currency     string
	TotalCents   int64
	DocumentKey  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type InvoiceItem struct {
	InvoiceID      uuid.UUID
	Position       int
	Description    string
	Metal          string
	Purity         string
	WeightGrams    float64
	Quantity       int
	UnitPriceCents int64
}

const createInvoice = `
INSERT INTO invoices (id, org_id, number, customer_name, status, currency, total_cents, document_key)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, org_id, number, customer_name, status, currency, total_cents, document_key, created_at, updated_at
`

func (q *Queries) CreateInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	row := q.db.QueryRowContext(ctx, createInvoice,
		inv.ID, inv.OrgID, inv.Number, inv.CustomerName, inv.Status,
		inv.Currency, inv.TotalCents, inv.DocumentKey)
	var out Invoice
	err := row.Scan(&out.ID, &out.OrgID, &out.Number, &out.CustomerName, &out.Status,
		&out.Currency, &out.TotalCents, &out.DocumentKey, &out.CreatedAt, &out.UpdatedAt)
	return out, err
}

const createInvoiceItem = `
INSERT INTO invoice_items (invoice_id, position, description, metal, purity, weight_grams, quantity, unit_price_cents)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

func (q *Queries) CreateInvoiceItem(ctx context.Context, item InvoiceItem) error {
	_, err := q.db.ExecContext(ctx, createInvoiceItem,
		item.InvoiceID, item.Position, item.Description, item.Metal,
		item.Purity, item.WeightGrams, item.Quantity, item.UnitPriceCents)
	return err
}

const getInvoiceByID = `
SELECT id, org_id, number, customer_name, status, currency, total_cents, document_key, created_at, updated_at
FROM invoices
WHERE id = $1 AND org_id = $2
`

// GetInvoiceByID scopes the lookup to the owning organization so a tenant
// can never read another tenant's invoice by guessing IDs.
func (q *Queries) GetInvoiceByID(ctx context.Context, id, orgID uuid.UUID) (Invoice, error) {
	row := q.db.QueryRowContext(ctx, getInvoiceByID, id, orgID)
	var out Invoice
	err := row.Scan(&out.ID, &out.OrgID, &out.Number, &out.CustomerName, &out.Status,
		&out.Currency, &out.TotalCents, &out.DocumentKey, &out.CreatedAt, &out.UpdatedAt)
	return out, err
}

const listInvoiceItems = `
SELECT invoice_id, position, description, metal, purity, weight_grams, quantity, unit_price_cents
FROM invoice_items
WHERE invoice_id = $1
ORDER BY position
`

func (q *Queries) ListInvoiceItems(ctx context.Context, invoiceID uuid.UUID) ([]InvoiceItem, error) {
	rows, err := q.db.QueryContext(ctx, listInvoiceItems, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []InvoiceItem
	for rows.Next() {
		var it InvoiceItem
		if err := rows.Scan(&it.InvoiceID, &it.Position, &it.Description, &it.Metal,
			&it.Purity, &it.WeightGrams, &it.Quantity, &it.UnitPriceCents); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

const listInvoicesByOrg = `
SELECT id, org_id, number, customer_name, status, currency, total_cents, document_key, created_at, updated_at
FROM invoices
WHERE org_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

func (q *Queries) ListInvoicesByOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]Invoice, error) {
	rows, err := q.db.QueryContext(ctx, listInvoicesByOrg, orgID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		var inv Invoice
		if err := rows.Scan(&inv.ID, &inv.OrgID, &inv.Number, &inv.CustomerName, &inv.Status,
			&inv.Currency, &inv.TotalCents, &inv.DocumentKey, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

const countInvoicesByOrgInRange = `
SELECT COUNT(*)
FROM invoices
WHERE org_id = $1 AND created_at >= $2 AND created_at < $3
`

// CountInvoicesByOrgInRange counts invoices created in [start, end). The
// service passes UTC month boundaries to enforce the monthly plan quota.
func (q *Queries) CountInvoicesByOrgInRange(ctx context.Context, orgID uuid.UUID, start, end time.Time) (int64, error) {
	row := q.db.QueryRowContext(ctx, countInvoicesByOrgInRange, orgID, start, end)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const updateInvoiceDocumentKey = `
UPDATE invoices
SET document_key = $3, updated_at = now()
WHERE id = $1 AND org_id = $2
`

func (q *Queries) UpdateInvoiceDocumentKey(ctx context.Context, id, orgID uuid.UUID, key string) error {
	_, err := q.db.ExecContext(ctx, updateInvoiceDocumentKey, id, orgID, key)
	return err
}

const updateInvoiceStatus = `
UPDATE invoices
SET status = $3, updated_at = now()
WHERE id = $1 AND org_id = $2
`

func (q *Queries) UpdateInvoiceStatus(ctx context.Context, id, orgID uuid.UUID, status string) error {
	result, err := q.db.ExecContext(ctx, updateInvoiceStatus, id, orgID, status)
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
