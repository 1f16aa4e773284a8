// Package service contains the business logic layer.
//
// This file implements the invoice service: creation under plan limits,
// retrieval, and archival of rendered invoice documents.
package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/karat-app/karat/internal/domain"
	"github.com/karat-app/karat/internal/metrics"
	"github.com/karat-app/karat/internal/repository"
	"github.com/karat-app/karat/internal/storage"
)

// documentFormat is the archive format for rendered invoice documents.
const documentFormat = "json"

// =============================================================================
// Interface Definition
// =============================================================================

// InvoiceService defines invoice operations.
type InvoiceService interface {
	// Create creates an invoice for the tenant under its plan limits.
	// Returns domain.EINVALID for validation errors, including an item
	// count over the plan's per-invoice maximum, and domain.EPAYMENT
	// when the monthly invoice quota is exhausted.
	Create(ctx context.Context, tenant domain.TenantRef, params domain.InvoiceParams) (*domain.Invoice, error)

	// GetByID retrieves an invoice with its items. The lookup is scoped
	// to the tenant; another tenant's invoice is ENOTFOUND.
	GetByID(ctx context.Context, tenant domain.TenantRef, id uuid.UUID) (*domain.Invoice, error)

	// List returns the tenant's invoices, newest first, without items.
	List(ctx context.Context, tenant domain.TenantRef, limit, offset int) ([]domain.Invoice, error)

	// UpdateStatus moves an invoice through its lifecycle. Returns
	// domain.ECONFLICT for a transition the lifecycle does not allow.
	UpdateStatus(ctx context.Context, tenant domain.TenantRef, id uuid.UUID, status domain.InvoiceStatus) error

	// DocumentURL returns an access URL for the archived document of an
	// invoice. Returns domain.ENOTFOUND when the invoice has no document.
	DocumentURL(ctx context.Context, tenant domain.TenantRef, id uuid.UUID) (string, error)
}

// =============================================================================
// Implementation
// =============================================================================

type invoiceService struct {
	db      *sql.DB
	queries *repository.Queries
	catalog *domain.PlanCatalog
	store   storage.Store
	logger  *slog.Logger
	now     func() time.Time
}

// NewInvoiceService creates a new InvoiceService.
func NewInvoiceService(
	db *sql.DB,
	queries *repository.Queries,
	catalog *domain.PlanCatalog,
	store storage.Store,
	logger *slog.Logger,
) InvoiceService {
	return &invoiceService{
		db:      db,
		queries: queries,
		catalog: catalog,
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
}

// =============================================================================
// Create
// =============================================================================

// Create creates a new invoice.
func (s *invoiceService) Create(ctx context.Context, tenant domain.TenantRef, params domain.InvoiceParams) (*domain.Invoice, error) {
	const op = "invoice.create"

	orgID, err := uuid.Parse(tenant.TenantID)
	if err != nil {
		return nil, domain.Invalid(op, "invalid tenant id")
	}

	if err := params.Validate(); err != nil {
		return nil, err
	}

	limits := s.catalog.LimitsFor(tenant.PlanName)

	// Per-invoice item cap
	if limits.MaxItemsPerInvoice != domain.Unlimited && len(params.Items) > limits.MaxItemsPerInvoice {
		return nil, domain.Invalid(op, fmt.Sprintf(
			"invoice has %d items; the %s plan allows at most %d",
			len(params.Items), s.catalog.TierFor(tenant.PlanName), limits.MaxItemsPerInvoice))
	}

	// Monthly quota
	startOfMonth, endOfMonth := currentMonthBoundaries(s.now())
	if limits.InvoicesPerMonth != domain.Unlimited {
		used, err := s.queries.CountInvoicesByOrgInRange(ctx, orgID, startOfMonth, endOfMonth)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to count invoices")
		}
		if used >= int64(limits.InvoicesPerMonth) {
			return nil, domain.QuotaExceeded(op, "invoice", used, int64(limits.InvoicesPerMonth))
		}
	}

	invoice := domain.Invoice{
		ID:           uuid.New(),
		TenantID:     tenant.TenantID,
		Number:       invoiceNumber(s.now()),
		CustomerName: params.CustomerName,
		Status:       domain.InvoiceStatusDraft,
		Currency:     params.Currency,
		Items:        params.Items,
		TotalCents:   domain.CalculateTotalCents(params.Items),
	}

	// Invoice and items land in one transaction.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to begin transaction")
	}
	defer tx.Rollback()

	qtx := s.queries.WithTx(tx)

	row, err := qtx.CreateInvoice(ctx, repository.Invoice{
		ID:           invoice.ID,
		OrgID:        orgID,
		Number:       invoice.Number,
		CustomerName: invoice.CustomerName,
		Status:       string(invoice.Status),
		Currency:     invoice.Currency,
		TotalCents:   invoice.TotalCents,
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to create invoice")
	}

	for _, item := range invoice.Items {
		if err := qtx.CreateInvoiceItem(ctx, repository.InvoiceItem{
			InvoiceID:      invoice.ID,
			Position:       item.Position,
			Description:    item.Description,
			Metal:          string(item.Metal),
			Purity:         item.Purity,
			WeightGrams:    item.WeightGrams,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		}); err != nil {
			return nil, domain.Internal(err, op, "failed to create invoice item")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.Internal(err, op, "failed to commit invoice")
	}

	invoice.CreatedAt = row.CreatedAt
	invoice.UpdatedAt = row.UpdatedAt

	// Archive a rendered document. Archival failure is logged but does
	// not fail the creation; the invoice is already committed.
	if key, err := s.archiveDocument(ctx, orgID, &invoice); err != nil {
		s.logger.Error("failed to archive invoice document",
			"invoice_id", invoice.ID,
			"error", err,
		)
	} else {
		invoice.DocumentKey = key
	}

	metrics.InvoicesCreated.Inc()

	s.logger.Info("invoice created",
		"invoice_id", invoice.ID,
		"org_id", orgID,
		"number", invoice.Number,
		"total_cents", invoice.TotalCents,
		"items", len(invoice.Items),
	)

	return &invoice, nil
}

// archiveDocument renders the invoice and stores it, recording the key
// on the invoice row.
func (s *invoiceService) archiveDocument(ctx context.Context, orgID uuid.UUID, invoice *domain.Invoice) (string, error) {
	doc, err := json.MarshalIndent(invoice, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to render document: %w", err)
	}

	key := storage.DocumentKey(orgID, invoice.ID, documentFormat)
	err = s.store.Put(ctx, key, bytes.NewReader(doc), storage.PutOptions{
		ContentType: "application/json",
		Overwrite:   true,
	})
	if err != nil {
		return "", err
	}

	if err := s.queries.UpdateInvoiceDocumentKey(ctx, invoice.ID, orgID, key); err != nil {
		return "", fmt.Errorf("failed to record document key: %w", err)
	}

	metrics.InvoiceDocumentsArchived.Inc()

	return key, nil
}

// =============================================================================
// GetByID
// =============================================================================

func (s *invoiceService) GetByID(ctx context.Context, tenant domain.TenantRef, id uuid.UUID) (*domain.Invoice, error) {
	const op = "invoice.get"

	orgID, err := uuid.Parse(tenant.TenantID)
	if err != nil {
		return nil, domain.Invalid(op, "invalid tenant id")
	}

	row, err := s.queries.GetInvoiceByID(ctx, id, orgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "invoice", id.String())
		}
		return nil, domain.Internal(err, op, "failed to get invoice")
	}

	itemRows, err := s.queries.ListInvoiceItems(ctx, id)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list invoice items")
	}

	invoice := rowToInvoice(row)
	for _, it := range itemRows {
		invoice.Items = append(invoice.Items, domain.InvoiceItem{
			Position:       it.Position,
			Description:    it.Description,
			Metal:          domain.Metal(it.Metal),
			Purity:         it.Purity,
			WeightGrams:    it.WeightGrams,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
		})
	}

	return invoice, nil
}

// =============================================================================
// List
// =============================================================================

func (s *invoiceService) List(ctx context.Context, tenant domain.TenantRef, limit, offset int) ([]domain.Invoice, error) {
	const op = "invoice.list"

	orgID, err := uuid.Parse(tenant.TenantID)
	if err != nil {
		return nil, domain.Invalid(op, "invalid tenant id")
	}

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.queries.ListInvoicesByOrg(ctx, orgID, limit, offset)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list invoices")
	}

	invoices := make([]domain.Invoice, 0, len(rows))
	for _, row := range rows {
		invoices = append(invoices, *rowToInvoice(row))
	}

	return invoices, nil
}

// =============================================================================
// UpdateStatus
// =============================================================================

func (s *invoiceService) UpdateStatus(ctx context.Context, tenant domain.TenantRef, id uuid.UUID, status domain.InvoiceStatus) error {
	const op = "invoice.update_status"

	orgID, err := uuid.Parse(tenant.TenantID)
	if err != nil {
		return domain.Invalid(op, "invalid tenant id")
	}

	row, err := s.queries.GetInvoiceByID(ctx, id, orgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(op, "invoice", id.String())
		}
		return domain.Internal(err, op, "failed to get invoice")
	}

	current := domain.InvoiceStatus(row.Status)
	if !current.CanTransitionTo(status) {
		return domain.Conflict(op, fmt.Sprintf("cannot move a %s invoice to %s", current, status))
	}

	if err := s.queries.UpdateInvoiceStatus(ctx, id, orgID, string(status)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(op, "invoice", id.String())
		}
		return domain.Internal(err, op, "failed to update status")
	}

	s.logger.Info("invoice status changed",
		"invoice_id", id,
		"org_id", orgID,
		"from", current,
		"to", status,
	)

	return nil
}

// =============================================================================
// DocumentURL
// =============================================================================

func (s *invoiceService) DocumentURL(ctx context.Context, tenant domain.TenantRef, id uuid.UUID) (string, error) {
	const op = "invoice.document_url"

	invoice, err := s.GetByID(ctx, tenant, id)
	if err != nil {
		return "", err
	}
	if invoice.DocumentKey == "" {
		return "", domain.NotFound(op, "invoice document", id.String())
	}

	// The key on the row can outlive the object (bucket cleanup, partial
	// restore); surface that as not-found rather than a dead link.
	exists, err := s.store.Exists(ctx, invoice.DocumentKey)
	if err != nil {
		return "", domain.Internal(err, op, "failed to check document")
	}
	if !exists {
		return "", domain.NotFound(op, "invoice document", id.String())
	}

	url, err := s.store.URL(ctx, invoice.DocumentKey, 15*time.Minute)
	if err != nil {
		return "", domain.Internal(err, op, "failed to generate document URL")
	}

	return url, nil
}

// =============================================================================
// Helpers
// =============================================================================

func rowToInvoice(row repository.Invoice) *domain.Invoice {
	return &domain.Invoice{
		ID:           row.ID,
		TenantID:     row.OrgID.String(),
		Number:       row.Number,
		CustomerName: row.CustomerName,
		Status:       domain.InvoiceStatus(row.Status),
		Currency:     row.Currency,
		TotalCents:   row.TotalCents,
		DocumentKey:  row.DocumentKey,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

// invoiceNumber builds a human-readable number like KR-20250314-5f2a1c.
// The (org_id, number) unique constraint catches the unlikely collision.
func invoiceNumber(now time.Time) string {
	return fmt.Sprintf("KR-%s-%s", now.UTC().Format("20060102"), uuid.New().String()[:6])
}

// currentMonthBoundaries returns [start, end) of the UTC month containing now.
func currentMonthBoundaries(now time.Time) (start, end time.Time) {
	now = now.UTC()
	start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0)
	return start, end
}
