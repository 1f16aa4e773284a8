// Package domain contains core business types and interfaces.
//
// This file defines the Invoice domain type and its jewelry line items.
// These types are separate from the repository models so business logic can
// evolve independently of the database layer.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// InvoiceStatus represents the lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusDraft  InvoiceStatus = "draft"
	InvoiceStatusIssued InvoiceStatus = "issued"
	InvoiceStatusPaid   InvoiceStatus = "paid"
	InvoiceStatusVoided InvoiceStatus = "voided"
)

// ParseInvoiceStatus validates a status name.
func ParseInvoiceStatus(s string) (InvoiceStatus, bool) {
	switch InvoiceStatus(strings.ToLower(s)) {
	case InvoiceStatusDraft, InvoiceStatusIssued, InvoiceStatusPaid, InvoiceStatusVoided:
		return InvoiceStatus(strings.ToLower(s)), true
	default:
		return "", false
	}
}

// CanTransitionTo reports whether the lifecycle allows moving to next.
// Draft invoices are issued, issued invoices are paid; any non-paid invoice
// can be voided. Paid and voided are terminal.
func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	switch s {
	case InvoiceStatusDraft:
		return next == InvoiceStatusIssued || next == InvoiceStatusVoided
	case InvoiceStatusIssued:
		return next == InvoiceStatusPaid || next == InvoiceStatusVoided
	default:
		return false
	}
}

// Metal identifies the precious metal of a jewelry line item.
type Metal string

const (
	MetalGold     Metal = "gold"
	MetalSilver   Metal = "silver"
	MetalPlatinum Metal = "platinum"
	MetalOther    Metal = "other"
)

// InvoiceItem is a single jewelry line on an invoice.
// Prices are integer cents to avoid floating point money.
type InvoiceItem struct {
	Position       int
	Description    string
	Metal          Metal
	Purity         string // e.g. "18K", "925", "950"
	WeightGrams    float64
	Quantity       int
	UnitPriceCents int64
}

// LineTotalCents returns quantity * unit price for the item.
func (i InvoiceItem) LineTotalCents() int64 {
	return int64(i.Quantity) * i.UnitPriceCents
}

// Invoice represents an issued or draft invoice for a tenant's customer.
type Invoice struct {
	ID           uuid.UUID
	TenantID     string
	Number       string
	CustomerName string
	Status       InvoiceStatus
	Currency     string // ISO 4217 code
	Items        []InvoiceItem
	TotalCents   int64
	DocumentKey  string // storage key of the archived rendered document, if any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CalculateTotalCents sums the line totals of all items.
func CalculateTotalCents(items []InvoiceItem) int64 {
	var total int64
	for _, item := range items {
		total += item.LineTotalCents()
	}
	return total
}

// InvoiceParams contains the validated parameters for creating an invoice.
type InvoiceParams struct {
	CustomerName string
	Currency     string
	Items        []InvoiceItem
}

// Validate checks structural validity of the parameters. Plan-dependent
// rules (item count caps, monthly quota) are enforced by the invoice
// service, not here.
func (p InvoiceParams) Validate() error {
	const op = "invoice.validate"

	if strings.TrimSpace(p.CustomerName) == "" {
		return Invalid(op, "customer name is required")
	}
	if len(p.Currency) != 3 {
		return Invalid(op, "currency must be a 3-letter ISO code")
	}
	if len(p.Items) == 0 {
		return Invalid(op, "an invoice needs at least one line item")
	}
	for _, item := range p.Items {
		if strings.TrimSpace(item.Description) == "" {
			return Invalid(op, "every line item needs a description")
		}
		if item.Quantity <= 0 {
			return Invalid(op, "line item quantity must be positive")
		}
		if item.UnitPriceCents < 0 {
			return Invalid(op, "line item price cannot be negative")
		}
	}
	return nil
}
