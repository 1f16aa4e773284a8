// Package handler contains HTTP handlers for the Karat API and the chat
// webhook.
//
// This file implements the invoice REST API. Routes sit behind the API key
// middleware and the admission guard, so by the time a handler runs the
// tenant is resolved and admitted.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/karat-app/karat/internal/domain"
	"github.com/karat-app/karat/internal/middleware"
	"github.com/karat-app/karat/internal/service"
)

// InvoiceHandler serves the invoice REST API.
type InvoiceHandler struct {
	invoices service.InvoiceService
	logger   *slog.Logger
}

// NewInvoiceHandler creates a new InvoiceHandler.
func NewInvoiceHandler(invoices service.InvoiceService, logger *slog.Logger) *InvoiceHandler {
	return &InvoiceHandler{
		invoices: invoices,
		logger:   logger,
	}
}

// RegisterRoutes registers invoice routes on the mux, wrapped with the
// given middleware chain (auth + admission).
func (h *InvoiceHandler) RegisterRoutes(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	mux.Handle("POST /api/invoices", wrap(http.HandlerFunc(h.Create)))
	mux.Handle("GET /api/invoices", wrap(http.HandlerFunc(h.List)))
	mux.Handle("GET /api/invoices/{id}", wrap(http.HandlerFunc(h.Get)))
	mux.Handle("PATCH /api/invoices/{id}/status", wrap(http.HandlerFunc(h.UpdateStatus)))
	mux.Handle("GET /api/invoices/{id}/document", wrap(http.HandlerFunc(h.Document)))
}

// invoiceItemRequest is one line item in a create request.
type invoiceItemRequest struct {
	Description    string  `json:"description"`
	Metal          string  `json:"metal"`
	Purity         string  `json:"purity"`
	WeightGrams    float64 `json:"weight_grams"`
	Quantity       int     `json:"quantity"`
	UnitPriceCents int64   `json:"unit_price_cents"`
}

// createInvoiceRequest is the POST /api/invoices body.
type createInvoiceRequest struct {
	CustomerName string               `json:"customer_name"`
	Currency     string               `json:"currency"`
	Items        []invoiceItemRequest `json:"items"`
}

// invoiceItemResponse mirrors domain.InvoiceItem on the wire.
type invoiceItemResponse struct {
	Position       int     `json:"position"`
	Description    string  `json:"description"`
	Metal          string  `json:"metal"`
	Purity         string  `json:"purity,omitempty"`
	WeightGrams    float64 `json:"weight_grams,omitempty"`
	Quantity       int     `json:"quantity"`
	UnitPriceCents int64   `json:"unit_price_cents"`
	LineTotalCents int64   `json:"line_total_cents"`
}

// invoiceResponse mirrors domain.Invoice on the wire.
type invoiceResponse struct {
	ID           string                `json:"id"`
	Number       string                `json:"number"`
	CustomerName string                `json:"customer_name"`
	Status       string                `json:"status"`
	Currency     string                `json:"currency"`
	Items        []invoiceItemResponse `json:"items,omitempty"`
	TotalCents   int64                 `json:"total_cents"`
	CreatedAt    time.Time             `json:"created_at"`
}

// Create handles POST /api/invoices.
func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		ErrorResponse(w, r, h.logger, domain.Unauthorized("invoice.create", "no tenant context"))
		return
	}

	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("invoice.create", "malformed JSON body"))
		return
	}

	params := domain.InvoiceParams{
		CustomerName: req.CustomerName,
		Currency:     req.Currency,
	}
	for i, item := range req.Items {
		metal := domain.Metal(item.Metal)
		if metal == "" {
			metal = domain.MetalOther
		}
		params.Items = append(params.Items, domain.InvoiceItem{
			Position:       i + 1,
			Description:    item.Description,
			Metal:          metal,
			Purity:         item.Purity,
			WeightGrams:    item.WeightGrams,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}

	invoice, err := h.invoices.Create(r.Context(), tenant, params)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toInvoiceResponse(invoice, true))
}

// List handles GET /api/invoices.
func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		ErrorResponse(w, r, h.logger, domain.Unauthorized("invoice.list", "no tenant context"))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	invoices, err := h.invoices.List(r.Context(), tenant, limit, offset)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	items := make([]invoiceResponse, 0, len(invoices))
	for i := range invoices {
		items = append(items, toInvoiceResponse(&invoices[i], false))
	}

	writeJSON(w, http.StatusOK, map[string]any{"invoices": items})
}

// Get handles GET /api/invoices/{id}.
func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		ErrorResponse(w, r, h.logger, domain.Unauthorized("invoice.get", "no tenant context"))
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("invoice.get", "invalid invoice id"))
		return
	}

	invoice, err := h.invoices.GetByID(r.Context(), tenant, id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toInvoiceResponse(invoice, true))
}

// updateStatusRequest is the PATCH /api/invoices/{id}/status body.
type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus handles PATCH /api/invoices/{id}/status.
func (h *InvoiceHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		ErrorResponse(w, r, h.logger, domain.Unauthorized("invoice.update_status", "no tenant context"))
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("invoice.update_status", "invalid invoice id"))
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("invoice.update_status", "malformed JSON body"))
		return
	}

	status, ok := domain.ParseInvoiceStatus(req.Status)
	if !ok {
		ErrorResponse(w, r, h.logger, domain.Invalid("invoice.update_status", "unknown status"))
		return
	}

	if err := h.invoices.UpdateStatus(r.Context(), tenant, id, status); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "status": string(status)})
}

// Document handles GET /api/invoices/{id}/document.
func (h *InvoiceHandler) Document(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		ErrorResponse(w, r, h.logger, domain.Unauthorized("invoice.document", "no tenant context"))
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("invoice.document", "invalid invoice id"))
		return
	}

	url, err := h.invoices.DocumentURL(r.Context(), tenant, id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func toInvoiceResponse(invoice *domain.Invoice, withItems bool) invoiceResponse {
	resp := invoiceResponse{
		ID:           invoice.ID.String(),
		Number:       invoice.Number,
		CustomerName: invoice.CustomerName,
		Status:       string(invoice.Status),
		Currency:     invoice.Currency,
		TotalCents:   invoice.TotalCents,
		CreatedAt:    invoice.CreatedAt,
	}
	if withItems {
		for _, item := range invoice.Items {
			resp.Items = append(resp.Items, invoiceItemResponse{
				Position:       item.Position,
				Description:    item.Description,
				Metal:          string(item.Metal),
				Purity:         item.Purity,
				WeightGrams:    item.WeightGrams,
				Quantity:       item.Quantity,
				UnitPriceCents: item.UnitPriceCents,
				LineTotalCents: item.LineTotalCents(),
			})
		}
	}
	return resp
}
